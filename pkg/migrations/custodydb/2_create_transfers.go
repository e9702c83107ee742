package custodydb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/equiptrack/custody-middleware/pkg/custodystore"
	mghelper "github.com/equiptrack/custody-middleware/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating transfers table...")
		if err := mghelper.CreateSchema(ctx, db, &custodystore.TransferDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &custodystore.TransferDao{}, "equipment_id", "chain_tx_ref")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping transfers table...")
		return mghelper.DropTables(ctx, db, &custodystore.TransferDao{})
	})
}
