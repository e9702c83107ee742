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
		log.Println("creating equipment table...")
		if err := mghelper.CreateSchema(ctx, db, &custodystore.EquipmentDao{}); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &custodystore.EquipmentDao{}, "serial_number", "current_holder")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping equipment table...")
		return mghelper.DropTables(ctx, db, &custodystore.EquipmentDao{})
	})
}
