package custodystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/equiptrack/custody-middleware/pkg/equipment"
	"github.com/equiptrack/custody-middleware/pkg/holder"
)

const pgUniqueViolation = "23505"

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the custody store
func NewStore(db *bun.DB) *pgStore {
	return &pgStore{db: db}
}

func (s *pgStore) CreateEquipment(ctx context.Context, unit *equipment.Equipment) error {
	if unit.ID == "" {
		unit.ID = uuid.NewString()
	}
	if unit.Status == "" {
		unit.Status = equipment.StatusActive
	}
	dao := toEquipmentDao(unit)

	_, err := s.db.NewInsert().
		Model(dao).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateSerial, unit.SerialNumber)
		}
		return fmt.Errorf("failed to create equipment: %w", err)
	}

	return nil
}

func (s *pgStore) GetEquipment(ctx context.Context, opts ...QueryOption) (*equipment.Equipment, error) {
	options := &QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}

	dao := new(EquipmentDao)
	query := s.db.NewSelect().Model(dao)

	if options.ID != nil {
		query = query.Where("id = ?", *options.ID)
	}
	if options.SerialNumber != nil {
		query = query.Where("serial_number = ?", *options.SerialNumber)
	}

	err := query.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEquipmentNotFound
		}
		return nil, fmt.Errorf("failed to get equipment: %w", err)
	}

	return toEquipment(dao), nil
}

func (s *pgStore) ListEquipment(ctx context.Context) ([]*equipment.Equipment, error) {
	var daos []EquipmentDao
	err := s.db.NewSelect().Model(&daos).Order("created_at ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list equipment: %w", err)
	}
	units := make([]*equipment.Equipment, len(daos))
	for i := range daos {
		units[i] = toEquipment(&daos[i])
	}
	return units, nil
}

func (s *pgStore) UpdateStatus(ctx context.Context, equipmentID string, status equipment.Status) error {
	res, err := s.db.NewUpdate().
		Model((*EquipmentDao)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = NOW()").
		Where("id = ?", equipmentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrEquipmentNotFound
	}
	return nil
}

// UpdateHolder performs the custody compare-and-set. The WHERE clause guards
// against concurrent transfers of the same unit: the update applies only if
// the stored holder still equals expected, with NULL encoding the warehouse.
func (s *pgStore) UpdateHolder(ctx context.Context, equipmentID string, expected, next holder.ID) error {
	query := s.db.NewUpdate().
		Model((*EquipmentDao)(nil)).
		Set("current_holder = ?", next.Nullable()).
		Set("updated_at = NOW()").
		Where("id = ?", equipmentID)

	if expected.IsWarehouse() {
		query = query.Where("current_holder IS NULL")
	} else {
		query = query.Where("current_holder = ?", expected.UserID())
	}

	res, err := query.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update holder: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected > 0 {
		return nil
	}

	exists, err := s.db.NewSelect().
		Model((*EquipmentDao)(nil)).
		Where("id = ?", equipmentID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check equipment exists: %w", err)
	}
	if !exists {
		return ErrEquipmentNotFound
	}
	return ErrHolderConflict
}

func (s *pgStore) AttachChainID(ctx context.Context, equipmentID, chainID string) error {
	res, err := s.db.NewUpdate().
		Model((*EquipmentDao)(nil)).
		Set("chain_id = ?", chainID).
		Set("updated_at = NOW()").
		Where("id = ?", equipmentID).
		Where("chain_id IS NULL OR chain_id = ?", chainID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to attach chain id: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected > 0 {
		return nil
	}

	exists, err := s.db.NewSelect().
		Model((*EquipmentDao)(nil)).
		Where("id = ?", equipmentID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check equipment exists: %w", err)
	}
	if !exists {
		return ErrEquipmentNotFound
	}
	return fmt.Errorf("equipment %s already has a different chain id", equipmentID)
}

func (s *pgStore) CreateTransfer(ctx context.Context, transfer *equipment.Transfer) error {
	if transfer.ID == "" {
		transfer.ID = uuid.NewString()
	}
	dao := toTransferDao(transfer)

	_, err := s.db.NewInsert().
		Model(dao).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create transfer: %w", err)
	}

	return nil
}

func (s *pgStore) AttachChainTxRef(ctx context.Context, transferID, txRef string) error {
	res, err := s.db.NewUpdate().
		Model((*TransferDao)(nil)).
		Set("chain_tx_ref = ?", txRef).
		Where("id = ?", transferID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to attach chain tx ref: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrTransferNotFound
	}
	return nil
}

func (s *pgStore) ListTransfers(ctx context.Context, equipmentID string) ([]*equipment.Transfer, error) {
	var daos []TransferDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("equipment_id = ?", equipmentID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	transfers := make([]*equipment.Transfer, len(daos))
	for i := range daos {
		transfers[i] = toTransfer(&daos[i])
	}
	return transfers, nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == pgUniqueViolation
	}
	return false
}
