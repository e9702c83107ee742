package custodystore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/equiptrack/custody-middleware/pkg/equipment"
	"github.com/equiptrack/custody-middleware/pkg/holder"
)

// EquipmentDao is a data access object that maps directly to the 'equipment'
// table in PostgreSQL. A NULL current_holder means the warehouse holds the
// unit.
type EquipmentDao struct {
	bun.BaseModel `bun:"table:equipment,alias:e"`
	ID            string    `bun:"id,pk,type:uuid"`
	Name          string    `bun:"name,notnull,type:varchar(255)"`
	SerialNumber  string    `bun:"serial_number,unique,notnull,type:varchar(128)"`
	Category      *string   `bun:"category,type:varchar(128)"`
	Manufacturer  *string   `bun:"manufacturer,type:varchar(255)"`
	Location      *string   `bun:"location,type:varchar(255)"`
	Status        string    `bun:"status,notnull,type:varchar(32)"`
	CurrentHolder *string   `bun:"current_holder,type:varchar(128)"`
	ChainID       *string   `bun:"chain_id,type:varchar(78)"`
	CreatedAt     time.Time `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,default:current_timestamp"`
}

// TransferDao is a data access object that maps directly to the 'transfers'
// table in PostgreSQL. NULL holder columns mean the warehouse.
type TransferDao struct {
	bun.BaseModel `bun:"table:transfers,alias:t"`
	ID            string    `bun:"id,pk,type:uuid"`
	EquipmentID   string    `bun:"equipment_id,notnull,type:uuid"`
	FromHolder    *string   `bun:"from_holder,type:varchar(128)"`
	ToHolder      *string   `bun:"to_holder,type:varchar(128)"`
	Reason        *string   `bun:"reason,type:varchar(500)"`
	TransferDate  time.Time `bun:"transfer_date,notnull"`
	ChainTxRef    *string   `bun:"chain_tx_ref,type:varchar(66)"`
	CreatedAt     time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

// toEquipmentDao converts an equipment.Equipment to EquipmentDao.
func toEquipmentDao(unit *equipment.Equipment) *EquipmentDao {
	dao := &EquipmentDao{
		ID:            unit.ID,
		Name:          unit.Name,
		SerialNumber:  unit.SerialNumber,
		Status:        string(unit.Status),
		CurrentHolder: unit.CurrentHolder.Nullable(),
	}

	if unit.Category != "" {
		dao.Category = &unit.Category
	}
	if unit.Manufacturer != "" {
		dao.Manufacturer = &unit.Manufacturer
	}
	if unit.Location != "" {
		dao.Location = &unit.Location
	}
	if unit.ChainID != "" {
		dao.ChainID = &unit.ChainID
	}

	return dao
}

// toEquipment converts an EquipmentDao to equipment.Equipment.
func toEquipment(dao *EquipmentDao) *equipment.Equipment {
	unit := &equipment.Equipment{
		ID:            dao.ID,
		Name:          dao.Name,
		SerialNumber:  dao.SerialNumber,
		Status:        equipment.Status(dao.Status),
		CurrentHolder: holder.FromNullable(dao.CurrentHolder),
		CreatedAt:     dao.CreatedAt,
		UpdatedAt:     dao.UpdatedAt,
	}

	if dao.Category != nil {
		unit.Category = *dao.Category
	}
	if dao.Manufacturer != nil {
		unit.Manufacturer = *dao.Manufacturer
	}
	if dao.Location != nil {
		unit.Location = *dao.Location
	}
	if dao.ChainID != nil {
		unit.ChainID = *dao.ChainID
	}

	return unit
}

// toTransferDao converts an equipment.Transfer to TransferDao.
func toTransferDao(transfer *equipment.Transfer) *TransferDao {
	dao := &TransferDao{
		ID:           transfer.ID,
		EquipmentID:  transfer.EquipmentID,
		FromHolder:   transfer.FromHolder.Nullable(),
		ToHolder:     transfer.ToHolder.Nullable(),
		TransferDate: transfer.TransferDate,
	}

	if transfer.Reason != "" {
		dao.Reason = &transfer.Reason
	}
	if transfer.ChainTxRef != "" {
		dao.ChainTxRef = &transfer.ChainTxRef
	}

	return dao
}

// toTransfer converts a TransferDao to equipment.Transfer.
func toTransfer(dao *TransferDao) *equipment.Transfer {
	transfer := &equipment.Transfer{
		ID:           dao.ID,
		EquipmentID:  dao.EquipmentID,
		FromHolder:   holder.FromNullable(dao.FromHolder),
		ToHolder:     holder.FromNullable(dao.ToHolder),
		TransferDate: dao.TransferDate,
	}

	if dao.Reason != nil {
		transfer.Reason = *dao.Reason
	}
	if dao.ChainTxRef != nil {
		transfer.ChainTxRef = *dao.ChainTxRef
	}

	return transfer
}
