// Package equipment defines the custody domain model.
package equipment

import (
	"time"

	"github.com/equiptrack/custody-middleware/pkg/holder"
)

// Status represents the lifecycle state of an equipment unit
type Status string

const (
	StatusActive         Status = "active"
	StatusMaintenance    Status = "maintenance"
	StatusDecommissioned Status = "decommissioned"
)

// Equipment represents a tracked physical equipment unit. CurrentHolder is
// mutated exclusively by the reconciliation engine; ChainID is set once by a
// successful chain registration and is immutable afterwards.
type Equipment struct {
	ID            string
	Name          string
	SerialNumber  string
	Category      string
	Manufacturer  string
	Location      string
	Status        Status
	CurrentHolder holder.ID
	ChainID       string // empty when the unit was never registered on-chain
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Registered reports whether the unit has an on-chain custody record.
func (e *Equipment) Registered() bool {
	return e.ChainID != ""
}

// Transfer represents one custody change. The database record is the durable
// fact; ChainTxRef is enrichment attached after chain confirmation and stays
// empty when the chain write failed or was skipped.
type Transfer struct {
	ID           string
	EquipmentID  string
	FromHolder   holder.ID
	ToHolder     holder.ID
	Reason       string
	TransferDate time.Time
	ChainTxRef   string
}

// ChainConfirmed reports whether the transfer carries a chain transaction
// reference.
func (t *Transfer) ChainConfirmed() bool {
	return t.ChainTxRef != ""
}
