// Package custodystore persists the authoritative custody ledger.
package custodystore

import (
	"context"
	"errors"

	"github.com/equiptrack/custody-middleware/pkg/equipment"
	"github.com/equiptrack/custody-middleware/pkg/holder"
)

// ErrEquipmentNotFound is returned when an equipment lookup finds no matching record.
var ErrEquipmentNotFound = errors.New("equipment not found")

// ErrTransferNotFound is returned when a transfer lookup finds no matching record.
var ErrTransferNotFound = errors.New("transfer not found")

// ErrDuplicateSerial is returned when a serial number is already registered.
var ErrDuplicateSerial = errors.New("serial number already registered")

// ErrHolderConflict is returned when a holder update loses the
// compare-and-set race: the row's current holder no longer matches the
// expected value.
var ErrHolderConflict = errors.New("current holder changed concurrently")

// Store defines the custody ledger persistence operations.
type Store interface {
	CreateEquipment(ctx context.Context, unit *equipment.Equipment) error
	GetEquipment(ctx context.Context, opts ...QueryOption) (*equipment.Equipment, error)
	ListEquipment(ctx context.Context) ([]*equipment.Equipment, error)
	UpdateStatus(ctx context.Context, equipmentID string, status equipment.Status) error

	// UpdateHolder commits a custody change only if the stored holder still
	// equals expected.
	UpdateHolder(ctx context.Context, equipmentID string, expected, next holder.ID) error

	// AttachChainID records the on-chain identifier for a unit. It is
	// idempotent for the same value and refuses to overwrite a different one.
	AttachChainID(ctx context.Context, equipmentID, chainID string) error

	CreateTransfer(ctx context.Context, transfer *equipment.Transfer) error
	AttachChainTxRef(ctx context.Context, transferID, txRef string) error

	// ListTransfers returns a unit's custody changes in recording order.
	ListTransfers(ctx context.Context, equipmentID string) ([]*equipment.Transfer, error)
}

// QueryOptions defines options for querying equipment
type QueryOptions struct {
	ID           *string
	SerialNumber *string
}

// QueryOption is a functional option for querying equipment
type QueryOption func(*QueryOptions)

// WithID sets the equipment id filter
func WithID(id string) QueryOption {
	return func(opts *QueryOptions) {
		opts.ID = &id
	}
}

// WithSerialNumber sets the serial number filter
func WithSerialNumber(serialNumber string) QueryOption {
	return func(opts *QueryOptions) {
		opts.SerialNumber = &serialNumber
	}
}
