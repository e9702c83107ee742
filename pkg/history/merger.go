// Package history builds the merged custody timeline from both ledgers.
// Database records come first in their recording order; chain events that no
// database record claims are appended afterwards as addenda.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/equiptrack/custody-middleware/pkg/app/errors"
	"github.com/equiptrack/custody-middleware/pkg/chain"
	"github.com/equiptrack/custody-middleware/pkg/custodystore"
	"github.com/equiptrack/custody-middleware/pkg/equipment"
)

// Store is the narrow data-access interface for the history merger.
type Store interface {
	GetEquipment(ctx context.Context, opts ...custodystore.QueryOption) (*equipment.Equipment, error)
	ListTransfers(ctx context.Context, equipmentID string) ([]*equipment.Transfer, error)
}

// ChainReader is the read-only contract consumed from the chain side.
type ChainReader interface {
	Enabled() bool
	History(ctx context.Context, chainEquipmentID string) ([]chain.Event, error)
}

// Entry is one line of the merged timeline. Exactly one of the two shapes
// occurs: a database transfer (with Event attached when the chain confirmed
// it) or a chain-only event with no Transfer.
type Entry struct {
	Transfer *equipment.Transfer
	Event    *chain.Event
}

// ChainOnly reports whether the entry exists only in the chain ledger.
func (e *Entry) ChainOnly() bool {
	return e.Transfer == nil
}

// View is the merged custody timeline for one unit.
type View struct {
	Equipment *equipment.Equipment
	Entries   []Entry

	// ChainConsulted is false when the chain side was disabled, the unit is
	// not registered on-chain, or the read failed. The database entries are
	// complete either way.
	ChainConsulted bool
}

// Merger assembles merged custody timelines.
type Merger struct {
	store  Store
	reader ChainReader
	logger *zap.Logger
}

// NewMerger creates a history merger.
func NewMerger(store Store, reader ChainReader, logger *zap.Logger) *Merger {
	return &Merger{store: store, reader: reader, logger: logger}
}

// EquipmentHistory returns the merged timeline for a unit. A chain read
// failure degrades the view to database-only instead of failing the call.
func (m *Merger) EquipmentHistory(ctx context.Context, equipmentID string) (*View, error) {
	unit, err := m.store.GetEquipment(ctx, custodystore.WithID(equipmentID))
	if err != nil {
		if errors.Is(err, custodystore.ErrEquipmentNotFound) {
			return nil, apperrors.ResourceNotFoundError(err, "equipment not found")
		}
		return nil, fmt.Errorf("failed to load equipment: %w", err)
	}

	transfers, err := m.store.ListTransfers(ctx, unit.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}

	view := &View{Equipment: unit}
	if !m.reader.Enabled() || !unit.Registered() {
		view.Entries = Merge(transfers, nil)
		return view, nil
	}

	events, err := m.reader.History(ctx, unit.ChainID)
	if err != nil {
		m.logger.Info("Chain history unavailable, returning database records only",
			zap.String("equipment_id", unit.ID),
			zap.Error(err))
		view.Entries = Merge(transfers, nil)
		return view, nil
	}

	view.Entries = Merge(transfers, events)
	view.ChainConsulted = true
	return view, nil
}

// Merge combines database transfers with chain events. Database recording
// order is preserved; each transfer is annotated with the chain event whose
// transaction reference it carries; leftover chain events follow in chain
// order.
func Merge(transfers []*equipment.Transfer, events []chain.Event) []Entry {
	byTxRef := make(map[string]int, len(events))
	for i := range events {
		byTxRef[strings.ToLower(events[i].TxRef)] = i
	}

	claimed := make(map[int]bool, len(events))
	entries := make([]Entry, 0, len(transfers)+len(events))
	for _, transfer := range transfers {
		entry := Entry{Transfer: transfer}
		if transfer.ChainConfirmed() {
			if i, ok := byTxRef[strings.ToLower(transfer.ChainTxRef)]; ok {
				entry.Event = &events[i]
				claimed[i] = true
			}
		}
		entries = append(entries, entry)
	}

	for i := range events {
		if !claimed[i] {
			entries = append(entries, Entry{Event: &events[i]})
		}
	}
	return entries
}
