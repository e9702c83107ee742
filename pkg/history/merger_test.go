package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/equiptrack/custody-middleware/pkg/app/errors"
	"github.com/equiptrack/custody-middleware/pkg/chain"
	"github.com/equiptrack/custody-middleware/pkg/custodystore"
	"github.com/equiptrack/custody-middleware/pkg/equipment"
	"github.com/equiptrack/custody-middleware/pkg/holder"
)

type mockStore struct {
	unit      *equipment.Equipment
	transfers []*equipment.Transfer
}

func (m *mockStore) GetEquipment(ctx context.Context, opts ...custodystore.QueryOption) (*equipment.Equipment, error) {
	if m.unit == nil {
		return nil, custodystore.ErrEquipmentNotFound
	}
	return m.unit, nil
}

func (m *mockStore) ListTransfers(ctx context.Context, equipmentID string) ([]*equipment.Transfer, error) {
	return m.transfers, nil
}

type mockReader struct {
	enabled bool
	events  []chain.Event
	err     error
}

func (m *mockReader) Enabled() bool {
	return m.enabled
}

func (m *mockReader) History(ctx context.Context, chainEquipmentID string) ([]chain.Event, error) {
	return m.events, m.err
}

func transferAt(id, txRef string, date time.Time) *equipment.Transfer {
	return &equipment.Transfer{
		ID:           id,
		EquipmentID:  "eq-1",
		FromHolder:   holder.FromUser("user-7"),
		ToHolder:     holder.FromUser("user-9"),
		TransferDate: date,
		ChainTxRef:   txRef,
	}
}

func TestMergePreservesDatabaseOrder(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	transfers := []*equipment.Transfer{
		transferAt("tr-1", "0xaaa", base),
		// Recorded second but dated earlier; the recording order must hold.
		transferAt("tr-2", "", base.Add(-time.Hour)),
		transferAt("tr-3", "0xccc", base.Add(time.Hour)),
	}
	events := []chain.Event{
		{TxRef: "0xAAA", To: "0x9", Timestamp: base},
		{TxRef: "0xccc", To: "0x7", Timestamp: base.Add(time.Hour)},
	}

	entries := Merge(transfers, events)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i, want := range []string{"tr-1", "tr-2", "tr-3"} {
		if entries[i].Transfer == nil || entries[i].Transfer.ID != want {
			t.Fatalf("entry %d = %+v, want transfer %s", i, entries[i], want)
		}
	}
	// Matching is case-insensitive on the tx hash.
	if entries[0].Event == nil || entries[0].Event.TxRef != "0xAAA" {
		t.Fatalf("tr-1 should carry its chain event, got %+v", entries[0].Event)
	}
	if entries[1].Event != nil {
		t.Fatalf("tr-2 has no chain write and must not carry an event")
	}
	if entries[2].Event == nil {
		t.Fatalf("tr-3 should carry its chain event")
	}
}

func TestMergeAppendsChainOnlyEvents(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	transfers := []*equipment.Transfer{
		transferAt("tr-1", "0xaaa", base),
	}
	// The second event has no database record, e.g. a write made by another
	// client directly against the contract.
	events := []chain.Event{
		{TxRef: "0xaaa", Timestamp: base},
		{TxRef: "0xfff", From: "0x5", To: "0x6", Timestamp: base.Add(time.Minute)},
	}

	entries := Merge(transfers, events)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	last := entries[1]
	if !last.ChainOnly() {
		t.Fatalf("expected a chain-only addendum, got %+v", last)
	}
	if last.Event.TxRef != "0xfff" {
		t.Fatalf("addendum tx ref = %s, want 0xfff", last.Event.TxRef)
	}
}

func TestEquipmentHistoryDegradesWhenChainUnreachable(t *testing.T) {
	store := &mockStore{
		unit: &equipment.Equipment{ID: "eq-1", ChainID: "42"},
		transfers: []*equipment.Transfer{
			transferAt("tr-1", "0xaaa", time.Now()),
		},
	}
	reader := &mockReader{enabled: true, err: chain.ErrUnavailable}
	m := NewMerger(store, reader, zap.NewNop())

	view, err := m.EquipmentHistory(context.Background(), "eq-1")
	if err != nil {
		t.Fatalf("EquipmentHistory() failed: %v", err)
	}
	if view.ChainConsulted {
		t.Fatalf("view must be flagged as database-only when the chain read failed")
	}
	if len(view.Entries) != 1 {
		t.Fatalf("database entries must survive chain unavailability, got %d", len(view.Entries))
	}
}

func TestEquipmentHistorySkipsChainForUnregisteredUnit(t *testing.T) {
	store := &mockStore{
		unit: &equipment.Equipment{ID: "eq-1"}, // no chain id
	}
	reader := &mockReader{enabled: true, events: []chain.Event{{TxRef: "0xzzz"}}}
	m := NewMerger(store, reader, zap.NewNop())

	view, err := m.EquipmentHistory(context.Background(), "eq-1")
	if err != nil {
		t.Fatalf("EquipmentHistory() failed: %v", err)
	}
	if view.ChainConsulted {
		t.Fatalf("unregistered unit must not consult the chain")
	}
	if len(view.Entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(view.Entries))
	}
}

func TestEquipmentHistoryNotFound(t *testing.T) {
	m := NewMerger(&mockStore{}, &mockReader{}, zap.NewNop())

	_, err := m.EquipmentHistory(context.Background(), "ghost")
	if !errors.Is(err, custodystore.ErrEquipmentNotFound) {
		t.Fatalf("expected ErrEquipmentNotFound, got %v", err)
	}
	if !apperrors.Is(err, apperrors.CategoryResourceNotFound) {
		t.Fatalf("expected CategoryResourceNotFound, got %v", err)
	}
}
