package reconcile

import (
	"context"

	"github.com/equiptrack/custody-middleware/pkg/custodystore"
	"github.com/equiptrack/custody-middleware/pkg/equipment"
	"github.com/equiptrack/custody-middleware/pkg/holder"
)

type mockStore struct {
	CreateEquipmentFunc  func(ctx context.Context, unit *equipment.Equipment) error
	GetEquipmentFunc     func(ctx context.Context, opts ...custodystore.QueryOption) (*equipment.Equipment, error)
	UpdateHolderFunc     func(ctx context.Context, equipmentID string, expected, next holder.ID) error
	AttachChainIDFunc    func(ctx context.Context, equipmentID, chainID string) error
	CreateTransferFunc   func(ctx context.Context, transfer *equipment.Transfer) error
	AttachChainTxRefFunc func(ctx context.Context, transferID, txRef string) error
	UpdateStatusFunc     func(ctx context.Context, equipmentID string, status equipment.Status) error

	holderUpdates   int
	transferRecords []*equipment.Transfer
	chainIDs        map[string]string
	txRefs          map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{
		chainIDs: make(map[string]string),
		txRefs:   make(map[string]string),
	}
}

func (m *mockStore) CreateEquipment(ctx context.Context, unit *equipment.Equipment) error {
	if m.CreateEquipmentFunc != nil {
		return m.CreateEquipmentFunc(ctx, unit)
	}
	if unit.ID == "" {
		unit.ID = "eq-1"
	}
	return nil
}

func (m *mockStore) GetEquipment(ctx context.Context, opts ...custodystore.QueryOption) (*equipment.Equipment, error) {
	if m.GetEquipmentFunc != nil {
		return m.GetEquipmentFunc(ctx, opts...)
	}
	return nil, custodystore.ErrEquipmentNotFound
}

func (m *mockStore) UpdateHolder(ctx context.Context, equipmentID string, expected, next holder.ID) error {
	m.holderUpdates++
	if m.UpdateHolderFunc != nil {
		return m.UpdateHolderFunc(ctx, equipmentID, expected, next)
	}
	return nil
}

func (m *mockStore) AttachChainID(ctx context.Context, equipmentID, chainID string) error {
	if m.AttachChainIDFunc != nil {
		return m.AttachChainIDFunc(ctx, equipmentID, chainID)
	}
	m.chainIDs[equipmentID] = chainID
	return nil
}

func (m *mockStore) CreateTransfer(ctx context.Context, transfer *equipment.Transfer) error {
	if m.CreateTransferFunc != nil {
		return m.CreateTransferFunc(ctx, transfer)
	}
	if transfer.ID == "" {
		transfer.ID = "tr-1"
	}
	m.transferRecords = append(m.transferRecords, transfer)
	return nil
}

func (m *mockStore) AttachChainTxRef(ctx context.Context, transferID, txRef string) error {
	if m.AttachChainTxRefFunc != nil {
		return m.AttachChainTxRefFunc(ctx, transferID, txRef)
	}
	m.txRefs[transferID] = txRef
	return nil
}

func (m *mockStore) UpdateStatus(ctx context.Context, equipmentID string, status equipment.Status) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, equipmentID, status)
	}
	return nil
}

type chainWrite struct {
	op      string
	chainID string
	from    string
	to      string
	notes   string
}

type mockGateway struct {
	enabled bool

	RegisterFunc      func(ctx context.Context, name, serialNumber string) (string, error)
	CurrentHolderFunc func(ctx context.Context, chainEquipmentID string) (string, error)
	IssueFunc         func(ctx context.Context, chainEquipmentID, toAddress string) (string, error)
	TransferFunc      func(ctx context.Context, chainEquipmentID, fromAddress, toAddress, notes string) (string, error)

	writes []chainWrite
}

func (m *mockGateway) Enabled() bool {
	return m.enabled
}

func (m *mockGateway) Register(ctx context.Context, name, serialNumber string) (string, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, name, serialNumber)
	}
	return "42", nil
}

func (m *mockGateway) CurrentHolder(ctx context.Context, chainEquipmentID string) (string, error) {
	if m.CurrentHolderFunc != nil {
		return m.CurrentHolderFunc(ctx, chainEquipmentID)
	}
	return "0x0000000000000000000000000000000000000000", nil
}

func (m *mockGateway) IssueFromWarehouse(ctx context.Context, chainEquipmentID, toAddress string) (string, error) {
	m.writes = append(m.writes, chainWrite{op: "issue", chainID: chainEquipmentID, to: toAddress})
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, chainEquipmentID, toAddress)
	}
	return "0xissue", nil
}

func (m *mockGateway) TransferBetweenHolders(ctx context.Context, chainEquipmentID, fromAddress, toAddress, notes string) (string, error) {
	m.writes = append(m.writes, chainWrite{op: "transfer", chainID: chainEquipmentID, from: fromAddress, to: toAddress, notes: notes})
	if m.TransferFunc != nil {
		return m.TransferFunc(ctx, chainEquipmentID, fromAddress, toAddress, notes)
	}
	return "0xtransfer", nil
}

type mockResolver struct {
	addresses map[string]string
}

func (m *mockResolver) ResolveAddress(ctx context.Context, h holder.ID) string {
	if h.IsWarehouse() {
		return "0x0000000000000000000000000000000000000000"
	}
	if addr, ok := m.addresses[h.UserID()]; ok {
		return addr
	}
	return "0x0000000000000000000000000000000000000000"
}

type mockPublisher struct {
	published []*equipment.Transfer
	err       error
}

func (m *mockPublisher) PublishTransferred(ctx context.Context, unit *equipment.Equipment, transfer *equipment.Transfer) error {
	m.published = append(m.published, transfer)
	return m.err
}
