package custody

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/equiptrack/custody-middleware/pkg/app/errors"
	"github.com/equiptrack/custody-middleware/pkg/chain"
	"github.com/equiptrack/custody-middleware/pkg/custodystore"
	"github.com/equiptrack/custody-middleware/pkg/equipment"
	"github.com/equiptrack/custody-middleware/pkg/history"
	"github.com/equiptrack/custody-middleware/pkg/holder"
	"github.com/equiptrack/custody-middleware/pkg/reconcile"
)

const testEquipmentID = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"

type fakeService struct {
	transferReq *reconcile.TransferRequest
	transferRes *reconcile.TransferResult
	transferErr error

	registerRes *reconcile.RegistrationResult
	registerErr error
	source      string

	statusErr error
}

func (f *fakeService) RequestTransfer(ctx context.Context, req *reconcile.TransferRequest) (*reconcile.TransferResult, error) {
	f.transferReq = req
	return f.transferRes, f.transferErr
}

func (f *fakeService) RegisterEquipment(ctx context.Context, req *reconcile.RegistrationRequest, source string) (*reconcile.RegistrationResult, error) {
	f.source = source
	return f.registerRes, f.registerErr
}

func (f *fakeService) UpdateStatus(ctx context.Context, equipmentID string, status equipment.Status) error {
	return f.statusErr
}

type fakeHistorian struct {
	view *history.View
	err  error
}

func (f *fakeHistorian) EquipmentHistory(ctx context.Context, equipmentID string) (*history.View, error) {
	return f.view, f.err
}

type fakeCatalog struct {
	unit  *equipment.Equipment
	units []*equipment.Equipment
	err   error
}

func (f *fakeCatalog) GetEquipment(ctx context.Context, opts ...custodystore.QueryOption) (*equipment.Equipment, error) {
	return f.unit, f.err
}

func (f *fakeCatalog) ListEquipment(ctx context.Context) ([]*equipment.Equipment, error) {
	return f.units, f.err
}

func testRouter(service *fakeService, historian *fakeHistorian, catalog *fakeCatalog) *chi.Mux {
	if service == nil {
		service = &fakeService{}
	}
	if historian == nil {
		historian = &fakeHistorian{}
	}
	if catalog == nil {
		catalog = &fakeCatalog{}
	}
	r := chi.NewRouter()
	NewHandler(service, historian, catalog, zap.NewNop()).Routes(r)
	return r
}

func TestRequestTransfer(t *testing.T) {
	service := &fakeService{
		transferRes: &reconcile.TransferResult{
			Transfer: &equipment.Transfer{
				ID:           "tr-1",
				EquipmentID:  testEquipmentID,
				ToHolder:     holder.FromUser("user-7"),
				TransferDate: time.Now(),
				ChainTxRef:   "0xabc",
			},
			Outcome: reconcile.OutcomeConfirmed,
		},
	}

	body := `{"equipment_id": "` + testEquipmentID + `", "to_holder_id": "user-7", "transfer_reason": "field deployment"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(body))

	testRouter(service, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	if service.transferReq == nil {
		t.Fatal("transfer request never reached the service")
	}
	if !service.transferReq.FromHolder.IsWarehouse() {
		t.Fatalf("missing from_holder_id must mean the warehouse, got %v", service.transferReq.FromHolder)
	}
	if got := service.transferReq.ToHolder.UserID(); got != "user-7" {
		t.Fatalf("to holder = %q, want user-7", got)
	}

	var resp transferResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ChainStatus != string(reconcile.OutcomeConfirmed) || resp.ChainPending {
		t.Fatalf("chain_status=%q pending=%v, want confirmed/false", resp.ChainStatus, resp.ChainPending)
	}
	if resp.ChainTxRef != "0xabc" {
		t.Fatalf("blockchain_tx_id = %q, want 0xabc", resp.ChainTxRef)
	}
}

func TestRequestTransferValidation(t *testing.T) {
	for name, body := range map[string]string{
		"not json":     `{oops`,
		"no equipment": `{"to_holder_id": "user-7", "transfer_reason": "field deployment"}`,
		"bad uuid":     `{"equipment_id": "42", "to_holder_id": "user-7", "transfer_reason": "field deployment"}`,
		"no to holder": `{"equipment_id": "` + testEquipmentID + `", "transfer_reason": "field deployment"}`,
		"no reason":    `{"equipment_id": "` + testEquipmentID + `", "to_holder_id": "user-7"}`,
		"empty reason": `{"equipment_id": "` + testEquipmentID + `", "to_holder_id": "user-7", "transfer_reason": ""}`,
	} {
		t.Run(name, func(t *testing.T) {
			service := &fakeService{}
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(body))

			testRouter(service, nil, nil).ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if service.transferReq != nil {
				t.Fatal("invalid request must not reach the service")
			}
		})
	}
}

func TestRequestTransferConflictStatus(t *testing.T) {
	service := &fakeService{
		transferErr: apperrors.ConflictError(errors.New("holder changed"), "equipment custody changed concurrently"),
	}

	body := `{"equipment_id": "` + testEquipmentID + `", "to_holder_id": "user-7", "transfer_reason": "field deployment"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(body))

	testRouter(service, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body %s", rec.Code, rec.Body.String())
	}
}

func TestRequestTransferExplicitWarehouseReturn(t *testing.T) {
	service := &fakeService{
		transferRes: &reconcile.TransferResult{
			Transfer: &equipment.Transfer{
				ID:           "tr-1",
				EquipmentID:  testEquipmentID,
				FromHolder:   holder.FromUser("user-7"),
				TransferDate: time.Now(),
			},
			Outcome: reconcile.OutcomeConfirmed,
		},
	}

	body := `{"equipment_id": "` + testEquipmentID + `", "from_holder_id": "user-7", "to_holder_id": "0", "transfer_reason": "returned to depot"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(body))

	testRouter(service, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("explicit warehouse return must be accepted, status = %d, body %s", rec.Code, rec.Body.String())
	}
	if service.transferReq == nil || !service.transferReq.ToHolder.IsWarehouse() {
		t.Fatalf("to_holder_id \"0\" must normalize to the warehouse sentinel, got %+v", service.transferReq)
	}
}

func TestRegisterEquipment(t *testing.T) {
	service := &fakeService{
		registerRes: &reconcile.RegistrationResult{
			Equipment: &equipment.Equipment{
				ID:           testEquipmentID,
				Name:         "Thermal Camera",
				SerialNumber: "SN-1001",
				Status:       equipment.StatusActive,
				ChainID:      "42",
			},
			Outcome: reconcile.OutcomeConfirmed,
		},
	}

	body := `{"name": "Thermal Camera", "serial_number": "SN-1001"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/equipment", strings.NewReader(body))

	testRouter(service, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	if service.source != "api" {
		t.Fatalf("registration source = %q, want api", service.source)
	}

	var resp struct {
		ID              string  `json:"id"`
		ChainID         string  `json:"blockchain_id"`
		ChainStatus     string  `json:"chain_status"`
		CurrentHolderID *string `json:"current_holder_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ChainID != "42" {
		t.Fatalf("blockchain_id = %q, want 42", resp.ChainID)
	}
	if resp.CurrentHolderID != nil {
		t.Fatalf("a new unit must be in warehouse custody, got holder %v", *resp.CurrentHolderID)
	}
}

func TestRegisterEquipmentRequiresSerial(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/equipment", strings.NewReader(`{"name": "Thermal Camera"}`))

	testRouter(nil, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetEquipmentNotFound(t *testing.T) {
	catalog := &fakeCatalog{err: custodystore.ErrEquipmentNotFound}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/equipment/"+testEquipmentID, nil)

	testRouter(nil, nil, catalog).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetHistoryMixedSources(t *testing.T) {
	now := time.Now().UTC()
	historian := &fakeHistorian{
		view: &history.View{
			Equipment:      &equipment.Equipment{ID: testEquipmentID, SerialNumber: "SN-1001"},
			ChainConsulted: true,
			Entries: []history.Entry{
				{
					Transfer: &equipment.Transfer{
						ID:           "tr-1",
						EquipmentID:  testEquipmentID,
						ToHolder:     holder.FromUser("user-7"),
						TransferDate: now,
						ChainTxRef:   "0xabc",
					},
					Event: &chain.Event{TxRef: "0xabc", To: "0x1111", Timestamp: now},
				},
				{
					Event: &chain.Event{TxRef: "0xdef", From: "0x1111", To: "0x2222", Timestamp: now},
				},
			},
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/equipment/"+testEquipmentID+"/history", nil)

	testRouter(nil, historian, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var resp historyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.ChainConsulted {
		t.Fatal("chain_consulted must be true")
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(resp.Entries))
	}
	if resp.Entries[0].Source != "database" || resp.Entries[0].TransferID != "tr-1" {
		t.Fatalf("first entry must come from the database, got %+v", resp.Entries[0])
	}
	if resp.Entries[1].Source != "chain" || resp.Entries[1].ChainTxRef != "0xdef" {
		t.Fatalf("second entry must be chain-only, got %+v", resp.Entries[1])
	}
}

func TestUpdateStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/equipment/"+testEquipmentID+"/status",
		strings.NewReader(`{"status": "maintenance"}`))

	testRouter(nil, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateStatusRejectsUnknownValue(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/equipment/"+testEquipmentID+"/status",
		strings.NewReader(`{"status": "lost"}`))

	testRouter(nil, nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
