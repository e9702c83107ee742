// Package custody exposes the custody ledger over HTTP.
package custody

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/equiptrack/custody-middleware/pkg/app/errors"
	apphttp "github.com/equiptrack/custody-middleware/pkg/app/http"
	"github.com/equiptrack/custody-middleware/pkg/custodystore"
	"github.com/equiptrack/custody-middleware/pkg/equipment"
	"github.com/equiptrack/custody-middleware/pkg/history"
	"github.com/equiptrack/custody-middleware/pkg/holder"
	"github.com/equiptrack/custody-middleware/pkg/reconcile"
)

// Service is the reconciliation surface the handlers drive.
type Service interface {
	RequestTransfer(ctx context.Context, req *reconcile.TransferRequest) (*reconcile.TransferResult, error)
	RegisterEquipment(ctx context.Context, req *reconcile.RegistrationRequest, source string) (*reconcile.RegistrationResult, error)
	UpdateStatus(ctx context.Context, equipmentID string, status equipment.Status) error
}

// Historian builds merged custody timelines.
type Historian interface {
	EquipmentHistory(ctx context.Context, equipmentID string) (*history.View, error)
}

// Catalog is the read-only equipment lookup surface.
type Catalog interface {
	GetEquipment(ctx context.Context, opts ...custodystore.QueryOption) (*equipment.Equipment, error)
	ListEquipment(ctx context.Context) ([]*equipment.Equipment, error)
}

// Handler serves the custody API.
type Handler struct {
	service   Service
	historian Historian
	catalog   Catalog
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewHandler creates a custody API handler.
func NewHandler(service Service, historian Historian, catalog Catalog, logger *zap.Logger) *Handler {
	return &Handler{
		service:   service,
		historian: historian,
		catalog:   catalog,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Routes mounts the custody endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/transfers", apphttp.HandleError(h.requestTransfer))
	r.Post("/equipment", apphttp.HandleError(h.registerEquipment))
	r.Get("/equipment", apphttp.HandleError(h.listEquipment))
	r.Get("/equipment/{id}", apphttp.HandleError(h.getEquipment))
	r.Get("/equipment/{id}/history", apphttp.HandleError(h.getHistory))
	r.Patch("/equipment/{id}/status", apphttp.HandleError(h.updateStatus))
}

// transferRequest requires an explicit destination: a warehouse return names
// the warehouse ("0"), it is never implied by an absent to_holder_id.
type transferRequest struct {
	EquipmentID  string     `json:"equipment_id" validate:"required,uuid"`
	FromHolderID *string    `json:"from_holder_id"`
	ToHolderID   *string    `json:"to_holder_id" validate:"required"`
	Reason       string     `json:"transfer_reason" validate:"required,max=500"`
	TransferDate *time.Time `json:"transfer_date"`
}

type transferResponse struct {
	TransferID   string    `json:"transfer_id"`
	EquipmentID  string    `json:"equipment_id"`
	FromHolderID *string   `json:"from_holder_id"`
	ToHolderID   *string   `json:"to_holder_id"`
	TransferDate time.Time `json:"transfer_date"`
	Reason       string    `json:"transfer_reason,omitempty"`
	ChainTxRef   string    `json:"blockchain_tx_id,omitempty"`
	ChainStatus  string    `json:"chain_status"`
	ChainPending bool      `json:"chain_pending"`
}

func (h *Handler) requestTransfer(w http.ResponseWriter, r *http.Request) error {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.BadRequestError(err, err.Error())
	}

	engineReq := &reconcile.TransferRequest{
		EquipmentID: req.EquipmentID,
		FromHolder:  holder.FromNullable(req.FromHolderID),
		ToHolder:    holder.FromNullable(req.ToHolderID),
		Reason:      req.Reason,
	}
	if req.TransferDate != nil {
		engineReq.TransferDate = *req.TransferDate
	}

	res, err := h.service.RequestTransfer(r.Context(), engineReq)
	if err != nil {
		return err
	}

	return apphttp.WriteJSON(w, http.StatusCreated, &transferResponse{
		TransferID:   res.Transfer.ID,
		EquipmentID:  res.Transfer.EquipmentID,
		FromHolderID: res.Transfer.FromHolder.Nullable(),
		ToHolderID:   res.Transfer.ToHolder.Nullable(),
		TransferDate: res.Transfer.TransferDate,
		Reason:       res.Transfer.Reason,
		ChainTxRef:   res.Transfer.ChainTxRef,
		ChainStatus:  string(res.Outcome),
		ChainPending: res.Outcome.Pending(),
	})
}

type registerRequest struct {
	Name            string  `json:"name" validate:"required,max=255"`
	SerialNumber    string  `json:"serial_number" validate:"required,max=128"`
	Category        string  `json:"category" validate:"max=128"`
	Manufacturer    string  `json:"manufacturer" validate:"max=255"`
	Location        string  `json:"location" validate:"max=255"`
	InitialHolderID *string `json:"initial_holder_id"`
}

type equipmentResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	SerialNumber    string    `json:"serial_number"`
	Category        string    `json:"category,omitempty"`
	Manufacturer    string    `json:"manufacturer,omitempty"`
	Location        string    `json:"location,omitempty"`
	Status          string    `json:"status"`
	CurrentHolderID *string   `json:"current_holder_id"`
	ChainID         string    `json:"blockchain_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toEquipmentResponse(unit *equipment.Equipment) *equipmentResponse {
	return &equipmentResponse{
		ID:              unit.ID,
		Name:            unit.Name,
		SerialNumber:    unit.SerialNumber,
		Category:        unit.Category,
		Manufacturer:    unit.Manufacturer,
		Location:        unit.Location,
		Status:          string(unit.Status),
		CurrentHolderID: unit.CurrentHolder.Nullable(),
		ChainID:         unit.ChainID,
		CreatedAt:       unit.CreatedAt,
		UpdatedAt:       unit.UpdatedAt,
	}
}

type registerResponse struct {
	*equipmentResponse
	ChainStatus string `json:"chain_status"`
}

func (h *Handler) registerEquipment(w http.ResponseWriter, r *http.Request) error {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.BadRequestError(err, err.Error())
	}

	res, err := h.service.RegisterEquipment(r.Context(), &reconcile.RegistrationRequest{
		Name:          req.Name,
		SerialNumber:  req.SerialNumber,
		Category:      req.Category,
		Manufacturer:  req.Manufacturer,
		Location:      req.Location,
		InitialHolder: holder.FromNullable(req.InitialHolderID),
	}, "api")
	if err != nil {
		return err
	}

	return apphttp.WriteJSON(w, http.StatusCreated, &registerResponse{
		equipmentResponse: toEquipmentResponse(res.Equipment),
		ChainStatus:       string(res.Outcome),
	})
}

func (h *Handler) listEquipment(w http.ResponseWriter, r *http.Request) error {
	units, err := h.catalog.ListEquipment(r.Context())
	if err != nil {
		return err
	}

	out := make([]*equipmentResponse, len(units))
	for i, unit := range units {
		out[i] = toEquipmentResponse(unit)
	}
	return apphttp.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) getEquipment(w http.ResponseWriter, r *http.Request) error {
	unit, err := h.catalog.GetEquipment(r.Context(), custodystore.WithID(chi.URLParam(r, "id")))
	if err != nil {
		if errors.Is(err, custodystore.ErrEquipmentNotFound) {
			return apperrors.ResourceNotFoundError(err, "equipment not found")
		}
		return err
	}
	return apphttp.WriteJSON(w, http.StatusOK, toEquipmentResponse(unit))
}

type historyEntryResponse struct {
	Source       string     `json:"source"`
	TransferID   string     `json:"transfer_id,omitempty"`
	FromHolderID *string    `json:"from_holder_id"`
	ToHolderID   *string    `json:"to_holder_id"`
	TransferDate *time.Time `json:"transfer_date,omitempty"`
	Reason       string     `json:"transfer_reason,omitempty"`
	ChainTxRef   string     `json:"blockchain_tx_id,omitempty"`
	ChainFrom    string     `json:"chain_from_address,omitempty"`
	ChainTo      string     `json:"chain_to_address,omitempty"`
	ChainTime    *time.Time `json:"chain_timestamp,omitempty"`
	ChainNotes   string     `json:"chain_notes,omitempty"`
}

type historyResponse struct {
	EquipmentID    string                  `json:"equipment_id"`
	SerialNumber   string                  `json:"serial_number"`
	ChainConsulted bool                    `json:"chain_consulted"`
	Entries        []*historyEntryResponse `json:"entries"`
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) error {
	view, err := h.historian.EquipmentHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return err
	}

	entries := make([]*historyEntryResponse, len(view.Entries))
	for i := range view.Entries {
		entries[i] = toHistoryEntryResponse(&view.Entries[i])
	}
	return apphttp.WriteJSON(w, http.StatusOK, &historyResponse{
		EquipmentID:    view.Equipment.ID,
		SerialNumber:   view.Equipment.SerialNumber,
		ChainConsulted: view.ChainConsulted,
		Entries:        entries,
	})
}

func toHistoryEntryResponse(entry *history.Entry) *historyEntryResponse {
	out := &historyEntryResponse{}
	if entry.ChainOnly() {
		out.Source = "chain"
	} else {
		out.Source = "database"
		out.TransferID = entry.Transfer.ID
		out.FromHolderID = entry.Transfer.FromHolder.Nullable()
		out.ToHolderID = entry.Transfer.ToHolder.Nullable()
		date := entry.Transfer.TransferDate
		out.TransferDate = &date
		out.Reason = entry.Transfer.Reason
		out.ChainTxRef = entry.Transfer.ChainTxRef
	}
	if entry.Event != nil {
		out.ChainTxRef = entry.Event.TxRef
		out.ChainFrom = entry.Event.From
		out.ChainTo = entry.Event.To
		ts := entry.Event.Timestamp
		out.ChainTime = &ts
		out.ChainNotes = entry.Event.Notes
	}
	return out
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active maintenance decommissioned"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) error {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.BadRequestError(err, err.Error())
	}

	id := chi.URLParam(r, "id")
	if err := h.service.UpdateStatus(r.Context(), id, equipment.Status(req.Status)); err != nil {
		return err
	}
	return apphttp.WriteJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": req.Status,
	})
}
