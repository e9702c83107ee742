// Package reconcile coordinates the dual custody ledgers. The database is
// the authoritative record; every chain write happens after the database
// commit and its failure degrades the result instead of rolling anything
// back.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/equiptrack/custody-middleware/internal/metrics"
	apperrors "github.com/equiptrack/custody-middleware/pkg/app/errors"
	"github.com/equiptrack/custody-middleware/pkg/chain"
	"github.com/equiptrack/custody-middleware/pkg/custodystore"
	"github.com/equiptrack/custody-middleware/pkg/equipment"
	"github.com/equiptrack/custody-middleware/pkg/holder"
)

var (
	ErrHolderMismatch = errors.New("equipment is not held by the stated holder")
	ErrDecommissioned = errors.New("equipment is decommissioned")
	ErrSameHolder     = errors.New("transfer source and destination are the same holder")
)

// Outcome describes how the chain side of an operation ended. The database
// side either fully succeeded or the operation returned an error; there is
// no partial database state to report.
type Outcome string

const (
	OutcomeConfirmed   Outcome = "confirmed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeRejected    Outcome = "rejected"
	OutcomeTimeout     Outcome = "timeout"
)

// Pending reports whether the chain record still lags the database.
func (o Outcome) Pending() bool {
	return o != OutcomeConfirmed && o != OutcomeSkipped
}

// Store is the narrow data-access interface for the reconciliation engine.
type Store interface {
	CreateEquipment(ctx context.Context, unit *equipment.Equipment) error
	GetEquipment(ctx context.Context, opts ...custodystore.QueryOption) (*equipment.Equipment, error)
	UpdateHolder(ctx context.Context, equipmentID string, expected, next holder.ID) error
	AttachChainID(ctx context.Context, equipmentID, chainID string) error
	CreateTransfer(ctx context.Context, transfer *equipment.Transfer) error
	AttachChainTxRef(ctx context.Context, transferID, txRef string) error
	UpdateStatus(ctx context.Context, equipmentID string, status equipment.Status) error
}

// ChainGateway is the contract consumed from the chain side.
type ChainGateway interface {
	Enabled() bool
	Register(ctx context.Context, name, serialNumber string) (string, error)
	CurrentHolder(ctx context.Context, chainEquipmentID string) (string, error)
	IssueFromWarehouse(ctx context.Context, chainEquipmentID, toAddress string) (string, error)
	TransferBetweenHolders(ctx context.Context, chainEquipmentID, fromAddress, toAddress, notes string) (string, error)
}

// AddressResolver maps holders to chain addresses.
type AddressResolver interface {
	ResolveAddress(ctx context.Context, h holder.ID) string
}

// TransferPublisher announces committed custody changes to downstream
// services. Publishing is fire-and-forget from the engine's point of view.
type TransferPublisher interface {
	PublishTransferred(ctx context.Context, unit *equipment.Equipment, transfer *equipment.Transfer) error
}

// Engine runs the custody state machine across both ledgers.
type Engine struct {
	store     Store
	gateway   ChainGateway
	resolver  AddressResolver
	publisher TransferPublisher // optional
	logger    *zap.Logger
}

// NewEngine creates a reconciliation engine. publisher may be nil when no
// message broker is configured.
func NewEngine(store Store, gateway ChainGateway, resolver AddressResolver, publisher TransferPublisher, logger *zap.Logger) *Engine {
	return &Engine{
		store:     store,
		gateway:   gateway,
		resolver:  resolver,
		publisher: publisher,
		logger:    logger,
	}
}

// TransferRequest describes one requested custody change. FromHolder is the
// holder the caller believes currently has the unit; it is validated against
// the database, not trusted.
type TransferRequest struct {
	EquipmentID  string
	FromHolder   holder.ID
	ToHolder     holder.ID
	Reason       string
	TransferDate time.Time
}

// TransferResult is the committed transfer plus the chain outcome.
type TransferResult struct {
	Transfer *equipment.Transfer
	Outcome  Outcome
}

// RegistrationRequest describes a new unit entering custody tracking.
// InitialHolder may name the person already holding the unit; the warehouse
// zero value means it enters warehouse custody.
type RegistrationRequest struct {
	Name          string
	SerialNumber  string
	Category      string
	Manufacturer  string
	Location      string
	InitialHolder holder.ID
}

// RegistrationResult is the created unit plus the chain outcome.
type RegistrationResult struct {
	Equipment *equipment.Equipment
	Outcome   Outcome
}

// RequestTransfer validates, commits and then mirrors one custody change.
// Validation failures abort the whole operation; once the database update
// has been applied, nothing that happens on the chain side undoes it.
func (e *Engine) RequestTransfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	unit, err := e.store.GetEquipment(ctx, custodystore.WithID(req.EquipmentID))
	if err != nil {
		if errors.Is(err, custodystore.ErrEquipmentNotFound) {
			return nil, apperrors.ResourceNotFoundError(err, "equipment not found")
		}
		return nil, fmt.Errorf("failed to load equipment: %w", err)
	}

	if unit.Status == equipment.StatusDecommissioned {
		return nil, apperrors.ConflictError(ErrDecommissioned, "decommissioned equipment cannot change custody")
	}
	if unit.CurrentHolder != req.FromHolder {
		return nil, apperrors.BadRequestError(ErrHolderMismatch,
			fmt.Sprintf("equipment is held by %s, not %s", unit.CurrentHolder, req.FromHolder))
	}
	if req.FromHolder == req.ToHolder {
		return nil, apperrors.BadRequestError(ErrSameHolder, "transfer source and destination are the same holder")
	}

	if err := e.store.UpdateHolder(ctx, unit.ID, req.FromHolder, req.ToHolder); err != nil {
		if errors.Is(err, custodystore.ErrHolderConflict) {
			// A concurrent transfer won the CAS; the loser's stated holder is
			// now stale, the same mismatch as a wrong FromHolder up front.
			return nil, apperrors.ConflictError(fmt.Errorf("%w: %v", ErrHolderMismatch, err),
				"equipment custody changed concurrently")
		}
		return nil, fmt.Errorf("failed to commit custody change: %w", err)
	}

	transferDate := req.TransferDate
	if transferDate.IsZero() {
		transferDate = time.Now().UTC()
	}
	transfer := &equipment.Transfer{
		EquipmentID:  unit.ID,
		FromHolder:   req.FromHolder,
		ToHolder:     req.ToHolder,
		Reason:       req.Reason,
		TransferDate: transferDate,
	}
	if err := e.store.CreateTransfer(ctx, transfer); err != nil {
		// The holder update is already durable; the history row is gone but
		// custody itself is correct. Surface the error, do not roll back.
		return nil, fmt.Errorf("custody updated but transfer record failed: %w", err)
	}

	e.logger.Info("Custody change committed",
		zap.String("equipment_id", unit.ID),
		zap.String("from", req.FromHolder.String()),
		zap.String("to", req.ToHolder.String()))

	outcome := e.mirrorTransfer(ctx, unit, transfer)
	metrics.TransfersTotal.WithLabelValues(string(outcome)).Inc()

	unit.CurrentHolder = req.ToHolder
	e.announce(ctx, unit, transfer)

	return &TransferResult{Transfer: transfer, Outcome: outcome}, nil
}

// mirrorTransfer pushes a committed custody change to the chain. The chain
// may disagree with the database about the current holder; the dispatch is
// driven by the live on-chain state so the write is accepted, and the
// discrepancy is logged instead of failing the call.
func (e *Engine) mirrorTransfer(ctx context.Context, unit *equipment.Equipment, transfer *equipment.Transfer) Outcome {
	if !e.gateway.Enabled() || !unit.Registered() {
		return OutcomeSkipped
	}

	chainHolder, err := e.gateway.CurrentHolder(ctx, unit.ChainID)
	if err != nil {
		return e.chainOutcome(unit.ID, "holder lookup", err)
	}

	toAddress := e.resolver.ResolveAddress(ctx, transfer.ToHolder)

	var write func(context.Context) (string, error)
	if chainHolder == chain.ZeroAddress {
		write = func(ctx context.Context) (string, error) {
			return e.gateway.IssueFromWarehouse(ctx, unit.ChainID, toAddress)
		}
	} else {
		fromAddress := e.resolver.ResolveAddress(ctx, transfer.FromHolder)
		if !strings.EqualFold(fromAddress, chainHolder) {
			e.logger.Warn("Chain holder differs from database holder, using chain state",
				zap.String("equipment_id", unit.ID),
				zap.String("chain_holder", chainHolder),
				zap.String("db_holder_address", fromAddress))
		}
		write = func(ctx context.Context) (string, error) {
			return e.gateway.TransferBetweenHolders(ctx, unit.ChainID, chainHolder, toAddress, transfer.Reason)
		}
	}

	txRef, err := write(ctx)
	if errors.Is(err, chain.ErrTimeout) {
		e.logger.Warn("Chain write timed out, retrying once",
			zap.String("equipment_id", unit.ID))
		txRef, err = write(ctx)
	}
	if err != nil {
		return e.chainOutcome(unit.ID, "custody write", err)
	}

	if err := e.store.AttachChainTxRef(ctx, transfer.ID, txRef); err != nil {
		e.logger.Error("Failed to record chain tx ref",
			zap.String("transfer_id", transfer.ID),
			zap.String("tx_ref", txRef),
			zap.Error(err))
	} else {
		transfer.ChainTxRef = txRef
	}
	return OutcomeConfirmed
}

// RegisterEquipment creates the database record for a new unit and then
// registers it on-chain best-effort. source labels where the request came
// from ("api" or "intake") for metrics.
func (e *Engine) RegisterEquipment(ctx context.Context, req *RegistrationRequest, source string) (*RegistrationResult, error) {
	unit := &equipment.Equipment{
		Name:          req.Name,
		SerialNumber:  req.SerialNumber,
		Category:      req.Category,
		Manufacturer:  req.Manufacturer,
		Location:      req.Location,
		Status:        equipment.StatusActive,
		CurrentHolder: holder.Warehouse(),
	}
	if err := e.store.CreateEquipment(ctx, unit); err != nil {
		if errors.Is(err, custodystore.ErrDuplicateSerial) {
			return nil, apperrors.ConflictError(err, "serial number already registered")
		}
		return nil, fmt.Errorf("failed to create equipment: %w", err)
	}

	e.logger.Info("Equipment registered",
		zap.String("equipment_id", unit.ID),
		zap.String("serial_number", unit.SerialNumber),
		zap.String("source", source))

	var transfer *equipment.Transfer
	if !req.InitialHolder.IsWarehouse() {
		if err := e.store.UpdateHolder(ctx, unit.ID, holder.Warehouse(), req.InitialHolder); err != nil {
			return nil, fmt.Errorf("failed to issue to initial holder: %w", err)
		}
		transfer = &equipment.Transfer{
			EquipmentID:  unit.ID,
			FromHolder:   holder.Warehouse(),
			ToHolder:     req.InitialHolder,
			Reason:       "initial issue",
			TransferDate: time.Now().UTC(),
		}
		if err := e.store.CreateTransfer(ctx, transfer); err != nil {
			return nil, fmt.Errorf("custody updated but transfer record failed: %w", err)
		}
		unit.CurrentHolder = req.InitialHolder
	}

	outcome := e.mirrorRegistration(ctx, unit, transfer)
	metrics.RegistrationsTotal.WithLabelValues(source, string(outcome)).Inc()

	if transfer != nil {
		e.announce(ctx, unit, transfer)
	}

	return &RegistrationResult{Equipment: unit, Outcome: outcome}, nil
}

// mirrorRegistration registers the unit on-chain and, when an initial holder
// transfer was committed, chains into the warehouse issue. An issue failure
// never unwinds the registration.
func (e *Engine) mirrorRegistration(ctx context.Context, unit *equipment.Equipment, transfer *equipment.Transfer) Outcome {
	if !e.gateway.Enabled() {
		return OutcomeSkipped
	}

	register := func(ctx context.Context) (string, error) {
		return e.gateway.Register(ctx, unit.Name, unit.SerialNumber)
	}
	chainID, err := register(ctx)
	if errors.Is(err, chain.ErrTimeout) {
		e.logger.Warn("Chain registration timed out, retrying once",
			zap.String("equipment_id", unit.ID))
		chainID, err = register(ctx)
	}
	if err != nil {
		return e.chainOutcome(unit.ID, "registration", err)
	}

	if err := e.store.AttachChainID(ctx, unit.ID, chainID); err != nil {
		e.logger.Error("Failed to record chain equipment id",
			zap.String("equipment_id", unit.ID),
			zap.String("chain_equipment_id", chainID),
			zap.Error(err))
	} else {
		unit.ChainID = chainID
	}

	if transfer == nil || !unit.Registered() {
		return OutcomeConfirmed
	}

	toAddress := e.resolver.ResolveAddress(ctx, transfer.ToHolder)
	issue := func(ctx context.Context) (string, error) {
		return e.gateway.IssueFromWarehouse(ctx, unit.ChainID, toAddress)
	}
	txRef, err := issue(ctx)
	if errors.Is(err, chain.ErrTimeout) {
		e.logger.Warn("Chain issue timed out, retrying once",
			zap.String("equipment_id", unit.ID))
		txRef, err = issue(ctx)
	}
	if err != nil {
		return e.chainOutcome(unit.ID, "initial issue", err)
	}

	if err := e.store.AttachChainTxRef(ctx, transfer.ID, txRef); err != nil {
		e.logger.Error("Failed to record chain tx ref",
			zap.String("transfer_id", transfer.ID),
			zap.String("tx_ref", txRef),
			zap.Error(err))
	} else {
		transfer.ChainTxRef = txRef
	}
	return OutcomeConfirmed
}

// UpdateStatus changes a unit's lifecycle status. Status lives only in the
// database; the chain tracks custody, not condition.
func (e *Engine) UpdateStatus(ctx context.Context, equipmentID string, status equipment.Status) error {
	switch status {
	case equipment.StatusActive, equipment.StatusMaintenance, equipment.StatusDecommissioned:
	default:
		return apperrors.BadRequestError(fmt.Errorf("unknown status %q", status), "unknown status")
	}

	if err := e.store.UpdateStatus(ctx, equipmentID, status); err != nil {
		if errors.Is(err, custodystore.ErrEquipmentNotFound) {
			return apperrors.ResourceNotFoundError(err, "equipment not found")
		}
		return fmt.Errorf("failed to update status: %w", err)
	}

	e.logger.Info("Equipment status updated",
		zap.String("equipment_id", equipmentID),
		zap.String("status", string(status)))
	return nil
}

// chainOutcome classifies a chain failure and logs it at the right level.
// Unavailability is a valid steady state and stays at info.
func (e *Engine) chainOutcome(equipmentID, op string, err error) Outcome {
	switch {
	case errors.Is(err, chain.ErrUnavailable):
		e.logger.Info("Chain unavailable, database remains authoritative",
			zap.String("equipment_id", equipmentID),
			zap.String("operation", op),
			zap.Error(err))
		return OutcomeUnavailable
	case errors.Is(err, chain.ErrRejected):
		e.logger.Error("Chain rejected custody write",
			zap.String("equipment_id", equipmentID),
			zap.String("operation", op),
			zap.Error(err))
		return OutcomeRejected
	case errors.Is(err, chain.ErrTimeout):
		e.logger.Warn("Chain confirmation timed out",
			zap.String("equipment_id", equipmentID),
			zap.String("operation", op),
			zap.Error(err))
		return OutcomeTimeout
	default:
		e.logger.Error("Chain write failed",
			zap.String("equipment_id", equipmentID),
			zap.String("operation", op),
			zap.Error(err))
		return OutcomeRejected
	}
}

func (e *Engine) announce(ctx context.Context, unit *equipment.Equipment, transfer *equipment.Transfer) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishTransferred(ctx, unit, transfer); err != nil {
		e.logger.Warn("Failed to publish transfer event",
			zap.String("transfer_id", transfer.ID),
			zap.Error(err))
	}
}
