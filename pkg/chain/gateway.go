// Package chain submits custody writes to the EquipmentTracking contract and
// reads the on-chain view back. The chain is an advisory replica of the
// database: callers treat every error here as a degraded outcome, never as a
// reason to roll the database back.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/equiptrack/custody-middleware/internal/metrics"
	"github.com/equiptrack/custody-middleware/pkg/chain/contracts"
	"github.com/equiptrack/custody-middleware/pkg/config"
)

// ZeroAddress is how the contract encodes warehouse custody.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Event is one custody change read back from the contract, in chain order.
type Event struct {
	From      string
	To        string
	Timestamp time.Time
	Notes     string
	TxRef     string
}

// Gateway owns the service wallet and the bound EquipmentTracking contract.
// A gateway built from a config with chain integration disabled is valid;
// every operation on it returns ErrUnavailable.
type Gateway struct {
	config     *config.EthereumConfig
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	contract   *contracts.EquipmentTracking
	logger     *zap.Logger

	// All writes go through the single service wallet, so nonce
	// allocation and submission are serialized.
	txMu sync.Mutex
}

// NewGateway connects to the configured node and binds the contract. With
// chain integration disabled it returns a gateway in the permanent
// unavailable state rather than an error.
func NewGateway(cfg *config.EthereumConfig, logger *zap.Logger) (*Gateway, error) {
	if !cfg.Enabled() {
		logger.Info("Chain integration disabled, running database-only")
		return &Gateway{config: cfg, logger: logger}, nil
	}

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey)
	contractAddress := common.HexToAddress(cfg.ContractAddress)

	contract, err := contracts.NewEquipmentTracking(contractAddress, client)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracking contract: %w", err)
	}

	logger.Info("Connected to Ethereum",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("rpc_url", cfg.RPCURL),
		zap.String("tracking_contract", contractAddress.Hex()),
		zap.String("wallet_address", address.Hex()))

	return &Gateway{
		config:     cfg,
		client:     client,
		privateKey: privateKey,
		address:    address,
		contract:   contract,
		logger:     logger,
	}, nil
}

// Enabled reports whether the gateway is connected to a node.
func (g *Gateway) Enabled() bool {
	return g.client != nil
}

// Close closes the node connection.
func (g *Gateway) Close() {
	if g.client != nil {
		g.client.Close()
	}
}

// Register creates the on-chain record for a unit and returns the contract's
// equipment identifier, extracted from the EquipmentRegistered event.
func (g *Gateway) Register(ctx context.Context, name, serialNumber string) (string, error) {
	start := time.Now()
	chainID, err := g.register(ctx, name, serialNumber)
	g.observe("register", start, err)
	return chainID, err
}

func (g *Gateway) register(ctx context.Context, name, serialNumber string) (string, error) {
	if !g.Enabled() {
		return "", ErrUnavailable
	}

	receipt, err := g.transact(ctx, "register", func(auth *bind.TransactOpts) (*types.Transaction, error) {
		return g.contract.RegisterEquipment(auth, name, serialNumber)
	})
	if err != nil {
		return "", err
	}

	for _, log := range receipt.Logs {
		if len(log.Topics) == 0 || log.Topics[0] != g.contract.RegisteredTopic() {
			continue
		}
		event, err := g.contract.ParseRegistered(*log)
		if err != nil {
			return "", fmt.Errorf("failed to parse registration event: %w", err)
		}
		g.logger.Info("Equipment registered on chain",
			zap.String("chain_equipment_id", event.EquipmentId.String()),
			zap.String("serial_number", serialNumber),
			zap.String("tx_hash", receipt.TxHash.Hex()))
		return event.EquipmentId.String(), nil
	}
	return "", fmt.Errorf("registration tx %s confirmed without an EquipmentRegistered event", receipt.TxHash.Hex())
}

// CurrentHolder reads the live on-chain holder for a unit. The zero address
// means the warehouse holds it.
func (g *Gateway) CurrentHolder(ctx context.Context, chainEquipmentID string) (string, error) {
	start := time.Now()
	holderAddr, err := g.currentHolder(ctx, chainEquipmentID)
	g.observe("current_holder", start, err)
	return holderAddr, err
}

func (g *Gateway) currentHolder(ctx context.Context, chainEquipmentID string) (string, error) {
	if !g.Enabled() {
		return "", ErrUnavailable
	}
	id, err := parseEquipmentID(chainEquipmentID)
	if err != nil {
		return "", err
	}

	addr, err := g.contract.GetCurrentHolder(&bind.CallOpts{Context: ctx}, id)
	if err != nil {
		return "", fmt.Errorf("%w: getCurrentHolder: %v", ErrUnavailable, err)
	}
	return addr.Hex(), nil
}

// IssueFromWarehouse hands a unit from the warehouse to its first holder.
// It returns the confirmed transaction hash.
func (g *Gateway) IssueFromWarehouse(ctx context.Context, chainEquipmentID, toAddress string) (string, error) {
	start := time.Now()
	txRef, err := g.issue(ctx, chainEquipmentID, toAddress)
	g.observe("issue", start, err)
	return txRef, err
}

func (g *Gateway) issue(ctx context.Context, chainEquipmentID, toAddress string) (string, error) {
	if !g.Enabled() {
		return "", ErrUnavailable
	}
	id, err := parseEquipmentID(chainEquipmentID)
	if err != nil {
		return "", err
	}

	receipt, err := g.transact(ctx, "issue", func(auth *bind.TransactOpts) (*types.Transaction, error) {
		return g.contract.IssueEquipment(auth, id, common.HexToAddress(toAddress))
	})
	if err != nil {
		return "", err
	}

	g.logger.Info("Equipment issued on chain",
		zap.String("chain_equipment_id", chainEquipmentID),
		zap.String("to", toAddress),
		zap.String("tx_hash", receipt.TxHash.Hex()))
	return receipt.TxHash.Hex(), nil
}

// TransferBetweenHolders records a holder-to-holder custody change and
// returns the confirmed transaction hash.
func (g *Gateway) TransferBetweenHolders(ctx context.Context, chainEquipmentID, fromAddress, toAddress, notes string) (string, error) {
	start := time.Now()
	txRef, err := g.transfer(ctx, chainEquipmentID, fromAddress, toAddress, notes)
	g.observe("transfer", start, err)
	return txRef, err
}

func (g *Gateway) transfer(ctx context.Context, chainEquipmentID, fromAddress, toAddress, notes string) (string, error) {
	if !g.Enabled() {
		return "", ErrUnavailable
	}
	id, err := parseEquipmentID(chainEquipmentID)
	if err != nil {
		return "", err
	}

	receipt, err := g.transact(ctx, "transfer", func(auth *bind.TransactOpts) (*types.Transaction, error) {
		return g.contract.TransferEquipment(auth, id, common.HexToAddress(fromAddress), common.HexToAddress(toAddress), notes)
	})
	if err != nil {
		return "", err
	}

	g.logger.Info("Equipment transferred on chain",
		zap.String("chain_equipment_id", chainEquipmentID),
		zap.String("from", fromAddress),
		zap.String("to", toAddress),
		zap.String("tx_hash", receipt.TxHash.Hex()))
	return receipt.TxHash.Hex(), nil
}

// History replays a unit's custody changes from the contract's event log, in
// chain order. Issue events carry the zero address as From.
func (g *Gateway) History(ctx context.Context, chainEquipmentID string) ([]Event, error) {
	start := time.Now()
	events, err := g.history(ctx, chainEquipmentID)
	g.observe("history", start, err)
	return events, err
}

func (g *Gateway) history(ctx context.Context, chainEquipmentID string) ([]Event, error) {
	if !g.Enabled() {
		return nil, ErrUnavailable
	}
	id, err := parseEquipmentID(chainEquipmentID)
	if err != nil {
		return nil, err
	}

	query := goethereum.FilterQuery{
		Addresses: []common.Address{g.contract.Address()},
		Topics: [][]common.Hash{
			{g.contract.IssuedTopic(), g.contract.TransferredTopic()},
			{common.BigToHash(id)},
		},
	}
	logs, err := g.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to filter custody events: %v", ErrUnavailable, err)
	}

	events := make([]Event, 0, len(logs))
	for _, log := range logs {
		switch log.Topics[0] {
		case g.contract.IssuedTopic():
			issued, err := g.contract.ParseIssued(log)
			if err != nil {
				return nil, fmt.Errorf("failed to parse issue event: %w", err)
			}
			events = append(events, Event{
				From:      (common.Address{}).Hex(),
				To:        issued.To.Hex(),
				Timestamp: time.Unix(issued.Timestamp.Int64(), 0).UTC(),
				TxRef:     log.TxHash.Hex(),
			})
		case g.contract.TransferredTopic():
			transferred, err := g.contract.ParseTransferred(log)
			if err != nil {
				return nil, fmt.Errorf("failed to parse transfer event: %w", err)
			}
			events = append(events, Event{
				From:      transferred.From.Hex(),
				To:        transferred.To.Hex(),
				Timestamp: time.Unix(transferred.Timestamp.Int64(), 0).UTC(),
				Notes:     transferred.Notes,
				TxRef:     log.TxHash.Hex(),
			})
		}
	}
	return events, nil
}

// transact signs, submits and confirms one contract write. Nonce allocation
// and submission hold txMu; the confirmation wait does not.
func (g *Gateway) transact(ctx context.Context, op string, send func(*bind.TransactOpts) (*types.Transaction, error)) (*types.Receipt, error) {
	g.txMu.Lock()
	auth, err := g.transactor(ctx)
	if err != nil {
		g.txMu.Unlock()
		return nil, err
	}
	tx, err := send(auth)
	g.txMu.Unlock()
	if err != nil {
		return nil, classifySubmitError(op, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.config.ConfirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, g.client, tx)
	if err != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s tx %s not confirmed within %s", ErrTimeout, op, tx.Hash().Hex(), g.config.ConfirmTimeout)
		}
		return nil, fmt.Errorf("%w: waiting for %s tx %s: %v", ErrUnavailable, op, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s tx %s reverted", ErrRejected, op, tx.Hash().Hex())
	}
	return receipt, nil
}

func (g *Gateway) transactor(ctx context.Context) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(g.privateKey, big.NewInt(g.config.ChainID))
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	nonce, err := g.client.PendingNonceAt(ctx, g.address)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get nonce: %v", ErrUnavailable, err)
	}

	auth.Nonce = big.NewInt(int64(nonce))
	auth.GasLimit = g.config.GasLimit
	auth.Context = ctx
	return auth, nil
}

func (g *Gateway) observe(op string, start time.Time, err error) {
	metrics.ChainCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	result := "ok"
	switch {
	case errors.Is(err, ErrUnavailable):
		result = "unavailable"
	case errors.Is(err, ErrRejected):
		result = "rejected"
	case errors.Is(err, ErrTimeout):
		result = "timeout"
	case err != nil:
		result = "error"
	}
	metrics.ChainCallsTotal.WithLabelValues(op, result).Inc()
}

func parseEquipmentID(chainEquipmentID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(chainEquipmentID, 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid chain equipment id %q", ErrRejected, chainEquipmentID)
	}
	return id, nil
}

// classifySubmitError maps a raw submission failure onto the typed gateway
// errors. Gas estimation surfaces reverts before the transaction is sent, so
// a revert message here means the contract rejected the call.
func classifySubmitError(op string, err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "revert") {
		return fmt.Errorf("%w: %s: %v", ErrRejected, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
