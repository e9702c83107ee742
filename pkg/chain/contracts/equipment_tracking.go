// Package contracts wraps the deployed EquipmentTracking contract. The ABI
// is fixed external configuration; only the entry points the gateway uses
// are bound.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EquipmentTrackingABI is the ABI of the deployed EquipmentTracking contract.
const EquipmentTrackingABI = `[
{"type":"function","name":"registerEquipment","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"serialNumber","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"issueEquipment","stateMutability":"nonpayable","inputs":[{"name":"equipmentId","type":"uint256"},{"name":"to","type":"address"}],"outputs":[]},
{"type":"function","name":"transferEquipment","stateMutability":"nonpayable","inputs":[{"name":"equipmentId","type":"uint256"},{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"notes","type":"string"}],"outputs":[]},
{"type":"function","name":"getCurrentHolder","stateMutability":"view","inputs":[{"name":"equipmentId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"getTransferCount","stateMutability":"view","inputs":[{"name":"equipmentId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"getTransfer","stateMutability":"view","inputs":[{"name":"equipmentId","type":"uint256"},{"name":"index","type":"uint256"}],"outputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"timestamp","type":"uint256"},{"name":"notes","type":"string"}]},
{"type":"event","name":"EquipmentRegistered","anonymous":false,"inputs":[{"name":"equipmentId","type":"uint256","indexed":true},{"name":"name","type":"string","indexed":false},{"name":"serialNumber","type":"string","indexed":false}]},
{"type":"event","name":"EquipmentIssued","anonymous":false,"inputs":[{"name":"equipmentId","type":"uint256","indexed":true},{"name":"to","type":"address","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
{"type":"event","name":"EquipmentTransferred","anonymous":false,"inputs":[{"name":"equipmentId","type":"uint256","indexed":true},{"name":"from","type":"address","indexed":false},{"name":"to","type":"address","indexed":false},{"name":"timestamp","type":"uint256","indexed":false},{"name":"notes","type":"string","indexed":false}]}
]`

// EquipmentTracking is a Go binding of the EquipmentTracking contract.
type EquipmentTracking struct {
	address common.Address
	abi     abi.ABI
	bound   *bind.BoundContract
}

// NewEquipmentTracking binds the contract at address to backend.
func NewEquipmentTracking(address common.Address, backend bind.ContractBackend) (*EquipmentTracking, error) {
	parsed, err := abi.JSON(strings.NewReader(EquipmentTrackingABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse EquipmentTracking ABI: %w", err)
	}
	return &EquipmentTracking{
		address: address,
		abi:     parsed,
		bound:   bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// Address returns the deployed contract address.
func (c *EquipmentTracking) Address() common.Address {
	return c.address
}

// RegisterEquipment creates the on-chain custody record for a unit.
func (c *EquipmentTracking) RegisterEquipment(opts *bind.TransactOpts, name, serialNumber string) (*types.Transaction, error) {
	return c.bound.Transact(opts, "registerEquipment", name, serialNumber)
}

// IssueEquipment hands a unit from the warehouse (zero address) to a holder.
func (c *EquipmentTracking) IssueEquipment(opts *bind.TransactOpts, equipmentID *big.Int, to common.Address) (*types.Transaction, error) {
	return c.bound.Transact(opts, "issueEquipment", equipmentID, to)
}

// TransferEquipment moves a unit between two holders.
func (c *EquipmentTracking) TransferEquipment(opts *bind.TransactOpts, equipmentID *big.Int, from, to common.Address, notes string) (*types.Transaction, error) {
	return c.bound.Transact(opts, "transferEquipment", equipmentID, from, to, notes)
}

// GetCurrentHolder reads the on-chain holder of a unit.
func (c *EquipmentTracking) GetCurrentHolder(opts *bind.CallOpts, equipmentID *big.Int) (common.Address, error) {
	var out []interface{}
	if err := c.bound.Call(opts, &out, "getCurrentHolder", equipmentID); err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// GetTransferCount reads the number of recorded custody changes for a unit.
func (c *EquipmentTracking) GetTransferCount(opts *bind.CallOpts, equipmentID *big.Int) (*big.Int, error) {
	var out []interface{}
	if err := c.bound.Call(opts, &out, "getTransferCount", equipmentID); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// EquipmentRegisteredEvent mirrors the EquipmentRegistered contract event.
type EquipmentRegisteredEvent struct {
	EquipmentId  *big.Int
	Name         string
	SerialNumber string
	Raw          types.Log
}

// EquipmentIssuedEvent mirrors the EquipmentIssued contract event.
type EquipmentIssuedEvent struct {
	EquipmentId *big.Int
	To          common.Address
	Timestamp   *big.Int
	Raw         types.Log
}

// EquipmentTransferredEvent mirrors the EquipmentTransferred contract event.
type EquipmentTransferredEvent struct {
	EquipmentId *big.Int
	From        common.Address
	To          common.Address
	Timestamp   *big.Int
	Notes       string
	Raw         types.Log
}

// RegisteredTopic returns the EquipmentRegistered event signature hash.
func (c *EquipmentTracking) RegisteredTopic() common.Hash {
	return c.abi.Events["EquipmentRegistered"].ID
}

// IssuedTopic returns the EquipmentIssued event signature hash.
func (c *EquipmentTracking) IssuedTopic() common.Hash {
	return c.abi.Events["EquipmentIssued"].ID
}

// TransferredTopic returns the EquipmentTransferred event signature hash.
func (c *EquipmentTracking) TransferredTopic() common.Hash {
	return c.abi.Events["EquipmentTransferred"].ID
}

// ParseRegistered decodes an EquipmentRegistered log.
func (c *EquipmentTracking) ParseRegistered(log types.Log) (*EquipmentRegisteredEvent, error) {
	event := new(EquipmentRegisteredEvent)
	if err := c.bound.UnpackLog(event, "EquipmentRegistered", log); err != nil {
		return nil, err
	}
	event.Raw = log
	return event, nil
}

// ParseIssued decodes an EquipmentIssued log.
func (c *EquipmentTracking) ParseIssued(log types.Log) (*EquipmentIssuedEvent, error) {
	event := new(EquipmentIssuedEvent)
	if err := c.bound.UnpackLog(event, "EquipmentIssued", log); err != nil {
		return nil, err
	}
	event.Raw = log
	return event, nil
}

// ParseTransferred decodes an EquipmentTransferred log.
func (c *EquipmentTracking) ParseTransferred(log types.Log) (*EquipmentTransferredEvent, error) {
	event := new(EquipmentTransferredEvent)
	if err := c.bound.UnpackLog(event, "EquipmentTransferred", log); err != nil {
		return nil, err
	}
	event.Raw = log
	return event, nil
}
