// Package types contains shared type definitions used across multiple packages
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Chain ids the fee model refers to directly.
const (
	ChainIDMainnet  uint64 = 1
	ChainIDOptimism uint64 = 10
)

// GasMethod names a bridge method whose execution cost is priced into a fee.
type GasMethod string

// Supported gas methods
const (
	MethodXCall   GasMethod = "xcall"   // sending side
	MethodExecute GasMethod = "execute" // receiving side
)

// Valid reports whether m is one of the known gas methods.
func (m GasMethod) Valid() bool {
	return m == MethodXCall || m == MethodExecute
}

// ReadTransaction is a non-state-changing contract call on a chain.
type ReadTransaction struct {
	ChainID uint64         `json:"chainId"`
	To      common.Address `json:"to"`
	Data    []byte         `json:"data"`
}

// CallMsg converts the transaction into a go-ethereum call message.
func (tx ReadTransaction) CallMsg() ethereum.CallMsg {
	to := tx.To
	return ethereum.CallMsg{To: &to, Data: tx.Data}
}

// WriteTransaction carries the fields of a state-changing transaction.
// Nothing here signs or sends it; it only feeds gas estimation.
type WriteTransaction struct {
	ReadTransaction
	From  common.Address `json:"from"`
	Value *big.Int       `json:"value,omitempty"`
}

// CallMsg converts the transaction into a go-ethereum call message.
func (tx WriteTransaction) CallMsg() ethereum.CallMsg {
	msg := tx.ReadTransaction.CallMsg()
	msg.From = tx.From
	if tx.Value != nil {
		msg.Value = new(big.Int).Set(tx.Value)
	}
	return msg
}

// CallDataParams describes the destination call executed alongside an execute.
type CallDataParams struct {
	CallData []byte
	CallTo   common.Address

	// CallDataGas, when set, is used as-is instead of estimating the call.
	CallDataGas *big.Int
}
