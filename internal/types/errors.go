package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Sentinels for errors.Is checks across the typed errors below.
var (
	ErrChainNotSupported     = errors.New("chain not supported")
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// FieldError is one offending field in a chain configuration.
type FieldError struct {
	ChainID string      `json:"chainId"`
	Field   string      `json:"field"`
	Reason  string      `json:"reason"`
	Value   interface{} `json:"value,omitempty"`
}

func (f FieldError) String() string {
	return fmt.Sprintf("chain %s %s: %s", f.ChainID, f.Field, f.Reason)
}

// ConfigurationError reports every invalid field found while validating
// chain configuration. It is fatal to registry construction.
type ConfigurationError struct {
	Fields []FieldError `json:"fields"`
}

// Add records an offending field.
func (e *ConfigurationError) Add(chainID, field, reason string, value interface{}) {
	e.Fields = append(e.Fields, FieldError{ChainID: chainID, Field: field, Reason: reason, Value: value})
}

// ErrOrNil returns e when it holds at least one field, nil otherwise.
func (e *ConfigurationError) ErrOrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ConfigurationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return "invalid chain configuration: " + strings.Join(parts, "; ")
}

// ChainNotSupportedError means the chain has no price oracle deployed.
type ChainNotSupportedError struct {
	ChainID uint64
}

func (e *ChainNotSupportedError) Error() string {
	return fmt.Sprintf("chain %d not supported: no price oracle configured", e.ChainID)
}

func (e *ChainNotSupportedError) Is(target error) bool {
	return target == ErrChainNotSupported
}

// ProviderNotConfiguredError means the chain is absent from configuration.
// It also matches ErrChainNotSupported so callers can treat both alike.
type ProviderNotConfiguredError struct {
	ChainID uint64
}

func (e *ProviderNotConfiguredError) Error() string {
	return fmt.Sprintf("provider not configured for chain %d", e.ChainID)
}

func (e *ProviderNotConfiguredError) Is(target error) bool {
	return target == ErrProviderNotConfigured || target == ErrChainNotSupported
}

// RPCError is returned when every endpoint of a chain failed an operation.
type RPCError struct {
	ChainID  uint64
	Method   string
	Attempts int
	Cause    error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s failed on chain %d after %d attempt(s): %v", e.Method, e.ChainID, e.Attempts, e.Cause)
}

func (e *RPCError) Unwrap() error {
	return e.Cause
}

// RevertError is a deterministic on-chain rejection of a call or estimate.
type RevertError struct {
	ChainID uint64
	Method  string

	// Reason is the decoded revert reason, empty when not decoded.
	Reason string

	// Data is the raw revert payload returned by the node.
	Data []byte

	// Message is the node's error message.
	Message string
}

func (e *RevertError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("%s reverted on chain %d: %s", e.Method, e.ChainID, e.Reason)
	case e.Message != "":
		return fmt.Sprintf("%s reverted on chain %d: %s", e.Method, e.ChainID, e.Message)
	default:
		return fmt.Sprintf("%s reverted on chain %d", e.Method, e.ChainID)
	}
}

// ErrorData returns the revert payload hex encoded, like rpc.DataError.
func (e *RevertError) ErrorData() interface{} {
	return hexutil.Encode(e.Data)
}

// RequestRejectedError is a definitive failure that is not a revert, such as
// a malformed request or a missing receipt. Retrying elsewhere would not help.
type RequestRejectedError struct {
	ChainID uint64
	Method  string
	Cause   error
}

func (e *RequestRejectedError) Error() string {
	return fmt.Sprintf("%s rejected on chain %d: %v", e.Method, e.ChainID, e.Cause)
}

func (e *RequestRejectedError) Unwrap() error {
	return e.Cause
}
