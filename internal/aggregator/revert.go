package aggregator

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	errorSelector = crypto.Keccak256([]byte("Error(string)"))[:4]
	panicSelector = crypto.Keccak256([]byte("Panic(uint256)"))[:4]
)

var panicReasons = map[uint64]string{
	0x00: "generic panic",
	0x01: "assert failed",
	0x11: "arithmetic overflow or underflow",
	0x12: "division or modulo by zero",
	0x21: "invalid enum value",
	0x22: "invalid storage byte array",
	0x31: "pop on empty array",
	0x32: "array index out of bounds",
	0x41: "out of memory",
	0x51: "call to zero-initialized function",
}

// DecodeRevertReason turns revert data into a readable reason: the
// Error(string) message, a Panic(uint256) description, or the selector of a
// custom error. Empty data yields an empty string.
func DecodeRevertReason(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	switch {
	case bytes.Equal(data[:4], errorSelector):
		if reason, err := abi.UnpackRevert(data); err == nil {
			return reason
		}
	case bytes.Equal(data[:4], panicSelector):
		uint256Ty, _ := abi.NewType("uint256", "", nil)
		values, err := abi.Arguments{{Type: uint256Ty}}.Unpack(data[4:])
		if err == nil {
			code := values[0].(*big.Int)
			desc, ok := panicReasons[code.Uint64()]
			if !ok || !code.IsUint64() {
				desc = "unknown panic"
			}
			return fmt.Sprintf("panic 0x%x: %s", code, desc)
		}
	}
	return "custom error " + hexutil.Encode(data[:4])
}

// reasonFromMessage pulls the reason out of a node message such as
// "execution reverted: ERC20: insufficient allowance".
func reasonFromMessage(msg string) string {
	const prefix = "execution reverted: "
	if i := strings.Index(msg, prefix); i >= 0 {
		return strings.TrimSpace(msg[i+len(prefix):])
	}
	return ""
}
