package aggregator

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/yourorg/chain-reader/internal/rpcpool"
)

// JSON-RPC error codes that mean "this endpoint, right now" rather than
// "this request".
var transientCodes = map[int]bool{
	-32005: true, // limit exceeded
	-32603: true, // internal error
	-32601: true, // method not found, endpoint may lack the namespace
	-32002: true, // resource unavailable
	-32003: true, // transaction rejected by overloaded node
	429:    true,
}

var transientMessages = []string{
	"rate limit",
	"too many requests",
	"limit exceeded",
	"header not found",
	"unknown block",
	"missing trie node",
	"timeout",
	"timed out",
	"temporarily unavailable",
	"service unavailable",
	"try again",
	"capacity",
	"bad gateway",
}

// classify decides whether another endpoint could give a different answer.
// ctx is the caller's context, not the attempt's.
func classify(ctx context.Context, err error) rpcpool.FailureKind {
	if ctx.Err() != nil {
		return rpcpool.FailureAborted
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// the attempt's own timeout
		return rpcpool.FailureTransient
	}
	if _, ok := revertData(err); ok {
		return rpcpool.FailureDefinitive
	}
	if errors.Is(err, ethereum.NotFound) {
		return rpcpool.FailureDefinitive
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return rpcpool.FailureTransient
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if transientCodes[rpcErr.ErrorCode()] || hasTransientMessage(rpcErr.Error()) {
			return rpcpool.FailureTransient
		}
		return rpcpool.FailureDefinitive
	}

	// transport level: dial, reset, EOF, TLS
	return rpcpool.FailureTransient
}

func hasTransientMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// revertData reports whether err is an execution revert and returns its payload if any.
func revertData(err error) ([]byte, bool) {
	code := 0
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		code = rpcErr.ErrorCode()
	}
	msg := strings.ToLower(err.Error())
	if code != 3 && !strings.Contains(msg, "execution reverted") && !strings.Contains(msg, "vm execution error") {
		return nil, false
	}

	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, true
	}
	switch d := dataErr.ErrorData().(type) {
	case string:
		if b, err := hexutil.Decode(d); err == nil {
			return b, true
		}
	case []byte:
		return d, true
	}
	return nil, true
}
