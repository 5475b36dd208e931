package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/chain-reader/internal/model"
	"github.com/yourorg/chain-reader/internal/types"
)

// badRequest marks client input errors.
type badRequest struct {
	msg string
}

func (e badRequest) Error() string {
	return e.msg
}

func invalidInput(format string, args ...interface{}) error {
	return badRequest{msg: fmt.Sprintf(format, args...)}
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var (
		bad      badRequest
		revert   *types.RevertError
		rejected *types.RequestRejectedError
		rpcErr   *types.RPCError
	)
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrChainNotSupported):
		return http.StatusNotFound
	case errors.As(err, &revert), errors.As(err, &rejected):
		return http.StatusUnprocessableEntity
	case errors.As(err, &rpcErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON sends body with the given status
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Warnf("Failed to write response: %v", err)
	}
}

// errorResponse writes err as an ErrorResponse
func errorResponse(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logrus.Warnf("Request failed: %v", err)
	} else {
		logrus.Debugf("Request rejected: %v", err)
	}
	writeJSON(w, status, model.ErrorResponse{
		StatusCode: status,
		Status:     "error",
		Error:      err.Error(),
	})
}

func chainIDParam(r *http.Request) (uint64, error) {
	raw := r.PathValue("chainId")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, invalidInput("invalid chain id %q", raw)
	}
	return id, nil
}

func assetParam(r *http.Request) (common.Address, error) {
	raw := r.PathValue("asset")
	if !common.IsHexAddress(raw) {
		return common.Address{}, invalidInput("invalid asset address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

// decodeBody reads a JSON request body into dst and validates it
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidInput("invalid request body: %v", err)
	}
	if err := model.Validate(dst); err != nil {
		return invalidInput("%v", err)
	}
	return nil
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
