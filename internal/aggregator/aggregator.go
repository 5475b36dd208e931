// Package aggregator turns a read or estimate against one chain into a
// reliable result by failing over across the chain's endpoint pool.
package aggregator

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/chain-reader/internal/gasstation"
	"github.com/yourorg/chain-reader/internal/otel"
	"github.com/yourorg/chain-reader/internal/rpcpool"
	"github.com/yourorg/chain-reader/internal/telemetry"
	"github.com/yourorg/chain-reader/internal/types"
)

// DefaultAttemptTimeout bounds a single attempt against a single endpoint.
const DefaultAttemptTimeout = 10 * time.Second

var errNoEndpointAvailable = errors.New("no endpoint available")

// Options configures an Aggregator.
type Options struct {
	AttemptTimeout time.Duration
	Confirmations  uint64
	GasStations    *gasstation.Client
	Metrics        *telemetry.Metrics
	Clock          func() time.Time
}

// Aggregator executes operations for one chain against its pool.
type Aggregator struct {
	chainID uint64
	pool    *rpcpool.Pool
	opts    Options
}

// New creates an aggregator that owns pool.
func New(chainID uint64, pool *rpcpool.Pool, opts Options) *Aggregator {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Aggregator{chainID: chainID, pool: pool, opts: opts}
}

// ChainID returns the chain served.
func (a *Aggregator) ChainID() uint64 {
	return a.chainID
}

// Pool returns the underlying endpoint pool.
func (a *Aggregator) Pool() *rpcpool.Pool {
	return a.pool
}

// Confirmations is the number of blocks after which a block is final on this chain.
func (a *Aggregator) Confirmations() uint64 {
	return a.opts.Confirmations
}

// Close releases every endpoint client.
func (a *Aggregator) Close() {
	a.pool.Close()
}

type attemptFunc func(ctx context.Context, ep *rpcpool.Endpoint) error

// execute runs fn against the pool's endpoints in selection order until one
// succeeds, a definitive failure occurs, or the caller gives up.
func (a *Aggregator) execute(ctx context.Context, method string, fn attemptFunc) error {
	ctx, span := otel.Tracer().Start(ctx, "rpc."+method, trace.WithAttributes(
		attribute.Int64("chain.id", int64(a.chainID)),
	))
	defer span.End()

	attempts := 0
	lastErr := errNoEndpointAvailable

	for _, ep := range a.pool.Select() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := ep.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		attempts++
		log := logrus.WithFields(logrus.Fields{
			"chain":    a.chainID,
			"method":   method,
			"endpoint": ep.Name(),
			"attempt":  attempts,
		})

		start := a.opts.Clock()
		attemptCtx, cancel := context.WithTimeout(ctx, a.opts.AttemptTimeout)
		err := fn(attemptCtx, ep)
		cancel()
		latency := a.opts.Clock().Sub(start)

		if err == nil {
			a.pool.RecordSuccess(ep, latency)
			a.opts.Metrics.ObserveAttempt(a.chainID, method, "success", latency)
			log.WithField("latency", latency).Debug("RPC attempt succeeded")
			return nil
		}

		kind := classify(ctx, err)
		a.pool.RecordFailure(ep, kind, err, latency)
		a.opts.Metrics.ObserveAttempt(a.chainID, method, kind.String(), latency)

		switch kind {
		case rpcpool.FailureAborted:
			return ctx.Err()
		case rpcpool.FailureDefinitive:
			derr := a.definitive(method, err)
			log.Debugf("RPC attempt failed definitively: %v", derr)
			otel.RecordError(ctx, derr)
			return derr
		default:
			log.Warnf("RPC attempt failed, trying next endpoint: %v", err)
			lastErr = err
		}
	}

	rerr := &types.RPCError{
		ChainID:  a.chainID,
		Method:   method,
		Attempts: attempts,
		Cause:    lastErr,
	}
	logrus.WithFields(logrus.Fields{
		"chain":    a.chainID,
		"method":   method,
		"attempts": attempts,
	}).Errorf("All endpoints failed: %v", lastErr)
	otel.RecordError(ctx, rerr)
	return rerr
}

func (a *Aggregator) definitive(method string, err error) error {
	if data, ok := revertData(err); ok {
		return &types.RevertError{
			ChainID: a.chainID,
			Method:  method,
			Reason:  reasonFromMessage(err.Error()),
			Data:    data,
			Message: err.Error(),
		}
	}
	return &types.RequestRejectedError{ChainID: a.chainID, Method: method, Cause: err}
}
