package rpcpool

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthMonitor probes every endpoint of a pool with eth_blockNumber. Probes
// bypass the cool-down so a recovered endpoint is noticed without live traffic,
// and the observed heights feed stale-endpoint ordering.
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	timeout  time.Duration
}

// NewHealthMonitor creates a monitor for pool.
func NewHealthMonitor(pool *Pool, interval, timeout time.Duration) *HealthMonitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthMonitor{pool: pool, interval: interval, timeout: timeout}
}

// Run probes at every interval until ctx is done.
func (m *HealthMonitor) Run(ctx context.Context) {
	if m.interval <= 0 {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce probes all endpoints concurrently and waits for them.
func (m *HealthMonitor) CheckOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ep := range m.pool.endpoints {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			m.probe(ctx, ep)
		}(ep)
	}
	wg.Wait()
}

func (m *HealthMonitor) probe(ctx context.Context, ep *Endpoint) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.pool.opts.Clock()
	n, err := ep.client.BlockNumber(probeCtx)
	latency := m.pool.opts.Clock().Sub(start)

	if err != nil {
		kind := FailureTransient
		if ctx.Err() != nil {
			kind = FailureAborted
		}
		m.pool.RecordFailure(ep, kind, err, latency)
		logrus.WithFields(logrus.Fields{
			"chain":    m.pool.chainID,
			"endpoint": ep.name,
		}).Debugf("Health probe failed: %v", err)
		return
	}

	ep.ObserveBlock(n)
	m.pool.RecordSuccess(ep, latency)
}
