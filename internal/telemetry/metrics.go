// Package telemetry holds the Prometheus collectors shared by the RPC layer,
// the price cache and the HTTP API.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	rpcAttempts      *prometheus.CounterVec
	rpcDuration      *prometheus.HistogramVec
	endpointFailures *prometheus.CounterVec
	priceCache       *prometheus.CounterVec
	feeCalculations  *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rpcAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_attempts_total",
				Help: "RPC attempts by chain, method and outcome",
			},
			[]string{"chain", "method", "outcome"},
		),
		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpc_attempt_duration_seconds",
				Help:    "Duration of single RPC attempts",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"chain", "method"},
		),
		endpointFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_endpoint_failures_total",
				Help: "Failed attempts per endpoint",
			},
			[]string{"chain", "endpoint", "kind"},
		),
		priceCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_cache_lookups_total",
				Help: "Token price cache lookups by result",
			},
			[]string{"result"},
		),
		feeCalculations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gas_fee_calculations_total",
				Help: "Gas fee calculations by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of API requests processed",
			},
			[]string{"route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.rpcAttempts,
			m.rpcDuration,
			m.endpointFailures,
			m.priceCache,
			m.feeCalculations,
			m.httpRequests,
			m.httpDuration,
		)
	}
	return m
}

// ObserveAttempt records one RPC attempt.
func (m *Metrics) ObserveAttempt(chainID uint64, method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	chain := strconv.FormatUint(chainID, 10)
	m.rpcAttempts.WithLabelValues(chain, method, outcome).Inc()
	m.rpcDuration.WithLabelValues(chain, method).Observe(d.Seconds())
}

// EndpointFailure records a failed attempt against one endpoint.
func (m *Metrics) EndpointFailure(chainID uint64, endpoint, kind string) {
	if m == nil {
		return
	}
	m.endpointFailures.WithLabelValues(strconv.FormatUint(chainID, 10), endpoint, kind).Inc()
}

// PriceCacheLookup records a cache hit or miss.
func (m *Metrics) PriceCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.priceCache.WithLabelValues(result).Inc()
}

// FeeCalculation records the outcome of a gas fee calculation.
func (m *Metrics) FeeCalculation(method, outcome string) {
	if m == nil {
		return
	}
	m.feeCalculations.WithLabelValues(method, outcome).Inc()
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
