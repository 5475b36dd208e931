package rpcpool

import (
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/chain-reader/internal/circuitbreaker"
	"github.com/yourorg/chain-reader/internal/telemetry"
)

// ErrNoEndpoints is returned when a pool would be built without endpoints.
var ErrNoEndpoints = errors.New("rpcpool: at least one endpoint is required")

// Options tunes health tracking.
type Options struct {
	// Consecutive transient failures before an endpoint cools down
	FailureThreshold int

	// How long a tripped endpoint is skipped
	Cooldown time.Duration

	// Endpoints this many blocks behind the best known head sort last, 0 disables
	StaleBlockLag uint64

	Clock   func() time.Time
	Metrics *telemetry.Metrics
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.Cooldown <= 0 {
		o.Cooldown = time.Minute
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// EndpointSpec describes an endpoint to add to a pool.
type EndpointSpec struct {
	URL      string
	Priority int
	RPS      float64
	Client   Client
}

// EndpointStats is the externally visible health of an endpoint.
type EndpointStats struct {
	Endpoint            string     `json:"endpoint"`
	Priority            int        `json:"priority"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	TotalRequests       uint64     `json:"totalRequests"`
	FailedRequests      uint64     `json:"failedRequests"`
	LastBlock           uint64     `json:"lastBlock"`
	AverageLatencyMs    int64      `json:"averageLatencyMs"`
	LastError           string     `json:"lastError,omitempty"`
	LastFailure         *time.Time `json:"lastFailure,omitempty"`
	CoolingDownUntil    *time.Time `json:"coolingDownUntil,omitempty"`
}

// Pool is the fixed set of endpoints of one chain. Membership never changes
// after construction; only health does.
type Pool struct {
	chainID   uint64
	endpoints []*Endpoint
	opts      Options
}

// New builds a pool. Endpoints keep the order of specs as their tie-breaker.
func New(chainID uint64, specs []EndpointSpec, opts Options) (*Pool, error) {
	if len(specs) == 0 {
		return nil, ErrNoEndpoints
	}
	opts = opts.withDefaults()

	p := &Pool{chainID: chainID, opts: opts}
	for i, spec := range specs {
		ep := &Endpoint{
			URL:      spec.URL,
			Priority: spec.Priority,
			index:    i,
			name:     redact(spec.URL),
			client:   spec.Client,
		}
		if spec.RPS > 0 {
			burst := int(spec.RPS)
			if burst < 1 {
				burst = 1
			}
			ep.limiter = rate.NewLimiter(rate.Limit(spec.RPS), burst)
		}

		name := ep.name
		ep.breaker = circuitbreaker.New(circuitbreaker.Thresholds{MaxConsecutiveFailures: opts.FailureThreshold}).
			WithResetDelay(opts.Cooldown).
			WithClock(opts.Clock).
			WithTripCallback(func(reason string) {
				logrus.WithFields(logrus.Fields{
					"chain":    chainID,
					"endpoint": name,
					"cooldown": opts.Cooldown,
				}).Warnf("Endpoint cooling down: %s", reason)
			})
		p.endpoints = append(p.endpoints, ep)
	}
	return p, nil
}

// ChainID returns the chain this pool serves.
func (p *Pool) ChainID() uint64 {
	return p.chainID
}

// Endpoints returns every endpoint in configuration order.
func (p *Pool) Endpoints() []*Endpoint {
	out := make([]*Endpoint, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// Select returns the endpoints to try, best first. Cooling-down endpoints are
// skipped unless every endpoint is cooling down, in which case all are returned.
func (p *Pool) Select() []*Endpoint {
	head := p.HighestBlock()

	candidates := make([]*Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if ep.breaker.Allow() {
			candidates = append(candidates, ep)
		}
	}
	if len(candidates) == 0 {
		logrus.WithField("chain", p.chainID).Debug("All endpoints cooling down, trying them anyway")
		candidates = append(candidates, p.endpoints...)
	}

	stale := make(map[*Endpoint]bool, len(candidates))
	for _, ep := range candidates {
		stale[ep] = p.isStale(ep, head)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if stale[a] != stale[b] {
			return !stale[a]
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.index < b.index
	})
	return candidates
}

// RecordSuccess updates an endpoint after a successful attempt.
func (p *Pool) RecordSuccess(ep *Endpoint, latency time.Duration) {
	ep.mu.Lock()
	ep.health.TotalRequests++
	ep.health.ConsecutiveFailures = 0
	ep.health.LastSuccess = p.opts.Clock()
	ep.recordLatency(latency)
	ep.mu.Unlock()

	ep.breaker.RecordSuccess()
}

// RecordFailure updates an endpoint after a failed attempt. Only transient
// failures count towards the cool-down threshold.
func (p *Pool) RecordFailure(ep *Endpoint, kind FailureKind, err error, latency time.Duration) {
	reason := kind.String()
	if err != nil {
		reason = err.Error()
	}

	ep.mu.Lock()
	ep.health.TotalRequests++
	ep.recordLatency(latency)
	switch kind {
	case FailureTransient:
		ep.health.ConsecutiveFailures++
		ep.health.FailedRequests++
		ep.health.LastFailure = p.opts.Clock()
		ep.health.LastError = reason
	case FailureDefinitive:
		ep.health.ConsecutiveFailures = 0
	}
	ep.mu.Unlock()

	switch kind {
	case FailureTransient:
		ep.breaker.RecordFailure(reason)
		p.opts.Metrics.EndpointFailure(p.chainID, ep.name, kind.String())
	case FailureDefinitive:
		ep.breaker.RecordSuccess()
	}
}

// HighestBlock is the best block height observed across endpoints.
func (p *Pool) HighestBlock() uint64 {
	var head uint64
	for _, ep := range p.endpoints {
		if h := ep.Health().LastBlock; h > head {
			head = h
		}
	}
	return head
}

func (p *Pool) isStale(ep *Endpoint, head uint64) bool {
	if p.opts.StaleBlockLag == 0 {
		return false
	}
	last := ep.Health().LastBlock
	return last > 0 && head > last && head-last > p.opts.StaleBlockLag
}

// Stats returns health for every endpoint in configuration order.
func (p *Pool) Stats() []EndpointStats {
	stats := make([]EndpointStats, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		h := ep.Health()
		s := EndpointStats{
			Endpoint:            ep.name,
			Priority:            ep.Priority,
			State:               ep.State().String(),
			ConsecutiveFailures: h.ConsecutiveFailures,
			TotalRequests:       h.TotalRequests,
			FailedRequests:      h.FailedRequests,
			LastBlock:           h.LastBlock,
			AverageLatencyMs:    h.AverageLatency.Milliseconds(),
			LastError:           h.LastError,
		}
		if !h.LastFailure.IsZero() {
			t := h.LastFailure
			s.LastFailure = &t
		}
		if until := ep.breaker.OpenUntil(); !until.IsZero() {
			s.CoolingDownUntil = &until
		}
		stats = append(stats, s)
	}
	return stats
}

// Close releases every client.
func (p *Pool) Close() {
	for _, ep := range p.endpoints {
		if ep.client != nil {
			ep.client.Close()
		}
	}
}
