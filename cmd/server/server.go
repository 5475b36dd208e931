package main

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/chain-reader/internal/config"
	"github.com/yourorg/chain-reader/internal/contracts"
	"github.com/yourorg/chain-reader/internal/model"
	"github.com/yourorg/chain-reader/internal/pricecache"
	"github.com/yourorg/chain-reader/internal/reader"
	"github.com/yourorg/chain-reader/internal/registry"
	"github.com/yourorg/chain-reader/internal/telemetry"
	"github.com/yourorg/chain-reader/internal/types"
)

const version = "1.0.0"

// Server exposes the chain reader over HTTP.
type Server struct {
	config    config.Config
	reader    *reader.Reader
	registry  *registry.Registry
	oracles   *contracts.OracleBook
	cache     *pricecache.Cache
	metrics   *telemetry.Metrics
	gatherer  prometheus.Gatherer
	rateLimit *rate.Limiter
	startTime time.Time

	server *http.Server
}

// Deps are the components a Server serves from.
type Deps struct {
	Reader   *reader.Reader
	Registry *registry.Registry
	Oracles  *contracts.OracleBook
	Cache    *pricecache.Cache
	Metrics  *telemetry.Metrics
	Gatherer prometheus.Gatherer
}

// NewServer creates a server. Rate limiting is disabled when RateLimitRPS is not positive.
func NewServer(cfg config.Config, deps Deps) *Server {
	s := &Server{
		config:    cfg,
		reader:    deps.Reader,
		registry:  deps.Registry,
		oracles:   deps.Oracles,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		startTime: time.Now(),
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst < 1 {
			burst = 1
		}
		s.rateLimit = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
		logrus.Infof("Rate limiting initialized: %v req/s, burst: %d", cfg.RateLimitRPS, burst)
	}

	logrus.WithFields(logrus.Fields{
		"port":            cfg.Port,
		"chains":          deps.Registry.ChainIDs(),
		"oracles":         deps.Oracles.ChainIDs(),
		"request_timeout": cfg.RequestTimeout,
	}).Info("Server initialized")
	return s
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /chains", s.handleChains)

	mux.HandleFunc("GET /chains/{chainId}/block-number", s.instrument("block-number", s.handleBlockNumber))
	mux.HandleFunc("GET /chains/{chainId}/gas-price", s.instrument("gas-price", s.handleGasPrice))
	mux.HandleFunc("GET /chains/{chainId}/tokens/{asset}/price", s.instrument("token-price", s.handleTokenPrice))
	mux.HandleFunc("GET /chains/{chainId}/tokens/{asset}/decimals", s.instrument("decimals", s.handleDecimals))

	mux.HandleFunc("POST /fees/gas", s.instrument("fees-gas", s.handleGasFee))
	mux.HandleFunc("POST /fees/receiving", s.instrument("fees-receiving", s.handleReceivingFee))
	mux.HandleFunc("POST /fees/fulfill", s.instrument("fees-fulfill", s.handleFulfillFee))

	return mux
}

// instrument applies the rate limit and request timeout, and records metrics.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			s.metrics.ObserveHTTP(route, rec.status, time.Since(start))
		}()

		if s.rateLimit != nil && !s.rateLimit.Allow() {
			writeJSON(rec, http.StatusTooManyRequests, model.ErrorResponse{
				StatusCode: http.StatusTooManyRequests,
				Status:     "error",
				Error:      "Rate limit exceeded",
			})
			return
		}

		if s.config.RequestTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		next(rec, r)
	}
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logrus.Info("Server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus reports endpoint health for every chain
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	chains := make([]model.ChainStatus, 0)
	for _, pool := range s.registry.Pools() {
		chains = append(chains, model.ChainStatus{
			ChainID:      pool.ChainID(),
			HighestBlock: pool.HighestBlock(),
			Endpoints:    pool.Stats(),
		})
	}
	body := map[string]interface{}{
		"status":  "operational",
		"uptime":  time.Since(s.startTime).String(),
		"version": version,
		"chains":  chains,
	}
	if s.cache != nil {
		body["priceCacheEntries"] = s.cache.Len()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	out := make([]model.ChainSummary, 0)
	for _, id := range s.registry.ChainIDs() {
		cfg, _ := s.registry.Chain(id)
		summary := model.ChainSummary{
			ChainID:       id,
			Providers:     len(cfg.Providers),
			Confirmations: cfg.Confirmations,
			L1DataFee:     cfg.HasL1DataFee(id),
		}
		if addr, ok := s.oracles.Lookup(id); ok {
			summary.PriceOracle = addr.Hex()
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBlockNumber(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDParam(r)
	if err != nil {
		errorResponse(w, err)
		return
	}
	n, err := s.reader.GetBlockNumber(r.Context(), chainID)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.BlockNumber{ChainID: chainID, BlockNumber: n})
}

func (s *Server) handleGasPrice(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDParam(r)
	if err != nil {
		errorResponse(w, err)
		return
	}
	price, err := s.reader.GetGasPrice(r.Context(), chainID)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewGasPrice(chainID, price))
}

func (s *Server) handleTokenPrice(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDParam(r)
	if err != nil {
		errorResponse(w, err)
		return
	}
	asset, err := assetParam(r)
	if err != nil {
		errorResponse(w, err)
		return
	}
	tag := types.BlockTag(r.URL.Query().Get("blockTag"))
	if _, err := tag.Resolve(); err != nil {
		errorResponse(w, invalidInput("%v", err))
		return
	}

	price, err := s.reader.GetTokenPrice(r.Context(), chainID, asset, tag)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewTokenPrice(chainID, asset, tag, price))
}

func (s *Server) handleDecimals(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDParam(r)
	if err != nil {
		errorResponse(w, err)
		return
	}
	asset, err := assetParam(r)
	if err != nil {
		errorResponse(w, err)
		return
	}
	decimals, err := s.reader.GetDecimalsForAsset(r.Context(), chainID, asset)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Decimals{ChainID: chainID, Asset: asset.Hex(), Decimals: decimals})
}

func (s *Server) handleGasFee(w http.ResponseWriter, r *http.Request) {
	var req model.GasFeeRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, err)
		return
	}
	params, err := req.Params()
	if err != nil {
		errorResponse(w, invalidInput("%v", err))
		return
	}

	fee, err := s.reader.CalculateGasFee(r.Context(), req.ChainID, common.HexToAddress(req.Asset), *req.Decimals, types.GasMethod(req.Method), params)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewFeeQuote(fee, *req.Decimals))
}

func (s *Server) handleReceivingFee(w http.ResponseWriter, r *http.Request) {
	var req model.ReceivingFeeRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, err)
		return
	}

	fee, err := s.reader.CalculateGasFeeInReceivingToken(r.Context(),
		req.SendingChainID, common.HexToAddress(req.SendingAsset),
		req.ReceivingChainID, common.HexToAddress(req.ReceivingAsset),
		*req.OutputDecimals)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewFeeQuote(fee, *req.OutputDecimals))
}

func (s *Server) handleFulfillFee(w http.ResponseWriter, r *http.Request) {
	var req model.FulfillFeeRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, err)
		return
	}
	params, err := req.Params()
	if err != nil {
		errorResponse(w, invalidInput("%v", err))
		return
	}

	fee, err := s.reader.CalculateGasFeeInReceivingTokenForFulfill(r.Context(),
		req.ReceivingChainID, common.HexToAddress(req.ReceivingAsset), *req.OutputDecimals, params)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewFeeQuote(fee, *req.OutputDecimals))
}
