// Package main runs the chain reader service: multi-endpoint chain reads and
// cross-chain gas fee quotes over HTTP.
package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/chain-reader/internal/chaindata"
	"github.com/yourorg/chain-reader/internal/config"
	"github.com/yourorg/chain-reader/internal/contracts"
	"github.com/yourorg/chain-reader/internal/otel"
	"github.com/yourorg/chain-reader/internal/pricecache"
	"github.com/yourorg/chain-reader/internal/reader"
	"github.com/yourorg/chain-reader/internal/registry"
	"github.com/yourorg/chain-reader/internal/rpcpool"
	"github.com/yourorg/chain-reader/internal/telemetry"
)

func main() {
	setupLogging()

	cfg := config.Load()

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chains, err := config.LoadChains(cfg)
	if err != nil {
		logrus.Fatalf("Invalid chain configuration: %v", err)
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	reg, err := registry.Build(ctx, chains, registry.OptionsFromConfig(cfg, metrics))
	if err != nil {
		logrus.Fatalf("Failed to build chain registry: %v", err)
	}
	defer reg.Close()

	directory, err := chaindata.Load(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to load chain data: %v", err)
	}

	cache, err := pricecache.New(ctx, pricecache.Options{
		MaxSizeMB: cfg.PriceCacheMaxMB,
		Metrics:   metrics,
	})
	if err != nil {
		logrus.Fatalf("Failed to create price cache: %v", err)
	}
	defer cache.Close()

	oracles := contracts.OracleBookFromChains(chains)
	rdr := reader.New(reg, cache, reader.Options{
		Oracles:  oracles,
		Metadata: directory,
		Metrics:  metrics,
	})

	if cfg.HealthCheckInterval > 0 {
		for _, pool := range reg.Pools() {
			go rpcpool.NewHealthMonitor(pool, cfg.HealthCheckInterval, cfg.AttemptTimeout).Run(ctx)
		}
	}

	server := NewServer(cfg, Deps{
		Reader:   rdr,
		Registry: reg,
		Oracles:  oracles,
		Cache:    cache,
		Metrics:  metrics,
		Gatherer: prometheus.DefaultGatherer,
	})
	if err := server.Start(ctx); err != nil {
		logrus.Errorf("Server failed: %v", err)
	}
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(config.GetEnvOrDefault("LOG_FORMAT", "text"))
	logLevel := strings.ToLower(config.GetEnvOrDefault("LOG_LEVEL", "info"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetReportCaller(config.GetEnvAsBool("LOG_REPORT_CALLER", false))

	logrus.Info("Logging configured")
}
