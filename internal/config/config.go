// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all process-level configuration
type Config struct {
	// HTTP server port
	Port string

	// Chain configuration, either a file path or raw JSON
	ChainsConfigFile string
	ChainsConfigJSON string

	// Chain metadata source (gas limits, mainnet equivalents)
	ChainDataFile string
	ChainDataURL  string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// RPC failover settings
	AttemptTimeout      time.Duration
	FailureThreshold    int
	EndpointCooldown    time.Duration
	StaleBlockLag       uint64
	HealthCheckInterval time.Duration

	// Price cache bound in megabytes
	PriceCacheMaxMB int

	// HTTP API settings
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
}

// Load creates a new Config from environment variables
func Load() Config {
	return Config{
		Port:                GetEnvOrDefault("PORT", "8080"),
		ChainsConfigFile:    GetEnvOrDefault("CHAINS_CONFIG_FILE", ""),
		ChainsConfigJSON:    GetEnvOrDefault("CHAINS_CONFIG", ""),
		ChainDataFile:       GetEnvOrDefault("CHAIN_DATA_FILE", ""),
		ChainDataURL:        GetEnvOrDefault("CHAIN_DATA_URL", ""),
		OtelEndpoint:        GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		AttemptTimeout:      GetEnvAsDuration("RPC_ATTEMPT_TIMEOUT", 10*time.Second),
		FailureThreshold:    GetEnvAsInt("ENDPOINT_FAILURE_THRESHOLD", 3),
		EndpointCooldown:    GetEnvAsDuration("ENDPOINT_COOLDOWN", time.Minute),
		StaleBlockLag:       GetEnvAsUint64("ENDPOINT_STALE_BLOCK_LAG", 0), // 0 disables
		HealthCheckInterval: GetEnvAsDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		PriceCacheMaxMB:     GetEnvAsInt("PRICE_CACHE_MAX_MB", 64),
		RateLimitRPS:        GetEnvAsFloat("RATE_LIMIT_RPS", 20.0),
		RateLimitBurst:      GetEnvAsInt("RATE_LIMIT_BURST", 40),
		RequestTimeout:      GetEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsUint64 retrieves an environment variable as an unsigned integer with a default value
func GetEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value, exists := GetEnv(key); exists {
		if uintValue, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uintValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
