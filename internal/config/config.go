// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Bridge (remote object store); the endpoint URL carries the scheme
	BridgeEndpoint string
	BridgeRegion   string

	// Auth
	JWTSecret string

	// Name encryption secret (combined with per-item context keys)
	CryptSecret string

	// Staging area for in-flight downloads
	StagingDir string

	// Bounded concurrency for leaf fetches within one folder bundle
	FetchConcurrency int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:       envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:      envOr("METRICS_ADDR", ":9090"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		DatabaseURL:      envOr("DATABASE_URL", ""),
		BridgeEndpoint:   envOr("BRIDGE_ENDPOINT", "http://localhost:9000"),
		BridgeRegion:     envOr("BRIDGE_REGION", "us-east-1"),
		JWTSecret:        envOr("JWT_SECRET", ""),
		CryptSecret:      envOr("CRYPT_SECRET", ""),
		StagingDir:       envOr("STAGING_DIR", "./downloads"),
		FetchConcurrency: envInt("FETCH_CONCURRENCY", 4),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.CryptSecret == "" {
		return nil, fmt.Errorf("CRYPT_SECRET is required")
	}
	if cfg.FetchConcurrency < 1 {
		cfg.FetchConcurrency = 1
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
