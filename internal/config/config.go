// Package config loads the small, flat set of environment variables this
// service needs. Unlike the teacher codebase's multi-source YAML config
// (database DSN, Redis, search index, JWT secret, CORS origins, cluster
// topology...), this service has five scalar settings, so environment
// variables are the idiomatic fit rather than a YAML file (see DESIGN.md).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AppConfig is every setting the process needs at startup.
type AppConfig struct {
	APIKey          string
	EngineDBPath    string
	DispatchTimeout time.Duration
	ListenAddr      string
	LogLevel        string
}

// Load reads AppConfig from the environment, applying defaults for
// everything except the API key, and validates eagerly so a
// misconfiguration fails before the HTTP listener opens.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		APIKey:       os.Getenv("WEBHOOK_GATEWAY_API_KEY"),
		EngineDBPath: getEnvOr("ENGINE_DB_PATH", "./data/gateway.db"),
		ListenAddr:   getEnvOr("LISTEN_ADDR", ":8080"),
		LogLevel:     getEnvOr("LOG_LEVEL", "info"),
	}

	timeoutSeconds, err := getIntEnvOr("DISPATCH_TIMEOUT_SECONDS", 10)
	if err != nil {
		return AppConfig{}, err
	}
	cfg.DispatchTimeout = time.Duration(timeoutSeconds) * time.Second

	if cfg.APIKey == "" {
		return AppConfig{}, fmt.Errorf("WEBHOOK_GATEWAY_API_KEY is required")
	}

	return cfg, nil
}

func getEnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnvOr(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
