// Package config reads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds settings shared by the api, worker and seed binaries.
type Config struct {
	ProductsTable    string
	OrdersTable      string
	OrdersUserIndex  string
	IdempotencyTable string
	OrdersQueueURL   string
	IdempotencyTTL   time.Duration

	RestockOnCancel  bool
	PlacementRetries int

	HTTPAddr     string
	RunLocal     bool
	LogLevel     string
	ServiceName  string
	OTLPEndpoint string

	MetricsNamespace string
}

// Load reads the environment, applying defaults for anything unset.
func Load() (Config, error) {
	cfg := Config{
		ProductsTable:    getEnv("PRODUCTS_TABLE", "products"),
		OrdersTable:      getEnv("ORDERS_TABLE", "orders"),
		OrdersUserIndex:  getEnv("ORDERS_USER_INDEX", "user_id-created_at-index"),
		IdempotencyTable: getEnv("IDEMPOTENCY_TABLE", "idempotency"),
		OrdersQueueURL:   os.Getenv("ORDERS_QUEUE_URL"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		ServiceName:      getEnv("SERVICE_NAME", "storefront-orders"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "Storefront/Orders"),
	}

	var err error
	if cfg.IdempotencyTTL, err = time.ParseDuration(getEnv("IDEMPOTENCY_TTL", "48h")); err != nil {
		return cfg, fmt.Errorf("IDEMPOTENCY_TTL: %w", err)
	}
	if cfg.RestockOnCancel, err = strconv.ParseBool(getEnv("RESTOCK_ON_CANCEL", "true")); err != nil {
		return cfg, fmt.Errorf("RESTOCK_ON_CANCEL: %w", err)
	}
	if cfg.RunLocal, err = strconv.ParseBool(getEnv("RUN_LOCAL", "false")); err != nil {
		return cfg, fmt.Errorf("RUN_LOCAL: %w", err)
	}
	if cfg.PlacementRetries, err = strconv.Atoi(getEnv("PLACEMENT_RETRIES", "3")); err != nil {
		return cfg, fmt.Errorf("PLACEMENT_RETRIES: %w", err)
	}
	if cfg.PlacementRetries < 1 {
		return cfg, fmt.Errorf("PLACEMENT_RETRIES must be >= 1, got %d", cfg.PlacementRetries)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
