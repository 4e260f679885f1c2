package main

import (
	"context"

	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/metrics"
)

// Deduper remembers which events were already handled. It is backed by the
// idempotency table, keyed by event id.
type Deduper interface {
	Claim(ctx context.Context, key, ref string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.Record, error)
	Complete(ctx context.Context, key, responseBody string, responseStatus int) error
	Fail(ctx context.Context, key, note string) error
}

// MetricsRecorder receives business metrics.
type MetricsRecorder interface {
	Record(ctx context.Context, datums ...metrics.Datum) error
}

// event ids share the idempotency table with client keys
func dedupeKey(eventID string) string { return "event#" + eventID }
