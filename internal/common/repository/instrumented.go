// Package repository provides shared instrumentation for data access
// layers. Store implementations wrap each operation in Instrument so every
// query is counted, timed and slow-logged the same way.
package repository

import (
	"context"
	"log/slog"
	"time"

	"go.flowcatalyst.tech/dispatch/internal/common/metrics"
)

// SlowQueryThreshold defines when a query is considered slow
const SlowQueryThreshold = 100 * time.Millisecond

// Instrument wraps a store operation with metrics and logging. The
// operation label is "collection.Operation" so one metric family covers
// every store.
func Instrument[T any](
	ctx context.Context,
	collection string,
	operation string,
	fn func() (T, error),
) (T, error) {
	label := collection + "." + operation
	start := time.Now()

	result, err := fn()

	duration := time.Since(start)
	metrics.StoreQueryDuration.WithLabelValues(label).Observe(duration.Seconds())

	if err != nil {
		metrics.StoreQueries.WithLabelValues(label, "error").Inc()

		slog.Error("Store operation failed",
			"collection", collection,
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		metrics.StoreQueries.WithLabelValues(label, "success").Inc()

		if duration > SlowQueryThreshold {
			slog.Warn("Slow store operation",
				"collection", collection,
				"operation", operation,
				"duration_ms", duration.Milliseconds())
		}
	}

	return result, err
}

// InstrumentVoid wraps a store operation that returns only an error.
func InstrumentVoid(
	ctx context.Context,
	collection string,
	operation string,
	fn func() error,
) error {
	_, err := Instrument(ctx, collection, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
