// Package writer serializes appends to the shared table so the table service
// only ever sees one writer at a time.
package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/arkilian/memstress/internal/table"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Appender is the subset of table.Service the coordinator needs.
type Appender interface {
	Append(ctx context.Context, tbl *table.Table, rec arrow.Record, schema *arrow.Schema, mode table.SaveMode) error
}

// Stats counts coordinator activity.
type Stats struct {
	Appended int64
	Skipped  int64
	Failed   int64
	Held     time.Duration
}

// Coordinator holds the process-wide write lock. It is independent of the
// handle manager's lock.
type Coordinator struct {
	appender Appender
	schema   *arrow.Schema
	enabled  bool
	logger   *slog.Logger
	tracer   trace.Tracer

	mu    sync.Mutex
	stats Stats
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// NewCoordinator creates a coordinator. With enabled false Append still takes
// the lock but does not call the appender.
func NewCoordinator(appender Appender, schema *arrow.Schema, enabled bool, opts ...Option) *Coordinator {
	c := &Coordinator{
		appender: appender,
		schema:   schema,
		enabled:  enabled,
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer(""),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "writer")
	return c
}

// Enabled reports whether appends reach the table.
func (c *Coordinator) Enabled() bool {
	return c.enabled
}

// Append writes rec to tbl in append mode under the write lock. Errors are
// returned as-is; there is no retry.
func (c *Coordinator) Append(ctx context.Context, rec arrow.Record, tbl *table.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	defer func() { c.stats.Held += time.Since(start) }()

	if !c.enabled {
		c.stats.Skipped++
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "writer.Append", trace.WithAttributes(attribute.Int64("batch.rows", rec.NumRows())))
	defer span.End()

	if err := c.appender.Append(ctx, tbl, rec, c.schema, table.SaveModeAppend); err != nil {
		c.stats.Failed++
		span.RecordError(err)
		c.logger.Error("Append failed", "rows", rec.NumRows(), "error", err)
		return err
	}
	c.stats.Appended++
	return nil
}

// Stats returns a snapshot of the counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
