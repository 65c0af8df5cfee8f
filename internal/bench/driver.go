// Package bench runs the memory stress loop: a fixed pool of workers, each
// building, writing and disposing one batch per iteration while sampling
// memory at fixed checkpoints.
package bench

import (
	"context"
	"log/slog"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/arkilian/memstress/internal/batch"
	apperrors "github.com/arkilian/memstress/internal/errors"
	"github.com/arkilian/memstress/internal/estimate"
	"github.com/arkilian/memstress/internal/observability"
	"github.com/arkilian/memstress/internal/probe"
	"github.com/arkilian/memstress/internal/table"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// Config holds the loop parameters.
type Config struct {
	Rows            int
	Loops           int
	Workers         int
	StringLength    int
	ForceCollection bool
	SettleDelay     time.Duration
	Seed            int64
}

// HandleSource returns the shared table handle.
type HandleSource interface {
	GetHandle(ctx context.Context) (*table.Table, error)
}

// Writer appends a record under the write lock.
type Writer interface {
	Append(ctx context.Context, rec arrow.Record, tbl *table.Table) error
	Enabled() bool
}

// Sampler takes a memory reading.
type Sampler interface {
	Sample() (probe.Sample, error)
}

// Driver orchestrates the workers.
type Driver struct {
	cfg     Config
	schema  *arrow.Schema
	handles HandleSource
	writer  Writer
	sampler Sampler
	collect func()
	stats   *observability.CheckpointStats
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Driver) { d.tracer = t }
}

// WithCollector replaces the forced collection step.
func WithCollector(fn func()) Option {
	return func(d *Driver) { d.collect = fn }
}

// WithCheckpointStats aggregates every completed iteration's samples.
func WithCheckpointStats(stats *observability.CheckpointStats) Option {
	return func(d *Driver) { d.stats = stats }
}

// NewDriver creates a driver.
func NewDriver(cfg Config, schema *arrow.Schema, handles HandleSource, writer Writer, sampler Sampler, opts ...Option) *Driver {
	d := &Driver{
		cfg:     cfg,
		schema:  schema,
		handles: handles,
		writer:  writer,
		sampler: sampler,
		collect: probe.Collect,
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer(""),
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.With("component", "bench")
	return d
}

// Run starts exactly cfg.Workers workers and waits for all of them. A
// failing worker stops its own remaining iterations only; the first error is
// returned together with every row recorded.
func (d *Driver) Run(ctx context.Context) (*Results, error) {
	results := &Results{}
	start, err := d.sample()
	if err != nil {
		return results, err
	}
	results.Start = start
	d.logger.Info("App start", "memory_mb", start.MemoryMB, "heap_mb", start.HeapMB,
		"workers", d.cfg.Workers, "loops", d.cfg.Loops, "rows", d.cfg.Rows, "write_enabled", d.writer.Enabled())

	var g errgroup.Group
	for w := 1; w <= d.cfg.Workers; w++ {
		workerID := w
		g.Go(func() error {
			return d.runWorker(ctx, workerID, results)
		})
	}
	err = g.Wait()
	d.logger.Info("Run finished", "rows_recorded", results.Len(), "error", err)
	return results, err
}

func (d *Driver) runWorker(ctx context.Context, workerID int, results *Results) error {
	builder, err := batch.NewBuilder(d.schema, d.cfg.Rows, d.cfg.StringLength, d.cfg.Seed+int64(workerID))
	if err != nil {
		return err
	}
	for loop := 1; loop <= d.cfg.Loops; loop++ {
		row, err := d.iterate(ctx, builder, workerID, loop)
		if err != nil {
			d.logger.Error("Worker aborted", "worker", workerID, "loop", loop, "error", err)
			return err
		}
		results.Add(row)
	}
	return nil
}

// iterate runs one build, write, dispose, collect cycle. The batch is
// disposed before iterate returns on every path.
func (d *Driver) iterate(ctx context.Context, builder *batch.Builder, workerID, loop int) (LoopResult, error) {
	ctx, span := d.tracer.Start(ctx, "bench.Iteration", trace.WithAttributes(
		attribute.Int("worker", workerID),
		attribute.Int("loop", loop),
	))
	defer span.End()

	d.logger.Info("Loop", "worker", workerID, "workers", d.cfg.Workers, "loop", loop, "loops", d.cfg.Loops)
	row := LoopResult{WorkerID: workerID, Loop: loop, Rows: d.cfg.Rows}

	var err error
	if row.BeforeCreate, err = d.sample(); err != nil {
		return row, err
	}

	bt, err := builder.Build()
	if err != nil {
		return row, err
	}
	defer bt.Dispose()
	row.AllocatedBytes = bt.AllocatedBytes()

	if row.AfterCreate, err = d.sample(); err != nil {
		return row, err
	}
	if row.EstimatedBytes, err = estimate.Record(bt.Record()); err != nil {
		return row, err
	}

	var tbl *table.Table
	if d.writer.Enabled() {
		if tbl, err = d.handles.GetHandle(ctx); err != nil {
			span.RecordError(err)
			return row, err
		}
	}

	writeStart := time.Now()
	if err := d.writer.Append(ctx, bt.Record(), tbl); err != nil {
		span.RecordError(err)
		return row, apperrors.NewWriteError("append failed", err).
			WithDetails(map[string]interface{}{"worker": workerID, "loop": loop})
	}
	row.WriteDuration = time.Since(writeStart)
	row.Written = d.writer.Enabled()

	if row.AfterWrite, err = d.sample(); err != nil {
		return row, err
	}

	bt.Dispose()
	if row.AfterDispose, err = d.sample(); err != nil {
		return row, err
	}

	if d.cfg.ForceCollection {
		d.collect()
	} else if d.cfg.SettleDelay > 0 {
		time.Sleep(d.cfg.SettleDelay)
	}
	if row.AfterCollect, err = d.sample(); err != nil {
		return row, err
	}

	row.Derive()
	if d.stats != nil {
		d.stats.Record(observability.CheckpointBeforeCreate, row.BeforeCreate)
		d.stats.Record(observability.CheckpointAfterCreate, row.AfterCreate)
		d.stats.Record(observability.CheckpointAfterWrite, row.AfterWrite)
		d.stats.Record(observability.CheckpointAfterDispose, row.AfterDispose)
		d.stats.Record(observability.CheckpointAfterCollect, row.AfterCollect)
	}
	if row.MemoryGrowth.Undefined || row.HeapGrowth.Undefined {
		d.logger.Debug("Zero baseline, growth undefined", "worker", workerID, "loop", loop)
	}
	d.logger.Info("Loop complete", "result", row)
	return row, nil
}

func (d *Driver) sample() (probe.Sample, error) {
	return d.sampler.Sample()
}
