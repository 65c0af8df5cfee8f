// Package app wires the stress run together: observability, table service,
// handle manager, write coordinator, driver, report and history.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/arkilian/memstress/internal/auth"
	"github.com/arkilian/memstress/internal/bench"
	"github.com/arkilian/memstress/internal/config"
	"github.com/arkilian/memstress/internal/handle"
	"github.com/arkilian/memstress/internal/history"
	"github.com/arkilian/memstress/internal/observability"
	"github.com/arkilian/memstress/internal/probe"
	"github.com/arkilian/memstress/internal/report"
	"github.com/arkilian/memstress/internal/storage"
	"github.com/arkilian/memstress/internal/table"
	"github.com/arkilian/memstress/internal/writer"
)

const tracerName = "github.com/arkilian/memstress"

// App runs one stress run from a configuration.
type App struct {
	cfg *config.Config

	// Replaced in tests.
	sampler bench.Sampler
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	// Resolve paths and validate
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{cfg: cfg}, nil
}

// Run executes the stress loop, writes the report to out and, when enabled,
// saves the run to history. The driver's error is returned after the report
// of every completed row has been written.
func (a *App) Run(ctx context.Context, out io.Writer) error {
	logger, logCloser, err := observability.NewLogger(a.cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	tp, shutdownTracing, err := observability.InitTracerProvider(ctx, a.cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownTracing()
	tracer := tp.Tracer(tracerName)

	schema, err := table.ToArrow(a.cfg.Table.Schema)
	if err != nil {
		return err
	}

	opener, cred, err := a.storageBackend(ctx)
	if err != nil {
		return err
	}
	svc, err := table.NewObjectStoreService(opener, a.cfg.Storage.WorkDir,
		table.WithLogger(logger),
		table.WithTracer(tracer),
		table.WithDownloadConcurrency(a.cfg.Storage.DownloadConcurrency),
	)
	if err != nil {
		return err
	}

	loc := a.cfg.TableLocation()
	manager := handle.NewManager(svc, cred, loc, schema, handle.WithLogger(logger), handle.WithTracer(tracer))
	coordinator := writer.NewCoordinator(svc, schema, a.cfg.Benchmark.WriteEnabled, writer.WithLogger(logger), writer.WithTracer(tracer))

	sampler := a.sampler
	if sampler == nil {
		p, err := probe.New()
		if err != nil {
			return err
		}
		sampler = p
	}

	stats := observability.NewCheckpointStats()
	b := a.cfg.Benchmark
	driver := bench.NewDriver(bench.Config{
		Rows:            b.Rows,
		Loops:           b.Loops,
		Workers:         b.Workers,
		StringLength:    b.StringLength,
		ForceCollection: b.ForceCollection,
		SettleDelay:     b.SettleDelay.Std(),
		Seed:            *b.Seed,
	}, schema, manager, coordinator, sampler,
		bench.WithLogger(logger),
		bench.WithTracer(tracer),
		bench.WithCheckpointStats(stats),
	)

	logger.Info("Starting stress run", "table", loc.URI(), "storage", a.cfg.Storage.Type, "seed", *b.Seed)
	started := time.Now()
	results, runErr := driver.Run(ctx)
	finished := time.Now()

	ws := coordinator.Stats()
	logger.Info("Write coordinator", "appended", ws.Appended, "skipped", ws.Skipped, "failed", ws.Failed, "held", ws.Held)

	rows := results.Rows()
	if err := report.Render(out, rows); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	if summaries := stats.Summaries(); len(summaries) > 0 {
		fmt.Fprintln(out)
		if err := report.RenderCheckpoints(out, summaries); err != nil {
			return fmt.Errorf("failed to render checkpoints: %w", err)
		}
	}

	if a.cfg.History.Enabled {
		if err := a.saveHistory(ctx, logger, results, started, finished, runErr); err != nil {
			logger.Error("Failed to save run history", "error", err)
			if runErr == nil {
				return err
			}
		}
	}
	return runErr
}

func (a *App) storageBackend(ctx context.Context) (table.Opener, auth.Credential, error) {
	var opener table.Opener
	var cred auth.Credential = auth.StaticCredential{BearerToken: a.cfg.Auth.BearerToken}

	if a.cfg.Storage.Type != "s3" && a.cfg.Auth.Type != "aws" {
		return table.NewLocalOpener(a.cfg.Storage.Path), cred, nil
	}

	s3cfg := a.cfg.S3()
	awsCfg, err := storage.LoadAWSConfig(ctx, s3cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if a.cfg.Auth.Type == "aws" {
		cred = auth.NewAWSCredential(awsCfg)
	}
	if a.cfg.Storage.Type == "s3" {
		opener = table.NewS3Opener(awsCfg, s3cfg)
	} else {
		opener = table.NewLocalOpener(a.cfg.Storage.Path)
	}
	return opener, cred, nil
}

func (a *App) saveHistory(ctx context.Context, logger *slog.Logger, results *bench.Results, started, finished time.Time, runErr error) error {
	store, err := history.Open(a.cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	redacted := *a.cfg
	redacted.Auth.BearerToken = ""
	snapshot, err := json.Marshal(redacted)
	if err != nil {
		return fmt.Errorf("failed to encode config snapshot: %w", err)
	}
	run := history.Run{
		StartedAt:  started,
		FinishedAt: finished,
		Config:     snapshot,
		Start:      results.Start,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	id, err := store.SaveRun(ctx, run, results.Rows())
	if err != nil {
		return err
	}
	logger.Info("Run saved", "run_id", id, "path", a.cfg.History.Path)
	return nil
}
