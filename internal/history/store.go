package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arkilian/memstress/internal/bench"
	"github.com/arkilian/memstress/internal/probe"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("history: run not found")

// Run is the stored summary of one stress run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Config     json.RawMessage
	Start      probe.Sample
	RowCount   int
	Error      string
}

// Store is a SQLite-backed run history.
type Store struct {
	db     *sql.DB // single writer connection
	dbPath string
	mu     sync.Mutex

	insertRowStmt *sql.Stmt
}

// Open opens or creates the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: failed to initialize schema: %w", err)
	}

	stmt, err := db.Prepare(`
		INSERT INTO loop_rows (
			run_id, worker_id, loop, num_rows,
			before_create_memory_mb, before_create_heap_mb,
			after_create_memory_mb, after_create_heap_mb,
			after_write_memory_mb, after_write_heap_mb,
			after_dispose_memory_mb, after_dispose_heap_mb,
			after_collect_memory_mb, after_collect_heap_mb,
			estimated_bytes, allocated_bytes, write_duration_ns, written,
			memory_growth_pct, heap_growth_pct
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: failed to prepare insert statement: %w", err)
	}
	s.insertRowStmt = stmt
	return s, nil
}

func (s *Store) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// SaveRun stores a run and all of its rows in one transaction and returns
// the run id. An empty run.ID is assigned a new uuid.
func (s *Store) SaveRun(ctx context.Context, run Run, rows []bench.LoopResult) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if len(run.Config) == 0 {
		run.Config = json.RawMessage("{}")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("history: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var runErr *string
	if run.Error != "" {
		runErr = &run.Error
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, finished_at, config, start_memory_mb, start_heap_mb, row_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(), string(run.Config),
		run.Start.MemoryMB, run.Start.HeapMB, len(rows), runErr,
	)
	if err != nil {
		return "", fmt.Errorf("history: failed to insert run: %w", err)
	}

	stmt := tx.StmtContext(ctx, s.insertRowStmt)
	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			run.ID, r.WorkerID, r.Loop, r.Rows,
			r.BeforeCreate.MemoryMB, r.BeforeCreate.HeapMB,
			r.AfterCreate.MemoryMB, r.AfterCreate.HeapMB,
			r.AfterWrite.MemoryMB, r.AfterWrite.HeapMB,
			r.AfterDispose.MemoryMB, r.AfterDispose.HeapMB,
			r.AfterCollect.MemoryMB, r.AfterCollect.HeapMB,
			r.EstimatedBytes, r.AllocatedBytes, int64(r.WriteDuration), r.Written,
			growthValue(r.MemoryGrowth), growthValue(r.HeapGrowth),
		)
		if err != nil {
			return "", fmt.Errorf("history: failed to insert row worker=%d loop=%d: %w", r.WorkerID, r.Loop, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("history: failed to commit: %w", err)
	}
	return run.ID, nil
}

// GetRun retrieves a run summary by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, finished_at, config, start_memory_mb, start_heap_mb, row_count, error
		FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `
		SELECT run_id, started_at, finished_at, config, start_memory_mb, start_heap_mb, row_count, error
		FROM runs ORDER BY started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Rows returns the stored rows of a run ordered by worker, then loop.
// Derived deltas are recomputed from the stored samples.
func (s *Store) Rows(ctx context.Context, runID string) ([]bench.LoopResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, loop, num_rows,
			before_create_memory_mb, before_create_heap_mb,
			after_create_memory_mb, after_create_heap_mb,
			after_write_memory_mb, after_write_heap_mb,
			after_dispose_memory_mb, after_dispose_heap_mb,
			after_collect_memory_mb, after_collect_heap_mb,
			estimated_bytes, allocated_bytes, write_duration_ns, written
		FROM loop_rows WHERE run_id = ?
		ORDER BY worker_id, loop`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []bench.LoopResult
	for rows.Next() {
		var r bench.LoopResult
		var durationNs int64
		if err := rows.Scan(
			&r.WorkerID, &r.Loop, &r.Rows,
			&r.BeforeCreate.MemoryMB, &r.BeforeCreate.HeapMB,
			&r.AfterCreate.MemoryMB, &r.AfterCreate.HeapMB,
			&r.AfterWrite.MemoryMB, &r.AfterWrite.HeapMB,
			&r.AfterDispose.MemoryMB, &r.AfterDispose.HeapMB,
			&r.AfterCollect.MemoryMB, &r.AfterCollect.HeapMB,
			&r.EstimatedBytes, &r.AllocatedBytes, &durationNs, &r.Written,
		); err != nil {
			return nil, fmt.Errorf("history: failed to scan row: %w", err)
		}
		r.WriteDuration = time.Duration(durationNs)
		r.Derive()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.insertRowStmt != nil {
		s.insertRowStmt.Close()
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var started, finished int64
	var config string
	var runErr sql.NullString
	err := sc.Scan(&run.ID, &started, &finished, &config,
		&run.Start.MemoryMB, &run.Start.HeapMB, &run.RowCount, &runErr)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("history: failed to scan run: %w", err)
	}
	run.StartedAt = time.Unix(0, started)
	run.FinishedAt = time.Unix(0, finished)
	run.Config = json.RawMessage(config)
	run.Error = runErr.String
	return &run, nil
}

func growthValue(g probe.Growth) interface{} {
	if g.Undefined {
		return nil
	}
	return g.Percent
}
