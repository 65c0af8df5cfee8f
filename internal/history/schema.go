// Package history persists stress runs and their result rows in a local
// SQLite database so runs can be compared over time.
package history

// CreateRunsTableSQL creates the runs table. The config column holds the
// JSON snapshot of the configuration the run was started with.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    config TEXT NOT NULL,
    start_memory_mb INTEGER NOT NULL,
    start_heap_mb INTEGER NOT NULL,
    row_count INTEGER NOT NULL,
    error TEXT
)`

// CreateRowsTableSQL creates the per-iteration rows table. Growth
// percentages are NULL when the baseline was zero.
const CreateRowsTableSQL = `
CREATE TABLE IF NOT EXISTS loop_rows (
    run_id TEXT NOT NULL,
    worker_id INTEGER NOT NULL,
    loop INTEGER NOT NULL,
    num_rows INTEGER NOT NULL,
    before_create_memory_mb INTEGER NOT NULL,
    before_create_heap_mb INTEGER NOT NULL,
    after_create_memory_mb INTEGER NOT NULL,
    after_create_heap_mb INTEGER NOT NULL,
    after_write_memory_mb INTEGER NOT NULL,
    after_write_heap_mb INTEGER NOT NULL,
    after_dispose_memory_mb INTEGER NOT NULL,
    after_dispose_heap_mb INTEGER NOT NULL,
    after_collect_memory_mb INTEGER NOT NULL,
    after_collect_heap_mb INTEGER NOT NULL,
    estimated_bytes INTEGER NOT NULL,
    allocated_bytes INTEGER NOT NULL,
    write_duration_ns INTEGER NOT NULL,
    written INTEGER NOT NULL,
    memory_growth_pct INTEGER,
    heap_growth_pct INTEGER,
    PRIMARY KEY (run_id, worker_id, loop),
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
)`

// CreateRunsIndexSQL orders run listings by start time.
const CreateRunsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`

// AllSchemaSQL returns all SQL statements needed to initialize the store.
func AllSchemaSQL() []string {
	return []string{
		CreateRunsTableSQL,
		CreateRowsTableSQL,
		CreateRunsIndexSQL,
	}
}
