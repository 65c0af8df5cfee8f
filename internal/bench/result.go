package bench

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/arkilian/memstress/internal/probe"
)

// LoopResult is one iteration's measurements. Samples are in megabytes.
type LoopResult struct {
	WorkerID int `json:"worker_id"`
	Loop     int `json:"loop"`
	Rows     int `json:"rows"`

	BeforeCreate probe.Sample `json:"before_create"`
	AfterCreate  probe.Sample `json:"after_create"`
	AfterWrite   probe.Sample `json:"after_write"`
	AfterDispose probe.Sample `json:"after_dispose"`
	AfterCollect probe.Sample `json:"after_collect"`

	EstimatedBytes int64         `json:"estimated_bytes"`
	AllocatedBytes int64         `json:"allocated_bytes"`
	WriteDuration  time.Duration `json:"write_duration"`
	Written        bool          `json:"written"`

	// Derived by Derive.
	BatchMemoryMB    int64        `json:"batch_memory_mb"`
	BatchHeapMB      int64        `json:"batch_heap_mb"`
	DisposedMemoryMB int64        `json:"disposed_memory_mb"`
	DisposedHeapMB   int64        `json:"disposed_heap_mb"`
	LoopMemoryMB     int64        `json:"loop_memory_mb"`
	LoopHeapMB       int64        `json:"loop_heap_mb"`
	NativeGrowthMB   int64        `json:"native_growth_mb"`
	MemoryGrowth     probe.Growth `json:"-"`
	HeapGrowth       probe.Growth `json:"-"`
}

// Derive fills the deltas. The loop span runs from the iteration baseline
// to the last checkpoint.
func (r *LoopResult) Derive() {
	r.BatchMemoryMB = probe.Delta(r.BeforeCreate.MemoryMB, r.AfterCreate.MemoryMB)
	r.BatchHeapMB = probe.Delta(r.BeforeCreate.HeapMB, r.AfterCreate.HeapMB)
	r.DisposedMemoryMB = probe.Delta(r.AfterCreate.MemoryMB, r.AfterDispose.MemoryMB)
	r.DisposedHeapMB = probe.Delta(r.AfterCreate.HeapMB, r.AfterDispose.HeapMB)
	r.LoopMemoryMB = probe.Delta(r.BeforeCreate.MemoryMB, r.AfterCollect.MemoryMB)
	r.LoopHeapMB = probe.Delta(r.BeforeCreate.HeapMB, r.AfterCollect.HeapMB)
	r.NativeGrowthMB = r.LoopMemoryMB - r.LoopHeapMB
	r.MemoryGrowth = probe.PercentGrowth(r.BeforeCreate.MemoryMB, r.AfterCollect.MemoryMB)
	r.HeapGrowth = probe.PercentGrowth(r.BeforeCreate.HeapMB, r.AfterCollect.HeapMB)
}

// LogValue implements slog.LogValuer.
func (r LoopResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("worker", r.WorkerID),
		slog.Int("loop", r.Loop),
		slog.Int("rows", r.Rows),
		slog.Int64("memory_before_mb", r.BeforeCreate.MemoryMB),
		slog.Int64("memory_after_create_mb", r.AfterCreate.MemoryMB),
		slog.Int64("memory_after_write_mb", r.AfterWrite.MemoryMB),
		slog.Int64("memory_after_dispose_mb", r.AfterDispose.MemoryMB),
		slog.Int64("memory_after_collect_mb", r.AfterCollect.MemoryMB),
		slog.Int64("heap_before_mb", r.BeforeCreate.HeapMB),
		slog.Int64("heap_after_collect_mb", r.AfterCollect.HeapMB),
		slog.Int64("estimated_bytes", r.EstimatedBytes),
		slog.Int64("allocated_bytes", r.AllocatedBytes),
		slog.Duration("write_duration", r.WriteDuration),
		slog.String("memory_growth_pct", r.MemoryGrowth.String()),
		slog.String("heap_growth_pct", r.HeapGrowth.String()),
	)
}

// Results collects rows from all workers. Its lock guards only the rows.
type Results struct {
	Start probe.Sample

	mu   sync.Mutex
	rows []LoopResult
}

// Add appends one row.
func (r *Results) Add(row LoopResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
}

// Len returns the number of rows.
func (r *Results) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// Rows returns a copy ordered by worker, then loop.
func (r *Results) Rows() []LoopResult {
	r.mu.Lock()
	out := make([]LoopResult, len(r.rows))
	copy(out, r.rows)
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkerID != out[j].WorkerID {
			return out[i].WorkerID < out[j].WorkerID
		}
		return out[i].Loop < out[j].Loop
	})
	return out
}
