package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/arkilian/memstress/internal/probe"
)

// Checkpoint names recorded by the stress loop, in iteration order.
const (
	CheckpointBeforeCreate = "before_create"
	CheckpointAfterCreate  = "after_create"
	CheckpointAfterWrite   = "after_write"
	CheckpointAfterDispose = "after_dispose"
	CheckpointAfterCollect = "after_collect"
)

// CheckpointStats aggregates memory samples per checkpoint across all
// workers and loops.
type CheckpointStats struct {
	mu          sync.RWMutex
	checkpoints map[string]*CheckpointSummary
	order       int
}

// CheckpointSummary holds the aggregate of one checkpoint.
type CheckpointSummary struct {
	Name        string
	Count       int64
	MinMemoryMB int64
	MaxMemoryMB int64
	MinHeapMB   int64
	MaxHeapMB   int64
	LastSeen    time.Time

	sumMemoryMB int64
	sumHeapMB   int64
	seq         int
}

// MeanMemoryMB returns the mean resident memory.
func (s CheckpointSummary) MeanMemoryMB() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.sumMemoryMB) / float64(s.Count)
}

// MeanHeapMB returns the mean live heap.
func (s CheckpointSummary) MeanHeapMB() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.sumHeapMB) / float64(s.Count)
}

// NewCheckpointStats creates an empty aggregate.
func NewCheckpointStats() *CheckpointStats {
	return &CheckpointStats{checkpoints: make(map[string]*CheckpointSummary)}
}

// Record adds one sample to the named checkpoint.
// This method is O(1) and thread-safe.
func (c *CheckpointStats) Record(name string, s probe.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.checkpoints[name]
	if !exists {
		stats = &CheckpointSummary{
			Name:        name,
			MinMemoryMB: s.MemoryMB,
			MaxMemoryMB: s.MemoryMB,
			MinHeapMB:   s.HeapMB,
			MaxHeapMB:   s.HeapMB,
			seq:         c.order,
		}
		c.order++
		c.checkpoints[name] = stats
	}

	stats.Count++
	stats.sumMemoryMB += s.MemoryMB
	stats.sumHeapMB += s.HeapMB
	stats.MinMemoryMB = min(stats.MinMemoryMB, s.MemoryMB)
	stats.MaxMemoryMB = max(stats.MaxMemoryMB, s.MemoryMB)
	stats.MinHeapMB = min(stats.MinHeapMB, s.HeapMB)
	stats.MaxHeapMB = max(stats.MaxHeapMB, s.HeapMB)
	stats.LastSeen = time.Now()
}

// Summaries returns a copy of every checkpoint in first-recorded order.
func (c *CheckpointStats) Summaries() []CheckpointSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]CheckpointSummary, 0, len(c.checkpoints))
	for _, s := range c.checkpoints {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].seq < out[j].seq
	})
	return out
}

