// Package probe takes point-in-time process memory readings.
package probe

import (
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"

	apperrors "github.com/arkilian/memstress/internal/errors"
	"github.com/shirou/gopsutil/v3/process"
)

const bytesPerMB = 1 << 20

// Sample is a reading at one checkpoint, in whole megabytes.
type Sample struct {
	MemoryMB int64 `json:"memory_mb"`
	HeapMB   int64 `json:"heap_mb"`
}

// Probe samples the current process. It is safe for concurrent use.
type Probe struct {
	proc *process.Process

	mu    sync.Mutex
	stats runtime.MemStats
}

// New creates a probe for the running process.
func New() (*Probe, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, apperrors.NewMeasureError("failed to open current process", err)
	}
	return &Probe{proc: proc}, nil
}

// Sample reads resident memory and the live heap. The MemStats buffer is
// reused so sampling does not allocate it.
func (p *Probe) Sample() (Sample, error) {
	info, err := p.proc.MemoryInfo()
	if err != nil {
		return Sample{}, apperrors.NewMeasureError("failed to read process memory", err)
	}

	p.mu.Lock()
	runtime.ReadMemStats(&p.stats)
	heap := p.stats.HeapAlloc
	p.mu.Unlock()

	return Sample{
		MemoryMB: int64(info.RSS / bytesPerMB),
		HeapMB:   int64(heap / bytesPerMB),
	}, nil
}

// Collect requests maximal heap compaction: a full collection followed by
// returning freed memory to the OS.
func Collect() {
	runtime.GC()
	debug.FreeOSMemory()
}

// Delta returns b - a. Negative values mean shrinkage.
func Delta(a, b int64) int64 {
	return b - a
}

// Growth is an integer percentage. Undefined is set when the baseline was
// zero.
type Growth struct {
	Percent   int64
	Undefined bool
}

func (g Growth) String() string {
	if g.Undefined {
		return "NaN"
	}
	return strconv.FormatInt(g.Percent, 10)
}

// PercentGrowth returns (after-baseline)*100/baseline, truncated toward zero.
// A zero baseline yields an undefined growth instead of a division fault.
func PercentGrowth(baseline, after int64) Growth {
	if baseline == 0 {
		return Growth{Undefined: true}
	}
	return Growth{Percent: (after - baseline) * 100 / baseline}
}
