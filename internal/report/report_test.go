package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/arkilian/memstress/internal/bench"
	"github.com/arkilian/memstress/internal/observability"
	"github.com/arkilian/memstress/internal/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows() []bench.LoopResult {
	return []bench.LoopResult{
		{
			WorkerID: 1, Loop: 1, Rows: 1000,
			BeforeCreate:   probe.Sample{MemoryMB: 100, HeapMB: 10},
			AfterCreate:    probe.Sample{MemoryMB: 180, HeapMB: 12},
			AfterCollect:   probe.Sample{MemoryMB: 110, HeapMB: 10},
			LoopMemoryMB:   10,
			MemoryGrowth:   probe.Growth{Percent: 10},
			HeapGrowth:     probe.Growth{Undefined: true},
			WriteDuration:  1500 * time.Millisecond,
			EstimatedBytes: 10000,
		},
		{WorkerID: 1, Loop: 2, Rows: 1000},
	}
}

func TestHeadersMatchRowWidth(t *testing.T) {
	assert.Len(t, Row(bench.LoopResult{}), len(Headers()))
	assert.Equal(t, "Thread #", Headers()[0])
	assert.Equal(t, "Managed Heap Start and End (%)", Headers()[16])
}

func TestRow(t *testing.T) {
	row := Row(sampleRows()[0])
	assert.Equal(t, "1", row[0])
	assert.Equal(t, "1000", row[2])
	assert.Equal(t, "100", row[3])
	assert.Equal(t, "10", row[13])
	assert.Equal(t, "10", row[15])
	assert.Equal(t, "NaN", row[16])
	assert.Equal(t, "10000", row[18])
	assert.Equal(t, "1500", row[20])
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleRows()))

	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	// Header, separator, two rows.
	require.Len(t, lines, 4)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "|"), line)
		assert.True(t, strings.HasSuffix(line, "|"), line)
	}
	assert.Contains(t, lines[0], "Memory Before RecordBatch Create (MB)")
	assert.True(t, strings.HasPrefix(lines[1], "|--"))
	assert.Contains(t, lines[2], "NaN")
}

func TestRender_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, nil))
	assert.Contains(t, buf.String(), "Thread #")
}

func TestRenderCheckpoints(t *testing.T) {
	stats := observability.NewCheckpointStats()
	stats.Record(observability.CheckpointBeforeCreate, probe.Sample{MemoryMB: 100, HeapMB: 10})
	stats.Record(observability.CheckpointBeforeCreate, probe.Sample{MemoryMB: 200, HeapMB: 20})
	stats.Record(observability.CheckpointAfterCollect, probe.Sample{MemoryMB: 120, HeapMB: 11})

	var buf bytes.Buffer
	require.NoError(t, RenderCheckpoints(&buf, stats.Summaries()))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], observability.CheckpointBeforeCreate)
	assert.Contains(t, lines[2], "150.0")
	assert.Contains(t, lines[3], observability.CheckpointAfterCollect)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestRender_WriteError(t *testing.T) {
	err := Render(brokenWriter{}, sampleRows())
	assert.EqualError(t, err, "closed pipe")
}
