// Package report renders stress run results as markdown tables.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/arkilian/memstress/internal/bench"
	"github.com/arkilian/memstress/internal/observability"
	"github.com/olekukonko/tablewriter"
)

// Headers returns the column titles of the results table.
func Headers() []string {
	return []string{
		"Thread #",
		"Loop #",
		"Number of Rows",
		"Memory Before RecordBatch Create (MB)",
		"Managed Heap Before RecordBatch Create (MB)",
		"Memory After RecordBatch Create (MB)",
		"Managed Heap After RecordBatch Create (MB)",
		"Memory After Delta Write (MB)",
		"Managed Heap After Delta Write (MB)",
		"Memory After RecordBatch Dispose (MB)",
		"Managed Heap After RecordBatch Dispose (MB)",
		"Memory After Collect (MB)",
		"Managed Heap After Collect (MB)",
		"Memory Start and End Diff (MB)",
		"Managed Heap Start and End Diff (MB)",
		"Memory Start and End (%)",
		"Managed Heap Start and End (%)",
		"Native Heap Growth (MB)",
		"Estimated RecordBatch Size (bytes)",
		"Allocated RecordBatch Size (bytes)",
		"Write Duration (ms)",
	}
}

// Row formats one result in header order.
func Row(r bench.LoopResult) []string {
	return []string{
		strconv.Itoa(r.WorkerID),
		strconv.Itoa(r.Loop),
		strconv.Itoa(r.Rows),
		i64(r.BeforeCreate.MemoryMB),
		i64(r.BeforeCreate.HeapMB),
		i64(r.AfterCreate.MemoryMB),
		i64(r.AfterCreate.HeapMB),
		i64(r.AfterWrite.MemoryMB),
		i64(r.AfterWrite.HeapMB),
		i64(r.AfterDispose.MemoryMB),
		i64(r.AfterDispose.HeapMB),
		i64(r.AfterCollect.MemoryMB),
		i64(r.AfterCollect.HeapMB),
		i64(r.LoopMemoryMB),
		i64(r.LoopHeapMB),
		r.MemoryGrowth.String(),
		r.HeapGrowth.String(),
		i64(r.NativeGrowthMB),
		i64(r.EstimatedBytes),
		i64(r.AllocatedBytes),
		i64(r.WriteDuration.Milliseconds()),
	}
}

// Render writes the results table. Rows are written in the given order.
func Render(w io.Writer, rows []bench.LoopResult) error {
	ew := &errWriter{w: w}
	table := newMarkdownTable(ew)
	table.SetHeader(Headers())
	for _, r := range rows {
		table.Append(Row(r))
	}
	table.Render()
	return ew.err
}

// RenderCheckpoints writes one line per checkpoint aggregate.
func RenderCheckpoints(w io.Writer, summaries []observability.CheckpointSummary) error {
	ew := &errWriter{w: w}
	table := newMarkdownTable(ew)
	table.SetHeader([]string{
		"Checkpoint", "Samples",
		"Min Memory (MB)", "Mean Memory (MB)", "Max Memory (MB)",
		"Min Managed Heap (MB)", "Mean Managed Heap (MB)", "Max Managed Heap (MB)",
	})
	for _, s := range summaries {
		table.Append([]string{
			s.Name,
			i64(s.Count),
			i64(s.MinMemoryMB),
			fmt.Sprintf("%.1f", s.MeanMemoryMB()),
			i64(s.MaxMemoryMB),
			i64(s.MinHeapMB),
			fmt.Sprintf("%.1f", s.MeanHeapMB()),
			i64(s.MaxHeapMB),
		})
	}
	table.Render()
	return ew.err
}

func newMarkdownTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

func i64(v int64) string {
	return strconv.FormatInt(v, 10)
}

// errWriter keeps the first write error; the table renderer discards them.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}
