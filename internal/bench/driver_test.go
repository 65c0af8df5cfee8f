package bench

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/arkilian/memstress/internal/auth"
	apperrors "github.com/arkilian/memstress/internal/errors"
	"github.com/arkilian/memstress/internal/handle"
	"github.com/arkilian/memstress/internal/observability"
	"github.com/arkilian/memstress/internal/probe"
	"github.com/arkilian/memstress/internal/table"
	"github.com/arkilian/memstress/internal/writer"
	"github.com/arkilian/memstress/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingService records calls and detects overlapping appends.
type countingService struct {
	table.Service

	creates  atomic.Int32
	loads    atomic.Int32
	appends  atomic.Int32
	inFlight atomic.Int32
	overlaps atomic.Int32
}

func (s *countingService) Create(ctx context.Context, loc table.Location, schema *arrow.Schema, opts table.StorageOptions) (*table.Table, error) {
	s.creates.Add(1)
	return s.Service.Create(ctx, loc, schema, opts)
}

func (s *countingService) Load(ctx context.Context, loc table.Location, opts table.StorageOptions) (*table.Table, error) {
	s.loads.Add(1)
	return s.Service.Load(ctx, loc, opts)
}

func (s *countingService) Append(ctx context.Context, tbl *table.Table, rec arrow.Record, schema *arrow.Schema, mode table.SaveMode) error {
	if s.inFlight.Add(1) > 1 {
		s.overlaps.Add(1)
	}
	defer s.inFlight.Add(-1)
	s.appends.Add(1)
	return s.Service.Append(ctx, tbl, rec, schema, mode)
}

type fixedSampler struct {
	mu      sync.Mutex
	next    probe.Sample
	err     error
	errFrom int
	calls   int
}

func (f *fixedSampler) Sample() (probe.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil && f.calls >= f.errFrom {
		return probe.Sample{}, f.err
	}
	return f.next, nil
}

func stressSchema(t *testing.T) *arrow.Schema {
	t.Helper()
	s, err := table.ToArrow(types.DefaultSchema())
	require.NoError(t, err)
	return s
}

func newLocalService(t *testing.T) *countingService {
	t.Helper()
	root := t.TempDir()
	svc, err := table.NewObjectStoreService(table.NewLocalOpener(filepath.Join(root, "store")), filepath.Join(root, "work"))
	require.NoError(t, err)
	return &countingService{Service: svc}
}

var testLoc = table.Location{Scheme: "file", Account: "someaccount", Container: "somecontainer", Path: "some/path/table"}

func TestDriver_EndToEnd(t *testing.T) {
	ctx := context.Background()
	schema := stressSchema(t)
	svc := newLocalService(t)
	mgr := handle.NewManager(svc, auth.StaticCredential{BearerToken: "t"}, testLoc, schema)
	coord := writer.NewCoordinator(svc, schema, true)
	p, err := probe.New()
	require.NoError(t, err)

	stats := observability.NewCheckpointStats()
	cfg := Config{Rows: 1000, Loops: 3, Workers: 2, StringLength: 10, ForceCollection: true, Seed: 1}
	results, err := NewDriver(cfg, schema, mgr, coord, p, WithCheckpointStats(stats)).Run(ctx)
	require.NoError(t, err)

	summaries := stats.Summaries()
	require.Len(t, summaries, 5)
	assert.Equal(t, observability.CheckpointBeforeCreate, summaries[0].Name)
	assert.Equal(t, int64(6), summaries[0].Count)

	assert.Equal(t, int32(1), svc.creates.Load())
	assert.Zero(t, svc.loads.Load())
	assert.Equal(t, int32(6), svc.appends.Load())
	assert.Zero(t, svc.overlaps.Load())

	rows := results.Rows()
	require.Len(t, rows, 6)
	seen := map[[2]int]bool{}
	for _, r := range rows {
		seen[[2]int{r.WorkerID, r.Loop}] = true
		assert.Equal(t, 1000, r.Rows)
		assert.Equal(t, int64(10000), r.EstimatedBytes)
		assert.Positive(t, r.AllocatedBytes)
		assert.True(t, r.Written)
	}
	for w := 1; w <= 2; w++ {
		for l := 1; l <= 3; l++ {
			assert.True(t, seen[[2]int{w, l}], "missing row worker=%d loop=%d", w, l)
		}
	}

	tbl, err := mgr.GetHandle(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), tbl.Version())
	assert.Equal(t, int64(6000), tbl.NumRows())
}

func TestDriver_WritesDisabled(t *testing.T) {
	schema := stressSchema(t)
	svc := newLocalService(t)
	mgr := handle.NewManager(svc, auth.StaticCredential{}, testLoc, schema)
	coord := writer.NewCoordinator(svc, schema, false)
	collected := atomic.Int32{}

	cfg := Config{Rows: 10, Loops: 2, Workers: 3, StringLength: 4}
	results, err := NewDriver(cfg, schema, mgr, coord, &fixedSampler{},
		WithCollector(func() { collected.Add(1) })).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, results.Len())
	assert.Zero(t, svc.creates.Load())
	assert.Zero(t, svc.appends.Load())
	assert.Equal(t, handle.StateUninitialized, mgr.State())
	assert.Equal(t, int64(6), coord.Stats().Skipped)
	assert.Zero(t, collected.Load())
	for _, r := range results.Rows() {
		assert.False(t, r.Written)
		assert.True(t, r.MemoryGrowth.Undefined)
	}
}

func TestDriver_ForcedCollection(t *testing.T) {
	schema := stressSchema(t)
	collected := atomic.Int32{}
	coord := writer.NewCoordinator(nil, schema, false)

	cfg := Config{Rows: 10, Loops: 4, Workers: 1, StringLength: 4, ForceCollection: true}
	_, err := NewDriver(cfg, schema, nil, coord, &fixedSampler{},
		WithCollector(func() { collected.Add(1) })).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(4), collected.Load())
}

type failingAppender struct {
	calls atomic.Int32
}

func (f *failingAppender) Append(context.Context, *table.Table, arrow.Record, *arrow.Schema, table.SaveMode) error {
	f.calls.Add(1)
	return errors.New("throttled")
}

type staticHandles struct{ tbl *table.Table }

func (s staticHandles) GetHandle(context.Context) (*table.Table, error) { return s.tbl, nil }

func TestDriver_WriteFailureAbortsWorker(t *testing.T) {
	schema := stressSchema(t)
	app := &failingAppender{}
	coord := writer.NewCoordinator(app, schema, true)

	cfg := Config{Rows: 10, Loops: 5, Workers: 2, StringLength: 4}
	results, err := NewDriver(cfg, schema, staticHandles{&table.Table{}}, coord, &fixedSampler{}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCategoryWrite, apperrors.GetCategory(err))

	// Each worker fails on its first append and stops.
	assert.Equal(t, int32(2), app.calls.Load())
	assert.Zero(t, results.Len())
}

type failingHandles struct{ err error }

func (f failingHandles) GetHandle(context.Context) (*table.Table, error) { return nil, f.err }

func TestDriver_HandleErrorPropagatesUnchanged(t *testing.T) {
	schema := stressSchema(t)
	fatal := &table.Error{Kind: table.KindStorage, Message: "failed to list"}
	coord := writer.NewCoordinator(&failingAppender{}, schema, true)

	cfg := Config{Rows: 10, Loops: 1, Workers: 1, StringLength: 4}
	_, err := NewDriver(cfg, schema, failingHandles{fatal}, coord, &fixedSampler{}).Run(context.Background())
	assert.Same(t, fatal, err)
}

func TestDriver_SampleFailure(t *testing.T) {
	schema := stressSchema(t)
	boom := errors.New("proc unavailable")
	coord := writer.NewCoordinator(nil, schema, false)

	cfg := Config{Rows: 10, Loops: 3, Workers: 1, StringLength: 4, SettleDelay: time.Millisecond}
	results, err := NewDriver(cfg, schema, nil, coord, &fixedSampler{err: boom, errFrom: 8}).Run(context.Background())
	assert.ErrorIs(t, err, boom)
	// One start sample plus five per loop: loop 1 completes, loop 2 fails.
	assert.Equal(t, 1, results.Len())
}

func TestLoopResult_Derive(t *testing.T) {
	r := LoopResult{
		BeforeCreate: probe.Sample{MemoryMB: 100, HeapMB: 10},
		AfterCreate:  probe.Sample{MemoryMB: 300, HeapMB: 40},
		AfterDispose: probe.Sample{MemoryMB: 250, HeapMB: 30},
		AfterCollect: probe.Sample{MemoryMB: 120, HeapMB: 10},
	}
	r.Derive()
	assert.Equal(t, int64(200), r.BatchMemoryMB)
	assert.Equal(t, int64(30), r.BatchHeapMB)
	assert.Equal(t, int64(-50), r.DisposedMemoryMB)
	assert.Equal(t, int64(-10), r.DisposedHeapMB)
	assert.Equal(t, int64(20), r.LoopMemoryMB)
	assert.Equal(t, int64(0), r.LoopHeapMB)
	assert.Equal(t, int64(20), r.NativeGrowthMB)
	assert.Equal(t, probe.Growth{Percent: 20}, r.MemoryGrowth)
	assert.Equal(t, probe.Growth{}, r.HeapGrowth)
}

func TestResults_RowsOrdered(t *testing.T) {
	var res Results
	var wg sync.WaitGroup
	for w := 3; w >= 1; w-- {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for l := 2; l >= 1; l-- {
				res.Add(LoopResult{WorkerID: w, Loop: l})
			}
		}(w)
	}
	wg.Wait()

	rows := res.Rows()
	require.Len(t, rows, 6)
	for i, r := range rows {
		assert.Equal(t, i/2+1, r.WorkerID)
		assert.Equal(t, i%2+1, r.Loop)
	}
}
