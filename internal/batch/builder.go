// Package batch builds the synthetic Arrow records written by each
// iteration.
package batch

import (
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	apperrors "github.com/arkilian/memstress/internal/errors"
)

// Alphabet is the character set of generated strings.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// nullEvery makes roughly one value in nullEvery null in nullable columns.
const nullEvery = 16

// RandomString returns n characters drawn from Alphabet.
func RandomString(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = Alphabet[rng.Intn(len(Alphabet))]
	}
	return string(b)
}

// Batch is one built record and the allocator bytes it holds. It is owned by
// the worker that built it until Dispose.
type Batch struct {
	rec       arrow.Record
	allocated int64
	disposed  bool
}

// Record returns the underlying record.
func (b *Batch) Record() arrow.Record { return b.rec }

// NumRows returns the row count.
func (b *Batch) NumRows() int64 { return b.rec.NumRows() }

// AllocatedBytes returns the allocator bytes held by the record when built.
func (b *Batch) AllocatedBytes() int64 { return b.allocated }

// Dispose releases the record's buffers. Calling it twice is a no-op.
func (b *Batch) Dispose() {
	if b.disposed {
		return
	}
	b.disposed = true
	b.rec.Release()
}

// countingAllocator tracks the bytes held through an underlying allocator.
type countingAllocator struct {
	memory.Allocator
	held atomic.Int64
}

func (a *countingAllocator) Allocate(size int) []byte {
	a.held.Add(int64(size))
	return a.Allocator.Allocate(size)
}

func (a *countingAllocator) Reallocate(size int, b []byte) []byte {
	a.held.Add(int64(size - len(b)))
	return a.Allocator.Reallocate(size, b)
}

func (a *countingAllocator) Free(b []byte) {
	a.held.Add(-int64(len(b)))
	a.Allocator.Free(b)
}

// Builder generates batches for one worker. It is not safe for concurrent
// use; each worker owns its own.
type Builder struct {
	schema *arrow.Schema
	rows   int
	strLen int
	rng    *rand.Rand
	mem    *countingAllocator
}

// Option configures a Builder.
type Option func(*Builder)

// WithAllocator builds records through alloc instead of a Go allocator.
func WithAllocator(alloc memory.Allocator) Option {
	return func(b *Builder) { b.mem = &countingAllocator{Allocator: alloc} }
}

// NewBuilder creates a builder producing rows-row batches. seed makes the
// generated values reproducible.
func NewBuilder(schema *arrow.Schema, rows, strLen int, seed int64, opts ...Option) (*Builder, error) {
	if rows <= 0 {
		return nil, apperrors.NewValidationError(apperrors.CodeEmptyBatch, "row count must be positive")
	}
	if strLen < 0 {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidConfig, "string length must not be negative")
	}
	b := &Builder{
		schema: schema,
		rows:   rows,
		strLen: strLen,
		rng:    rand.New(rand.NewSource(seed)),
		mem:    &countingAllocator{Allocator: memory.NewGoAllocator()},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Outstanding returns the bytes currently allocated and not yet released.
func (b *Builder) Outstanding() int64 { return b.mem.held.Load() }

// Build generates a fresh batch with new random values.
func (b *Builder) Build() (*Batch, error) {
	before := b.mem.held.Load()
	rec, err := b.record()
	if err != nil {
		return nil, err
	}
	return &Batch{rec: rec, allocated: b.mem.held.Load() - before}, nil
}

func (b *Builder) record() (arrow.Record, error) {
	rb := array.NewRecordBuilder(b.mem, b.schema)
	defer rb.Release()
	rb.Reserve(b.rows)

	for i, f := range b.schema.Fields() {
		if err := b.fill(rb.Field(i), f); err != nil {
			return nil, err
		}
	}
	return rb.NewRecord(), nil
}

func (b *Builder) fill(fb array.Builder, f arrow.Field) error {
	valid := b.validity(f.Nullable)
	switch bld := fb.(type) {
	case *array.Int8Builder:
		v := make([]int8, b.rows)
		for i := range v {
			v[i] = int8(b.rng.Intn(1 << 8))
		}
		bld.AppendValues(v, valid)
	case *array.Int16Builder:
		v := make([]int16, b.rows)
		for i := range v {
			v[i] = int16(b.rng.Intn(1 << 16))
		}
		bld.AppendValues(v, valid)
	case *array.Int32Builder:
		v := make([]int32, b.rows)
		for i := range v {
			v[i] = int32(b.rng.Uint32())
		}
		bld.AppendValues(v, valid)
	case *array.Int64Builder:
		v := make([]int64, b.rows)
		for i := range v {
			v[i] = int64(b.rng.Uint64())
		}
		bld.AppendValues(v, valid)
	case *array.Float32Builder:
		v := make([]float32, b.rows)
		for i := range v {
			v[i] = b.rng.Float32()
		}
		bld.AppendValues(v, valid)
	case *array.Float64Builder:
		v := make([]float64, b.rows)
		for i := range v {
			v[i] = b.rng.Float64()
		}
		bld.AppendValues(v, valid)
	case *array.StringBuilder:
		bld.AppendValues(b.strings(), valid)
	case *array.BinaryBuilder:
		s := b.strings()
		v := make([][]byte, len(s))
		for i := range s {
			v[i] = []byte(s[i])
		}
		bld.AppendValues(v, valid)
	default:
		return apperrors.NewValidationError(apperrors.CodeInvalidSchema,
			fmt.Sprintf("cannot generate values for column %s of type %s", f.Name, f.Type))
	}
	return nil
}

// strings generates fresh values. The slice is not retained so it does not
// outlive the batch on the Go heap.
func (b *Builder) strings() []string {
	s := make([]string, b.rows)
	for i := range s {
		s[i] = RandomString(b.rng, b.strLen)
	}
	return s
}

func (b *Builder) validity(nullable bool) []bool {
	if !nullable {
		return nil
	}
	valid := make([]bool, b.rows)
	for i := range valid {
		valid[i] = b.rng.Intn(nullEvery) != 0
	}
	return valid
}
