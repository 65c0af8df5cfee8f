package estimate

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	apperrors "github.com/arkilian/memstress/internal/errors"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArray_Int32(t *testing.T) {
	b := array.NewInt32Builder(memory.NewGoAllocator())
	defer b.Release()
	b.AppendValues([]int32{1, 2, 3, 4, 5}, nil)
	arr := b.NewArray()
	defer arr.Release()

	n, err := Array(arr)
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
}

func TestArray_StringWithNull(t *testing.T) {
	b := array.NewStringBuilder(memory.NewGoAllocator())
	defer b.Release()
	b.AppendValues([]string{"ab", "", "xyz"}, []bool{true, false, true})
	arr := b.NewArray()
	defer arr.Release()

	n, err := Array(arr)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestArray_FixedWidths(t *testing.T) {
	mem := memory.NewGoAllocator()
	tests := []struct {
		name  string
		build func() arrow.Array
		want  int64
	}{
		{"int8", func() arrow.Array {
			b := array.NewInt8Builder(mem)
			defer b.Release()
			b.AppendValues([]int8{1, 2, 3}, nil)
			return b.NewArray()
		}, 3},
		{"int16", func() arrow.Array {
			b := array.NewInt16Builder(mem)
			defer b.Release()
			b.AppendValues([]int16{1, 2, 3}, nil)
			return b.NewArray()
		}, 6},
		{"int64 with null", func() arrow.Array {
			b := array.NewInt64Builder(mem)
			defer b.Release()
			b.AppendValues([]int64{1, 2}, []bool{true, false})
			return b.NewArray()
		}, 16},
		{"float32", func() arrow.Array {
			b := array.NewFloat32Builder(mem)
			defer b.Release()
			b.AppendValues([]float32{1, 2}, nil)
			return b.NewArray()
		}, 8},
		{"float64", func() arrow.Array {
			b := array.NewFloat64Builder(mem)
			defer b.Release()
			b.AppendValues([]float64{1, 2, 3, 4}, nil)
			return b.NewArray()
		}, 32},
		{"binary", func() arrow.Array {
			b := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
			defer b.Release()
			b.AppendValues([][]byte{{1, 2}, nil, {3}}, []bool{true, false, true})
			return b.NewArray()
		}, 3},
		{"large string", func() arrow.Array {
			b := array.NewLargeStringBuilder(mem)
			defer b.Release()
			b.AppendValues([]string{"abcd", "e"}, nil)
			return b.NewArray()
		}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arr := tt.build()
			defer arr.Release()
			n, err := Array(arr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestArray_Unsupported(t *testing.T) {
	b := array.NewBooleanBuilder(memory.NewGoAllocator())
	defer b.Release()
	b.AppendValues([]bool{true, false}, nil)
	arr := b.NewArray()
	defer arr.Release()

	n, err := Array(arr)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.True(t, errors.Is(err, ErrUnsupportedColumnType))
	assert.Equal(t, apperrors.ErrCategoryEstimate, apperrors.GetCategory(err))
}

func TestRecord(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "n", Type: arrow.PrimitiveTypes.Int32},
		{Name: "s", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	b.Field(0).(*array.Int32Builder).AppendValues([]int32{1, 2, 3}, nil)
	b.Field(1).(*array.StringBuilder).AppendValues([]string{"ab", "", "xyz"}, []bool{true, false, true})
	rec := b.NewRecord()
	defer rec.Release()

	n, err := Record(rec)
	require.NoError(t, err)
	assert.Equal(t, int64(12+5), n)
}

func TestRecord_UnsupportedColumn(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "flag", Type: arrow.FixedWidthTypes.Boolean}}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	b.Field(0).(*array.BooleanBuilder).Append(true)
	rec := b.NewRecord()
	defer rec.Release()

	_, err := Record(rec)
	assert.ErrorIs(t, err, ErrUnsupportedColumnType)
	assert.Contains(t, err.Error(), "flag")
}

func TestProperty_StringEstimate(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("string estimate is the sum of value lengths", prop.ForAll(
		func(values []string) bool {
			b := array.NewStringBuilder(memory.NewGoAllocator())
			defer b.Release()
			b.AppendValues(values, nil)
			arr := b.NewArray()
			defer arr.Release()

			var want int64
			for _, v := range values {
				want += int64(len(v))
			}
			got, err := Array(arr)
			return err == nil && got == want
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("int64 estimate is eight bytes per element", prop.ForAll(
		func(values []int64) bool {
			b := array.NewInt64Builder(memory.NewGoAllocator())
			defer b.Release()
			b.AppendValues(values, nil)
			arr := b.NewArray()
			defer arr.Release()
			got, err := Array(arr)
			return err == nil && got == int64(8*len(values))
		},
		gen.SliceOf(gen.Int64()),
	))

	properties.TestingRun(t)
}
