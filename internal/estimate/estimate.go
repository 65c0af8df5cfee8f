// Package estimate approximates the in-memory footprint of Arrow data from
// column types and values, independent of allocator bookkeeping.
package estimate

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	apperrors "github.com/arkilian/memstress/internal/errors"
)

// ErrUnsupportedColumnType is returned for any type outside the closed set.
var ErrUnsupportedColumnType = apperrors.NewEstimateError(apperrors.CodeUnsupportedColumnType, "unsupported column type")

// fixedWidth holds the element width in bytes of each fixed-width type.
var fixedWidth = map[arrow.Type]int64{
	arrow.INT8:    1,
	arrow.INT16:   2,
	arrow.INT32:   4,
	arrow.INT64:   8,
	arrow.FLOAT32: 4,
	arrow.FLOAT64: 8,
}

// Array returns the estimated byte footprint of arr. Fixed-width types
// count every element, nulls included; variable-width types sum the lengths
// of non-null values.
func Array(arr arrow.Array) (int64, error) {
	if w, ok := fixedWidth[arr.DataType().ID()]; ok {
		return int64(arr.Len()) * w, nil
	}

	switch a := arr.(type) {
	case *array.String:
		return sumLengths(a, func(i int) int { return len(a.Value(i)) }), nil
	case *array.LargeString:
		return sumLengths(a, func(i int) int { return len(a.Value(i)) }), nil
	case *array.Binary:
		return sumLengths(a, func(i int) int { return len(a.Value(i)) }), nil
	case *array.LargeBinary:
		return sumLengths(a, func(i int) int { return len(a.Value(i)) }), nil
	default:
		return 0, apperrors.NewEstimateError(apperrors.CodeUnsupportedColumnType,
			fmt.Sprintf("unsupported column type %s", arr.DataType()))
	}
}

func sumLengths(arr arrow.Array, length func(int) int) int64 {
	var total int64
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			continue
		}
		total += int64(length(i))
	}
	return total
}

// Record sums Array over every column. The first unsupported column aborts.
func Record(rec arrow.Record) (int64, error) {
	var total int64
	for i, col := range rec.Columns() {
		n, err := Array(col)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", rec.ColumnName(i), err)
		}
		total += n
	}
	return total, nil
}
