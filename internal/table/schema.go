package table

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/arkilian/memstress/pkg/types"
)

// ToArrow converts a schema descriptor to an Arrow schema.
func ToArrow(s types.Schema) (*arrow.Schema, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	fields := make([]arrow.Field, len(s.Columns))
	for i, c := range s.Columns {
		dt, err := arrowType(c.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{Name: c.Name, Type: dt, Nullable: c.Nullable}
	}
	return arrow.NewSchema(fields, nil), nil
}

// FromArrow converts an Arrow schema to the descriptor stored in the log.
func FromArrow(schema *arrow.Schema) (types.Schema, error) {
	if schema == nil {
		return types.Schema{}, types.ErrEmptySchema
	}
	out := types.Schema{Version: 1, Columns: make([]types.ColumnDef, 0, schema.NumFields())}
	for _, f := range schema.Fields() {
		ct, err := columnType(f.Type)
		if err != nil {
			return types.Schema{}, fmt.Errorf("column %s: %w", f.Name, err)
		}
		out.Columns = append(out.Columns, types.ColumnDef{Name: f.Name, Type: ct, Nullable: f.Nullable})
	}
	return out, out.Validate()
}

func arrowType(t types.ColumnType) (arrow.DataType, error) {
	switch t {
	case types.ColumnInt8:
		return arrow.PrimitiveTypes.Int8, nil
	case types.ColumnInt16:
		return arrow.PrimitiveTypes.Int16, nil
	case types.ColumnInt32:
		return arrow.PrimitiveTypes.Int32, nil
	case types.ColumnInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case types.ColumnFloat32:
		return arrow.PrimitiveTypes.Float32, nil
	case types.ColumnFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case types.ColumnString:
		return arrow.BinaryTypes.String, nil
	case types.ColumnBinary:
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownColumnType, t)
	}
}

func columnType(dt arrow.DataType) (types.ColumnType, error) {
	switch dt.ID() {
	case arrow.INT8:
		return types.ColumnInt8, nil
	case arrow.INT16:
		return types.ColumnInt16, nil
	case arrow.INT32:
		return types.ColumnInt32, nil
	case arrow.INT64:
		return types.ColumnInt64, nil
	case arrow.FLOAT32:
		return types.ColumnFloat32, nil
	case arrow.FLOAT64:
		return types.ColumnFloat64, nil
	case arrow.STRING:
		return types.ColumnString, nil
	case arrow.BINARY:
		return types.ColumnBinary, nil
	default:
		return "", fmt.Errorf("%w: %s", types.ErrUnknownColumnType, dt)
	}
}
