// Package types provides the schema descriptor shared by the configuration,
// the batch builder, and the table transaction log.
package types

import "fmt"

// ColumnType names a column type in a schema descriptor.
type ColumnType string

const (
	ColumnInt8    ColumnType = "int8"
	ColumnInt16   ColumnType = "int16"
	ColumnInt32   ColumnType = "int32"
	ColumnInt64   ColumnType = "int64"
	ColumnFloat32 ColumnType = "float32"
	ColumnFloat64 ColumnType = "float64"
	ColumnString  ColumnType = "string"
	ColumnBinary  ColumnType = "binary"
)

// ColumnTypes lists every column type a descriptor may use.
var ColumnTypes = []ColumnType{
	ColumnInt8, ColumnInt16, ColumnInt32, ColumnInt64,
	ColumnFloat32, ColumnFloat64, ColumnString, ColumnBinary,
}

// Valid reports whether t is one of ColumnTypes.
func (t ColumnType) Valid() bool {
	for _, c := range ColumnTypes {
		if c == t {
			return true
		}
	}
	return false
}

// Schema defines the structure of the stress table.
type Schema struct {
	// Version tracks schema evolution of the transaction log format
	Version int `json:"version" yaml:"version"`

	// Columns defines the columns in the schema
	Columns []ColumnDef `json:"columns" yaml:"columns"`
}

// ColumnDef defines a single column in the schema.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name" yaml:"name"`

	// Type is one of ColumnTypes
	Type ColumnType `json:"type" yaml:"type"`

	// Nullable indicates whether the column can contain NULL values
	Nullable bool `json:"nullable" yaml:"nullable"`
}

// StringColumnName is the single text column the stress batches carry by default.
const StringColumnName = "colStringTest"

// DefaultSchema returns the one-column, non-nullable text schema.
func DefaultSchema() Schema {
	return Schema{
		Version: 1,
		Columns: []ColumnDef{{Name: StringColumnName, Type: ColumnString, Nullable: false}},
	}
}

// Validate checks that the schema has at least one column, that column names
// are unique, and that every type is known.
func (s Schema) Validate() error {
	if len(s.Columns) == 0 {
		return ErrEmptySchema
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if !c.Type.Valid() {
			return fmt.Errorf("%w: %q (column %s)", ErrUnknownColumnType, c.Type, c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateColumn, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}
