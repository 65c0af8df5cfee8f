package types

import "errors"

// Schema descriptor errors
var (
	// ErrUnknownColumnType is returned when a descriptor names a type outside ColumnTypes
	ErrUnknownColumnType = errors.New("unknown column type")

	// ErrDuplicateColumn is returned when two columns share a name
	ErrDuplicateColumn = errors.New("duplicate column name")

	// ErrEmptySchema is returned when a descriptor has no columns
	ErrEmptySchema = errors.New("schema has no columns")
)
