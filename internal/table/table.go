package table

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/arkilian/memstress/internal/storage"
	"github.com/arkilian/memstress/pkg/types"
)

// Table is an open handle to an append-only table. It is not safe for
// concurrent mutation; appends must be serialized by the caller.
type Table struct {
	loc     Location
	id      string
	desc    types.Schema
	schema  *arrow.Schema
	store   storage.ObjectStorage
	version int64
	files   []AddFile
}

// Location returns the location the table is bound to.
func (t *Table) Location() Location { return t.loc }

// ID returns the table identity recorded at creation.
func (t *Table) ID() string { return t.id }

// Schema returns the table's Arrow schema.
func (t *Table) Schema() *arrow.Schema { return t.schema }

// Descriptor returns the schema descriptor stored in the log.
func (t *Table) Descriptor() types.Schema { return t.desc }

// Version returns the latest committed version.
func (t *Table) Version() int64 { return t.version }

// Files returns a copy of the data files added so far.
func (t *Table) Files() []AddFile {
	out := make([]AddFile, len(t.files))
	copy(out, t.files)
	return out
}

// NumRows returns the total row count over all data files.
func (t *Table) NumRows() int64 {
	var n int64
	for _, f := range t.files {
		n += f.Rows
	}
	return n
}
