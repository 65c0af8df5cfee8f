package table

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"
)

// DataFileExt is the suffix of data files: a snappy-framed Arrow IPC stream.
const DataFileExt = ".arrows.sz"

// writeDataFile encodes rec to path and returns the file size and the murmur3
// checksum of the bytes written.
func writeDataFile(path string, rec arrow.Record, mem memory.Allocator) (int64, string, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := murmur3.New128()
	sz := snappy.NewBufferedWriter(io.MultiWriter(f, h))
	w := ipc.NewWriter(sz, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err := w.Write(rec); err != nil {
		w.Close()
		return 0, "", fmt.Errorf("write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, "", fmt.Errorf("close ipc writer: %w", err)
	}
	if err := sz.Close(); err != nil {
		return 0, "", fmt.Errorf("flush snappy: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, "", err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, "", err
	}
	h1, h2 := h.Sum128()
	return info.Size(), fmt.Sprintf("%016x%016x", h1, h2), nil
}

// ReadDataFile decodes every record in a data file. The caller releases them.
func ReadDataFile(path string, mem memory.Allocator) ([]arrow.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rdr, err := ipc.NewReader(snappy.NewReader(f), ipc.WithAllocator(mem))
	if err != nil {
		return nil, fmt.Errorf("open ipc reader: %w", err)
	}
	defer rdr.Release()

	var out []arrow.Record
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		out = append(out, rec)
	}
	if err := rdr.Err(); err != nil {
		for _, r := range out {
			r.Release()
		}
		return nil, err
	}
	return out, nil
}

// Checksum returns the murmur3 checksum of a file in the form stored in add
// actions.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := murmur3.New128()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	h1, h2 := h.Sum128()
	return fmt.Sprintf("%016x%016x", h1, h2), nil
}
