package table

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/arkilian/memstress/pkg/types"
)

// SaveMode governs whether a write appends or requires the table to be absent.
type SaveMode string

const (
	SaveModeAppend        SaveMode = "Append"
	SaveModeErrorIfExists SaveMode = "ErrorIfExists"
	SaveModeOverwrite     SaveMode = "Overwrite"
)

const logExt = ".json"

// Action is one line of a commit file. Exactly one field is set.
type Action struct {
	CommitInfo *CommitInfo `json:"commitInfo,omitempty"`
	MetaData   *MetaData   `json:"metaData,omitempty"`
	Add        *AddFile    `json:"add,omitempty"`
}

// CommitInfo describes the operation that produced a version.
type CommitInfo struct {
	Timestamp int64    `json:"timestamp"`
	Operation string   `json:"operation"`
	Mode      SaveMode `json:"mode"`
	TxnID     string   `json:"txnId"`
}

// MetaData carries the table identity and schema. Written at version 0.
type MetaData struct {
	ID          string       `json:"id"`
	Schema      types.Schema `json:"schema"`
	CreatedTime int64        `json:"createdTime"`
}

// AddFile registers a data file with the table.
type AddFile struct {
	Path             string `json:"path"`
	Size             int64  `json:"size"`
	Rows             int64  `json:"numRows"`
	ETag             string `json:"etag,omitempty"`
	Checksum         string `json:"checksum"`
	ModificationTime int64  `json:"modificationTime"`
}

func logPath(loc Location, version int64) string {
	return fmt.Sprintf("%s%020d%s", loc.LogPrefix(), version, logExt)
}

// parseVersion extracts the version from a log object path. Objects that are
// not commit files are ignored.
func parseVersion(objectPath string) (int64, bool) {
	name := path.Base(objectPath)
	if !strings.HasSuffix(name, logExt) {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSuffix(name, logExt), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

type logEntry struct {
	version int64
	path    string
}

// logEntries returns the commit files among paths in version order.
func logEntries(paths []string) []logEntry {
	out := make([]logEntry, 0, len(paths))
	for _, p := range paths {
		if v, ok := parseVersion(p); ok {
			out = append(out, logEntry{version: v, path: p})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out
}

func encodeCommit(w io.Writer, actions []Action) error {
	enc := json.NewEncoder(w)
	for _, a := range actions {
		if err := enc.Encode(a); err != nil {
			return err
		}
	}
	return nil
}

func decodeCommit(r io.Reader) ([]Action, error) {
	dec := json.NewDecoder(r)
	var actions []Action
	for {
		var a Action
		if err := dec.Decode(&a); err != nil {
			if errors.Is(err, io.EOF) {
				return actions, nil
			}
			return nil, err
		}
		actions = append(actions, a)
	}
}
