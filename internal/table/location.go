package table

import (
	"fmt"
	"path"
	"strings"
)

// LogDir is the transaction log directory under a table root. A table
// exists once at least one object is listed under it.
const LogDir = "_txn_log"

// Location names a table. Container selects the bucket (S3) or the
// directory under the storage root (local); Account and Path form the key
// prefix inside it.
type Location struct {
	Scheme    string
	Account   string
	Container string
	Path      string
}

// Root is the key prefix holding the table's data files and log.
func (l Location) Root() string {
	return path.Join(l.Account, strings.Trim(l.Path, "/"))
}

// LogPrefix is the prefix listed to decide whether the table exists.
func (l Location) LogPrefix() string {
	return l.Root() + "/" + LogDir + "/"
}

// URI renders the location for logs and span attributes.
func (l Location) URI() string {
	scheme := l.Scheme
	if scheme == "" {
		scheme = "file"
	}
	return fmt.Sprintf("%s://%s@%s/%s", scheme, l.Container, l.Account, strings.Trim(l.Path, "/"))
}

func (l Location) String() string {
	return l.URI()
}

// Validate checks that every component is present and free of traversal.
func (l Location) Validate() error {
	for name, v := range map[string]string{"account": l.Account, "container": l.Container, "path": l.Path} {
		if strings.Trim(v, "/") == "" {
			return fmt.Errorf("table location: %s is required", name)
		}
		for _, seg := range strings.Split(v, "/") {
			if seg == ".." {
				return fmt.Errorf("table location: %s must not contain '..'", name)
			}
		}
	}
	if strings.Contains(l.Container, "/") {
		return fmt.Errorf("table location: container must be a single name, got %q", l.Container)
	}
	return nil
}
