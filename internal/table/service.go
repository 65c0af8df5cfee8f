// Package table implements an append-only table on object storage: a
// transaction log of newline-delimited JSON commits plus one Arrow IPC data
// file per append.
package table

//go:generate mockgen -source service.go -destination service_mocks.go -package table

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/arkilian/memstress/internal/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// StorageOptions carries per-call credentials for the storage opener.
type StorageOptions map[string]string

// Storage option keys.
const (
	OptionBearerToken     = "bearer_token"
	OptionAccessKeyID     = "aws_access_key_id"
	OptionSecretAccessKey = "aws_secret_access_key"
	OptionSessionToken    = "aws_session_token"
)

// Service is the remote table contract.
type Service interface {
	// Exists reports whether the table's log prefix lists at least one entry.
	Exists(ctx context.Context, loc Location) (bool, error)

	// Create creates the table if absent.
	Create(ctx context.Context, loc Location, schema *arrow.Schema, opts StorageOptions) (*Table, error)

	// Load opens an existing table.
	Load(ctx context.Context, loc Location, opts StorageOptions) (*Table, error)

	// Append commits rec as a new version of tbl.
	Append(ctx context.Context, tbl *Table, rec arrow.Record, schema *arrow.Schema, mode SaveMode) error
}

// Opener returns the object storage for a container. Nil opts means the
// ambient credentials of the process.
type Opener interface {
	Open(ctx context.Context, container string, opts StorageOptions) (storage.ObjectStorage, error)
}

// ObjectStoreService implements Service on top of an Opener.
type ObjectStoreService struct {
	opener      Opener
	workDir     string
	mem         memory.Allocator
	logger      *slog.Logger
	tracer      trace.Tracer
	concurrency int
	now         func() time.Time
}

// ServiceOption configures an ObjectStoreService.
type ServiceOption func(*ObjectStoreService)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *ObjectStoreService) { s.logger = l }
}

// WithTracer sets the tracer used for create, load and append spans.
func WithTracer(t trace.Tracer) ServiceOption {
	return func(s *ObjectStoreService) { s.tracer = t }
}

// WithAllocator sets the allocator used for IPC encoding.
func WithAllocator(mem memory.Allocator) ServiceOption {
	return func(s *ObjectStoreService) { s.mem = mem }
}

// WithDownloadConcurrency sets how many log entries Load fetches in parallel.
func WithDownloadConcurrency(n int) ServiceOption {
	return func(s *ObjectStoreService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewObjectStoreService creates a table service. workDir holds staged log
// entries and data files before upload.
func NewObjectStoreService(opener Opener, workDir string, opts ...ServiceOption) (*ObjectStoreService, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	s := &ObjectStoreService{
		opener:      opener,
		workDir:     workDir,
		mem:         memory.NewGoAllocator(),
		logger:      slog.Default(),
		tracer:      noop.NewTracerProvider().Tracer(""),
		concurrency: 8,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "table")
	return s, nil
}

// Exists lists the log prefix with ambient credentials.
func (s *ObjectStoreService) Exists(ctx context.Context, loc Location) (bool, error) {
	st, err := s.opener.Open(ctx, loc.Container, nil)
	if err != nil {
		return false, newError(KindStorage, err, "failed to open storage for %s", loc)
	}
	entries, err := st.ListObjects(ctx, loc.LogPrefix())
	if err != nil {
		return false, newError(KindStorage, err, "failed to list %s", loc.LogPrefix())
	}
	return len(entries) > 0, nil
}

// Create writes version 0 with a create-if-absent put.
func (s *ObjectStoreService) Create(ctx context.Context, loc Location, schema *arrow.Schema, opts StorageOptions) (_ *Table, err error) {
	ctx, span := s.tracer.Start(ctx, "table.Create", trace.WithAttributes(attribute.String("table.uri", loc.URI())))
	defer func() { endSpan(span, err) }()

	if err := loc.Validate(); err != nil {
		return nil, newError(KindInvalidArgument, err, "invalid location")
	}
	desc, err := FromArrow(schema)
	if err != nil {
		return nil, newError(KindInvalidArgument, err, "invalid schema")
	}
	st, err := s.opener.Open(ctx, loc.Container, opts)
	if err != nil {
		return nil, newError(KindStorage, err, "failed to open storage for %s", loc)
	}

	entries, err := st.ListObjects(ctx, loc.LogPrefix())
	if err != nil {
		return nil, newError(KindStorage, err, "failed to list %s", loc.LogPrefix())
	}
	if len(logEntries(entries)) > 0 {
		return nil, newError(KindGeneric, nil, "SaveMode `%s` is not allowed for create operation", SaveModeErrorIfExists)
	}

	now := s.now()
	meta := MetaData{ID: uuid.NewString(), Schema: desc, CreatedTime: now.UnixMilli()}
	actions := []Action{
		{CommitInfo: &CommitInfo{Timestamp: now.UnixMilli(), Operation: "CREATE TABLE", Mode: SaveModeErrorIfExists, TxnID: uuid.NewString()}},
		{MetaData: &meta},
	}
	if err := s.commit(ctx, st, loc, 0, actions); err != nil {
		return nil, err
	}

	s.logger.Info("Created table", "uri", loc.URI(), "table_id", meta.ID)
	return &Table{loc: loc, id: meta.ID, desc: desc, schema: schema, store: st}, nil
}

// Load replays the log in version order.
func (s *ObjectStoreService) Load(ctx context.Context, loc Location, opts StorageOptions) (_ *Table, err error) {
	ctx, span := s.tracer.Start(ctx, "table.Load", trace.WithAttributes(attribute.String("table.uri", loc.URI())))
	defer func() { endSpan(span, err) }()

	if err := loc.Validate(); err != nil {
		return nil, newError(KindInvalidArgument, err, "invalid location")
	}
	st, err := s.opener.Open(ctx, loc.Container, opts)
	if err != nil {
		return nil, newError(KindStorage, err, "failed to open storage for %s", loc)
	}
	listed, err := st.ListObjects(ctx, loc.LogPrefix())
	if err != nil {
		return nil, newError(KindStorage, err, "failed to list %s", loc.LogPrefix())
	}
	entries := logEntries(listed)
	if len(entries) == 0 {
		return nil, newError(KindNotFound, nil, "no log files found for table at %s", loc.URI())
	}

	dir, err := os.MkdirTemp(s.workDir, "load-*")
	if err != nil {
		return nil, newError(KindStorage, err, "failed to create download directory")
	}
	defer os.RemoveAll(dir)

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.path
	}
	res, err := storage.NewBatchDownloader(st, s.concurrency, dir).Download(ctx, paths)
	if err != nil {
		return nil, newError(KindStorage, err, "failed to download log")
	}
	if err := res.Err(paths); err != nil {
		return nil, newError(KindStorage, err, "failed to download log")
	}

	tbl := &Table{loc: loc, store: st, version: -1}
	for i, e := range entries {
		if e.version != int64(i) {
			return nil, newError(KindCorruptLog, nil, "log is missing version %d", i)
		}
		data, err := os.ReadFile(res.LocalPaths[e.path])
		if err != nil {
			return nil, newError(KindStorage, err, "failed to read log entry %d", e.version)
		}
		actions, err := decodeCommit(bytes.NewReader(data))
		if err != nil {
			return nil, newError(KindCorruptLog, err, "failed to decode log entry %d", e.version)
		}
		for _, a := range actions {
			switch {
			case a.MetaData != nil:
				tbl.id = a.MetaData.ID
				tbl.desc = a.MetaData.Schema
			case a.Add != nil:
				tbl.files = append(tbl.files, *a.Add)
			}
		}
		tbl.version = e.version
	}
	if tbl.id == "" {
		return nil, newError(KindCorruptLog, nil, "log has no metadata for %s", loc.URI())
	}
	if tbl.schema, err = ToArrow(tbl.desc); err != nil {
		return nil, newError(KindCorruptLog, err, "invalid schema in log")
	}

	s.logger.Info("Loaded table", "uri", loc.URI(), "version", tbl.version, "files", len(tbl.files))
	return tbl, nil
}

// Append uploads rec as a data file and commits the next version.
func (s *ObjectStoreService) Append(ctx context.Context, tbl *Table, rec arrow.Record, schema *arrow.Schema, mode SaveMode) (err error) {
	if tbl == nil || rec == nil {
		return newError(KindInvalidArgument, nil, "table and record are required")
	}
	ctx, span := s.tracer.Start(ctx, "table.Append", trace.WithAttributes(
		attribute.String("table.uri", tbl.loc.URI()),
		attribute.Int64("table.version", tbl.version),
		attribute.Int64("batch.rows", rec.NumRows()),
	))
	defer func() { endSpan(span, err) }()

	if mode != SaveModeAppend {
		return newError(KindInvalidArgument, nil, "SaveMode `%s` is not supported for append", mode)
	}
	if schema == nil {
		schema = rec.Schema()
	}
	if !schema.Equal(tbl.schema) || !rec.Schema().Equal(tbl.schema) {
		return newError(KindSchemaMismatch, nil, "batch schema does not match table schema")
	}

	name := "part-" + uuid.NewString() + DataFileExt
	local := filepath.Join(s.workDir, name)
	defer os.Remove(local)

	size, checksum, err := writeDataFile(local, rec, s.mem)
	if err != nil {
		return newError(KindGeneric, err, "failed to encode batch")
	}
	objectPath := path.Join(tbl.loc.Root(), name)
	etag, err := tbl.store.UploadMultipart(ctx, local, objectPath)
	if err != nil {
		return newError(KindStorage, err, "failed to upload data file")
	}

	now := s.now().UnixMilli()
	next := tbl.version + 1
	add := AddFile{Path: name, Size: size, Rows: rec.NumRows(), ETag: etag, Checksum: checksum, ModificationTime: now}
	actions := []Action{
		{CommitInfo: &CommitInfo{Timestamp: now, Operation: "WRITE", Mode: mode, TxnID: uuid.NewString()}},
		{Add: &add},
	}
	if err := s.commit(ctx, tbl.store, tbl.loc, next, actions); err != nil {
		var te *Error
		if errors.As(err, &te) && te.Kind == KindTransaction {
			// Another writer holds this version; nothing references the file.
			if delErr := tbl.store.Delete(ctx, objectPath); delErr != nil {
				s.logger.Warn("Failed to delete orphaned data file", "path", objectPath, "error", delErr)
			}
		} else {
			s.logger.Warn("Commit outcome unknown, keeping data file", "path", objectPath, "version", next, "error", err)
		}
		return err
	}

	tbl.version = next
	tbl.files = append(tbl.files, add)
	s.logger.Debug("Committed append", "uri", tbl.loc.URI(), "version", next, "rows", add.Rows, "bytes", size)
	return nil
}

// commit claims version with a create-if-absent put of the encoded actions.
// A rejected or failed put is checked against the stored entry: when it
// carries this commit's transaction id the commit landed.
func (s *ObjectStoreService) commit(ctx context.Context, st storage.ObjectStorage, loc Location, version int64, actions []Action) error {
	f, err := os.CreateTemp(s.workDir, "commit-*.json")
	if err != nil {
		return newError(KindStorage, err, "failed to stage commit")
	}
	defer os.Remove(f.Name())

	if err := encodeCommit(f, actions); err != nil {
		f.Close()
		return newError(KindGeneric, err, "failed to encode commit")
	}
	if err := f.Close(); err != nil {
		return newError(KindStorage, err, "failed to stage commit")
	}

	err = st.ConditionalPut(ctx, f.Name(), logPath(loc, version), storage.IfNoneMatch)
	if err == nil {
		return nil
	}
	if s.landed(ctx, st, loc, version, txnID(actions)) {
		s.logger.Info("Commit landed despite error", "uri", loc.URI(), "version", version, "error", err)
		return nil
	}
	if errors.Is(err, storage.ErrPreconditionFailed) {
		return newError(KindTransaction, err, "transaction failed, version %d already exists", version)
	}
	return newError(KindStorage, err, "failed to commit version %d", version)
}

// landed reports whether the stored entry for version carries txn.
func (s *ObjectStoreService) landed(ctx context.Context, st storage.ObjectStorage, loc Location, version int64, txn string) bool {
	if txn == "" {
		return false
	}
	f, err := os.CreateTemp(s.workDir, "verify-*.json")
	if err != nil {
		return false
	}
	f.Close()
	defer os.Remove(f.Name())

	if err := st.Download(ctx, logPath(loc, version), f.Name()); err != nil {
		return false
	}
	data, err := os.ReadFile(f.Name())
	if err != nil {
		return false
	}
	stored, err := decodeCommit(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return txnID(stored) == txn
}

func txnID(actions []Action) string {
	for _, a := range actions {
		if a.CommitInfo != nil {
			return a.CommitInfo.TxnID
		}
	}
	return ""
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
