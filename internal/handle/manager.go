// Package handle owns the single shared table handle of a process, created
// or loaded on first use.
package handle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/arkilian/memstress/internal/auth"
	apperrors "github.com/arkilian/memstress/internal/errors"
	"github.com/arkilian/memstress/internal/table"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// State is the handle lifecycle. Failed attempts are not cached, so there is
// no failed state.
type State int

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "uninitialized"
}

// Manager lazily creates or loads the table at one location. Once ready the
// handle is never replaced.
type Manager struct {
	svc    table.Service
	cred   auth.Credential
	loc    table.Location
	schema *arrow.Schema
	logger *slog.Logger
	tracer trace.Tracer

	handle atomic.Pointer[table.Table]
	mu     sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// NewManager creates a manager for the table at loc with the given schema.
func NewManager(svc table.Service, cred auth.Credential, loc table.Location, schema *arrow.Schema, opts ...Option) *Manager {
	m := &Manager{
		svc:    svc,
		cred:   cred,
		loc:    loc,
		schema: schema,
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, o := range opts {
		o(m)
	}
	m.logger = m.logger.With("component", "handle", "uri", loc.URI())
	return m
}

// State reports whether the handle is ready.
func (m *Manager) State() State {
	if m.handle.Load() != nil {
		return StateReady
	}
	return StateUninitialized
}

// GetHandle returns the shared handle, creating or loading the table on the
// first successful call. Concurrent first callers wait for one acquisition.
func (m *Manager) GetHandle(ctx context.Context) (*table.Table, error) {
	if h := m.handle.Load(); h != nil {
		return h, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h := m.handle.Load(); h != nil {
		return h, nil
	}

	ctx, span := m.tracer.Start(ctx, "handle.GetHandle", trace.WithAttributes(attribute.String("table.uri", m.loc.URI())))
	defer span.End()

	h, err := m.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error("Failed to acquire table handle", "error", err)
		return nil, err
	}
	m.handle.Store(h)
	m.logger.Info("Table handle ready", "version", h.Version())
	return h, nil
}

// acquire runs one create-or-load sequence. It must be called with mu held.
func (m *Manager) acquire(ctx context.Context) (*table.Table, error) {
	exists, err := m.svc.Exists(ctx, m.loc)
	if err != nil {
		return nil, err
	}
	if exists {
		return m.load(ctx)
	}

	tok, err := m.token(ctx)
	if err != nil {
		return nil, err
	}
	h, err := m.svc.Create(ctx, m.loc, m.schema, tok.Options)
	if err == nil {
		return h, nil
	}
	if ClassifyError(err) != ClassBenignRace {
		return nil, err
	}
	m.logger.Warn("Table was created concurrently, loading it", "error", err)
	return m.load(ctx)
}

func (m *Manager) load(ctx context.Context) (*table.Table, error) {
	tok, err := m.token(ctx)
	if err != nil {
		return nil, err
	}
	return m.svc.Load(ctx, m.loc, tok.Options)
}

func (m *Manager) token(ctx context.Context) (auth.Token, error) {
	tok, err := m.cred.Token(ctx)
	if err != nil {
		return auth.Token{}, apperrors.NewHandleError(apperrors.CodeTokenUnavailable, "failed to fetch access token", err)
	}
	if tok.Expired(time.Now()) {
		return auth.Token{}, apperrors.NewHandleError(apperrors.CodeTokenUnavailable, "access token already expired", nil)
	}
	if !tok.ExpiresAt.IsZero() {
		m.logger.Debug("Fetched access token", "expires_at", tok.ExpiresAt)
	}
	return tok, nil
}
