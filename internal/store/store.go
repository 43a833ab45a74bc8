// Package store is the record store adapter: it maps opportunity records to
// and from backend documents, stamps audit metadata, and delivers the full
// collection to subscribers whenever it changes.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/starford/salesboard/internal/metrics"
	"github.com/starford/salesboard/internal/models"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverDynamoDB = "dynamodb"
)

// Document is the backend-neutral form of a stored opportunity. Timestamps
// are kept in the backend's native type; every other field lives in Fields.
type Document struct {
	ID        string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Backend is implemented by each storage driver.
type Backend interface {
	Driver() string
	Insert(ctx context.Context, doc Document) error
	// Merge sets the given top-level fields, leaving the others untouched.
	Merge(ctx context.Context, id string, fields map[string]any, updatedAt time.Time) error
	// AppendMeeting appends entry to meetingHistory and merges fields.
	AppendMeeting(ctx context.Context, id string, entry map[string]any, fields map[string]any, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Document, error)
	DeleteAll(ctx context.Context) error

	ProfileBackend
	CredentialBackend

	Close() error
}

// ProfileBackend stores user profile documents.
type ProfileBackend interface {
	GetProfile(ctx context.Context, uid string) (*models.Profile, error)
	PutProfile(ctx context.Context, p models.Profile) error
	TouchLastLogin(ctx context.Context, uid string, at time.Time) error
}

// CredentialBackend stores local email/password logins and revoked session ids.
type CredentialBackend interface {
	CreateCredential(ctx context.Context, c models.Credential) error
	CredentialByEmail(ctx context.Context, email string) (*models.Credential, error)
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithMetrics records snapshot and decode counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithPollInterval re-lists the collection periodically to pick up writes
// made by other processes. Zero disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) { s.pollInterval = d }
}

// WithWatchFile watches a database file for writes made by other processes.
func WithWatchFile(path string) Option {
	return func(s *Store) { s.watchPath = path }
}

// WithOpTimeout bounds every backend call.
func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) { s.opTimeout = d }
}

// Store is the record store adapter.
type Store struct {
	backend Backend
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string

	opTimeout    time.Duration
	pollInterval time.Duration
	watchPath    string

	changes chan struct{}

	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextSub uint64
	lastSum string
}

// New wraps an initialized backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/starford/salesboard/internal/store"),
		now:       time.Now,
		newID:     uuid.NewString,
		opTimeout: 5 * time.Second,
		changes:   make(chan struct{}, 1),
		subs:      make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether the backend client is configured and initialized.
// It never performs a network round trip.
func (s *Store) Available() bool {
	return s != nil && s.backend != nil
}

// Driver returns the backend driver name.
func (s *Store) Driver() string {
	return s.backend.Driver()
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, context.CancelFunc) {
	ctx, span := s.tracer.Start(ctx, "store."+op, trace.WithAttributes(
		append(attrs, attribute.String("store.driver", s.backend.Driver()))...))
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	return ctx, span, cancel
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Create stores a new record. It stamps createdAt and updatedAt, attaches
// the creator when actor is non-nil, and returns the assigned id.
func (s *Store) Create(ctx context.Context, o models.Opportunity, actor *models.UserRef) (id string, err error) {
	id = s.newID()
	ctx, span, cancel := s.startSpan(ctx, "Create", attribute.String("opportunity.id", id))
	defer cancel()
	defer func() { endSpan(span, err) }()

	now := s.now().UTC()
	o.ID = id
	o.CreatedAt, o.UpdatedAt = now, now
	o.ActionItems = models.CleanList(o.ActionItems)
	if actor != nil {
		o.CreatedBy = actor
		o.LastModifiedBy = actor
	}
	fields, err := encodeFields(o)
	if err != nil {
		return "", err
	}
	if err := s.backend.Insert(ctx, Document{ID: id, Fields: fields, CreatedAt: now, UpdatedAt: now}); err != nil {
		return "", fmt.Errorf("store: create: %w", err)
	}
	s.Notify()
	return id, nil
}

// Update merges the present fields of o into the stored record. Absent
// optional fields are left as stored. The creator and the meeting history
// are never overwritten by an update.
func (s *Store) Update(ctx context.Context, id string, o models.Opportunity, actor *models.UserRef) (err error) {
	ctx, span, cancel := s.startSpan(ctx, "Update", attribute.String("opportunity.id", id))
	defer cancel()
	defer func() { endSpan(span, err) }()

	o.ActionItems = models.CleanList(o.ActionItems)
	o.LastModifiedBy = actor
	fields, err := encodeFields(o)
	if err != nil {
		return err
	}
	delete(fields, "createdBy")
	delete(fields, "meetingHistory")

	if err := s.backend.Merge(ctx, id, fields, s.now().UTC()); err != nil {
		return fmt.Errorf("store: update %s: %w", id, err)
	}
	s.Notify()
	return nil
}

// SetStage changes only the stage of a record.
func (s *Store) SetStage(ctx context.Context, id, stage string, actor *models.UserRef) (err error) {
	ctx, span, cancel := s.startSpan(ctx, "SetStage", attribute.String("opportunity.id", id), attribute.String("stage", stage))
	defer cancel()
	defer func() { endSpan(span, err) }()

	fields := map[string]any{"stage": stage}
	if actor != nil {
		ref, err := encodeValue(actor)
		if err != nil {
			return err
		}
		fields["lastModifiedBy"] = ref
	}
	if err := s.backend.Merge(ctx, id, fields, s.now().UTC()); err != nil {
		return fmt.Errorf("store: set stage %s: %w", id, err)
	}
	s.Notify()
	return nil
}

// AppendMeeting appends one meeting-history entry to a record.
func (s *Store) AppendMeeting(ctx context.Context, id string, entry models.MeetingEntry, actor *models.UserRef) (err error) {
	ctx, span, cancel := s.startSpan(ctx, "AppendMeeting", attribute.String("opportunity.id", id))
	defer cancel()
	defer func() { endSpan(span, err) }()

	encoded, err := encodeValue(entry)
	if err != nil {
		return err
	}
	fields := map[string]any{}
	if actor != nil {
		ref, err := encodeValue(actor)
		if err != nil {
			return err
		}
		fields["lastModifiedBy"] = ref
	}
	if err := s.backend.AppendMeeting(ctx, id, encoded, fields, s.now().UTC()); err != nil {
		return fmt.Errorf("store: append meeting %s: %w", id, err)
	}
	s.Notify()
	return nil
}

// Remove deletes a record.
func (s *Store) Remove(ctx context.Context, id string) (err error) {
	ctx, span, cancel := s.startSpan(ctx, "Remove", attribute.String("opportunity.id", id))
	defer cancel()
	defer func() { endSpan(span, err) }()

	if err := s.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("store: remove %s: %w", id, err)
	}
	s.Notify()
	return nil
}

// ClearAll deletes every record. Meant for development resets only.
func (s *Store) ClearAll(ctx context.Context) (err error) {
	ctx, span, cancel := s.startSpan(ctx, "ClearAll")
	defer cancel()
	defer func() { endSpan(span, err) }()

	if err := s.backend.DeleteAll(ctx); err != nil {
		return fmt.Errorf("store: clear all: %w", err)
	}
	s.Notify()
	return nil
}

// ListAll returns every decodable record ordered by updatedAt descending.
// Documents that fail to decode are logged and skipped.
func (s *Store) ListAll(ctx context.Context) (_ []models.Opportunity, err error) {
	ctx, span, cancel := s.startSpan(ctx, "ListAll")
	defer cancel()
	defer func() { endSpan(span, err) }()

	docs, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	out := make([]models.Opportunity, 0, len(docs))
	for _, doc := range docs {
		o, err := decodeDocument(doc)
		if err != nil {
			s.metrics.SkippedDocument()
			s.logger.Warn("store: skipping document", slog.String("id", doc.ID), slog.String("error", err.Error()))
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	span.SetAttributes(attribute.Int("opportunity.count", len(out)))
	return out, nil
}

// Profiles exposes the profile documents of the backend.
func (s *Store) Profiles() ProfileBackend {
	return s.backend
}

// Credentials exposes the credential storage of the backend.
func (s *Store) Credentials() CredentialBackend {
	return s.backend
}
