// Package pipeline owns the in-memory opportunity collection shared by every
// caller. In connected mode mutations go to the record store and the
// collection is replaced by subscription deliveries; in disconnected mode
// mutations apply directly to a local collection.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/starford/salesboard/internal/apperr"
	"github.com/starford/salesboard/internal/metrics"
	"github.com/starford/salesboard/internal/models"
	"github.com/starford/salesboard/internal/store"
)

// Modes reported by Mode.
const (
	ModeConnected    = "connected"
	ModeDisconnected = "disconnected"
)

// Remote is the record store used in connected mode.
type Remote interface {
	Available() bool
	Create(ctx context.Context, o models.Opportunity, actor *models.UserRef) (string, error)
	Update(ctx context.Context, id string, o models.Opportunity, actor *models.UserRef) error
	SetStage(ctx context.Context, id, stage string, actor *models.UserRef) error
	AppendMeeting(ctx context.Context, id string, entry models.MeetingEntry, actor *models.UserRef) error
	Remove(ctx context.Context, id string) error
	Subscribe(fn func([]models.Opportunity)) *store.Subscription
}

// StageSet reports which stage ids are currently configured.
type StageSet interface {
	Has(id string) bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics counts mutations.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides the clock used for local ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the opportunity state manager. It is safe for concurrent use.
type Manager struct {
	remote    Remote
	connected bool
	stages    StageSet

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	// deliverMu serializes watcher fan-out so snapshots arrive in order.
	deliverMu sync.Mutex

	mu       sync.RWMutex
	records  []models.Opportunity
	errMsg   string
	lastID   int64
	sub      *store.Subscription
	watchers map[int]func([]models.Opportunity)
	nextW    int
}

// New creates a manager. The mode is decided here, once: connected when
// remote is non-nil and reports itself available.
func New(remote Remote, stages StageSet, opts ...Option) *Manager {
	m := &Manager{
		remote:   remote,
		stages:   stages,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/starford/salesboard/internal/pipeline"),
		now:      time.Now,
		records:  []models.Opportunity{},
		watchers: make(map[int]func([]models.Opportunity)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.connected = remote != nil && remote.Available()
	return m
}

// Start subscribes to the record store in connected mode. It is a no-op
// in disconnected mode.
func (m *Manager) Start() {
	if !m.connected {
		m.logger.Info("pipeline: running disconnected, changes stay in memory")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub == nil {
		m.sub = m.remote.Subscribe(m.replace)
	}
}

// Close releases the store subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// Connected reports whether mutations are delegated to the record store.
func (m *Manager) Connected() bool { return m.connected }

// Mode returns ModeConnected or ModeDisconnected.
func (m *Manager) Mode() string {
	if m.connected {
		return ModeConnected
	}
	return ModeDisconnected
}

// Err returns the message of the last failed mutation, or "".
func (m *Manager) Err() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errMsg
}

// ClearErr empties the error slot.
func (m *Manager) ClearErr() {
	m.mu.Lock()
	m.errMsg = ""
	m.mu.Unlock()
}

// List returns a copy of the current collection in display order.
func (m *Manager) List() []models.Opportunity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneAll(m.records)
}

// Get returns one record of the current collection.
func (m *Manager) Get(id string) (models.Opportunity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexOf(id); i >= 0 {
		return m.records[i].Clone(), nil
	}
	return models.Opportunity{}, apperr.ErrNotFound
}

// Watch registers fn to receive every new collection. Deliveries are
// sequential and newest last; fn must not mutate the manager. The returned
// func unregisters it.
func (m *Manager) Watch(fn func([]models.Opportunity)) func() {
	m.mu.Lock()
	m.nextW++
	id := m.nextW
	m.watchers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// replace installs a delivered collection and fans it out to watchers.
func (m *Manager) replace(records []models.Opportunity) {
	m.mu.Lock()
	m.records = records
	m.mu.Unlock()
	m.notify()
}

// notify takes the snapshot while holding deliverMu, so a later mutation
// always delivers after an earlier one.
func (m *Manager) notify() {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.RLock()
	snapshot := cloneAll(m.records)
	fns := make([]func([]models.Opportunity), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()
	for _, fn := range fns {
		fn(snapshot)
	}
}

func (m *Manager) indexOf(id string) int {
	return slices.IndexFunc(m.records, func(o models.Opportunity) bool { return o.ID == id })
}

// nextID returns a clock-based id that is strictly greater than the last one.
// Callers hold m.mu.
func (m *Manager) nextID() string {
	ms := m.now().UnixMilli()
	if ms <= m.lastID {
		ms = m.lastID + 1
	}
	m.lastID = ms
	return strconv.FormatInt(ms, 10)
}

func (m *Manager) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "pipeline."+op, trace.WithAttributes(
		append(attrs, attribute.String("pipeline.mode", m.Mode()))...))
}

// finish records the outcome of a mutation. Store failures become a
// *UserError and fill the error slot.
func (m *Manager) finish(span trace.Span, op string, err error) error {
	defer span.End()
	m.metrics.Mutation(op, m.Mode(), err)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}
	ue := &UserError{Op: op, Message: userMessage(op, err), Err: err}
	m.logger.Error("pipeline: mutation failed",
		slog.String("op", op),
		slog.String("mode", m.Mode()),
		slog.String("error", err.Error()))
	m.mu.Lock()
	m.errMsg = ue.Message
	m.mu.Unlock()
	return ue
}

// Validate checks a record the way Add does, without storing it. Callers
// use it to reject a form before any collaborator call.
func (m *Manager) Validate(o models.Opportunity) error {
	prepare(&o)
	return m.validate(&o)
}

func (m *Manager) validate(o *models.Opportunity) error {
	err := validation.ValidateStruct(o,
		validation.Field(&o.Client, validation.Required.Error("고객사명을 입력해주세요.")),
		validation.Field(&o.Date, validation.Required.Error("미팅 날짜를 입력해주세요."),
			validation.Date(models.DateLayout).Error("날짜는 YYYY-MM-DD 형식이어야 합니다.")),
		validation.Field(&o.Assignee, validation.Required.Error("담당자를 입력해주세요.")),
		validation.Field(&o.Stage, validation.Required, validation.By(m.stageExists)),
		validation.Field(&o.Priority, validation.In(models.PriorityHigh, models.PriorityMedium, models.PriorityLow)),
		validation.Field(&o.EstimatedValue, validation.Min(int64(0))),
		validation.Field(&o.NextMeetingDate, validation.Date(models.DateLayout)),
	)
	if err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

func (m *Manager) stageExists(value any) error {
	id, _ := value.(string)
	if id != "" && !m.stages.Has(id) {
		return validation.NewError("validation_unknown_stage", "존재하지 않는 영업 단계입니다.")
	}
	return nil
}

func prepare(o *models.Opportunity) {
	if o.Stage == "" {
		o.Stage = models.StageLead
	}
	o.ActionItems = models.CleanList(o.ActionItems)
	if o.ContactInfo.IsEmpty() {
		o.ContactInfo = nil
	}
}

// Add validates and stores a new record. It returns the assigned id.
func (m *Manager) Add(ctx context.Context, o models.Opportunity, actor *models.UserRef) (id string, err error) {
	ctx, span := m.startSpan(ctx, OpAdd)
	defer func() { err = m.finish(span, OpAdd, err) }()

	prepare(&o)
	if err := m.validate(&o); err != nil {
		return "", err
	}

	if m.connected {
		return m.remote.Create(ctx, o, actor)
	}

	m.mu.Lock()
	now := m.now().UTC()
	o.ID = m.nextID()
	o.CreatedAt, o.UpdatedAt = now, now
	o.CreatedBy, o.LastModifiedBy = actor, actor
	if o.MeetingHistory == nil {
		o.MeetingHistory = []models.MeetingEntry{}
	}
	m.records = append(m.records, o.Clone())
	m.mu.Unlock()
	m.notify()
	return o.ID, nil
}

// Edit replaces the editable fields of an existing record. Absent optional
// fields keep their stored values; the creator and the meeting history are
// never changed by an edit.
func (m *Manager) Edit(ctx context.Context, o models.Opportunity, actor *models.UserRef) (err error) {
	ctx, span := m.startSpan(ctx, OpEdit, attribute.String("opportunity.id", o.ID))
	defer func() { err = m.finish(span, OpEdit, err) }()

	prepare(&o)
	if err := m.validate(&o); err != nil {
		return err
	}
	if o.ID == "" {
		return &ValidationError{Err: validation.Errors{"id": validation.ErrRequired}}
	}

	if m.connected {
		return m.remote.Update(ctx, o.ID, o, actor)
	}

	m.mu.Lock()
	i := m.indexOf(o.ID)
	if i < 0 {
		m.mu.Unlock()
		return apperr.ErrNotFound
	}
	m.records[i] = merge(m.records[i], o, actor, m.now().UTC())
	m.mu.Unlock()
	m.notify()
	return nil
}

func merge(cur, in models.Opportunity, actor *models.UserRef, now time.Time) models.Opportunity {
	out := cur.Clone()
	out.Client, out.Date, out.Assignee = in.Client, in.Date, in.Assignee
	out.Summary = in.Summary
	out.ActionItems = in.ActionItems
	out.Stage = in.Stage
	if in.EstimatedValue != nil {
		v := *in.EstimatedValue
		out.EstimatedValue = &v
	}
	if in.NextMeetingDate != "" {
		out.NextMeetingDate = in.NextMeetingDate
	}
	if in.Priority != "" {
		out.Priority = in.Priority
	}
	if in.ContactInfo != nil {
		ci := *in.ContactInfo
		out.ContactInfo = &ci
	}
	if in.OriginalContent != "" {
		out.OriginalContent = in.OriginalContent
	}
	if actor != nil {
		out.LastModifiedBy = actor
	}
	out.UpdatedAt = now
	return out
}

// Delete removes a record.
func (m *Manager) Delete(ctx context.Context, id string) (err error) {
	ctx, span := m.startSpan(ctx, OpDelete, attribute.String("opportunity.id", id))
	defer func() { err = m.finish(span, OpDelete, err) }()

	if m.connected {
		return m.remote.Remove(ctx, id)
	}

	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return apperr.ErrNotFound
	}
	m.records = slices.Delete(m.records, i, i+1)
	m.mu.Unlock()
	m.notify()
	return nil
}

// ChangeStage moves a record to another configured stage.
func (m *Manager) ChangeStage(ctx context.Context, id, stage string, actor *models.UserRef) (err error) {
	ctx, span := m.startSpan(ctx, OpChangeStage, attribute.String("opportunity.id", id), attribute.String("stage", stage))
	defer func() { err = m.finish(span, OpChangeStage, err) }()

	if verr := validation.Validate(stage, validation.Required, validation.By(m.stageExists)); verr != nil {
		return &ValidationError{Err: validation.Errors{"stage": verr}}
	}

	if m.connected {
		return m.remote.SetStage(ctx, id, stage, actor)
	}

	m.mu.Lock()
	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return apperr.ErrNotFound
	}
	m.records[i].Stage = stage
	m.records[i].UpdatedAt = m.now().UTC()
	if actor != nil {
		m.records[i].LastModifiedBy = actor
	}
	m.mu.Unlock()
	m.notify()
	return nil
}

func validateMeeting(e *models.MeetingEntry) error {
	err := validation.ValidateStruct(e,
		validation.Field(&e.Date, validation.Required.Error("미팅 날짜를 입력해주세요."), validation.Date(models.DateLayout)),
		validation.Field(&e.Type, validation.In(anySlice(models.MeetingTypes)...)),
		validation.Field(&e.Outcome, validation.In(anySlice(models.MeetingOutcomes)...)),
		validation.Field(&e.Summary, validation.Required.Error("미팅 요약을 입력해주세요.")),
	)
	if err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// AddMeeting appends a meeting-history entry to a record and returns the
// entry as stored, with its assigned id.
func (m *Manager) AddMeeting(ctx context.Context, id string, entry models.MeetingEntry, actor *models.UserRef) (_ models.MeetingEntry, err error) {
	ctx, span := m.startSpan(ctx, OpAddMeeting, attribute.String("opportunity.id", id))
	defer func() { err = m.finish(span, OpAddMeeting, err) }()

	if entry.Type == "" {
		entry.Type = models.MeetingFollowUp
	}
	if entry.Outcome == "" {
		entry.Outcome = models.OutcomeNeutral
	}
	entry.ActionItems = models.CleanList(entry.ActionItems)
	entry.Attendees = models.CleanList(entry.Attendees)
	entry.NextSteps = models.CleanList(entry.NextSteps)
	if err := validateMeeting(&entry); err != nil {
		return models.MeetingEntry{}, err
	}

	m.mu.Lock()
	entry.ID = m.nextID()
	if m.connected {
		m.mu.Unlock()
		if err := m.remote.AppendMeeting(ctx, id, entry, actor); err != nil {
			return models.MeetingEntry{}, err
		}
		return entry, nil
	}

	i := m.indexOf(id)
	if i < 0 {
		m.mu.Unlock()
		return models.MeetingEntry{}, apperr.ErrNotFound
	}
	m.records[i].MeetingHistory = append(m.records[i].MeetingHistory, entry.Clone())
	m.records[i].UpdatedAt = m.now().UTC()
	if actor != nil {
		m.records[i].LastModifiedBy = actor
	}
	m.mu.Unlock()
	m.notify()
	return entry, nil
}

func cloneAll(records []models.Opportunity) []models.Opportunity {
	out := make([]models.Opportunity, len(records))
	for i := range records {
		out[i] = records[i].Clone()
	}
	return out
}
