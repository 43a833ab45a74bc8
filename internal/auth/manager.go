package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/salesboard/internal/apperr"
	"github.com/starford/salesboard/internal/models"
	"github.com/starford/salesboard/internal/store"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the profile timestamp source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// Manager runs the sign-up, sign-in and sign-out flows and tracks the user
// of the most recent session change.
type Manager struct {
	provider Provider
	profiles store.ProfileBackend
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	current  *models.User
	watchers map[int]func(*models.User)
	nextID   int
}

func NewManager(provider Provider, profiles store.ProfileBackend, opts ...ManagerOption) *Manager {
	m := &Manager{
		provider: provider,
		profiles: profiles,
		logger:   slog.Default(),
		now:      time.Now,
		watchers: make(map[int]func(*models.User)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Provider returns the name of the identity provider.
func (m *Manager) Provider() string { return m.provider.Name() }

// SignUp validates the form, creates the account and stores its profile.
func (m *Manager) SignUp(ctx context.Context, req SignUpRequest) (*Session, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := ValidateSignUp(req.Email, req.Password, req.DisplayName); err != nil {
		return nil, err
	}

	sess, err := m.provider.SignUp(ctx, req)
	if err != nil {
		m.logger.Warn("auth: sign up failed", slog.String("code", CodeOf(err)), slog.String("error", errorCause(err)))
		return nil, err
	}
	if sess.User.DisplayName == "" {
		sess.User.DisplayName = req.DisplayName
	}
	if sess.User.Company == "" {
		sess.User.Company = strings.TrimSpace(req.Company)
	}
	if sess.User.Position == "" {
		sess.User.Position = strings.TrimSpace(req.Position)
	}

	now := m.now().UTC()
	if err := m.profiles.PutProfile(ctx, models.Profile{
		UID:         sess.User.UID,
		Email:       sess.User.Email,
		DisplayName: sess.User.DisplayName,
		Company:     sess.User.Company,
		Position:    sess.User.Position,
		CreatedAt:   now,
		LastLoginAt: now,
	}); err != nil {
		return nil, newError(CodeProviderInternal, err)
	}
	m.logger.Info("auth: user signed up", slog.String("uid", sess.User.UID))

	m.setCurrent(&sess.User)
	return sess, nil
}

// SignIn authenticates and stamps the last login time. A missing profile is
// created on the fly.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := ValidateSignIn(email, password); err != nil {
		return nil, err
	}
	sess, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		m.logger.Warn("auth: sign in failed", slog.String("code", CodeOf(err)), slog.String("error", errorCause(err)))
		return nil, err
	}

	now := m.now().UTC()
	err = m.profiles.TouchLastLogin(ctx, sess.User.UID, now)
	if errors.Is(err, apperr.ErrNotFound) {
		err = m.profiles.PutProfile(ctx, models.Profile{
			UID:         sess.User.UID,
			Email:       sess.User.Email,
			DisplayName: sess.User.DisplayName,
			Company:     sess.User.Company,
			Position:    sess.User.Position,
			CreatedAt:   now,
			LastLoginAt: now,
		})
	}
	if err != nil {
		m.logger.Warn("auth: update last login", slog.String("uid", sess.User.UID), slog.String("error", err.Error()))
	}

	sess.User = m.merge(ctx, sess.User)
	m.setCurrent(&sess.User)
	return sess, nil
}

// SignOut ends the session of token.
func (m *Manager) SignOut(ctx context.Context, token string) error {
	if err := m.provider.SignOut(ctx, token); err != nil {
		return err
	}
	m.setCurrent(nil)
	return nil
}

// Resolve returns the user a session token belongs to, decorated with the
// stored profile.
func (m *Manager) Resolve(ctx context.Context, token string) (*models.User, error) {
	u, err := m.provider.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	merged := m.merge(ctx, *u)
	return &merged, nil
}

// Profile returns the stored profile of uid.
func (m *Manager) Profile(ctx context.Context, uid string) (*models.Profile, error) {
	return m.profiles.GetProfile(ctx, uid)
}

// Current returns the user of the last session change, or nil when signed out.
func (m *Manager) Current() *models.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	u := *m.current
	return &u
}

// Watch calls fn with the current user now and after every session change.
// The returned func stops the deliveries.
func (m *Manager) Watch(fn func(*models.User)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn
	m.mu.Unlock()

	fn(m.Current())
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) setCurrent(u *models.User) {
	m.mu.Lock()
	if u == nil {
		m.current = nil
	} else {
		cp := *u
		m.current = &cp
	}
	fns := make([]func(*models.User), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(m.Current())
	}
}

// merge fills the empty provider fields from the stored profile.
func (m *Manager) merge(ctx context.Context, u models.User) models.User {
	p, err := m.profiles.GetProfile(ctx, u.UID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			m.logger.Warn("auth: load profile", slog.String("uid", u.UID), slog.String("error", err.Error()))
		}
		return u
	}
	if u.DisplayName == "" {
		u.DisplayName = p.DisplayName
	}
	if u.Company == "" {
		u.Company = p.Company
	}
	if u.Position == "" {
		u.Position = p.Position
	}
	if u.Email == "" {
		u.Email = p.Email
	}
	return u
}

func errorCause(err error) string {
	if inner := errors.Unwrap(err); inner != nil {
		return inner.Error()
	}
	return err.Error()
}
