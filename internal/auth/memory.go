package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/starford/salesboard/internal/apperr"
	"github.com/starford/salesboard/internal/models"
)

// MemoryStore keeps profiles, credentials and revoked session ids in
// process memory. It backs the local provider when no record store is
// configured; everything is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
	creds    map[string]models.Credential
	revoked  map[string]time.Time
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]models.Profile),
		creds:    make(map[string]models.Credential),
		revoked:  make(map[string]time.Time),
		now:      time.Now,
	}
}

func (m *MemoryStore) GetProfile(_ context.Context, uid string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[uid]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) PutProfile(_ context.Context, p models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.profiles[p.UID]; ok {
		p.CreatedAt = old.CreatedAt
	}
	m.profiles[p.UID] = p
	return nil
}

func (m *MemoryStore) TouchLastLogin(_ context.Context, uid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[uid]
	if !ok {
		return apperr.ErrNotFound
	}
	p.LastLoginAt = at
	m.profiles[uid] = p
	return nil
}

func (m *MemoryStore) CreateCredential(_ context.Context, c models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(c.Email)
	if _, ok := m.creds[key]; ok {
		return apperr.ErrAlreadyExists
	}
	c.Email = key
	m.creds[key] = c
	return nil
}

func (m *MemoryStore) CredentialByEmail(_ context.Context, email string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[strings.ToLower(email)]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) RevokeToken(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for id, exp := range m.revoked {
		if exp.Before(now) {
			delete(m.revoked, id)
		}
	}
	m.revoked[jti] = expiresAt
	return nil
}

func (m *MemoryStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.revoked[jti]
	return ok, nil
}
