// Package auth signs users up, in and out through a pluggable provider and
// keeps the profile documents that decorate the provider identity.
package auth

import (
	"context"
	"time"

	"github.com/starford/salesboard/internal/models"
)

// Provider names.
const (
	ProviderLocal    = "local"
	ProviderSupabase = "supabase"
)

// SignUpRequest carries the sign-up form.
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
	Company     string
	Position    string
}

// Session is an authenticated session issued by a provider.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      models.User `json:"user"`
}

// Provider is an identity backend. Failures are returned as *Error.
type Provider interface {
	Name() string
	SignUp(ctx context.Context, req SignUpRequest) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, token string) error
	// Verify resolves a session token into the user it was issued to.
	Verify(ctx context.Context, token string) (*models.User, error)
}
