package auth

import (
	"context"
	"errors"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/supabase-go"

	"github.com/starford/salesboard/internal/models"
)

// SupabaseProvider delegates identity to a Supabase (GoTrue) project.
type SupabaseProvider struct {
	client *supabase.Client
	now    func() time.Time
}

// NewSupabase builds a provider for the project at projectURL. No request is
// made until the first call.
func NewSupabase(projectURL, apiKey string) (*SupabaseProvider, error) {
	client, err := supabase.NewClient(strings.TrimRight(projectURL, "/"), apiKey, nil)
	if err != nil {
		return nil, err
	}
	return &SupabaseProvider{client: client, now: time.Now}, nil
}

func (p *SupabaseProvider) Name() string { return ProviderSupabase }

func (p *SupabaseProvider) SignUp(_ context.Context, req SignUpRequest) (*Session, error) {
	res, err := p.client.Auth.Signup(types.SignupRequest{
		Email:    req.Email,
		Password: req.Password,
		Data: map[string]interface{}{
			"display_name": req.DisplayName,
			"company":      req.Company,
			"position":     req.Position,
		},
	})
	if err != nil {
		return nil, gotrueError(err)
	}
	return p.session(res.Session, res.User), nil
}

func (p *SupabaseProvider) SignIn(_ context.Context, email, password string) (*Session, error) {
	res, err := p.client.Auth.SignInWithEmailPassword(email, password)
	if err != nil {
		return nil, gotrueError(err)
	}
	return p.session(res.Session, res.User), nil
}

func (p *SupabaseProvider) SignOut(_ context.Context, token string) error {
	if err := p.client.Auth.WithToken(token).Logout(); err != nil {
		return gotrueError(err)
	}
	return nil
}

func (p *SupabaseProvider) Verify(_ context.Context, token string) (*models.User, error) {
	res, err := p.client.Auth.WithToken(token).GetUser()
	if err != nil {
		e := gotrueError(err)
		if e.Code == CodeInvalidCredential {
			e.Code = CodeInvalidToken
		}
		return nil, e
	}
	u := userFromGotrue(res.User)
	return &u, nil
}

// session converts a GoTrue session. Sign-ups awaiting email confirmation
// carry no access token.
func (p *SupabaseProvider) session(s types.Session, u types.User) *Session {
	out := &Session{Token: s.AccessToken, User: userFromGotrue(u)}
	switch {
	case s.ExpiresAt > 0:
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	case s.ExpiresIn > 0:
		out.ExpiresAt = p.now().Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	return out
}

func userFromGotrue(u types.User) models.User {
	meta := func(key string) string {
		s, _ := u.UserMetadata[key].(string)
		return s
	}
	return models.User{
		UID:         u.ID.String(),
		Email:       u.Email,
		DisplayName: meta("display_name"),
		Company:     meta("company"),
		Position:    meta("position"),
	}
}

var statusPattern = regexp.MustCompile(`response status code (\d{3})`)

// gotrueError maps a GoTrue client error, which only carries the status code
// and response body as text, onto a provider code.
func gotrueError(err error) *Error {
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return newError(CodeNetworkFailed, err)
	}

	msg := err.Error()
	status := 0
	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		status, _ = strconv.Atoi(m[1])
	}
	lower := strings.ToLower(msg)
	switch {
	case status == 429:
		return newError(CodeTooManyRequests, err)
	case strings.Contains(lower, "already registered") || strings.Contains(lower, "already exists"):
		return newError(CodeEmailAlreadyInUse, err)
	case strings.Contains(lower, "invalid login credentials"):
		return newError(CodeInvalidCredential, err)
	case strings.Contains(lower, "password"):
		return newError(CodeWeakPassword, err)
	case strings.Contains(lower, "email") && status == 400:
		return newError(CodeInvalidEmail, err)
	case status == 401 || status == 403:
		return newError(CodeInvalidCredential, err)
	case status >= 500 || status == 0:
		return newError(CodeNetworkFailed, err)
	}
	return newError(CodeProviderInternal, err)
}
