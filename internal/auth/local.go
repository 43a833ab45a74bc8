package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/starford/salesboard/internal/apperr"
	"github.com/starford/salesboard/internal/models"
	"github.com/starford/salesboard/internal/store"
)

const (
	defaultTokenTTL = 24 * time.Hour
	tokenIssuer     = "salesboard"
)

var (
	ErrMissingSecret = errors.New("auth: jwt secret is required")
	ErrExpiredToken  = errors.New("auth: token has expired")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrRevokedToken  = errors.New("auth: token was revoked")
)

// claims are the session token claims. Subject holds the uid and ID the
// session id used for revocation.
type claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// LocalOption configures a LocalProvider.
type LocalOption func(*LocalProvider)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) LocalOption {
	return func(p *LocalProvider) { p.cost = cost }
}

// WithTokenClock overrides the time source used to issue and check tokens.
func WithTokenClock(now func() time.Time) LocalOption {
	return func(p *LocalProvider) { p.now = now }
}

// LocalProvider keeps bcrypt-hashed credentials in the record store backend
// and issues HS256 session tokens.
type LocalProvider struct {
	creds  store.CredentialBackend
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

// NewLocal builds a local provider. A zero ttl means one day.
func NewLocal(creds store.CredentialBackend, secret string, ttl time.Duration, opts ...LocalOption) (*LocalProvider, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	p := &LocalProvider{
		creds:  creds,
		secret: []byte(secret),
		ttl:    ttl,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *LocalProvider) Name() string { return ProviderLocal }

func (p *LocalProvider) SignUp(ctx context.Context, req SignUpRequest) (*Session, error) {
	if !ValidateEmail(req.Email) {
		return nil, newError(CodeInvalidEmail, nil)
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, newError(CodeWeakPassword, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), p.cost)
	if err != nil {
		return nil, newError(CodeWeakPassword, err)
	}

	cred := models.Credential{
		UID:          uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		CreatedAt:    p.now().UTC(),
	}
	if err := p.creds.CreateCredential(ctx, cred); err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			return nil, newError(CodeEmailAlreadyInUse, err)
		}
		return nil, newError(CodeProviderInternal, err)
	}
	return p.issue(models.User{UID: cred.UID, Email: cred.Email, DisplayName: cred.DisplayName})
}

func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	cred, err := p.creds.CredentialByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, newError(CodeUserNotFound, err)
	}
	if err != nil {
		return nil, newError(CodeProviderInternal, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, newError(CodeWrongPassword, err)
	}
	return p.issue(models.User{UID: cred.UID, Email: cred.Email, DisplayName: cred.DisplayName})
}

// SignOut revokes the session id of token until the token would expire.
func (p *LocalProvider) SignOut(ctx context.Context, token string) error {
	c, err := p.parse(token)
	if err != nil {
		return newError(CodeInvalidToken, err)
	}
	if err := p.creds.RevokeToken(ctx, c.ID, c.ExpiresAt.Time); err != nil {
		return newError(CodeProviderInternal, err)
	}
	return nil
}

func (p *LocalProvider) Verify(ctx context.Context, token string) (*models.User, error) {
	c, err := p.parse(token)
	if err != nil {
		return nil, newError(CodeInvalidToken, err)
	}
	revoked, err := p.creds.IsRevoked(ctx, c.ID)
	if err != nil {
		return nil, newError(CodeProviderInternal, err)
	}
	if revoked {
		return nil, newError(CodeInvalidToken, ErrRevokedToken)
	}
	return &models.User{UID: c.Subject, Email: c.Email, DisplayName: c.Name}, nil
}

func (p *LocalProvider) issue(u models.User) (*Session, error) {
	now := p.now()
	exp := now.Add(p.ttl)
	c := claims{
		Email: u.Email,
		Name:  u.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.UID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
	if err != nil {
		return nil, newError(CodeProviderInternal, fmt.Errorf("auth: sign token: %w", err))
	}
	return &Session{Token: signed, ExpiresAt: exp.UTC(), User: u}, nil
}

func (p *LocalProvider) parse(token string) (*claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Subject == "" || c.ID == "" || c.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	return c, nil
}
