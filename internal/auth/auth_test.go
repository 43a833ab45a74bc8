package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/starford/salesboard/internal/apperr"
	"github.com/starford/salesboard/internal/models"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newLocal(t *testing.T) (*Manager, *MemoryStore, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	mem := NewMemoryStore()
	mem.now = clk.now
	p, err := NewLocal(mem, "test-secret", time.Hour, WithBcryptCost(bcrypt.MinCost), WithTokenClock(clk.now))
	require.NoError(t, err)
	return NewManager(p, mem, WithClock(clk.now)), mem, clk
}

func signUpForm() SignUpRequest {
	return SignUpRequest{
		Email:       "kim@example.com",
		Password:    "secret123",
		DisplayName: "김영업",
		Company:     "Acme",
		Position:    "팀장",
	}
}

func TestValidateSignUpMessages(t *testing.T) {
	cases := []struct {
		email, password, name string
		want                  string
	}{
		{"", "secret123", "Kim", missingFieldsMessage},
		{"kim@example.com", "", "Kim", missingFieldsMessage},
		{"kim@example", "secret123", "Kim", invalidEmailMessage},
		{"kim @example.com", "secret123", "Kim", invalidEmailMessage},
		{"kim@example.com", "a1b2", "Kim", shortPasswordMessage},
		{"kim@example.com", "abcdefgh", "Kim", passwordMixMessage},
		{"kim@example.com", "12345678", "Kim", passwordMixMessage},
		{"kim@example.com", "secret123", "   ", missingNameMessage},
		{"kim@example.com", "secret123", "Kim", ""},
	}
	for _, tc := range cases {
		err := ValidateSignUp(tc.email, tc.password, tc.name)
		if tc.want == "" {
			assert.NoError(t, err)
			continue
		}
		require.Error(t, err, "%+v", tc)
		assert.Equal(t, tc.want, err.Error())
		assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	}
}

func TestMessageFallsBackToDefault(t *testing.T) {
	assert.Equal(t, "이미 사용 중인 이메일입니다.", Message(CodeEmailAlreadyInUse))
	assert.Equal(t, "네트워크 연결을 확인해주세요.", Message(CodeNetworkFailed))
	assert.Equal(t, defaultMessage, Message("auth/operation-not-allowed"))
}

func TestLocalSignUpStoresProfileAndResolves(t *testing.T) {
	m, mem, _ := newLocal(t)
	ctx := context.Background()

	sess, err := m.SignUp(ctx, signUpForm())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, "kim@example.com", sess.User.Email)
	assert.Equal(t, "Acme", sess.User.Company)

	p, err := mem.GetProfile(ctx, sess.User.UID)
	require.NoError(t, err)
	assert.Equal(t, "김영업", p.DisplayName)
	assert.Equal(t, "팀장", p.Position)
	assert.Equal(t, p.CreatedAt, p.LastLoginAt)

	u, err := m.Resolve(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.User.UID, u.UID)
	assert.Equal(t, "Acme", u.Company, "profile fills fields the token does not carry")
	assert.Equal(t, "김영업", u.Ref().Name)
}

func TestLocalSignInErrors(t *testing.T) {
	m, _, _ := newLocal(t)
	ctx := context.Background()
	_, err := m.SignUp(ctx, signUpForm())
	require.NoError(t, err)

	_, err = m.SignIn(ctx, "kim@example.com", "wrong123")
	assert.Equal(t, CodeWrongPassword, CodeOf(err))
	assert.Equal(t, "비밀번호가 올바르지 않습니다.", err.Error())
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = m.SignIn(ctx, "lee@example.com", "secret123")
	assert.Equal(t, CodeUserNotFound, CodeOf(err))

	_, err = m.SignUp(ctx, signUpForm())
	assert.Equal(t, CodeEmailAlreadyInUse, CodeOf(err))
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)

	_, err = m.SignIn(ctx, "not-an-email", "secret123")
	assert.Equal(t, invalidEmailMessage, err.Error())
	assert.Empty(t, CodeOf(err))
}

func TestSignInTouchesLastLogin(t *testing.T) {
	m, mem, clk := newLocal(t)
	ctx := context.Background()
	sess, err := m.SignUp(ctx, signUpForm())
	require.NoError(t, err)

	clk.advance(2 * time.Hour)
	again, err := m.SignIn(ctx, "KIM@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, sess.User.UID, again.User.UID)

	p, err := mem.GetProfile(ctx, sess.User.UID)
	require.NoError(t, err)
	assert.Equal(t, clk.now(), p.LastLoginAt)
	assert.True(t, p.LastLoginAt.After(p.CreatedAt))
}

func TestSignOutRevokesToken(t *testing.T) {
	m, _, _ := newLocal(t)
	ctx := context.Background()
	sess, err := m.SignUp(ctx, signUpForm())
	require.NoError(t, err)
	require.NotNil(t, m.Current())

	require.NoError(t, m.SignOut(ctx, sess.Token))
	assert.Nil(t, m.Current())

	_, err = m.Resolve(ctx, sess.Token)
	assert.Equal(t, CodeInvalidToken, CodeOf(err))
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.True(t, errors.Is(err, ErrRevokedToken))
}

func TestExpiredAndForgedTokens(t *testing.T) {
	m, mem, clk := newLocal(t)
	ctx := context.Background()
	sess, err := m.SignUp(ctx, signUpForm())
	require.NoError(t, err)

	other, err := NewLocal(mem, "another-secret", time.Hour, WithTokenClock(clk.now))
	require.NoError(t, err)
	_, err = other.Verify(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Resolve(ctx, "Bearer "+sess.Token)
	assert.NoError(t, err)

	clk.advance(2 * time.Hour)
	_, err = m.Resolve(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = m.Resolve(ctx, "")
	assert.Equal(t, CodeInvalidToken, CodeOf(err))
}

func TestWatchDeliversSessionChanges(t *testing.T) {
	m, _, _ := newLocal(t)
	ctx := context.Background()

	var seen []*models.User
	stop := m.Watch(func(u *models.User) { seen = append(seen, u) })

	sess, err := m.SignUp(ctx, signUpForm())
	require.NoError(t, err)
	require.NoError(t, m.SignOut(ctx, sess.Token))
	stop()
	_, err = m.SignIn(ctx, "kim@example.com", "secret123")
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.Nil(t, seen[0])
	require.NotNil(t, seen[1])
	assert.Equal(t, "kim@example.com", seen[1].Email)
	assert.Nil(t, seen[2])
}

func TestNewLocalRequiresSecret(t *testing.T) {
	_, err := NewLocal(NewMemoryStore(), "", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSecret)
}
