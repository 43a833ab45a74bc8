package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/salesboard/internal/apperr"
)

const (
	gotrueUID   = "5b7f1c1e-7a43-4a39-9a55-0d6f7a3c2e11"
	gotrueToken = "access-token-1"
)

func gotrueUser() map[string]any {
	return map[string]any{
		"id":    gotrueUID,
		"email": "kim@example.com",
		"user_metadata": map[string]any{
			"display_name": "김영업",
			"company":      "Acme",
		},
	}
}

func fakeGotrue(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string         `json:"email"`
			Data  map[string]any `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Email == "taken@example.com" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "msg": "User already registered"})
			return
		}
		assert.Equal(t, "김영업", body.Data["display_name"])
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": gotrueToken,
			"token_type":   "bearer",
			"expires_in":   3600,
			"expires_at":   1772357400,
			"user":         gotrueUser(),
		})
	})
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body.Email {
		case "busy@example.com":
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"msg": "rate limited"})
		case "kim@example.com":
			if body.Password != "secret123" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": gotrueToken,
				"token_type":   "bearer",
				"expires_in":   3600,
				"user":         gotrueUser(),
			})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"})
		}
	})
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+gotrueToken {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "invalid JWT"})
			return
		}
		writeJSON(w, http.StatusOK, gotrueUser())
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSupabaseProviderFlow(t *testing.T) {
	srv := fakeGotrue(t)
	p, err := NewSupabase(srv.URL, "anon-key")
	require.NoError(t, err)
	m := NewManager(p, NewMemoryStore())
	ctx := context.Background()

	sess, err := m.SignUp(ctx, signUpForm())
	require.NoError(t, err)
	assert.Equal(t, gotrueToken, sess.Token)
	assert.Equal(t, gotrueUID, sess.User.UID)
	assert.Equal(t, int64(1772357400), sess.ExpiresAt.Unix())

	sess, err = m.SignIn(ctx, "kim@example.com", "secret123")
	require.NoError(t, err)
	assert.False(t, sess.ExpiresAt.IsZero())

	u, err := m.Resolve(ctx, gotrueToken)
	require.NoError(t, err)
	assert.Equal(t, "Acme", u.Company)
	assert.Equal(t, "팀장", u.Position, "position comes from the stored profile")

	require.NoError(t, m.SignOut(ctx, gotrueToken))
}

func TestSupabaseErrorMapping(t *testing.T) {
	srv := fakeGotrue(t)
	p, err := NewSupabase(srv.URL, "anon-key")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = p.SignIn(ctx, "kim@example.com", "wrong123")
	assert.Equal(t, CodeInvalidCredential, CodeOf(err))
	assert.Equal(t, "인증 정보가 올바르지 않습니다.", err.Error())

	_, err = p.SignIn(ctx, "busy@example.com", "secret123")
	assert.Equal(t, CodeTooManyRequests, CodeOf(err))

	form := signUpForm()
	form.Email = "taken@example.com"
	_, err = p.SignUp(ctx, form)
	assert.Equal(t, CodeEmailAlreadyInUse, CodeOf(err))

	_, err = p.Verify(ctx, "stale")
	assert.Equal(t, CodeInvalidToken, CodeOf(err))
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestSupabaseUnreachable(t *testing.T) {
	srv := fakeGotrue(t)
	url := srv.URL
	srv.Close()

	p, err := NewSupabase(url, "anon-key")
	require.NoError(t, err)
	_, err = p.SignIn(context.Background(), "kim@example.com", "secret123")
	assert.Equal(t, CodeNetworkFailed, CodeOf(err))
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
}

func TestNewSupabaseRequiresConfig(t *testing.T) {
	_, err := NewSupabase("", "")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, apperr.ErrUnavailable))
}
