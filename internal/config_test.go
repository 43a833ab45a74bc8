package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/salesboard/internal/store"
	pkgconfig "github.com/starford/salesboard/pkg/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should pass: %v", err)
	}
	if cfg.Auth.AuthEnabled() {
		t.Error("auth should be disabled by default")
	}
	if got := cfg.Store.StoreConfig(); got.Driver != store.DriverSQLite || got.SQLitePath == "" {
		t.Errorf("store config = %+v", got)
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled || cfg.Provider != "local" {
		t.Errorf("mode = %q, provider = %q", cfg.Mode, cfg.Provider)
	}
}

func TestAuthConfig_LocalNeedsSecret(t *testing.T) {
	cfg := AuthConfig{Mode: AuthModeSession, Provider: "local"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("session mode without jwt secret should fail")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.JWTSecret = "s3cret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("session mode with secret should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("session mode should be enabled")
	}
}

func TestAuthConfig_SupabaseNeedsURLAndKey(t *testing.T) {
	cfg := AuthConfig{Mode: AuthModeSession, Provider: "supabase"}
	cfg.Supabase.URL = "https://example.supabase.co"
	if err := cfg.Validate(); err == nil {
		t.Fatal("supabase without key should fail")
	}
	cfg.Supabase.Key = "anon"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("supabase with url and key should pass: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "token"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
	cfg = AuthConfig{Mode: AuthModeSession, Provider: "ldap", JWTSecret: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid provider should fail validation")
	}
}

func TestStoreConfig_DriverRequirements(t *testing.T) {
	cfg := StoreConfig{Driver: store.DriverPostgres}
	if err := cfg.Validate(); err == nil {
		t.Fatal("postgres without dsn should fail")
	}
	cfg.Postgres.DSN = "postgres://localhost/salesboard"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("postgres with dsn should pass: %v", err)
	}

	empty := StoreConfig{}
	if err := empty.Validate(); err != nil || empty.Driver != store.DriverNone {
		t.Errorf("empty driver = %q, err = %v", empty.Driver, err)
	}

	bad := StoreConfig{Driver: "mongo"}
	if err := bad.Validate(); err == nil {
		t.Error("unknown driver should fail")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = AuthModeSession
	cfg.Auth.JWTSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestLoadYAMLWithEnv(t *testing.T) {
	t.Setenv("SALESBOARD_TEST_SECRET", "from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9090
    cors_origins: ["http://localhost:5173"]
store:
  driver: dynamodb
  poll_interval: 2s
  dynamodb:
    table: salesboard
    region: ap-northeast-2
stages:
  file: ./stages.yaml
summarizer:
  model: gpt-4o-mini
  max_tokens: 800
  timeout: 30s
auth:
  mode: session
  jwt_secret: ${SALESBOARD_TEST_SECRET}
  token_ttl: 12h
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTP.Address() != ":9090" || len(cfg.App.HTTP.CORSOrigins) != 1 {
		t.Errorf("http = %+v", cfg.App.HTTP)
	}
	if cfg.Auth.JWTSecret != "from-env" || cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	sc := cfg.Store.StoreConfig()
	if sc.Driver != store.DriverDynamoDB || sc.DynamoTable != "salesboard" || sc.PollInterval != 2*time.Second {
		t.Errorf("store = %+v", sc)
	}
	if sum := cfg.Summarizer.SummarizeConfig(); sum.MaxTokens != 800 || sum.Timeout != 30*time.Second || sum.BreakerFailures == 0 {
		t.Errorf("summarizer = %+v", sum)
	}
}

func TestSampleConfigLoadsWithFallbacks(t *testing.T) {
	for _, name := range []string{"PORT", "STORE_DRIVER", "AUTH_MODE", "LOG_LEVEL"} {
		t.Setenv(name, "")
	}
	t.Setenv("PORT", "9100")

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(filepath.Join("..", "config", "config.yaml"), cfg); err != nil {
		t.Fatalf("load sample config: %v", err)
	}
	if cfg.App.HTTP.Port != 9100 {
		t.Errorf("port = %d, want 9100 from env", cfg.App.HTTP.Port)
	}
	if cfg.Store.Driver != store.DriverSQLite || cfg.Auth.Mode != AuthModeDisabled {
		t.Errorf("fallbacks not applied: driver %q, auth %q", cfg.Store.Driver, cfg.Auth.Mode)
	}
}
