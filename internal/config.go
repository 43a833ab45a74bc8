package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/salesboard/internal/auth"
	"github.com/starford/salesboard/internal/store"
	"github.com/starford/salesboard/internal/summarize"
	"github.com/starford/salesboard/internal/tracing"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeSession  = "session"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Store      StoreConfig       `yaml:"store"`
	Stages     StagesConfig      `yaml:"stages"`
	Summarizer SummarizerConfig  `yaml:"summarizer"`
	Auth       AuthConfig        `yaml:"auth"`
	Realtime   RealtimeConfig    `yaml:"realtime"`
	Tracing    tracing.Config    `yaml:"tracing"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Stages.Validate(); err != nil {
		return err
	}
	if err := c.Summarizer.Validate(); err != nil {
		return err
	}
	if err := c.Realtime.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig selects the shared record store. Driver "none" runs the
// pipeline disconnected with an in-memory collection.
type StoreConfig struct {
	Driver       string        `yaml:"driver"`
	PollInterval time.Duration `yaml:"poll_interval"`
	SQLite       struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	DynamoDB struct {
		Table    string `yaml:"table"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"dynamodb"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = store.DriverNone
	}
	return c.StoreConfig().Validate()
}

// StoreConfig converts the section into the store package's config.
func (c *StoreConfig) StoreConfig() store.Config {
	return store.Config{
		Driver:         c.Driver,
		SQLitePath:     c.SQLite.Path,
		PostgresDSN:    c.Postgres.DSN,
		DynamoTable:    c.DynamoDB.Table,
		DynamoRegion:   c.DynamoDB.Region,
		DynamoEndpoint: c.DynamoDB.Endpoint,
		PollInterval:   c.PollInterval,
	}
}

// StagesConfig holds the path of the stage registry file.
type StagesConfig struct {
	File string `yaml:"file"`
}

// Validate validates the stages configuration.
func (c *StagesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.File, validation.Required),
	)
}

// SummarizerConfig configures the meeting summarizer. An empty or
// malformed API key leaves summarization unavailable without failing startup.
type SummarizerConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	Breaker     struct {
		Failures uint32        `yaml:"failures"`
		Cooldown time.Duration `yaml:"cooldown"`
	} `yaml:"breaker"`
}

// Validate validates the summarizer configuration.
func (c *SummarizerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.Temperature, validation.Min(float32(0)), validation.Max(float32(2))),
		validation.Field(&c.MaxTokens, validation.Min(1)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// SummarizeConfig converts the section into the summarize package's config.
func (c *SummarizerConfig) SummarizeConfig() summarize.Config {
	return summarize.Config{
		APIKey:          c.APIKey,
		BaseURL:         c.BaseURL,
		Model:           c.Model,
		Temperature:     c.Temperature,
		MaxTokens:       c.MaxTokens,
		Timeout:         c.Timeout,
		BreakerFailures: c.Breaker.Failures,
		BreakerCooldown: c.Breaker.Cooldown,
	}
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): every request is anonymous, records carry no attribution.
//   - "session": sign-in is required; Provider picks local accounts or Supabase.
type AuthConfig struct {
	Mode      string        `yaml:"mode"`
	Provider  string        `yaml:"provider"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	Supabase  struct {
		URL string `yaml:"url"`
		Key string `yaml:"key"`
	} `yaml:"supabase"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if c.Provider == "" {
		c.Provider = auth.ProviderLocal
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeSession)),
		validation.Field(&c.Provider, validation.In(auth.ProviderLocal, auth.ProviderSupabase)),
		validation.Field(&c.TokenTTL, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if !c.AuthEnabled() {
		return nil
	}
	switch c.Provider {
	case auth.ProviderLocal:
		if c.JWTSecret == "" {
			return fmt.Errorf("auth: provider %q requires jwt_secret", auth.ProviderLocal)
		}
	case auth.ProviderSupabase:
		if c.Supabase.URL == "" || c.Supabase.Key == "" {
			return fmt.Errorf("auth: provider %q requires supabase url and key", auth.ProviderSupabase)
		}
	}
	return nil
}

// AuthEnabled returns true when sign-in is required.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeSession
}

// RealtimeConfig tunes the SSE and WebSocket feeds.
type RealtimeConfig struct {
	SnapshotThrottle time.Duration `yaml:"snapshot_throttle"`
	WSOrigins        []string      `yaml:"ws_origins"`
}

// Validate validates the realtime configuration.
func (c *RealtimeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SnapshotThrottle, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	sum := summarize.DefaultConfig("")
	cfg := &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Driver:       store.DriverSQLite,
			PollInterval: 5 * time.Second,
		},
		Stages: StagesConfig{
			File: "./data/stages.yaml",
		},
		Summarizer: SummarizerConfig{
			Model:       sum.Model,
			Temperature: sum.Temperature,
			MaxTokens:   sum.MaxTokens,
			Timeout:     sum.Timeout,
		},
		Auth: AuthConfig{
			Mode:     AuthModeDisabled,
			Provider: auth.ProviderLocal,
			TokenTTL: 24 * time.Hour,
		},
		Realtime: RealtimeConfig{
			SnapshotThrottle: 250 * time.Millisecond,
		},
		Tracing: tracing.Config{
			ServiceName: "salesboard",
			SampleRatio: 1,
		},
	}
	cfg.Store.SQLite.Path = "./data/salesboard.db"
	cfg.Summarizer.Breaker.Failures = sum.BreakerFailures
	cfg.Summarizer.Breaker.Cooldown = sum.BreakerCooldown
	return cfg
}
