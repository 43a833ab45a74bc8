package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DriverNone runs without a shared backend.
const DriverNone = "none"

// ErrNotConfigured is returned by Open when the driver is "none".
var ErrNotConfigured = errors.New("store: no backend configured")

// Config selects and configures a backend.
type Config struct {
	Driver         string
	SQLitePath     string
	PostgresDSN    string
	DynamoTable    string
	DynamoRegion   string
	DynamoEndpoint string
	// PollInterval applies to the drivers that cannot be watched locally.
	PollInterval time.Duration
}

// Validate checks that every value required by the driver is present.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required,
			validation.In(DriverNone, DriverSQLite, DriverPostgres, DriverDynamoDB)),
		validation.Field(&c.SQLitePath, validation.When(c.Driver == DriverSQLite, validation.Required)),
		validation.Field(&c.PostgresDSN, validation.When(c.Driver == DriverPostgres, validation.Required)),
		validation.Field(&c.DynamoTable, validation.When(c.Driver == DriverDynamoDB, validation.Required)),
		validation.Field(&c.PollInterval, validation.Min(time.Duration(0))),
	)
}

// Open initializes the configured backend and wraps it in a Store. It
// returns ErrNotConfigured for the "none" driver.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("store: config: %w", err)
	}

	var (
		backend Backend
		err     error
	)
	switch cfg.Driver {
	case DriverNone:
		return nil, ErrNotConfigured
	case DriverSQLite:
		backend, err = OpenSQLite(cfg.SQLitePath)
		opts = append(opts, WithWatchFile(cfg.SQLitePath))
	case DriverPostgres:
		backend, err = OpenPostgres(cfg.PostgresDSN)
		opts = append(opts, WithPollInterval(cfg.PollInterval))
	case DriverDynamoDB:
		backend, err = OpenDynamoDB(ctx, cfg.DynamoTable, cfg.DynamoRegion, cfg.DynamoEndpoint)
		opts = append(opts, WithPollInterval(cfg.PollInterval))
	}
	if err != nil {
		return nil, err
	}
	return New(backend, opts...), nil
}
