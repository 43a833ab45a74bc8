// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/starford/salesboard/internal/api"
	"github.com/starford/salesboard/internal/auth"
	"github.com/starford/salesboard/internal/export"
	"github.com/starford/salesboard/internal/mcpserver"
	"github.com/starford/salesboard/internal/metrics"
	"github.com/starford/salesboard/internal/models"
	"github.com/starford/salesboard/internal/pipeline"
	"github.com/starford/salesboard/internal/sse"
	"github.com/starford/salesboard/internal/stages"
	"github.com/starford/salesboard/internal/store"
	"github.com/starford/salesboard/internal/summarize"
	"github.com/starford/salesboard/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

// components are the long-lived parts shared by every front end.
type components struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	store      *store.Store // nil when running disconnected
	stages     *stages.Registry
	pipeline   *pipeline.Manager
	summarizer *summarize.Client
	auth       *auth.Manager // nil when auth is disabled

	shutdownTracing tracing.Shutdown
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// setup builds every component from the configuration. The caller must
// call close when done. On failure, whatever was already built is closed.
func (a *application) setup(ctx context.Context) (_ *components, err error) {
	cfg := a.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("stages_file", cfg.Stages.File),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c := &components{logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	shutdown, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	c.shutdownTracing = shutdown

	if err := ensureDir(cfg.Stages.File); err != nil {
		return nil, fmt.Errorf("create stages dir: %w", err)
	}
	c.stages, err = stages.New(stages.WithFile(cfg.Stages.File), stages.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init stages: %w", err)
	}

	// Initialize the record store. Driver "none" keeps the pipeline in memory.
	if cfg.Store.Driver == store.DriverSQLite {
		if err := ensureDir(cfg.Store.SQLite.Path); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(ctx, cfg.Store.StoreConfig(),
		store.WithLogger(logger),
		store.WithMetrics(c.metrics))
	switch {
	case errors.Is(err, store.ErrNotConfigured):
		logger.Warn("No record store configured, changes stay in memory")
	case err != nil:
		return nil, fmt.Errorf("init store: %w", err)
	default:
		c.store = st
	}

	var remote pipeline.Remote
	if c.store != nil {
		remote = c.store
	}
	c.pipeline = pipeline.New(remote, c.stages,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(c.metrics))

	c.summarizer, err = summarize.New(cfg.Summarizer.SummarizeConfig(),
		summarize.WithLogger(logger),
		summarize.WithMetrics(c.metrics))
	if err != nil {
		return nil, fmt.Errorf("init summarizer: %w", err)
	}
	if !c.summarizer.Available() {
		logger.Warn("Summarizer API key missing or malformed, summaries are disabled")
	}

	if cfg.Auth.AuthEnabled() {
		if c.auth, err = c.newAuth(cfg.Auth); err != nil {
			return nil, fmt.Errorf("init auth: %w", err)
		}
	}

	return c, nil
}

// newAuth selects the identity provider. Without a record store, local
// accounts and profiles live in memory and are lost on restart.
func (c *components) newAuth(cfg AuthConfig) (*auth.Manager, error) {
	var (
		profiles store.ProfileBackend
		creds    store.CredentialBackend
	)
	if c.store != nil {
		profiles, creds = c.store.Profiles(), c.store.Credentials()
	} else {
		mem := auth.NewMemoryStore()
		profiles, creds = mem, mem
		c.logger.Warn("Accounts are kept in memory because no record store is configured")
	}

	var (
		provider auth.Provider
		err      error
	)
	switch cfg.Provider {
	case auth.ProviderSupabase:
		provider, err = auth.NewSupabase(cfg.Supabase.URL, cfg.Supabase.Key)
	default:
		provider, err = auth.NewLocal(creds, cfg.JWTSecret, cfg.TokenTTL)
	}
	if err != nil {
		return nil, err
	}
	c.logger.Info("Auth provider ready", slog.String("provider", provider.Name()))
	return auth.NewManager(provider, profiles, auth.WithLogger(c.logger)), nil
}

// close releases the components. It accepts a partially built set.
func (c *components) close() {
	if c.pipeline != nil {
		c.pipeline.Close()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Error("Store close error", slog.String("error", err.Error()))
		}
	}
	if c.shutdownTracing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.shutdownTracing(ctx); err != nil {
		c.logger.Error("Tracing shutdown error", slog.String("error", err.Error()))
	}
}

// runStore runs the store change loop until ctx is done. It is a no-op
// when running disconnected.
func (c *components) runStore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Run(ctx); err != nil {
		return fmt.Errorf("store change loop: %w", err)
	}
	return nil
}

func writeStatus(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	c, err := app.setup(ctx)
	if err != nil {
		return err
	}
	defer c.close()
	logger := c.logger

	// Realtime feeds.
	broker := sse.NewBroker(cfg.Realtime.SnapshotThrottle, sse.WithMetrics(c.metrics))
	defer broker.Close()
	stopRecords := c.pipeline.Watch(func(records []models.Opportunity) {
		broker.PublishSnapshot(records)
	})
	defer stopRecords()
	stopStages := c.stages.Watch(func(list []models.Stage) {
		broker.Publish(sse.Event{Type: sse.EventStages, Data: list})
	})
	defer stopStages()

	c.pipeline.Start()

	authMode := api.AuthDisabled
	if c.auth != nil {
		authMode = api.AuthSession
	}
	apiRouter := api.NewRouter(api.Deps{
		Pipeline:   c.pipeline,
		Stages:     c.stages,
		Summarizer: c.summarizer,
		Auth:       c.auth,
		AuthMode:   authMode,
		Broker:     broker,
		WSOrigins:  cfg.Realtime.WSOrigins,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.App.HTTP.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(c.metrics.Middleware)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, map[string]any{
			"status": "ok",
			"mode":   c.pipeline.Mode(),
		})
	})
	r.Handle("/metrics", c.metrics.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("mode", c.pipeline.Mode()))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.runStore(gCtx)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Close SSE and WebSocket streams first so Shutdown does not wait on them.
		broker.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the errgroup context so the store loop stops with
// the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	c, err := app.setup(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	storeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := c.runStore(storeCtx); err != nil {
			c.logger.Error("Store loop stopped", slog.String("error", err.Error()))
		}
	}()
	c.pipeline.Start()

	c.logger.Info("MCP server starting on stdio", slog.String("mode", c.pipeline.Mode()))
	return mcpserver.New(c.pipeline, c.stages, c.summarizer).ServeStdio()
}

// Export writes every stored record to w in the given format and returns
// the suggested file name.
func Export(ctx context.Context, format export.Format, w io.Writer, opts ...Option) (string, error) {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return "", err
	}
	c, err := app.setup(ctx)
	if err != nil {
		return "", err
	}
	defer c.close()

	if c.store == nil {
		return "", fmt.Errorf("export: %w", store.ErrNotConfigured)
	}
	records, err := c.store.ListAll(ctx)
	if err != nil {
		return "", fmt.Errorf("export: list records: %w", err)
	}
	exp := export.New(c.stages)
	if err := exp.Write(w, format, records); err != nil {
		return "", fmt.Errorf("export: write %s: %w", format, err)
	}
	c.logger.Info("Export finished", slog.String("format", string(format)), slog.Int("records", len(records)))
	return exp.Filename(format), nil
}

// Reset deletes every opportunity in the configured record store.
func Reset(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	c, err := app.setup(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	if c.store == nil {
		return fmt.Errorf("reset: %w", store.ErrNotConfigured)
	}
	if err := c.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	c.logger.Warn("All opportunities deleted", slog.String("driver", c.store.Driver()))
	return nil
}
