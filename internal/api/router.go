package api

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/salesboard/internal/auth"
	"github.com/starford/salesboard/internal/export"
	"github.com/starford/salesboard/internal/pipeline"
	"github.com/starford/salesboard/internal/sse"
	"github.com/starford/salesboard/internal/stages"
	"github.com/starford/salesboard/internal/summarize"
)

// Summarizer produces meeting summaries.
type Summarizer interface {
	Available() bool
	Summarize(ctx context.Context, transcript, client, assignee string) (summarize.Result, error)
}

// Deps are the components served by the API. Summarizer, Auth and Broker
// are optional.
type Deps struct {
	Pipeline   *pipeline.Manager
	Stages     *stages.Registry
	Exporter   *export.Exporter
	Summarizer Summarizer
	Auth       *auth.Manager
	AuthMode   string
	Broker     *sse.Broker
	// WSOrigins are the host patterns allowed to open cross-origin WebSockets.
	WSOrigins []string
	Now       func() time.Time
}

// NewRouter creates a chi router with all API routes mounted.
// Sign-up and sign-in stay public; every other route goes through the
// session middleware.
func NewRouter(d Deps) chi.Router {
	h := NewHandler(d)

	r := chi.NewRouter()

	var resolver Resolver
	if d.Auth != nil {
		resolver = d.Auth
		r.Post("/auth/signup", h.SignUp)
		r.Post("/auth/signin", h.SignIn)
	}

	r.Group(func(r chi.Router) {
		r.Use(SessionMiddleware(d.AuthMode, resolver))

		if d.Auth != nil {
			r.Post("/auth/signout", h.SignOut)
			r.Get("/auth/me", h.Me)
		}

		// Opportunities.
		r.Get("/opportunities", h.ListOpportunities)
		r.Post("/opportunities", h.CreateOpportunity)
		r.Post("/opportunities/intake", h.Intake)
		r.Get("/opportunities/{id}", h.GetOpportunity)
		r.Put("/opportunities/{id}", h.EditOpportunity)
		r.Delete("/opportunities/{id}", h.DeleteOpportunity)
		r.Patch("/opportunities/{id}/stage", h.ChangeStage)
		r.Post("/opportunities/{id}/meetings", h.AddMeeting)

		// Reports.
		r.Get("/board", h.Board)
		r.Get("/assignees", h.Assignees)
		r.Get("/stats", h.Stats)
		r.Get("/export/{format}", h.Export)

		// Stages.
		r.Get("/stages", h.ListStages)
		r.Post("/stages", h.CreateStage)
		r.Put("/stages/{id}", h.UpdateStage)
		r.Delete("/stages/{id}", h.DeleteStage)

		r.Post("/summaries", h.Summarize)

		r.Get("/status", h.Status)
		r.Delete("/status/error", h.ClearError)

		// Realtime.
		if d.Broker != nil {
			r.Get("/events", d.Broker.ServeHTTP)
			r.Get("/ws", h.WebSocket)
		}
	})

	return r
}
