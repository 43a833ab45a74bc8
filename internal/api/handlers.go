package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/salesboard/internal/analytics"
	"github.com/starford/salesboard/internal/export"
	"github.com/starford/salesboard/internal/models"
	"github.com/starford/salesboard/internal/sse"
	"github.com/starford/salesboard/internal/summarize"
)

// Handler holds API route handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	if d.AuthMode == "" {
		d.AuthMode = AuthDisabled
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Exporter == nil {
		d.Exporter = export.New(d.Stages)
	}
	return &Handler{Deps: d}
}

func actorOf(r *http.Request) *models.UserRef {
	return UserFrom(r.Context()).Ref()
}

// parseFilters reads search, assignee, from, to and stage (repeatable or
// comma separated) from the query string.
func parseFilters(r *http.Request) analytics.Filters {
	q := r.URL.Query()
	f := analytics.Filters{
		Search:   strings.TrimSpace(q.Get("search")),
		Assignee: strings.TrimSpace(q.Get("assignee")),
		DateFrom: q.Get("from"),
		DateTo:   q.Get("to"),
	}
	for _, v := range q["stage"] {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Stages = append(f.Stages, s)
			}
		}
	}
	return f
}

func (h *Handler) filtered(r *http.Request) ([]models.Opportunity, analytics.Filters) {
	f := parseFilters(r)
	return analytics.Filter(h.Pipeline.List(), f), f
}

// ListOpportunities handles GET /api/opportunities.
//
//	@Summary		List opportunities matching the filters
//	@Tags			opportunities
//	@Produce		json
//	@Param			search		query		string	false	"Case-insensitive text search"
//	@Param			assignee	query		string	false	"Exact assignee"
//	@Param			from		query		string	false	"Earliest meeting date (YYYY-MM-DD)"
//	@Param			to			query		string	false	"Latest meeting date (YYYY-MM-DD)"
//	@Param			stage		query		string	false	"Stage ids, comma separated"
//	@Success		200			{object}	OpportunityListResponse
//	@Router			/opportunities [get]
func (h *Handler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	records, f := h.filtered(r)
	writeJSON(w, http.StatusOK, OpportunityListResponse{
		Opportunities: records,
		Total:         len(records),
		Filters:       f,
	})
}

// GetOpportunity handles GET /api/opportunities/{id}.
func (h *Handler) GetOpportunity(w http.ResponseWriter, r *http.Request) {
	o, err := h.Pipeline.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get opportunity", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CreateOpportunity handles POST /api/opportunities.
//
//	@Summary		Create an opportunity
//	@Tags			opportunities
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpportunityRequest	true	"Record to create"
//	@Success		201		{object}	map[string]string
//	@Failure		400		{object}	errResponse
//	@Router			/opportunities [post]
func (h *Handler) CreateOpportunity(w http.ResponseWriter, r *http.Request) {
	var req OpportunityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := h.Pipeline.Add(r.Context(), req.model(), actorOf(r))
	if err != nil {
		writeError(w, "create opportunity", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// EditOpportunity handles PUT /api/opportunities/{id}. Optional fields left
// out of the body keep their stored values.
func (h *Handler) EditOpportunity(w http.ResponseWriter, r *http.Request) {
	var req OpportunityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	o := req.model()
	o.ID = chi.URLParam(r, "id")
	if err := h.Pipeline.Edit(r.Context(), o, actorOf(r)); err != nil {
		writeError(w, "edit opportunity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteOpportunity handles DELETE /api/opportunities/{id}.
func (h *Handler) DeleteOpportunity(w http.ResponseWriter, r *http.Request) {
	if err := h.Pipeline.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete opportunity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeStage handles PATCH /api/opportunities/{id}/stage.
func (h *Handler) ChangeStage(w http.ResponseWriter, r *http.Request) {
	var req StageChangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.Pipeline.ChangeStage(r.Context(), chi.URLParam(r, "id"), req.Stage, actorOf(r)); err != nil {
		writeError(w, "change stage", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddMeeting handles POST /api/opportunities/{id}/meetings.
func (h *Handler) AddMeeting(w http.ResponseWriter, r *http.Request) {
	var req MeetingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	entry := req.model()

	if req.Summarize {
		o, err := h.Pipeline.Get(id)
		if err != nil {
			writeError(w, "add meeting", err)
			return
		}
		if strings.TrimSpace(req.OriginalContent) == "" {
			writeJSON(w, http.StatusBadRequest, errorBody("회의 내용을 입력해주세요."))
			return
		}
		res, err := h.summarize(r, req.OriginalContent, o.Client, o.Assignee)
		if err != nil {
			writeError(w, "summarize meeting", err)
			return
		}
		entry.Summary = res.Summary
		entry.ActionItems = res.ActionItems
		if len(res.ActionItems) > 0 {
			entry.NextSteps = []string{res.ActionItems[0]}
		}
	}

	saved, err := h.Pipeline.AddMeeting(r.Context(), id, entry, actorOf(r))
	if err != nil {
		writeError(w, "add meeting", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// Intake handles POST /api/opportunities/intake: the form is validated,
// then the transcript is summarized and stored as a new record. The
// suggested stage replaces the chosen one only when useAiStage is set.
func (h *Handler) Intake(w http.ResponseWriter, r *http.Request) {
	var req IntakeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("회의 내용을 입력해주세요."))
		return
	}
	o := req.model()
	if err := h.Pipeline.Validate(o); err != nil {
		writeError(w, "intake", err)
		return
	}
	res, err := h.summarize(r, req.Transcript, req.Client, req.Assignee)
	if err != nil {
		writeError(w, "intake", err)
		return
	}

	o.Summary = res.Summary
	o.ActionItems = res.ActionItems
	if req.UseAIStage && res.Stage != "" {
		o.Stage = res.Stage
	}
	id, err := h.Pipeline.Add(r.Context(), o, actorOf(r))
	if err != nil {
		writeError(w, "intake", err)
		return
	}
	writeJSON(w, http.StatusCreated, IntakeResponse{ID: id, Result: res, Stage: o.Stage})
}

// Summarize handles POST /api/summaries.
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req SummaryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.summarize(r, req.Transcript, req.Client, req.Assignee)
	if err != nil {
		writeError(w, "summarize", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) summarize(r *http.Request, transcript, client, assignee string) (summarize.Result, error) {
	if h.Summarizer == nil {
		return summarize.Result{}, summarize.ErrInvalidKey
	}
	return h.Summarizer.Summarize(r.Context(), transcript, client, assignee)
}

// Board handles GET /api/board: filtered records grouped by stage.
func (h *Handler) Board(w http.ResponseWriter, r *http.Request) {
	records, _ := h.filtered(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"columns": analytics.GroupByStage(records, h.Stages.List()),
	})
}

// Assignees handles GET /api/assignees.
func (h *Handler) Assignees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"assignees": analytics.Assignees(h.Pipeline.List()),
	})
}

// Stats handles GET /api/stats. Aggregates always cover the full
// collection; list filters do not apply.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	records := h.Pipeline.List()
	writeJSON(w, http.StatusOK, analytics.Summarize(records, h.Stages.List(), h.Now()))
}

// Export handles GET /api/export/{format}.
//
//	@Summary		Download the filtered records as CSV or JSON
//	@Tags			export
//	@Produce		text/csv,json
//	@Param			format	path	string	true	"csv or json"
//	@Router			/export/{format} [get]
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	records, _ := h.filtered(r)
	name := h.Exporter.Filename(format)

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		`attachment; filename="export.`+string(format)+`"; filename*=UTF-8''`+url.PathEscape(name))
	if err := h.Exporter.Write(w, format, records); err != nil {
		slog.Error("export failed", slog.String("format", string(format)), slog.String("error", err.Error()))
	}
}

func (h *Handler) status() StatusResponse {
	s := StatusResponse{
		Connected: h.Pipeline.Connected(),
		Mode:      h.Pipeline.Mode(),
		Error:     h.Pipeline.Err(),
		AuthMode:  h.AuthMode,
	}
	if h.Summarizer != nil {
		s.SummarizerAvailable = h.Summarizer.Available()
	}
	if h.Broker != nil {
		s.RealtimeClients = h.Broker.ClientCount()
	}
	return s
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

// ClearError handles DELETE /api/status/error.
func (h *Handler) ClearError(w http.ResponseWriter, r *http.Request) {
	h.Pipeline.ClearErr()
	if h.Broker != nil {
		h.Broker.Publish(sse.Event{Type: sse.EventStatus, Data: h.status()})
	}
	w.WriteHeader(http.StatusNoContent)
}
