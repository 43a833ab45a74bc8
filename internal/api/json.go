package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/salesboard/internal/apperr"
	"github.com/starford/salesboard/internal/auth"
	"github.com/starford/salesboard/internal/pipeline"
	"github.com/starford/salesboard/internal/stages"
	"github.com/starford/salesboard/internal/summarize"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Code  string `json:"code,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps domain errors onto a status and a user-facing message.
// Errors without a user-facing message are logged and reported as internal.
func writeError(w http.ResponseWriter, op string, err error) {
	var (
		verr *pipeline.ValidationError
		uerr *pipeline.UserError
		aerr *auth.Error
		ierr *auth.InputError
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &ierr):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.As(err, &aerr):
		status := http.StatusBadGateway
		switch {
		case aerr.Code == auth.CodeTooManyRequests:
			status = http.StatusTooManyRequests
		case errors.Is(err, apperr.ErrUnauthorized):
			status = http.StatusUnauthorized
		case errors.Is(err, apperr.ErrAlreadyExists):
			status = http.StatusConflict
		case errors.Is(err, apperr.ErrInvalidInput):
			status = http.StatusBadRequest
		case errors.Is(err, apperr.ErrUnavailable):
			status = http.StatusServiceUnavailable
		case aerr.Code == auth.CodeProviderInternal:
			status = http.StatusInternalServerError
			slog.Error(op+" failed", slog.String("error", errorCause(err)))
		}
		writeJSON(w, status, errResponse{Error: aerr.Error(), Code: aerr.Code})
	case errors.As(err, &uerr):
		status := http.StatusBadGateway
		if errors.Is(err, apperr.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorBody(uerr.Message))
	case errors.Is(err, summarize.ErrInvalidKey):
		writeJSON(w, http.StatusServiceUnavailable, errorBody(summarize.ErrInvalidKey.Error()))
	case errors.Is(err, summarize.ErrRequestFailed):
		writeJSON(w, http.StatusBadGateway, errorBody(summarize.ErrRequestFailed.Error()))
	case errors.Is(err, stages.ErrBuiltinStage):
		writeJSON(w, http.StatusConflict, errorBody("기본 단계는 삭제할 수 없습니다."))
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
	case errors.Is(err, apperr.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("service unavailable"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func errorCause(err error) string {
	if inner := errors.Unwrap(err); inner != nil {
		return inner.Error()
	}
	return err.Error()
}
