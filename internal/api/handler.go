package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/salesdojo/internal/apperr"
	"github.com/kalambet/salesdojo/internal/storage"
	"github.com/kalambet/salesdojo/internal/trainer"
)

const maxRequestBodySize = 1 << 20 // 1MB

// NewHandler returns the REST API over svc. When token is non-empty every
// route except /health requires it as a bearer token.
func NewHandler(svc *trainer.Service, token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(svc))

	r.Group(func(r chi.Router) {
		if token != "" {
			r.Use(BearerAuth(token))
		}
		r.Get("/catalog", handleCatalog(svc))

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Post("/sessions", handleStartSession(svc))
			r.Get("/sessions", handleListSessions(svc))
			r.Get("/sessions/{id}", handleGetSession(svc))
			r.Post("/sessions/{id}/turns", handleTakeTurn(svc))
			r.Post("/sessions/{id}/grade", handleGrade(svc))
			r.Post("/sessions/{id}/end", handleEndSession(svc))

			r.Get("/leaderboard", handleLeaderboard(svc))
			r.Get("/profile", handleGetProfile(svc))
			r.Put("/profile", handlePutProfile(svc))
		})
	})

	return r
}

func handleHealth(svc *trainer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Health(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "store unavailable: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"provider": svc.EngineName(),
		})
	}
}

func handleCatalog(svc *trainer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Catalog())
	}
}

func handleStartSession(svc *trainer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req trainer.StartRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sess, err := svc.StartSession(r.Context(), callerID(r.Context()), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

func handleListSessions(svc *trainer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := svc.ListSessions(r.Context(), callerID(r.Context()), parseIntParam(r, "limit", 0))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if sessions == nil {
			sessions = []storage.Session{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func handleGetSession(svc *trainer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.GetSession(r.Context(), callerID(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func handleTakeTurn(svc *trainer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req trainer.TurnRequest
		if !decodeBody(w, r, &req) {
			return
		}
		turn, err := svc.TakeTurn(r.Context(), callerID(r.Context()), chi.URLParam(r, "id"), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, turn)
	}
}

func handleGrade(svc *trainer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Grade(r.Context(), callerID(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleEndSession(svc *trainer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := svc.EndSession(r.Context(), callerID(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleLeaderboard(svc *trainer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.CallerLeaderboard(r.Context(), callerID(r.Context()), parseIntParam(r, "limit", 0))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if entries == nil {
			entries = []storage.LeaderboardEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleGetProfile(svc *trainer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Profile(r.Context(), callerID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// RegisterRequest is the body of PUT /profile.
type RegisterRequest struct {
	CompanyID   string `json:"company_id"`
	DisplayName string `json:"display_name"`
}

func handlePutProfile(svc *trainer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if !decodeBody(w, r, &req) {
			return
		}
		st, created, err := svc.RegisterProfile(r.Context(), callerID(r.Context()), req.CompanyID, req.DisplayName)
		if err != nil {
			writeError(w, r, err)
			return
		}
		code := http.StatusOK
		if created {
			code = http.StatusCreated
		}
		writeJSON(w, code, st)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// writeError maps the apperr taxonomy onto HTTP statuses. A lost sequence race
// is both a Conflict and a PersistError; it maps to 409 and keeps the output.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *apperr.PersistError
	hasOutput := errors.As(err, &pe)
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, apperr.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, apperr.ErrForbidden):
		httpError(w, http.StatusForbidden, "permission_error", "%v", err)
	case errors.Is(err, apperr.ErrConflict) && hasOutput:
		outputError(w, http.StatusConflict, "conflict_error", err, pe.Output)
	case errors.Is(err, apperr.ErrConflict):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
	case apperr.IsProvider(err):
		httpError(w, http.StatusBadGateway, "provider_error", "%v", err)
	case hasOutput:
		slog.Error("persist failed", "request_id", middleware.GetReqID(r.Context()), "session_id", pe.SessionID, "error", pe.Err)
		outputError(w, http.StatusInternalServerError, "persist_error", err, pe.Output)
	default:
		slog.Error("request failed", "request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}

// outputError is httpError plus the provider output that could not be stored.
func outputError(w http.ResponseWriter, code int, errType string, err error, output string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    errType,
			"output":  output,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
