// Package api exposes HTTP handlers for the session scheduler.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/padrededios/stepzy/internal/auth"
	"github.com/padrededios/stepzy/internal/domain"
)

const maxUpcomingLimit = 50

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service      *domain.Service
	upcomingSize int
	weeksAhead   int
}

// Option configures a Handler.
type Option func(*Handler)

// WithUpcomingLimit sets the page size used when GET /v1/sessions/upcoming has no limit.
func WithUpcomingLimit(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.upcomingSize = n
		}
	}
}

// WithWeeksAhead sets the horizon used when a generate request does not name one.
func WithWeeksAhead(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.weeksAhead = n
		}
	}
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, opts ...Option) *Handler {
	h := &Handler{
		service:      service,
		upcomingSize: domain.DefaultUpcomingLimit,
		weeksAhead:   domain.DefaultWeeksAhead,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", healthz)

	mux.HandleFunc("POST /v1/activities", h.createActivity)
	mux.HandleFunc("GET /v1/activities", h.listActivities)
	mux.HandleFunc("GET /v1/activities/{id}", h.getActivity)
	mux.HandleFunc("PATCH /v1/activities/{id}", h.updateActivity)
	mux.HandleFunc("DELETE /v1/activities/{id}", h.deleteActivity)
	mux.HandleFunc("POST /v1/activities/{id}/subscription", h.subscribe)
	mux.HandleFunc("DELETE /v1/activities/{id}/subscription", h.unsubscribe)
	mux.HandleFunc("POST /v1/activities/{id}/sessions/generate", h.generateSessions)

	mux.HandleFunc("GET /v1/sessions/upcoming", h.upcomingSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", h.getSession)
	mux.HandleFunc("PATCH /v1/sessions/{id}", h.updateSession)
	mux.HandleFunc("POST /v1/sessions/{id}/participants", h.joinSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}/participants", h.leaveSession)
	mux.HandleFunc("POST /v1/sessions/{id}/interest", h.markInterested)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// authorize returns the caller's claims when they hold one of scopes, or writes
// the 401/403 response and returns false. The admin scope satisfies any check.
func authorize(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasAnyScope(append(scopes, auth.ScopeActivitiesAdmin)...) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
		return nil, false
	}
	return claims, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	if max > 0 && parsed > max {
		return max
	}
	return parsed
}

// writeDomainError maps service errors onto status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var validation domain.ValidationError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_failed", validation.Error())
	case errors.Is(err, domain.ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrSessionCancelled):
		writeError(w, http.StatusConflict, "session_cancelled", err.Error())
	case errors.Is(err, domain.ErrAlreadyParticipating):
		writeError(w, http.StatusConflict, "already_participating", err.Error())
	case errors.Is(err, domain.ErrNotParticipating):
		writeError(w, http.StatusConflict, "not_participating", err.Error())
	case errors.Is(err, domain.ErrCapacityConflict):
		writeError(w, http.StatusConflict, "capacity_conflict", err.Error())
	case errors.Is(err, domain.ErrSessionExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
