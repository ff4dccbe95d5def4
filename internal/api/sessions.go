package api

import (
	"net/http"
	"strconv"

	"github.com/padrededios/stepzy/internal/auth"
	"github.com/padrededios/stepzy/internal/domain"
)

// upcomingSessions lists the caller's subscribed sessions they have not joined.
// all=true lists every active upcoming session instead.
func (h *Handler) upcomingSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSessionsRead, auth.ScopeSessionsWrite)
	if !ok {
		return
	}

	userID := claims.Subject
	if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
		userID = ""
	}

	views, err := h.service.GetUpcomingSessions(r.Context(), queryInt(r, "limit", h.upcomingSize, maxUpcomingLimit), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]UpcomingSessionView, 0, len(views))
	for _, view := range views {
		items = append(items, toUpcomingSessionView(view))
	}
	writeJSON(w, http.StatusOK, UpcomingSessionsResponse{Items: items})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeSessionsRead, auth.ScopeSessionsWrite); !ok {
		return
	}

	detail, err := h.service.FindSessionByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDetailView(*detail))
}

func (h *Handler) updateSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}

	var req UpdateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MaxPlayers == nil && req.IsCancelled == nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "nothing to update")
		return
	}

	session, err := h.service.UpdateSession(r.Context(), claims.Actor(), r.PathValue("id"), domain.SessionPatch{
		MaxPlayers:  req.MaxPlayers,
		IsCancelled: req.IsCancelled,
	}, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionSummary(*session))
}

func (h *Handler) joinSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}
	participant, err := h.service.JoinSession(r.Context(), r.PathValue("id"), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toParticipantView(*participant))
}

func (h *Handler) markInterested(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}
	participant, err := h.service.MarkInterested(r.Context(), r.PathValue("id"), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toParticipantView(*participant))
}

func (h *Handler) leaveSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}
	if err := h.service.LeaveSession(r.Context(), r.PathValue("id"), claims.Subject); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
