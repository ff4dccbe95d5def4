package api

import (
	"net/http"
	"time"

	"github.com/padrededios/stepzy/internal/auth"
	"github.com/padrededios/stepzy/internal/persistence"
)

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}

	var req CreateActivityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	input, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	activity, err := h.service.CreateActivity(r.Context(), claims.Actor(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActivityView(*activity))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeSessionsRead, auth.ScopeSessionsWrite); !ok {
		return
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	activities, next, err := h.service.ListActivities(r.Context(), cursor, queryInt(r, "limit", 20, 100))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, activity := range activities {
		items = append(items, toActivityView(activity))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeSessionsRead, auth.ScopeSessionsWrite); !ok {
		return
	}

	activity, err := h.service.GetActivity(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}

	var req UpdateActivityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	activity, err := h.service.UpdateActivity(r.Context(), claims.Actor(), r.PathValue("id"), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}
	if err := h.service.DeleteActivity(r.Context(), claims.Actor(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}
	if err := h.service.Subscribe(r.Context(), r.PathValue("id"), claims.Subject); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}
	if err := h.service.Unsubscribe(r.Context(), r.PathValue("id"), claims.Subject); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// generateSessions materializes an activity's horizon on demand. Only the
// owner or an admin may trigger it.
func (h *Handler) generateSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeSessionsWrite)
	if !ok {
		return
	}

	var req GenerateSessionsRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.WeeksAhead < 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "weeks_ahead must be >= 0")
		return
	}
	weeks := req.WeeksAhead
	if weeks == 0 {
		weeks = h.weeksAhead
	}
	from := h.service.Now()
	if req.From != nil {
		from = *req.From
	}

	activity, err := h.service.GetActivity(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !activity.OwnedBy(claims.Actor()) {
		writeError(w, http.StatusForbidden, "forbidden", "only the owner may generate sessions")
		return
	}

	created, err := h.service.GenerateSessions(r.Context(), activity.ID, from, weeks)
	if err != nil && len(created) == 0 {
		writeDomainError(w, err)
		return
	}

	resp := GenerateSessionsResponse{
		WeeksAhead: weeks,
		From:       from.UTC().Truncate(time.Second),
		Created:    make([]SessionSummary, 0, len(created)),
	}
	for _, session := range created {
		resp.Created = append(resp.Created, toSessionSummary(session))
	}
	if err != nil {
		resp.Partial = true
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
