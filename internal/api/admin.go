package api

import (
	"net/http"
)

func (h *Handler) listProblematic(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.mon.ProblematicSessions(r.Context(), h.cfg.ProblemAttemptThreshold)
	if err != nil {
		DomainError(w, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, h.viewOf(sess))
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": views, "total": len(views)})
}

// runCleanup triggers the inactivity sweep outside its schedule.
func (h *Handler) runCleanup(w http.ResponseWriter, r *http.Request) {
	cleaned, err := h.mon.RunCleanup(r.Context())
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]int{"cleaned": cleaned})
}

// runHealthCheck triggers a health snapshot outside its schedule.
func (h *Handler) runHealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.mon.RunHealthCheck(r.Context()); err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
