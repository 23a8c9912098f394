package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vantrex/warelay/internal/auth"
	"github.com/vantrex/warelay/internal/domain"
)

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}

func (h *Handler) listChats(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		Error(w, http.StatusUnauthorized, "missing caller")
		return
	}

	filter := domain.ChatFilter(r.URL.Query().Get("filter"))
	if filter == "" {
		filter = domain.FilterAll
	}
	if !filter.Valid() {
		Error(w, http.StatusBadRequest, "filter must be all, group or individual")
		return
	}

	page, limit := pageParams(r)
	result, err := h.gw.ListChats(r.Context(), sessionID, caller, page, limit, filter)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	chatID := chi.URLParam(r, "chatID")

	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		Error(w, http.StatusUnauthorized, "missing caller")
		return
	}

	page, limit := pageParams(r)
	result, err := h.gw.ListMessages(r.Context(), sessionID, chatID, caller, page, limit)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

type assignRequest struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

func (h *Handler) assignChat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req assignRequest
	if err := decodeJSON(r, &req); err != nil || req.ChatID == "" || req.UserID == "" {
		Error(w, http.StatusBadRequest, "chatId and userId are required")
		return
	}

	assignment, err := h.gw.Assign(r.Context(), sessionID, req.ChatID, req.UserID)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusCreated, assignment)
}

func (h *Handler) unassignChat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req assignRequest
	if err := decodeJSON(r, &req); err != nil || req.ChatID == "" || req.UserID == "" {
		Error(w, http.StatusBadRequest, "chatId and userId are required")
		return
	}

	if err := h.gw.Unassign(r.Context(), sessionID, req.ChatID, req.UserID); err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "unassigned"})
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	assignments, err := h.gw.Assignments(r.Context(), sessionID)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"assignments": assignments, "total": len(assignments)})
}
