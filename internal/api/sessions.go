package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vantrex/warelay/internal/domain"
	"github.com/vantrex/warelay/internal/pairing"
)

// sessionView is the external representation of a session: durable
// state with the live-handle view attached.
type sessionView struct {
	SessionID            string    `json:"sessionId"`
	Status               string    `json:"status"`
	QRCode               string    `json:"qrCode,omitempty"`
	ConnectionAttempts   int       `json:"connectionAttempts"`
	LastDisconnectReason string    `json:"lastDisconnectReason,omitempty"`
	LastActivity         time.Time `json:"lastActivity"`
	LastHealthCheck      time.Time `json:"lastHealthCheck"`
	MemoryUsage          int64     `json:"memoryUsage"`
	Phone                string    `json:"phone,omitempty"`
	Name                 string    `json:"name,omitempty"`
	Platform             string    `json:"platform,omitempty"`
	MessagesSent         int64     `json:"messagesSent"`
	MessagesReceived     int64     `json:"messagesReceived"`
	TotalChats           int64     `json:"totalChats"`
	Live                 bool      `json:"live"`
	LiveConnected        bool      `json:"liveConnected"`
}

func (h *Handler) viewOf(sess *domain.Session) sessionView {
	view := sessionView{
		SessionID:            sess.SessionID,
		Status:               string(sess.Status),
		QRCode:               sess.QRCode,
		ConnectionAttempts:   sess.ConnectionAttempts,
		LastDisconnectReason: sess.LastDisconnectReason,
		LastActivity:         sess.LastActivity,
		LastHealthCheck:      sess.LastHealthCheck,
		MemoryUsage:          sess.MemoryUsage,
		Phone:                sess.Phone,
		Name:                 sess.Name,
		Platform:             sess.Platform,
		MessagesSent:         sess.MessagesSent,
		MessagesReceived:     sess.MessagesReceived,
		TotalChats:           sess.TotalChats,
	}
	if status, ok := h.reg.Get(sess.SessionID); ok {
		view.Live = true
		view.LiveConnected = status.Connected
	}
	return view
}

type createSessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil || req.SessionID == "" {
		Error(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := h.reg.Create(r.Context(), req.SessionID); err != nil {
		DomainError(w, err)
		return
	}

	sess, err := h.repo.GetSession(r.Context(), req.SessionID)
	if err != nil || sess == nil {
		Error(w, http.StatusInternalServerError, "session not readable after create")
		return
	}
	JSON(w, http.StatusCreated, h.viewOf(sess))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		DomainError(w, err)
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, h.viewOf(sess))
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.repo.ListSessions(r.Context())
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

func (h *Handler) listConnected(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.repo.ListSessions(r.Context())
	if err != nil {
		DomainError(w, err)
		return
	}

	views := make([]sessionView, 0)
	for _, sess := range sessions {
		if sess.Status == domain.StatusConnected {
			views = append(views, h.viewOf(sess))
		}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": views, "total": len(views)})
}

func (h *Handler) disconnectSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.reg.Disconnect(r.Context(), sessionID); err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "status": "disconnected"})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		DomainError(w, err)
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	h.reg.Remove(sessionID)
	if err := h.repo.DeleteSessionCascade(r.Context(), sessionID); err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "status": "deleted"})
}

type negotiateRequest struct {
	Timeout      string `json:"timeout,omitempty"`
	PollInterval string `json:"pollInterval,omitempty"`
	Force        bool   `json:"force,omitempty"`
	Retries      int    `json:"retries,omitempty"`
	RetryDelay   string `json:"retryDelay,omitempty"`
}

func (h *Handler) negotiateQR(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req negotiateRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	opts := pairing.Options{
		Timeout:      parseDuration(req.Timeout),
		PollInterval: parseDuration(req.PollInterval),
		Force:        req.Force,
		Retries:      req.Retries,
		RetryDelay:   parseDuration(req.RetryDelay),
	}

	result, err := h.negotiator.Negotiate(r.Context(), sessionID, opts)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

type sendMessageRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil || req.To == "" {
		Error(w, http.StatusBadRequest, "to and body are required")
		return
	}

	msg, err := h.reg.SendMessage(r.Context(), sessionID, req.To, req.Body)
	if err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusCreated, msg)
}

func (h *Handler) resetAttempts(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.repo.ResetConnectionAttempts(r.Context(), sessionID); err != nil {
		DomainError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "status": "attempts reset"})
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
