// Package api provides HTTP handlers for the relay server API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vantrex/warelay/internal/config"
	"github.com/vantrex/warelay/internal/domain"
	"github.com/vantrex/warelay/internal/gateway"
	"github.com/vantrex/warelay/internal/monitor"
	"github.com/vantrex/warelay/internal/pairing"
	"github.com/vantrex/warelay/internal/registry"
	"github.com/vantrex/warelay/internal/store"
)

// Handler provides common handler dependencies.
type Handler struct {
	repo       store.Repository
	reg        *registry.Registry
	negotiator *pairing.Negotiator
	mon        *monitor.Monitor
	gw         *gateway.Gateway
	cfg        *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, reg *registry.Registry, negotiator *pairing.Negotiator, mon *monitor.Monitor, gw *gateway.Gateway, cfg *config.Config) *Handler {
	return &Handler{
		repo:       repo,
		reg:        reg,
		negotiator: negotiator,
		mon:        mon,
		gw:         gw,
		cfg:        cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// DomainError maps domain sentinel errors onto HTTP status codes.
func DomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		Error(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrNotConnected):
		Error(w, http.StatusConflict, err.Error())
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}
