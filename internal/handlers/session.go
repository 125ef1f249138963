package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"rendercache/internal/session"
)

// SessionStore opens and closes visitor sessions.
type SessionStore interface {
	Create(ctx context.Context, w http.ResponseWriter, data *session.Data) (string, error)
	Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// Sessions groups the handlers that switch the visitor identity, which is
// what the user and user.permissions cache contexts vary by.
type Sessions struct {
	store SessionStore
}

// NewSessions creates the session handler group.
func NewSessions(store SessionStore) *Sessions {
	return &Sessions{store: store}
}

// Create handles POST /session with {"user_id": ..., "roles": [...]} and
// sets the session cookie.
func (s *Sessions) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string   `json:"user_id"`
		Roles  []string `json:"roles"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if msg := validateSession(req.UserID, req.Roles); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	data := &session.Data{UserID: strings.TrimSpace(req.UserID), Roles: req.Roles}
	if _, err := s.store.Create(r.Context(), w, data); err != nil {
		slog.Error("session create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Could not create session.")
		return
	}

	slog.Info("session opened", "user_id", data.UserID)
	writeJSON(w, http.StatusCreated, data)
}

// Destroy handles DELETE /session.
func (s *Sessions) Destroy(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Destroy(r.Context(), w, r); err != nil {
		slog.Error("session destroy failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Could not destroy session.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
