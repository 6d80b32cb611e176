package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

const (
	statusAssigned      = "assigned"
	statusDefault       = "default"
	maxUserIDLen        = 255
	defaultHistoryLimit = 20
)

// Handler provides HTTP endpoints for role inspection
type Handler struct {
	config Config
}

// GetRole returns the caller's current role. Users without a stored assignment
// get the default role with status "default".
func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	response := RoleResponse{
		UserID: userID,
		RoleID: h.config.Manager.DefaultRoleID(),
		Status: statusDefault,
	}

	ra, err := h.config.Manager.GetAssignment(r.Context(), userID)
	switch {
	case err == nil:
		response.RoleID = ra.RoleID
		response.Status = statusAssigned
		response.AssignedAt = timePtr(ra.AssignedAt)
		response.EventAt = timePtr(ra.EventAt)
		response.Source = ra.Source
	case !errors.Is(err, gorole.ErrAssignmentNotFound):
		h.handleError(w, r, fmt.Errorf("failed to get role: %w", err), http.StatusInternalServerError)
		return
	}
	response.RoleName = h.config.RoleNames[response.RoleID]

	writeJSON(w, response)
}

// GetHistory returns the caller's recorded role changes.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	entries, err := h.config.Manager.AuditLogs(r.Context(), gorole.AuditLogFilter{
		UserID: userID,
		Limit:  h.config.HistoryLimit,
	})
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to get role history: %w", err), http.StatusInternalServerError)
		return
	}

	response := HistoryResponse{UserID: userID, Changes: make([]RoleChange, 0, len(entries))}
	for _, e := range entries {
		response.Changes = append(response.Changes, RoleChange{
			FromRoleID: e.OldRoleID,
			ToRoleID:   e.NewRoleID,
			Source:     e.Source,
			ChangedAt:  e.Timestamp,
		})
	}

	writeJSON(w, response)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return "", false
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return "", false
	}
	return userID, true
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	// The status line is already sent; nothing useful to do on failure.
	_ = json.NewEncoder(w).Encode(v)
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errorResponse := map[string]string{
		"error": err.Error(),
	}
	if encodeErr := json.NewEncoder(w).Encode(errorResponse); encodeErr != nil {
		_ = encodeErr
	}
}
