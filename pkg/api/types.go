package api

import "time"

// RoleResponse is the current role standing of a user
type RoleResponse struct {
	UserID     string     `json:"user_id"`
	RoleID     int        `json:"role_id"`
	RoleName   string     `json:"role_name,omitempty"`
	Status     string     `json:"status"` // "assigned", "default"
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	EventAt    *time.Time `json:"event_at,omitempty"`
	Source     string     `json:"source,omitempty"`
}

// HistoryResponse lists recorded role changes, newest first
type HistoryResponse struct {
	UserID  string       `json:"user_id"`
	Changes []RoleChange `json:"changes"`
}

// RoleChange is one audit log entry
type RoleChange struct {
	FromRoleID *int      `json:"from_role_id,omitempty"`
	ToRoleID   int       `json:"to_role_id"`
	Source     string    `json:"source,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}
