package gorole

import (
	"context"
	"time"
)

// Storage defines the interface for role assignment persistence.
type Storage interface {
	// GetRole returns the user's assignment or ErrAssignmentNotFound.
	GetRole(ctx context.Context, userID string) (*RoleAssignment, error)

	// UpsertRole creates or replaces the user's assignment in one atomic step.
	// The result carries the assignment the write replaced, read inside that
	// same step. Applied is false only when req.RejectStale is set and the
	// stored assignment is newer than the request.
	UpsertRole(ctx context.Context, req *UpsertRequest) (*UpsertResult, error)
}

// AuditLogEntry represents a single applied role change.
type AuditLogEntry struct {
	ID        string
	UserID    string
	OldRoleID *int
	NewRoleID int
	Source    string
	EventAt   time.Time
	Timestamp time.Time
}

// AuditLogFilter defines filters for querying audit logs.
type AuditLogFilter struct {
	// UserID filters by user ID (optional)
	UserID string

	// StartTime filters entries after this time (optional)
	StartTime *time.Time

	// EndTime filters entries before this time (optional)
	EndTime *time.Time

	// Limit limits the number of results returned (default: 100)
	Limit int
}

// AuditLogger defines the interface for audit logging.
// Storage implementations can optionally implement this interface to provide audit logging.
type AuditLogger interface {
	LogAuditEntry(ctx context.Context, entry *AuditLogEntry) error

	// GetAuditLogs returns matching entries, newest first.
	GetAuditLogs(ctx context.Context, filter AuditLogFilter) ([]*AuditLogEntry, error)
}
