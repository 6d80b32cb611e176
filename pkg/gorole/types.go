package gorole

import "time"

// RoleAssignment is the role currently held by a user.
// There is at most one assignment per user; every reconciliation overwrites it.
type RoleAssignment struct {
	UserID string `json:"user_id"`
	RoleID int    `json:"role_id"`

	// AssignedAt is when the assignment was written.
	AssignedAt time.Time `json:"assigned_at"`

	// EventAt is the provider-side time of the event that produced the
	// assignment. Zero when unknown.
	EventAt time.Time `json:"event_at"`

	// Source names what wrote the assignment (usually the provider event type).
	Source string `json:"source,omitempty"`
}

// Clone returns a copy of the assignment.
func (a *RoleAssignment) Clone() *RoleAssignment {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// UpsertRequest asks storage to create or replace a user's assignment.
type UpsertRequest struct {
	UserID  string
	RoleID  int
	EventAt time.Time
	Source  string

	// RejectStale makes the write conditional: it is skipped when the stored
	// assignment carries a newer EventAt.
	RejectStale bool
}

// Assignment converts the request into the row a store persists.
func (r *UpsertRequest) Assignment(now time.Time) *RoleAssignment {
	return &RoleAssignment{
		UserID:     r.UserID,
		RoleID:     r.RoleID,
		AssignedAt: now,
		EventAt:    r.EventAt,
		Source:     r.Source,
	}
}

// IsStaleAgainst reports whether the request must be skipped given the stored row.
func (r *UpsertRequest) IsStaleAgainst(existing *RoleAssignment) bool {
	if !r.RejectStale || existing == nil || r.EventAt.IsZero() || existing.EventAt.IsZero() {
		return false
	}
	return r.EventAt.Before(existing.EventAt)
}

// UpsertResult is what a Storage reports for one UpsertRole call.
type UpsertResult struct {
	Applied bool

	// Previous is the stored assignment before the call, nil if there was none.
	// When Applied is false it is also the assignment still stored.
	Previous *RoleAssignment
}

// AssignResult describes what AssignRole did.
type AssignResult struct {
	// Applied is false when the write was rejected as stale.
	Applied bool

	// Previous is the assignment before the write, nil if the user had none.
	Previous *RoleAssignment

	// Current is the assignment after the call.
	Current *RoleAssignment
}

// Changed reports whether the user's role id differs from before.
func (r *AssignResult) Changed() bool {
	if !r.Applied || r.Current == nil {
		return false
	}
	return r.Previous == nil || r.Previous.RoleID != r.Current.RoleID
}

// Config holds manager configuration.
type Config struct {
	// DefaultRoleID is reported for users that have no stored assignment.
	DefaultRoleID int

	// CacheConfig configures the read cache (disabled when nil)
	CacheConfig *CacheConfig

	// CircuitBreakerConfig configures storage circuit breaking (disabled when nil)
	CircuitBreakerConfig *CircuitBreakerConfig

	// Metrics is used for tracking role operations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Now overrides the clock used for AssignedAt; mostly useful in tests.
	Now func() time.Time
}

// CacheConfig holds read cache configuration
type CacheConfig struct {
	Enabled bool

	// TTL is how long an assignment stays cached (default: 1 minute)
	TTL time.Duration

	// MaxEntries bounds the cache size (default: 1000)
	MaxEntries int
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled bool

	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}
