package billing

import (
	"context"
	"time"
)

// RoleChangeEvent describes an applied assignment that changed a user's role.
// It is passed to the OnRoleChange callback after the write succeeded.
type RoleChangeEvent struct {
	UserID string

	// PreviousRoleID is nil when the user had no stored assignment.
	PreviousRoleID *int
	NewRoleID      int

	// Provider is the billing provider name ("stripe")
	Provider string

	// EventType is the provider-specific event type
	EventType string
	EventID   string

	// EventTimestamp is when the event occurred (from provider)
	EventTimestamp time.Time

	SubscriptionID string
	PriceID        string
}

// RoleChangeCallback receives role changes. Errors are logged and do not fail the webhook.
type RoleChangeCallback func(ctx context.Context, event RoleChangeEvent) error
