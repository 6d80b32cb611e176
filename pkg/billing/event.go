package billing

import (
	"encoding/json"
	"time"
)

// EventType is the provider-independent kind of a billing event.
type EventType int

const (
	EventUnknown EventType = iota
	EventCheckoutCompleted
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionDeleted
	EventInvoicePaid
	EventInvoicePaymentFailed
)

func (t EventType) String() string {
	switch t {
	case EventCheckoutCompleted:
		return "checkout_completed"
	case EventSubscriptionCreated:
		return "subscription_created"
	case EventSubscriptionUpdated:
		return "subscription_updated"
	case EventSubscriptionDeleted:
		return "subscription_deleted"
	case EventInvoicePaid:
		return "invoice_paid"
	case EventInvoicePaymentFailed:
		return "invoice_payment_failed"
	default:
		return "unknown"
	}
}

// SubscriptionStatusActive is the only status that grants a paid role.
const SubscriptionStatusActive = "active"

// CanonicalEvent is a verified webhook reduced to the fields reconciliation needs.
// It lives for one request and is not modified after normalization.
type CanonicalEvent struct {
	Type EventType

	// RawType is the provider's own event type string.
	RawType string
	EventID string
	Created time.Time

	SubscriptionID string
	CustomerID     string
	UserID         string
	PriceID        string
	Status         string
	InvoiceID      string

	// Unresolvable is set when no user id could be found in the payload.
	Unresolvable bool

	// Raw is the provider's data object, kept for lookups that need more than
	// the normalized fields.
	Raw json.RawMessage
}

// IsActive reports whether the event carries an active subscription status.
func (e *CanonicalEvent) IsActive() bool {
	return e.Status == SubscriptionStatusActive
}
