package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrMissingSecret is returned when no webhook secret is configured
	ErrMissingSecret = errors.New("webhook secret not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrPlanNotConfigured is returned when a plan is not found in PlanPrices
	ErrPlanNotConfigured = errors.New("plan not configured in plan mapping")

	// ErrUserNotFound is returned when the user directory does not know a user
	ErrUserNotFound = errors.New("user not found")
)

// VerificationKind classifies why a webhook was rejected.
type VerificationKind string

const (
	MissingSecret     VerificationKind = "missing_secret"
	InvalidPayload    VerificationKind = "invalid_payload"
	SignatureMismatch VerificationKind = "signature_mismatch"
)

// VerificationError is returned when a webhook cannot be authenticated or decoded.
type VerificationError struct {
	Kind VerificationKind
	Err  error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return "webhook verification failed: " + string(e.Kind)
	}
	return fmt.Sprintf("webhook verification failed: %s: %v", e.Kind, e.Err)
}

func (e *VerificationError) Unwrap() []error {
	errs := []error{e.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *VerificationError) sentinel() error {
	switch e.Kind {
	case MissingSecret:
		return ErrMissingSecret
	case InvalidPayload:
		return ErrInvalidWebhookPayload
	default:
		return ErrInvalidWebhookSignature
	}
}

// NewVerificationError builds a VerificationError of the given kind.
func NewVerificationError(kind VerificationKind, err error) *VerificationError {
	return &VerificationError{Kind: kind, Err: err}
}

// GapReason names the piece of information a reconciliation could not obtain.
type GapReason string

const (
	GapNoUser         GapReason = "no_user"
	GapNoPrice        GapReason = "no_price"
	GapUnmappedPrice  GapReason = "unmapped_price"
	GapNoSubscription GapReason = "no_subscription"
	GapLookupFailed   GapReason = "lookup_failed"
)

// ResolutionGap reports an event that was accepted but could not change any role.
type ResolutionGap struct {
	Reason         GapReason
	EventType      string
	EventID        string
	UserID         string
	PriceID        string
	SubscriptionID string
	Err            error
}

func (g *ResolutionGap) Error() string {
	msg := fmt.Sprintf("cannot reconcile %s event %s: %s", g.EventType, g.EventID, g.Reason)
	if g.Err != nil {
		msg += ": " + g.Err.Error()
	}
	return msg
}

func (g *ResolutionGap) Unwrap() error { return g.Err }

// PersistenceError wraps a failure to write a role assignment. Webhooks that hit
// it are not acknowledged so the provider retries them.
type PersistenceError struct {
	UserID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist role for user %s: %v", e.UserID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RemoteLookupError wraps a failed outbound provider API call.
type RemoteLookupError struct {
	Op  string
	ID  string
	Err error
}

func (e *RemoteLookupError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *RemoteLookupError) Unwrap() error { return e.Err }

// StatusForError maps a webhook processing result to the HTTP status returned
// to the provider. Everything in the 2xx range acknowledges the delivery.
func StatusForError(err error) int {
	var (
		verr *VerificationError
		perr *PersistenceError
		gap  *ResolutionGap
		rerr *RemoteLookupError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &perr):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	case errors.As(err, &gap), errors.As(err, &rerr):
		return http.StatusOK
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
