package billing

import (
	"context"
	"net/http"
)

// Provider is the interface a billing backend implements to drive role reconciliation.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that verifies, normalizes and
	// reconciles incoming events.
	WebhookHandler() http.Handler

	// HandleWebhook runs the same pipeline on a raw payload and its signature header.
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*Outcome, error)
}

// UserDirectory looks up application users. Only checkout creation uses it.
type UserDirectory interface {
	EmailForUser(ctx context.Context, userID string) (string, error)
}

// UserDirectoryFunc adapts a function to UserDirectory.
type UserDirectoryFunc func(ctx context.Context, userID string) (string, error)

func (f UserDirectoryFunc) EmailForUser(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}
