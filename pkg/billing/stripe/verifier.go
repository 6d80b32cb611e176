package stripe

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/gorole/pkg/billing"
)

// Verifier authenticates Stripe webhook deliveries against the endpoint secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier returns a verifier for secret. A blank secret is a configuration
// error reported as billing.ErrMissingSecret.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, billing.NewVerificationError(billing.MissingSecret, nil)
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}, nil
}

// Verify checks the Stripe-Signature header over the exact payload bytes and
// decodes the event envelope. The signature comparison is constant-time
// (hmac.Equal inside stripe-go). The envelope's API version is not enforced.
func (v *Verifier) Verify(payload []byte, header string) (*stripe.Event, error) {
	if v == nil || v.secret == "" {
		return nil, billing.NewVerificationError(billing.MissingSecret, nil)
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, v.secret, v.tolerance); err != nil {
		return nil, billing.NewVerificationError(billing.SignatureMismatch, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, billing.NewVerificationError(billing.InvalidPayload, err)
	}
	if event.Type == "" {
		return nil, billing.NewVerificationError(billing.InvalidPayload, errors.New("event type missing"))
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, billing.NewVerificationError(billing.InvalidPayload, errors.New("event data missing"))
	}
	return &event, nil
}
