package stripe

import (
	"errors"
	"net/http"
	"time"

	"github.com/mihaimyh/gorole/pkg/billing"
	"github.com/mihaimyh/gorole/pkg/billing/internal"
	"github.com/mihaimyh/gorole/pkg/gorole"
)

const signatureHeader = "Stripe-Signature"

type ackResponse struct {
	Received bool           `json:"received"`
	Action   billing.Action `json:"action,omitempty"`
}

// handleWebhook processes incoming Stripe webhook events. Anything other than
// a 2xx response makes Stripe redeliver the event.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, internal.MaxWebhookBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	outcome, err := p.HandleWebhook(r.Context(), body, r.Header.Get(signatureHeader))
	status := billing.StatusForError(err)
	if status != http.StatusOK {
		p.rejectWebhook(w, status, err)
		return
	}
	if outcome == nil {
		outcome = &billing.Outcome{Action: billing.ActionIgnored}
	}

	eventType := outcome.EventType.String()
	if err := internal.WriteJSON(w, http.StatusOK, ackResponse{Received: true, Action: outcome.Action}); err != nil {
		p.logger.Warn("failed to write webhook response", gorole.Field{Key: "error", Value: err})
	}
	p.metrics.RecordWebhookEvent(providerName, eventType, string(outcome.Action))
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

func (p *Provider) rejectWebhook(w http.ResponseWriter, status int, err error) {
	var verr *billing.VerificationError
	switch {
	case errors.As(err, &verr):
		p.logger.Warn("webhook rejected",
			gorole.Field{Key: "reason", Value: string(verr.Kind)},
			gorole.Field{Key: "error", Value: err})
		p.metrics.RecordWebhookError(providerName, string(verr.Kind))
		http.Error(w, "invalid webhook", status)
	default:
		p.logger.Error("webhook processing failed",
			gorole.Field{Key: "status", Value: status},
			gorole.Field{Key: "error", Value: err})
		p.metrics.RecordWebhookError(providerName, "persistence_error")
		p.metrics.RecordWebhookEvent(providerName, "unknown", "error")
		http.Error(w, "failed to process webhook", status)
	}
}
