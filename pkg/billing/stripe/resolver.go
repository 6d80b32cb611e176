package stripe

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gorole/pkg/billing"
	"github.com/mihaimyh/gorole/pkg/gorole"
)

// CheckoutSessionResolver fills in what Stripe webhooks leave out: the price
// bought in a checkout and the current state of a subscription.
type CheckoutSessionResolver struct {
	api        API
	normalizer *Normalizer
	timeout    time.Duration
	logger     gorole.Logger
}

// NewCheckoutSessionResolver creates a resolver calling api with a per-call timeout.
func NewCheckoutSessionResolver(api API, normalizer *Normalizer, timeout time.Duration,
	logger gorole.Logger) *CheckoutSessionResolver {
	if timeout <= 0 {
		timeout = billing.DefaultLookupTimeout
	}
	if logger == nil {
		logger = &gorole.NoopLogger{}
	}
	if normalizer == nil {
		normalizer = NewNormalizer("")
	}
	return &CheckoutSessionResolver{api: api, normalizer: normalizer, timeout: timeout, logger: logger}
}

// ResolveCheckoutPrice tries, in order: line items embedded in the webhook,
// the session re-read with line_items expanded, and the first item of the
// session's subscription. Failed lookups are logged and skipped.
func (r *CheckoutSessionResolver) ResolveCheckoutPrice(ctx context.Context, ev *billing.CanonicalEvent) string {
	var session stripe.CheckoutSession
	if len(ev.Raw) > 0 {
		if err := json.Unmarshal(ev.Raw, &session); err != nil {
			r.logger.Debug("checkout session payload unreadable", gorole.Field{Key: "error", Value: err})
		}
	}
	if price := firstLineItemPrice(session.LineItems); price != "" {
		return price
	}

	subscriptionID := ev.SubscriptionID
	if session.ID != "" {
		expanded, err := r.retrieveSession(ctx, session.ID)
		if err != nil {
			r.logLookupFailure(ev, err)
		} else {
			if price := firstLineItemPrice(expanded.LineItems); price != "" {
				return price
			}
			if subscriptionID == "" && expanded.Subscription != nil {
				subscriptionID = expanded.Subscription.ID
			}
		}
	}

	if subscriptionID == "" {
		return ""
	}
	sub, err := r.FetchSubscription(ctx, subscriptionID)
	if err != nil {
		r.logLookupFailure(ev, err)
		return ""
	}
	return sub.PriceID
}

// FetchSubscription retrieves a subscription and returns it as a canonical
// subscription-updated event.
func (r *CheckoutSessionResolver) FetchSubscription(ctx context.Context, subscriptionID string) (*billing.CanonicalEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sub, err := r.api.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, &billing.RemoteLookupError{Op: "retrieve subscription", ID: subscriptionID, Err: err}
	}
	return r.normalizer.SubscriptionEvent(sub), nil
}

func (r *CheckoutSessionResolver) retrieveSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	session, err := r.api.RetrieveCheckoutSession(ctx, id, "line_items", "subscription")
	if err != nil {
		return nil, &billing.RemoteLookupError{Op: "retrieve checkout session", ID: id, Err: err}
	}
	return session, nil
}

func (r *CheckoutSessionResolver) logLookupFailure(ev *billing.CanonicalEvent, err error) {
	r.logger.Warn("stripe lookup failed, continuing without it",
		gorole.Field{Key: "event_id", Value: ev.EventID},
		gorole.Field{Key: "event_type", Value: ev.RawType},
		gorole.Field{Key: "error", Value: err})
}

func firstLineItemPrice(items *stripe.LineItemList) string {
	if items == nil {
		return ""
	}
	for _, item := range items.Data {
		if item != nil && item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}
