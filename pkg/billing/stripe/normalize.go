package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gorole/pkg/billing"
)

const (
	eventCheckoutSessionCompleted = "checkout.session.completed"
	eventSubscriptionCreated      = "customer.subscription.created"
	eventSubscriptionUpdated      = "customer.subscription.updated"
	eventSubscriptionDeleted      = "customer.subscription.deleted"
	eventInvoicePaid              = "invoice.paid"
	eventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	eventInvoicePaymentFailed     = "invoice.payment_failed"
)

var eventTypes = map[string]billing.EventType{
	eventCheckoutSessionCompleted: billing.EventCheckoutCompleted,
	eventSubscriptionCreated:      billing.EventSubscriptionCreated,
	eventSubscriptionUpdated:      billing.EventSubscriptionUpdated,
	eventSubscriptionDeleted:      billing.EventSubscriptionDeleted,
	eventInvoicePaid:              billing.EventInvoicePaid,
	eventInvoicePaymentSucceeded:  billing.EventInvoicePaid,
	eventInvoicePaymentFailed:     billing.EventInvoicePaymentFailed,
}

// Normalizer turns verified Stripe events into billing.CanonicalEvent values.
// It never calls the Stripe API.
type Normalizer struct {
	// UserMetadataKey is the metadata key holding the application user id.
	UserMetadataKey string
}

// NewNormalizer returns a Normalizer reading user ids from metadata[userKey].
func NewNormalizer(userKey string) *Normalizer {
	if strings.TrimSpace(userKey) == "" {
		userKey = billing.DefaultUserMetadataKey
	}
	return &Normalizer{UserMetadataKey: userKey}
}

// Normalize maps event to its canonical form. Unrecognized types come back as
// billing.EventUnknown. A recognized type whose data object cannot be decoded
// is an InvalidPayload verification error.
func (n *Normalizer) Normalize(event *stripe.Event) (*billing.CanonicalEvent, error) {
	ev := &billing.CanonicalEvent{
		Type:    eventTypes[string(event.Type)],
		RawType: string(event.Type),
		EventID: event.ID,
	}
	if event.Created > 0 {
		ev.Created = time.Unix(event.Created, 0).UTC()
	}
	if event.Data != nil {
		ev.Raw = event.Data.Raw
	}

	var err error
	switch ev.Type {
	case billing.EventCheckoutCompleted:
		err = n.fromCheckoutSession(ev)
	case billing.EventSubscriptionCreated, billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		err = n.fromSubscription(ev)
	case billing.EventInvoicePaid, billing.EventInvoicePaymentFailed:
		err = n.fromInvoice(ev)
	default:
		return ev, nil
	}
	if err != nil {
		return nil, billing.NewVerificationError(billing.InvalidPayload,
			fmt.Errorf("decode %s data: %w", ev.RawType, err))
	}
	return ev, nil
}

func (n *Normalizer) fromCheckoutSession(ev *billing.CanonicalEvent) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(ev.Raw, &session); err != nil {
		return err
	}

	var subMeta map[string]string
	if session.Subscription != nil {
		ev.SubscriptionID = session.Subscription.ID
		subMeta = session.Subscription.Metadata
	}
	if session.Customer != nil {
		ev.CustomerID = session.Customer.ID
	}
	ev.Status = string(session.Status)

	ev.UserID = firstNonEmpty(
		session.ClientReferenceID,
		session.Metadata[n.UserMetadataKey],
		subMeta[n.UserMetadataKey],
	)
	ev.Unresolvable = ev.UserID == ""
	return nil
}

func (n *Normalizer) fromSubscription(ev *billing.CanonicalEvent) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(ev.Raw, &sub); err != nil {
		return err
	}
	n.applySubscription(ev, &sub)
	return nil
}

// applySubscription copies the fields of sub that reconciliation uses.
func (n *Normalizer) applySubscription(ev *billing.CanonicalEvent, sub *stripe.Subscription) {
	ev.SubscriptionID = sub.ID
	ev.Status = string(sub.Status)
	ev.PriceID = firstItemPrice(sub)

	var custMeta map[string]string
	if sub.Customer != nil {
		ev.CustomerID = sub.Customer.ID
		custMeta = sub.Customer.Metadata
	}
	ev.UserID = firstNonEmpty(sub.Metadata[n.UserMetadataKey], custMeta[n.UserMetadataKey])
	ev.Unresolvable = ev.UserID == ""
}

func firstItemPrice(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

// invoicePayload reads the subscription reference from both the current
// parent.subscription_details layout and the older top-level field.
type invoicePayload struct {
	ID           string            `json:"id"`
	Customer     expandableID      `json:"customer"`
	Subscription expandableID      `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
	Parent       *struct {
		SubscriptionDetails *invoiceSubscriptionDetails `json:"subscription_details"`
	} `json:"parent"`
	SubscriptionDetails *invoiceSubscriptionDetails `json:"subscription_details"`
}

type invoiceSubscriptionDetails struct {
	Subscription expandableID      `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// expandableID accepts either an id string or an expanded object with an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = ""
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*e = expandableID(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

func (n *Normalizer) fromInvoice(ev *billing.CanonicalEvent) error {
	var inv invoicePayload
	if err := json.Unmarshal(ev.Raw, &inv); err != nil {
		return err
	}
	ev.InvoiceID = inv.ID
	ev.CustomerID = string(inv.Customer)

	details := inv.SubscriptionDetails
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		details = inv.Parent.SubscriptionDetails
	}
	var detailsMeta map[string]string
	subID := string(inv.Subscription)
	if details != nil {
		detailsMeta = details.Metadata
		if details.Subscription != "" {
			subID = string(details.Subscription)
		}
	}
	ev.SubscriptionID = subID

	// The user normally comes from the re-fetched subscription; this is a hint.
	ev.UserID = firstNonEmpty(detailsMeta[n.UserMetadataKey], inv.Metadata[n.UserMetadataKey])
	return nil
}

// SubscriptionEvent builds a canonical subscription-updated event from a
// subscription fetched through the API.
func (n *Normalizer) SubscriptionEvent(sub *stripe.Subscription) *billing.CanonicalEvent {
	ev := &billing.CanonicalEvent{Type: billing.EventSubscriptionUpdated, RawType: eventSubscriptionUpdated}
	n.applySubscription(ev, sub)
	return ev
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
