package billing

import (
	"context"
	"errors"
	"strconv"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

// Action is what reconciliation did with an event.
type Action string

const (
	// ActionAssigned means a role was written.
	ActionAssigned Action = "assigned"
	// ActionIgnored covers unknown event types and inactive subscriptions.
	ActionIgnored Action = "ignored"
	// ActionObserved is used for events that are only logged (failed payments).
	ActionObserved Action = "observed"
	// ActionUnresolved means user, price or subscription could not be found.
	ActionUnresolved Action = "unresolved"
	// ActionUnmapped means the price has no configured role.
	ActionUnmapped Action = "unmapped"
	// ActionStale means the store kept a newer assignment.
	ActionStale Action = "stale"
)

// Outcome is the result of reconciling one event.
type Outcome struct {
	Action    Action
	EventType EventType
	UserID    string

	// RoleID is the assigned role when Action is ActionAssigned.
	RoleID         int
	PreviousRoleID *int
	Changed        bool

	// Gap is set for ActionUnresolved and ActionUnmapped.
	Gap *ResolutionGap
}

// Resolver fetches the data that webhooks leave out.
type Resolver interface {
	// ResolveCheckoutPrice returns the price bought in a completed checkout,
	// or "" when it cannot be determined. Lookup failures are not errors.
	ResolveCheckoutPrice(ctx context.Context, ev *CanonicalEvent) string

	// FetchSubscription loads a subscription as a subscription-updated event.
	FetchSubscription(ctx context.Context, subscriptionID string) (*CanonicalEvent, error)
}

// ReconcilerOptions configures a Reconciler.
type ReconcilerOptions struct {
	Provider          string
	RejectStaleEvents bool
	OnRoleChange      RoleChangeCallback
	Metrics           Metrics
	Logger            gorole.Logger
}

// Reconciler applies canonical events to role assignments.
type Reconciler struct {
	manager  *gorole.Manager
	prices   *PriceRoleMap
	resolver Resolver
	opts     ReconcilerOptions
}

// NewReconciler creates a Reconciler. resolver may be nil, in which case
// checkout prices and invoice subscriptions are never looked up.
func NewReconciler(manager *gorole.Manager, prices *PriceRoleMap, resolver Resolver,
	opts ReconcilerOptions) (*Reconciler, error) {
	if manager == nil || prices == nil {
		return nil, ErrProviderNotConfigured
	}
	if opts.Metrics == nil {
		opts.Metrics = &NoopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = &gorole.NoopLogger{}
	}
	return &Reconciler{manager: manager, prices: prices, resolver: resolver, opts: opts}, nil
}

// Reconcile routes ev through the transition table. The only error it returns
// is a *PersistenceError; every other problem ends in an Outcome that the
// caller acknowledges.
func (r *Reconciler) Reconcile(ctx context.Context, ev *CanonicalEvent) (*Outcome, error) {
	switch ev.Type {
	case EventCheckoutCompleted:
		return r.reconcileCheckout(ctx, ev)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return r.reconcileSubscription(ctx, ev)
	case EventSubscriptionDeleted:
		return r.reconcileDeleted(ctx, ev)
	case EventInvoicePaid:
		return r.reconcileInvoicePaid(ctx, ev)
	case EventInvoicePaymentFailed:
		r.opts.Logger.Warn("invoice payment failed",
			gorole.Field{Key: "event_id", Value: ev.EventID},
			gorole.Field{Key: "invoice_id", Value: ev.InvoiceID},
			gorole.Field{Key: "subscription_id", Value: ev.SubscriptionID},
			gorole.Field{Key: "user_id", Value: ev.UserID})
		return &Outcome{Action: ActionObserved, EventType: ev.Type, UserID: ev.UserID}, nil
	default:
		r.opts.Logger.Debug("ignoring unhandled event type",
			gorole.Field{Key: "event_id", Value: ev.EventID},
			gorole.Field{Key: "event_type", Value: ev.RawType})
		return &Outcome{Action: ActionIgnored, EventType: ev.Type}, nil
	}
}

func (r *Reconciler) reconcileCheckout(ctx context.Context, ev *CanonicalEvent) (*Outcome, error) {
	if ev.Unresolvable || ev.UserID == "" {
		return r.gap(ev, GapNoUser, nil), nil
	}

	priceID := ev.PriceID
	if priceID == "" && r.resolver != nil {
		priceID = r.resolver.ResolveCheckoutPrice(ctx, ev)
	}
	if priceID == "" {
		return r.gap(ev, GapNoPrice, nil), nil
	}

	return r.assignPrice(ctx, ev, priceID)
}

func (r *Reconciler) reconcileSubscription(ctx context.Context, ev *CanonicalEvent) (*Outcome, error) {
	if !ev.IsActive() {
		r.opts.Logger.Debug("subscription not active, role unchanged",
			gorole.Field{Key: "subscription_id", Value: ev.SubscriptionID},
			gorole.Field{Key: "status", Value: ev.Status})
		return &Outcome{Action: ActionIgnored, EventType: ev.Type, UserID: ev.UserID}, nil
	}
	if ev.Unresolvable || ev.UserID == "" {
		return r.gap(ev, GapNoUser, nil), nil
	}
	if ev.PriceID == "" {
		return r.gap(ev, GapNoPrice, nil), nil
	}
	return r.assignPrice(ctx, ev, ev.PriceID)
}

func (r *Reconciler) reconcileDeleted(ctx context.Context, ev *CanonicalEvent) (*Outcome, error) {
	if ev.Unresolvable || ev.UserID == "" {
		return r.gap(ev, GapNoUser, nil), nil
	}
	return r.assign(ctx, ev, r.prices.DefaultRole())
}

func (r *Reconciler) reconcileInvoicePaid(ctx context.Context, ev *CanonicalEvent) (*Outcome, error) {
	if ev.SubscriptionID == "" {
		return r.gap(ev, GapNoSubscription, nil), nil
	}
	if r.resolver == nil {
		return r.gap(ev, GapLookupFailed, errors.New("no resolver configured")), nil
	}

	sub, err := r.resolver.FetchSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return r.gap(ev, GapLookupFailed, err), nil
	}

	// The invoice is what happened now; ordering and logging follow it.
	merged := *sub
	merged.Type = EventSubscriptionUpdated
	merged.RawType = ev.RawType
	merged.EventID = ev.EventID
	merged.Created = ev.Created
	merged.InvoiceID = ev.InvoiceID
	if merged.UserID == "" && ev.UserID != "" {
		merged.UserID = ev.UserID
		merged.Unresolvable = false
	}

	out, err := r.reconcileSubscription(ctx, &merged)
	if out != nil {
		out.EventType = ev.Type
	}
	return out, err
}

func (r *Reconciler) assignPrice(ctx context.Context, ev *CanonicalEvent, priceID string) (*Outcome, error) {
	withPrice := *ev
	withPrice.PriceID = priceID

	role, ok := r.prices.RoleForPrice(priceID)
	if !ok {
		return r.gap(&withPrice, GapUnmappedPrice, nil), nil
	}
	return r.assign(ctx, &withPrice, role)
}

func (r *Reconciler) assign(ctx context.Context, ev *CanonicalEvent, roleID int) (*Outcome, error) {
	res, err := r.manager.AssignRole(ctx, &gorole.UpsertRequest{
		UserID:      ev.UserID,
		RoleID:      roleID,
		EventAt:     ev.Created,
		Source:      ev.RawType,
		RejectStale: r.opts.RejectStaleEvents,
	})
	if err != nil {
		r.opts.Logger.Error("failed to persist role assignment",
			gorole.Field{Key: "event_id", Value: ev.EventID},
			gorole.Field{Key: "user_id", Value: ev.UserID},
			gorole.Field{Key: "role_id", Value: roleID},
			gorole.Field{Key: "error", Value: err})
		return nil, &PersistenceError{UserID: ev.UserID, Err: err}
	}

	out := &Outcome{Action: ActionAssigned, EventType: ev.Type, UserID: ev.UserID, RoleID: roleID}
	if res.Previous != nil {
		prev := res.Previous.RoleID
		out.PreviousRoleID = &prev
	}
	if !res.Applied {
		out.Action = ActionStale
		r.opts.Logger.Info("older event skipped",
			gorole.Field{Key: "event_id", Value: ev.EventID},
			gorole.Field{Key: "user_id", Value: ev.UserID})
		return out, nil
	}

	out.Changed = res.Changed()
	r.opts.Logger.Info("role assigned",
		gorole.Field{Key: "event_id", Value: ev.EventID},
		gorole.Field{Key: "event_type", Value: ev.RawType},
		gorole.Field{Key: "user_id", Value: ev.UserID},
		gorole.Field{Key: "role_id", Value: roleID},
		gorole.Field{Key: "changed", Value: out.Changed})

	if out.Changed {
		from := "none"
		if out.PreviousRoleID != nil {
			from = strconv.Itoa(*out.PreviousRoleID)
		}
		r.opts.Metrics.RecordRoleChange(r.opts.Provider, from, strconv.Itoa(roleID))
		r.notify(ctx, ev, out)
	}
	return out, nil
}

func (r *Reconciler) notify(ctx context.Context, ev *CanonicalEvent, out *Outcome) {
	if r.opts.OnRoleChange == nil {
		return
	}
	err := r.opts.OnRoleChange(ctx, RoleChangeEvent{
		UserID:         out.UserID,
		PreviousRoleID: out.PreviousRoleID,
		NewRoleID:      out.RoleID,
		Provider:       r.opts.Provider,
		EventType:      ev.RawType,
		EventID:        ev.EventID,
		EventTimestamp: ev.Created,
		SubscriptionID: ev.SubscriptionID,
		PriceID:        ev.PriceID,
	})
	if err != nil {
		r.opts.Logger.Warn("role change callback failed",
			gorole.Field{Key: "user_id", Value: out.UserID},
			gorole.Field{Key: "error", Value: err})
	}
}

func (r *Reconciler) gap(ev *CanonicalEvent, reason GapReason, cause error) *Outcome {
	g := &ResolutionGap{
		Reason:         reason,
		EventType:      ev.RawType,
		EventID:        ev.EventID,
		UserID:         ev.UserID,
		PriceID:        ev.PriceID,
		SubscriptionID: ev.SubscriptionID,
		Err:            cause,
	}
	fields := []gorole.Field{
		{Key: "event_id", Value: ev.EventID},
		{Key: "event_type", Value: ev.RawType},
		{Key: "reason", Value: string(reason)},
		{Key: "user_id", Value: ev.UserID},
		{Key: "price_id", Value: ev.PriceID},
		{Key: "subscription_id", Value: ev.SubscriptionID},
	}
	if cause != nil {
		fields = append(fields, gorole.Field{Key: "error", Value: cause})
	}
	r.opts.Logger.Warn("event acknowledged without role change", fields...)
	r.opts.Metrics.RecordResolutionGap(r.opts.Provider, string(reason))

	action := ActionUnresolved
	if reason == GapUnmappedPrice {
		action = ActionUnmapped
	}
	return &Outcome{Action: action, EventType: ev.Type, UserID: ev.UserID, Gap: g}
}
