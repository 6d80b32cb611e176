package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gorole/pkg/billing"
)

// CheckoutURL creates a subscription Checkout Session for plan and returns its URL.
// The session carries the user id as client_reference_id and in both session
// and subscription metadata, so every later webhook resolves to the user.
func (p *Provider) CheckoutURL(ctx context.Context, userID, plan, successURL, cancelURL string) (string, error) {
	if p.api == nil {
		return "", billing.ErrProviderNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", billing.ErrUserNotFound
	}

	priceID, ok := p.prices.PriceForPlan(plan)
	if !ok {
		return "", fmt.Errorf("%w: %s", billing.ErrPlanNotConfigured, plan)
	}

	var email string
	if p.users != nil {
		var err error
		email, err = p.users.EmailForUser(ctx, userID)
		if err != nil && !errors.Is(err, billing.ErrUserNotFound) {
			return "", fmt.Errorf("failed to resolve user email: %w", err)
		}
	}

	key := p.normalizer.UserMetadataKey
	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(userID),
		Metadata:          map[string]string{key: userID},
		SubscriptionData:  &stripe.CheckoutSessionCreateSubscriptionDataParams{},
	}
	params.SubscriptionData.AddMetadata(key, userID)
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	session, err := p.api.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session.URL, nil
}
