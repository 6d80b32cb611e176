package stripe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gorole/pkg/billing"
)

func TestCheckoutURL(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Users = billing.UserDirectoryFunc(func(_ context.Context, userID string) (string, error) {
			if userID == "u1" {
				return "u1@example.com", nil
			}
			return "", billing.ErrUserNotFound
		})
	})
	ctx := context.Background()

	url, err := env.provider.CheckoutURL(ctx, "u1", "PRO", "https://app.test/ok", "https://app.test/cancel")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_created", url)

	require.Len(t, env.api.created, 1)
	params := env.api.created[0]
	assert.Equal(t, "subscription", *params.Mode)
	assert.Equal(t, pricePro, *params.LineItems[0].Price)
	assert.Equal(t, "u1", *params.ClientReferenceID)
	assert.Equal(t, "u1@example.com", *params.CustomerEmail)
	assert.Equal(t, "u1", params.Metadata["user_id"])
	assert.Equal(t, "u1", params.SubscriptionData.Metadata["user_id"])

	_, err = env.provider.CheckoutURL(ctx, "u2", "basic", "https://app.test/ok", "https://app.test/cancel")
	require.NoError(t, err)
	assert.Nil(t, env.api.created[1].CustomerEmail)
}

func TestCheckoutURL_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.provider.CheckoutURL(ctx, "u1", "enterprise", "", "")
	assert.ErrorIs(t, err, billing.ErrPlanNotConfigured)

	_, err = env.provider.CheckoutURL(ctx, " ", "pro", "", "")
	assert.ErrorIs(t, err, billing.ErrUserNotFound)

	env.api.err = errStripeDown
	_, err = env.provider.CheckoutURL(ctx, "u1", "pro", "", "")
	assert.True(t, errors.Is(err, errStripeDown))

	bare := newTestEnv(t, func(c *Config) { c.API = nil })
	_, err = bare.provider.CheckoutURL(ctx, "u1", "pro", "", "")
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)
}
