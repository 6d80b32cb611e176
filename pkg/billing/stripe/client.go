package stripe

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v83"
	"golang.org/x/sync/singleflight"

	"github.com/mihaimyh/gorole/pkg/billing"
)

const (
	endpointSubscriptionRetrieve = "/v1/subscriptions/{id}"
	endpointSessionRetrieve      = "/v1/checkout/sessions/{id}"
	endpointSessionCreate        = "/v1/checkout/sessions"
)

// API is the subset of the Stripe API the provider calls. It is satisfied by
// the client built in NewAPI and can be replaced in tests.
type API interface {
	RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	RetrieveCheckoutSession(ctx context.Context, id string, expand ...string) (*stripe.CheckoutSession, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
}

// client wraps an explicit *stripe.Client; no package-level key is ever set.
type client struct {
	sc      *stripe.Client
	metrics billing.Metrics
	group   singleflight.Group

	// flightTimeout bounds a shared lookup, which runs detached from any one caller.
	flightTimeout time.Duration
}

// NewAPI builds an API backed by stripe-go using apiKey. httpClient may be nil.
func NewAPI(apiKey string, httpClient *http.Client, metrics billing.Metrics) API {
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	var opts []stripe.ClientOption
	if httpClient != nil {
		opts = append(opts, stripe.WithBackends(stripe.NewBackendsWithConfig(&stripe.BackendConfig{
			HTTPClient: httpClient,
		})))
	}
	return &client{
		sc:            stripe.NewClient(apiKey, opts...),
		metrics:       metrics,
		flightTimeout: billing.DefaultLookupTimeout,
	}
}

// RetrieveSubscription fetches a subscription. Concurrent calls for the same id
// share one request. The request does not inherit the first caller's
// cancellation, and each caller stops waiting when its own ctx is done.
func (c *client) RetrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	ch := c.group.DoChan("sub:"+id, func() (interface{}, error) {
		timeout := c.flightTimeout
		if timeout <= 0 {
			timeout = billing.DefaultLookupTimeout
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		start := time.Now()
		sub, err := c.sc.V1Subscriptions.Retrieve(fctx, id, &stripe.SubscriptionRetrieveParams{})
		c.record(endpointSubscriptionRetrieve, start, err)
		return sub, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*stripe.Subscription), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *client) RetrieveCheckoutSession(ctx context.Context, id string, expand ...string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionRetrieveParams{}
	for _, e := range expand {
		params.AddExpand(e)
	}
	start := time.Now()
	session, err := c.sc.V1CheckoutSessions.Retrieve(ctx, id, params)
	c.record(endpointSessionRetrieve, start, err)
	return session, err
}

func (c *client) CreateCheckoutSession(ctx context.Context,
	params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	start := time.Now()
	session, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	c.record(endpointSessionCreate, start, err)
	return session, err
}

func (c *client) record(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode != 0 {
			status = strconv.Itoa(serr.HTTPStatusCode)
		}
	}
	c.metrics.RecordAPICall(providerName, endpoint, status)
	c.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
}
