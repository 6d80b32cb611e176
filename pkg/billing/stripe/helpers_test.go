package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/gorole/pkg/billing"
	"github.com/mihaimyh/gorole/pkg/gorole"
	"github.com/mihaimyh/gorole/storage/memory"
)

const (
	testWebhookSecret = "whsec_test_secret"
	testCustomerID    = "cus_test_123"

	roleFree  = 1
	roleBasic = 2
	rolePro   = 3

	priceBasic = "price_basic"
	pricePro   = "price_pro"
)

var errStripeDown = errors.New("stripe unavailable")

// fakeAPI serves subscriptions and sessions from memory.
type fakeAPI struct {
	mu       sync.Mutex
	subs     map[string]*stripe.Subscription
	sessions map[string]*stripe.CheckoutSession
	err      error

	subCalls     int
	sessionCalls int
	expands      []string
	created      []*stripe.CheckoutSessionCreateParams
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		subs:     make(map[string]*stripe.Subscription),
		sessions: make(map[string]*stripe.CheckoutSession),
	}
}

func (f *fakeAPI) RetrieveSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "No such subscription"}
	}
	return sub, nil
}

func (f *fakeAPI) RetrieveCheckoutSession(_ context.Context, id string, expand ...string) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionCalls++
	f.expands = append(f.expands, expand...)
	if f.err != nil {
		return nil, f.err
	}
	session, ok := f.sessions[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "No such checkout session"}
	}
	return session, nil
}

func (f *fakeAPI) CreateCheckoutSession(_ context.Context,
	params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, params)
	return &stripe.CheckoutSession{ID: "cs_created", URL: "https://checkout.stripe.com/c/pay/cs_created"}, nil
}

func activeSubscription(id, userID, priceID string) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       id,
		Status:   stripe.SubscriptionStatusActive,
		Metadata: map[string]string{billing.DefaultUserMetadataKey: userID},
		Customer: &stripe.Customer{ID: testCustomerID},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{ID: "si_" + id, Price: &stripe.Price{ID: priceID}}},
		},
	}
}

type testEnv struct {
	provider *Provider
	storage  *memory.Storage
	manager  *gorole.Manager
	api      *fakeAPI
}

func newTestEnv(t *testing.T, configure ...func(*Config)) *testEnv {
	t.Helper()
	storage := memory.New()
	manager, err := gorole.NewManager(storage, gorole.Config{DefaultRoleID: roleFree})
	require.NoError(t, err)

	api := newFakeAPI()
	config := Config{
		Config: billing.Config{
			Manager:       manager,
			PriceRoles:    map[string]int{priceBasic: roleBasic, pricePro: rolePro},
			PlanPrices:    map[string]string{"basic": priceBasic, "pro": pricePro},
			WebhookSecret: testWebhookSecret,
			LookupTimeout: time.Second,
		},
		API:               api,
		RateLimitRequests: 1000,
	}
	for _, fn := range configure {
		fn(&config)
	}

	provider, err := NewProvider(config)
	require.NoError(t, err)
	return &testEnv{provider: provider, storage: storage, manager: manager, api: api}
}

// eventPayload builds a Stripe event envelope around object.
func eventPayload(t *testing.T, id, eventType string, created int64, object any) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     created,
		"api_version": stripe.APIVersion,
		"livemode":    false,
		"data":        map[string]json.RawMessage{"object": raw},
	})
	require.NoError(t, err)
	return payload
}

func sign(payload []byte) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}

func (e *testEnv) post(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set(signatureHeader, signature)
	req.RemoteAddr = "203.0.113.7:4242"
	w := httptest.NewRecorder()
	e.provider.WebhookHandler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) role(t *testing.T, userID string) int {
	t.Helper()
	role, err := e.manager.GetRole(context.Background(), userID)
	require.NoError(t, err)
	return role
}

func checkoutObject(userID, subscriptionID string, linePrice string) map[string]any {
	obj := map[string]any{
		"id":                  "cs_test_1",
		"object":              "checkout.session",
		"mode":                "subscription",
		"status":              "complete",
		"client_reference_id": userID,
		"customer":            testCustomerID,
	}
	if subscriptionID != "" {
		obj["subscription"] = subscriptionID
	}
	if linePrice != "" {
		obj["line_items"] = map[string]any{
			"object": "list",
			"data":   []any{map[string]any{"id": "li_1", "price": map[string]any{"id": linePrice}}},
		}
	}
	return obj
}

func subscriptionObject(id, userID, status, priceID string) map[string]any {
	return map[string]any{
		"id":       id,
		"object":   "subscription",
		"status":   status,
		"customer": testCustomerID,
		"metadata": map[string]string{"user_id": userID},
		"items": map[string]any{
			"object": "list",
			"data":   []any{map[string]any{"id": "si_" + id, "price": map[string]any{"id": priceID}}},
		},
	}
}
