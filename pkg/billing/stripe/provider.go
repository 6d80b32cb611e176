package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/gorole/pkg/billing"
	"github.com/mihaimyh/gorole/pkg/billing/internal"
	"github.com/mihaimyh/gorole/pkg/gorole"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Manager, PriceRoles, WebhookSecret, etc.)

	// API overrides the Stripe client. When nil and APIKey is set, a stripe-go
	// client is built; when both are empty, outbound lookups are disabled.
	API API

	// RateLimitRequests and RateLimitWindow bound webhook requests per client IP
	// (defaults: 100 per minute).
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// TrustedProxies are CIDRs or addresses of proxies whose X-Forwarded-For
	// header names the client. Without them the limiter keys on the peer address.
	TrustedProxies []string
}

// Provider implements billing.Provider for Stripe.
type Provider struct {
	manager     *gorole.Manager
	api         API
	verifier    *Verifier
	normalizer  *Normalizer
	prices      *billing.PriceRoleMap
	reconciler  *billing.Reconciler
	rateLimiter *internal.RateLimiter
	users       billing.UserDirectory
	metrics     billing.Metrics
	logger      gorole.Logger
}

var _ billing.Provider = (*Provider)(nil)

// NewProvider creates a new Stripe billing provider. A missing webhook secret
// is rejected here so that a misconfigured service fails at startup.
func NewProvider(config Config) (*Provider, error) {
	if config.Manager == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	verifier, err := NewVerifier(config.WebhookSecret, config.SignatureTolerance)
	if err != nil {
		return nil, err
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &gorole.NoopLogger{}
	}

	api := config.API
	if api == nil {
		if apiKey := strings.TrimSpace(config.APIKey); apiKey != "" {
			httpClient := config.HTTPClient
			if httpClient == nil {
				httpClient = &http.Client{Timeout: defaultHTTPTimeout}
			}
			api = NewAPI(apiKey, httpClient, metrics)
		}
	}

	normalizer := NewNormalizer(config.UserMetadataKey)
	prices := billing.NewPriceRoleMap(config.PriceRoles, config.PlanPrices, config.Manager.DefaultRoleID())

	var resolver billing.Resolver
	if api != nil {
		resolver = NewCheckoutSessionResolver(api, normalizer, config.LookupTimeout, logger)
	} else {
		logger.Warn("stripe api key not configured, checkout and invoice lookups disabled")
	}

	reconciler, err := billing.NewReconciler(config.Manager, prices, resolver, billing.ReconcilerOptions{
		Provider:          providerName,
		RejectStaleEvents: config.RejectStaleEvents,
		OnRoleChange:      config.OnRoleChange,
		Metrics:           metrics,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	trusted, err := internal.ParseTrustedProxies(config.TrustedProxies)
	if err != nil {
		return nil, err
	}
	limit, window := config.RateLimitRequests, config.RateLimitWindow
	if limit <= 0 {
		limit = defaultRateLimitRequests
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}

	return &Provider{
		manager:     config.Manager,
		api:         api,
		verifier:    verifier,
		normalizer:  normalizer,
		prices:      prices,
		reconciler:  reconciler,
		rateLimiter: internal.NewRateLimiter(limit, window, trusted...),
		users:       config.Users,
		metrics:     metrics,
		logger:      logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// HandleWebhook verifies, normalizes and reconciles one delivery.
func (p *Provider) HandleWebhook(ctx context.Context, payload []byte, signature string) (*billing.Outcome, error) {
	event, err := p.verifier.Verify(payload, signature)
	if err != nil {
		return nil, err
	}
	ev, err := p.normalizer.Normalize(event)
	if err != nil {
		return nil, err
	}
	return p.reconciler.Reconcile(ctx, ev)
}

// Prices returns the configured price and plan mappings.
func (p *Provider) Prices() *billing.PriceRoleMap {
	return p.prices
}
