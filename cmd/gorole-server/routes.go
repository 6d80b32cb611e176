package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/gorole/internal/config"
	"github.com/mihaimyh/gorole/pkg/api"
	"github.com/mihaimyh/gorole/pkg/billing"
	"github.com/mihaimyh/gorole/pkg/gorole"
)

const timeoutMessage = `{"error":"request timed out"}`

type healthChecker interface {
	Ping(ctx context.Context) error
}

type checkoutStarter interface {
	WebhookHandler() http.Handler
	CheckoutURL(ctx context.Context, userID, plan, successURL, cancelURL string) (string, error)
}

type routerDeps struct {
	cfg      *config.Config
	manager  *gorole.Manager
	provider checkoutStarter
	registry *prometheus.Registry
	health   healthChecker
	log      zerolog.Logger
}

func newRouter(d routerDeps) (http.Handler, error) {
	getUserID := api.FromHeader(d.cfg.Server.UserHeader)

	roles, err := api.NewHandler(api.Config{
		Manager:   d.manager,
		GetUserID: getUserID,
		RoleNames: d.cfg.Roles.RoleNames,
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	// RemoteAddr stays the peer address; the webhook rate limiter reads
	// X-Forwarded-For only from configured trusted proxies.
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := d.health.Ping(ctx); err != nil {
			d.log.Warn().Err(err).Msg("health check failed")
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))

	// An event that cannot finish in time gets a 503 and is redelivered by Stripe.
	timeout := func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d.cfg.Server.RequestTimeout, timeoutMessage)
	}

	r.With(timeout).Handle("/webhooks/stripe", d.provider.WebhookHandler())
	r.Route("/roles", func(r chi.Router) {
		r.Use(timeout)
		r.Get("/me", roles.GetRole)
		r.Get("/me/history", roles.GetHistory)
		r.Post("/checkout", checkoutHandler(d.provider, getUserID, d.log))
	})

	return r, nil
}

type checkoutRequest struct {
	Plan       string `json:"plan"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

func checkoutHandler(p checkoutStarter, getUserID func(*http.Request) string, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := getUserID(r)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing user id")
			return
		}

		var req checkoutRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Plan == "" || req.SuccessURL == "" || req.CancelURL == "" {
			writeError(w, http.StatusBadRequest, "plan, success_url and cancel_url are required")
			return
		}

		url, err := p.CheckoutURL(r.Context(), userID, req.Plan, req.SuccessURL, req.CancelURL)
		switch {
		case err == nil:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(checkoutResponse{URL: url})
		case errors.Is(err, billing.ErrPlanNotConfigured):
			writeError(w, http.StatusNotFound, "unknown plan")
		case errors.Is(err, billing.ErrProviderNotConfigured):
			writeError(w, http.StatusNotImplemented, "checkout is not enabled")
		default:
			log.Error().Err(err).Str("user_id", userID).Msg("checkout session failed")
			writeError(w, http.StatusBadGateway, "checkout session failed")
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
