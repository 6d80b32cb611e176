package billing

import (
	"net/http"
	"time"

	"github.com/mihaimyh/gorole/pkg/gorole"
)

// DefaultUserMetadataKey is the metadata key that carries the application user id.
const DefaultUserMetadataKey = "user_id"

// DefaultLookupTimeout bounds each outbound provider API call made while reconciling.
const DefaultLookupTimeout = 5 * time.Second

// Config defines the standard configuration all providers should accept
type Config struct {
	// Manager is the gorole Manager that receives role assignments.
	// Its DefaultRoleID is the role granted when a subscription ends.
	Manager *gorole.Manager

	// PriceRoles maps provider price ids to application role ids.
	// For example: map[string]int{"price_pro_monthly": 2, "price_pro_yearly": 2}
	PriceRoles map[string]int

	// PlanPrices maps plan names used by the application to provider price ids.
	PlanPrices map[string]string

	// WebhookSecret is the shared secret used to verify webhook signatures. Required.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	HTTPClient *http.Client

	// UserMetadataKey is the metadata key holding the user id (default: "user_id").
	UserMetadataKey string

	// LookupTimeout bounds each outbound lookup (default: 5s).
	LookupTimeout time.Duration

	// SignatureTolerance is how old a signed webhook may be (default: provider library default).
	SignatureTolerance time.Duration

	// RejectStaleEvents skips writes from events older than the stored assignment.
	// When false, the last processed event wins.
	RejectStaleEvents bool

	// OnRoleChange is called after an assignment changed a user's role (optional).
	OnRoleChange RoleChangeCallback

	// Users resolves contact details when starting a checkout (optional).
	Users UserDirectory

	// Metrics is an optional metrics collector for billing operations.
	Metrics Metrics

	// Logger is used for structured logging (default: gorole.NoopLogger)
	Logger gorole.Logger
}
