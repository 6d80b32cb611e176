package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gorole.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9090"
  request_timeout: 5s
stripe:
  webhook_secret: whsec_test
roles:
  default: 1
  prices:
    - price_1AbC=2
    - price_2XyZ=3
  plans:
    - basic=price_1AbC
  names:
    - 1=free
    - 2=basic
storage:
  driver: memory
reconcile:
  reject_stale_events: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "whsec_test", cfg.Stripe.WebhookSecret)
	assert.Equal(t, 5*time.Minute, cfg.Stripe.Tolerance)
	assert.Equal(t, 1, cfg.Roles.Default)
	assert.Equal(t, map[string]int{"price_1AbC": 2, "price_2XyZ": 3}, cfg.Roles.PriceRoles)
	assert.Equal(t, map[string]string{"basic": "price_1AbC"}, cfg.Roles.PlanPrices)
	assert.Equal(t, map[int]string{1: "free", 2: "basic"}, cfg.Roles.RoleNames)
	assert.True(t, cfg.Reconcile.RejectStaleEvents)
	assert.Equal(t, "gorole.role.changed", cfg.NATS.Subject)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("GOROLE_STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("GOROLE_ROLES_PRICES", "price_basic=2,price_pro=3")
	t.Setenv("GOROLE_STORAGE_DRIVER", "postgres")
	t.Setenv("GOROLE_POSTGRES_DSN", "postgres://localhost/gorole")
	t.Setenv("GOROLE_SERVER_REQUEST_TIMEOUT", "3s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "whsec_env", cfg.Stripe.WebhookSecret)
	assert.Equal(t, map[string]int{"price_basic": 2, "price_pro": 3}, cfg.Roles.PriceRoles)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/gorole", cfg.Postgres.DSN)
	assert.Equal(t, 3*time.Second, cfg.Server.RequestTimeout)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, `
stripe:
  webhook_secret: whsec_file
roles:
  prices: ["price_basic=2"]
`)
	t.Setenv("GOROLE_STRIPE_WEBHOOK_SECRET", "whsec_env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "whsec_env", cfg.Stripe.WebhookSecret)
}

func TestLoad_MissingWebhookSecret(t *testing.T) {
	t.Setenv("GOROLE_ROLES_PRICES", "price_basic=2")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WebhookSecret")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8080", RequestTimeout: time.Second, ShutdownTimeout: time.Second, UserHeader: "X-User-ID"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Stripe:  StripeConfig{WebhookSecret: "whsec_test"},
		Roles:   RolesConfig{Prices: []string{"price_basic=2"}},
		Storage: StorageConfig{Driver: DriverMemory},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		errText string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Storage.Driver = "mongo" },
			errText: "Driver",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Storage.Driver = DriverPostgres },
			wantErr: ErrMissingBackend,
		},
		{
			name:    "firestore without project",
			mutate:  func(c *Config) { c.Storage.Driver = DriverFirestore },
			wantErr: ErrMissingBackend,
		},
		{
			name: "tiered without redis",
			mutate: func(c *Config) {
				c.Storage.Driver = DriverTiered
				c.Postgres.DSN = "postgres://localhost/gorole"
				c.Redis.Addr = ""
			},
			wantErr: ErrMissingBackend,
		},
		{
			name:   "trusted proxies",
			mutate: func(c *Config) { c.Stripe.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.1"} },
		},
		{
			name:    "trusted proxy hostname",
			mutate:  func(c *Config) { c.Stripe.TrustedProxies = []string{"lb.internal"} },
			errText: "TrustedProxies",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			errText: "Level",
		},
		{
			name:    "price without role",
			mutate:  func(c *Config) { c.Roles.Prices = []string{"price_basic"} },
			errText: "not key=value",
		},
		{
			name:    "non-numeric role",
			mutate:  func(c *Config) { c.Roles.Prices = []string{"price_basic=gold"} },
			errText: "must be an integer",
		},
		{
			name:    "plan with unmapped price",
			mutate:  func(c *Config) { c.Roles.Plans = []string{"pro=price_pro"} },
			errText: "no role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errText)
			default:
				assert.NoError(t, err)
			}
		})
	}
}
