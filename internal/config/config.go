// Package config loads gorole-server settings from an optional YAML file,
// a .env file and GOROLE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. GOROLE_STRIPE_WEBHOOK_SECRET.
const EnvPrefix = "GOROLE"

// Storage drivers.
const (
	DriverMemory    = "memory"
	DriverPostgres  = "postgres"
	DriverRedis     = "redis"
	DriverFirestore = "firestore"
	DriverTiered    = "tiered"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Roles     RolesConfig     `mapstructure:"roles"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Firestore FirestoreConfig `mapstructure:"firestore"`
	NATS      NATSConfig      `mapstructure:"nats"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// UserHeader carries the authenticated user id for /roles/me, set by an upstream proxy.
	UserHeader string `mapstructure:"user_header" validate:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type StripeConfig struct {
	WebhookSecret   string        `mapstructure:"webhook_secret" validate:"required"`
	APIKey          string        `mapstructure:"api_key"`
	UserMetadataKey string        `mapstructure:"user_metadata_key"`
	Tolerance       time.Duration `mapstructure:"tolerance" validate:"gte=0"`
	LookupTimeout   time.Duration `mapstructure:"lookup_timeout" validate:"gte=0"`
	RateLimit       int           `mapstructure:"rate_limit" validate:"gte=0"`
	// TrustedProxies may set X-Forwarded-For for the webhook rate limiter.
	TrustedProxies []string `mapstructure:"trusted_proxies" validate:"dive,cidr|ip"`
}

// RolesConfig lists mappings as "key=value" strings because viper lowercases
// map keys, and plan prices are sent to Stripe verbatim.
type RolesConfig struct {
	Default int `mapstructure:"default"`
	// Prices entries are "price_id=role_id".
	Prices []string `mapstructure:"prices" validate:"required,min=1"`
	// Plans entries are "plan=price_id".
	Plans []string `mapstructure:"plans"`
	// Names entries are "role_id=name", used by /roles/me.
	Names []string `mapstructure:"names"`

	PriceRoles map[string]int    `mapstructure:"-"`
	PlanPrices map[string]string `mapstructure:"-"`
	RoleNames  map[int]string    `mapstructure:"-"`
}

type ReconcileConfig struct {
	RejectStaleEvents bool `mapstructure:"reject_stale_events"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory postgres redis firestore tiered"`
}

type PostgresConfig struct {
	DSN           string `mapstructure:"dsn"`
	RunMigrations bool   `mapstructure:"run_migrations"`
	// AuditRetention prunes audit rows older than this; zero keeps them forever.
	AuditRetention time.Duration `mapstructure:"audit_retention" validate:"gte=0"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	RoleTTL   time.Duration `mapstructure:"role_ttl" validate:"gte=0"`
}

type FirestoreConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

type NATSConfig struct {
	// URL enables role change publishing when set.
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// ErrMissingBackend is returned when the storage driver needs a connection
// setting that is not configured.
var ErrMissingBackend = errors.New("storage backend not configured")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.user_header", "X-User-ID")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("stripe.user_metadata_key", "user_id")
	v.SetDefault("stripe.tolerance", 5*time.Minute)
	v.SetDefault("stripe.lookup_timeout", 10*time.Second)
	v.SetDefault("stripe.rate_limit", 100)
	v.SetDefault("roles.default", 0)
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("postgres.run_migrations", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "gorole:")
	v.SetDefault("nats.subject", "gorole.role.changed")
}

// Load reads configuration. path may be empty, in which case only defaults,
// .env and the environment are used. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AutomaticEnv only covers keys viper already knows about, so keys without a
// default are bound explicitly.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"stripe.webhook_secret",
		"stripe.api_key",
		"stripe.trusted_proxies",
		"postgres.dsn",
		"postgres.audit_retention",
		"redis.password",
		"redis.db",
		"redis.role_ttl",
		"firestore.project_id",
		"nats.url",
		"reconcile.reject_stale_events",
		"roles.prices",
		"roles.plans",
		"roles.names",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate checks field constraints and that the chosen driver has what it needs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("%w: postgres.dsn is required", ErrMissingBackend)
		}
	case DriverRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr is required", ErrMissingBackend)
		}
	case DriverFirestore:
		if c.Firestore.ProjectID == "" {
			return fmt.Errorf("%w: firestore.project_id is required", ErrMissingBackend)
		}
	case DriverTiered:
		if c.Postgres.DSN == "" || c.Redis.Addr == "" {
			return fmt.Errorf("%w: tiered storage needs postgres.dsn and redis.addr", ErrMissingBackend)
		}
	}

	return c.Roles.parse()
}

func (r *RolesConfig) parse() error {
	r.PriceRoles = make(map[string]int, len(r.Prices))
	for _, entry := range r.Prices {
		price, value, err := splitPair(entry)
		if err != nil {
			return fmt.Errorf("invalid config: roles.prices: %w", err)
		}
		role, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid config: roles.prices %q: role must be an integer", entry)
		}
		r.PriceRoles[price] = role
	}

	r.PlanPrices = make(map[string]string, len(r.Plans))
	for _, entry := range r.Plans {
		plan, price, err := splitPair(entry)
		if err != nil {
			return fmt.Errorf("invalid config: roles.plans: %w", err)
		}
		if _, ok := r.PriceRoles[price]; !ok {
			return fmt.Errorf("invalid config: plan %q uses price %q with no role", plan, price)
		}
		r.PlanPrices[plan] = price
	}

	r.RoleNames = make(map[int]string, len(r.Names))
	for _, entry := range r.Names {
		key, name, err := splitPair(entry)
		if err != nil {
			return fmt.Errorf("invalid config: roles.names: %w", err)
		}
		role, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("invalid config: roles.names %q: role must be an integer", entry)
		}
		r.RoleNames[role] = name
	}
	return nil
}

func splitPair(entry string) (string, string, error) {
	key, value, ok := strings.Cut(entry, "=")
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if !ok || key == "" || value == "" {
		return "", "", fmt.Errorf("%q is not key=value", entry)
	}
	return key, value, nil
}
