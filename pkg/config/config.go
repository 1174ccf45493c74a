package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Stripe       StripeConfig
	Commerce     CommerceConfig
	Storefront   StorefrontConfig
	Reconcile    ReconcileConfig
	Webhooks     WebhooksConfig
	Admin        AdminConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Storefront.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadAdmin reads only the operator token settings, for tooling that does not
// need the full service environment.
func LoadAdmin() (AdminConfig, error) {
	var cfg AdminConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return AdminConfig{}, fmt.Errorf("parsing admin config: %w", err)
	}
	return cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	MetricsAddr  string `envconfig:"STOREFRONT_METRICS_ADDR"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOREFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STOREFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"STOREFRONT_STRIPE_API_KEY" required:"true"`
	WebhookSecret string `envconfig:"STOREFRONT_STRIPE_WEBHOOK_SECRET" required:"true"`
	Env           string `envconfig:"STOREFRONT_STRIPE_ENV" default:"test"`
	PaymentMethod string `envconfig:"STOREFRONT_STRIPE_PAYMENT_METHOD" default:"card"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// CommerceConfig points at the GraphQL commerce backend that owns orders.
type CommerceConfig struct {
	APIURL             string        `envconfig:"STOREFRONT_COMMERCE_API_URL" required:"true"`
	AppToken           string        `envconfig:"STOREFRONT_COMMERCE_APP_TOKEN" required:"true"`
	RequestTimeout     time.Duration `envconfig:"STOREFRONT_COMMERCE_REQUEST_TIMEOUT" default:"15s"`
	BreakerMaxFailures uint32        `envconfig:"STOREFRONT_COMMERCE_BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `envconfig:"STOREFRONT_COMMERCE_BREAKER_OPEN_TIMEOUT" default:"30s"`
}

type StorefrontConfig struct {
	PublicURL string `envconfig:"STOREFRONT_PUBLIC_URL" required:"true"`
}

// BaseURL returns the public URL without a trailing slash.
func (s StorefrontConfig) BaseURL() string {
	return strings.TrimRight(strings.TrimSpace(s.PublicURL), "/")
}

func (s StorefrontConfig) validate() error {
	u, err := url.Parse(s.BaseURL())
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", EnvStorefrontPublicURL)
	}
	return nil
}

// ReconcileConfig bounds the completion pipeline. The verify and materialize
// budgets are independent of how long a caller is kept waiting.
type ReconcileConfig struct {
	VerifyTimeout      time.Duration `envconfig:"STOREFRONT_RECONCILE_VERIFY_TIMEOUT" default:"10s"`
	VerifyMaxAttempts  uint64        `envconfig:"STOREFRONT_RECONCILE_VERIFY_MAX_ATTEMPTS" default:"3"`
	MaterializeTimeout time.Duration `envconfig:"STOREFRONT_RECONCILE_MATERIALIZE_TIMEOUT" default:"30s"`
	ResponseTimeout    time.Duration `envconfig:"STOREFRONT_RECONCILE_RESPONSE_TIMEOUT" default:"8s"`
	ClaimWait          time.Duration `envconfig:"STOREFRONT_RECONCILE_CLAIM_WAIT" default:"5s"`
	ClaimPollInterval  time.Duration `envconfig:"STOREFRONT_RECONCILE_CLAIM_POLL_INTERVAL" default:"250ms"`
	PreSendMaxAttempts uint64        `envconfig:"STOREFRONT_RECONCILE_PRESEND_MAX_ATTEMPTS" default:"3"`
}

type WebhooksConfig struct {
	EventTTL time.Duration `envconfig:"STOREFRONT_WEBHOOKS_EVENT_TTL" default:"720h"`
}

// AdminConfig configures bearer tokens accepted by the operator endpoints.
type AdminConfig struct {
	JWTSecret string        `envconfig:"STOREFRONT_ADMIN_JWT_SECRET" required:"true"`
	JWTIssuer string        `envconfig:"STOREFRONT_ADMIN_JWT_ISSUER" default:"storefront-checkout"`
	TokenTTL  time.Duration `envconfig:"STOREFRONT_ADMIN_TOKEN_TTL" default:"1h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOREFRONT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"STOREFRONT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"STOREFRONT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"STOREFRONT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	AlertsTopic string `envconfig:"STOREFRONT_PUBSUB_ALERTS_TOPIC" required:"true"`
	OrdersTopic string `envconfig:"STOREFRONT_PUBSUB_ORDERS_TOPIC" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"1m"`
	LockTTL         time.Duration `envconfig:"STOREFRONT_CRON_LOCK_TTL" default:"5m"`
	StaleClaimAfter time.Duration `envconfig:"STOREFRONT_CRON_STALE_CLAIM_AFTER" default:"10m"`
	ReverifyAfter   time.Duration `envconfig:"STOREFRONT_CRON_REVERIFY_AFTER" default:"5m"`
	BatchSize       int           `envconfig:"STOREFRONT_CRON_BATCH_SIZE" default:"100"`
	OutboxRetention time.Duration `envconfig:"STOREFRONT_CRON_OUTBOX_RETENTION" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
