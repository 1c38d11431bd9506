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
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Checkout     CheckoutConfig
	Reservation  ReservationConfig
	Stripe       StripeConfig
	Breaker      BreakerConfig
	Sendgrid     SendgridConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Checkout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`

	CORSOrigins     []string      `envconfig:"STOREFRONT_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	ShutdownTimeout time.Duration `envconfig:"STOREFRONT_SHUTDOWN_TIMEOUT" default:"15s"`
	WebhookEventTTL time.Duration `envconfig:"STOREFRONT_WEBHOOK_EVENT_TTL" default:"72h"`
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

	SlowQueryThreshold time.Duration `envconfig:"STOREFRONT_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`
}

// IsSQLite reports whether the sqlite dialector is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
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

type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

// CheckoutConfig drives the hosted payment session and cart handling.
type CheckoutConfig struct {
	Currency        string        `envconfig:"STOREFRONT_CHECKOUT_CURRENCY" default:"usd"`
	SuccessURL      string        `envconfig:"STOREFRONT_CHECKOUT_SUCCESS_URL" default:"http://localhost:3000/order-success"`
	CancelURL       string        `envconfig:"STOREFRONT_CHECKOUT_CANCEL_URL" default:"http://localhost:3000/cart"`
	SessionTTL      time.Duration `envconfig:"STOREFRONT_CHECKOUT_SESSION_TTL" default:"1h"`
	CartClearPolicy string        `envconfig:"STOREFRONT_CHECKOUT_CART_CLEAR_POLICY" default:"on_paid"`
}

// ClearCartOnSession reports whether hosted checkouts empty the cart as soon
// as the payment session opens instead of waiting for the paid transition.
func (c CheckoutConfig) ClearCartOnSession() bool {
	return strings.EqualFold(strings.TrimSpace(c.CartClearPolicy), CartClearOnSession)
}

func (c CheckoutConfig) validate() error {
	policy := strings.ToLower(strings.TrimSpace(c.CartClearPolicy))
	if policy != CartClearOnPaid && policy != CartClearOnSession {
		return fmt.Errorf("%s must be %q or %q", EnvCartClearPolicy, CartClearOnPaid, CartClearOnSession)
	}
	// Stripe rejects checkout sessions expiring sooner than 30 minutes or later than 24 hours.
	if c.SessionTTL < 30*time.Minute || c.SessionTTL > 24*time.Hour {
		return fmt.Errorf("%s must be between 30m and 24h", EnvCheckoutSessionTTL)
	}
	return nil
}

type ReservationConfig struct {
	SweepInterval time.Duration `envconfig:"STOREFRONT_RESERVATION_SWEEP_INTERVAL" default:"5m"`
	ExpiryGrace   time.Duration `envconfig:"STOREFRONT_RESERVATION_EXPIRY_GRACE" default:"5m"`
	SweepBatch    int           `envconfig:"STOREFRONT_RESERVATION_SWEEP_BATCH" default:"100"`

	// RecheckInterval keeps orders the sweep could not settle out of later batches.
	RecheckInterval time.Duration `envconfig:"STOREFRONT_RESERVATION_RECHECK_INTERVAL" default:"1h"`
}

type StripeConfig struct {
	APIKey string `envconfig:"STOREFRONT_STRIPE_API_KEY"`
	Secret string `envconfig:"STOREFRONT_STRIPE_SECRET"`
	Env    string `envconfig:"STOREFRONT_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type BreakerConfig struct {
	MaxRequests  uint32        `envconfig:"STOREFRONT_BREAKER_MAX_REQUESTS" default:"3"`
	Interval     time.Duration `envconfig:"STOREFRONT_BREAKER_INTERVAL" default:"15s"`
	Timeout      time.Duration `envconfig:"STOREFRONT_BREAKER_TIMEOUT" default:"30s"`
	MinRequests  uint32        `envconfig:"STOREFRONT_BREAKER_MIN_REQUESTS" default:"3"`
	FailureRatio float64       `envconfig:"STOREFRONT_BREAKER_FAILURE_RATIO" default:"0.6"`
}

type SendgridConfig struct {
	APIKey      string        `envconfig:"STOREFRONT_SENDGRID_API_KEY"`
	DefaultFrom string        `envconfig:"STOREFRONT_SENDGRID_FROM_EMAIL" default:"orders@storefront.local"`
	FromName    string        `envconfig:"STOREFRONT_SENDGRID_FROM_NAME" default:"Storefront"`
	BaseURL     string        `envconfig:"STOREFRONT_SENDGRID_BASE_URL" default:"https://api.sendgrid.com"`
	Timeout     time.Duration `envconfig:"STOREFRONT_SENDGRID_TIMEOUT" default:"10s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"STOREFRONT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"STOREFRONT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic string `envconfig:"STOREFRONT_PUBSUB_ORDERS_TOPIC" default:"storefront-order-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`

	Retention time.Duration `envconfig:"STOREFRONT_OUTBOX_RETENTION" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
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
