package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	CartClearOnPaid    = "on_paid"
	CartClearOnSession = "on_session"
)

const (
	EnvAppEnv             = "STOREFRONT_APP_ENV"
	EnvPort               = "STOREFRONT_APP_PORT"
	EnvDBDSN              = "STOREFRONT_DB_DSN"
	EnvDBDriver           = "STOREFRONT_DB_DRIVER"
	EnvDBHost             = "STOREFRONT_DB_HOST"
	EnvDBUser             = "STOREFRONT_DB_USER"
	EnvDBName             = "STOREFRONT_DB_NAME"
	EnvDBPassword         = "STOREFRONT_DB_PASSWORD"
	EnvRedisURL           = "STOREFRONT_REDIS_URL"
	EnvJWTSecret          = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer          = "STOREFRONT_JWT_ISSUER"
	EnvJWTExpMins         = "STOREFRONT_JWT_EXPIRATION_MINUTES"
	EnvCheckoutSessionTTL = "STOREFRONT_CHECKOUT_SESSION_TTL"
	EnvCartClearPolicy    = "STOREFRONT_CHECKOUT_CART_CLEAR_POLICY"
	EnvStripeSecret       = "STOREFRONT_STRIPE_SECRET"
	EnvPubSubOrdersTopic  = "STOREFRONT_PUBSUB_ORDERS_TOPIC"
	EnvCORSOrigins        = "STOREFRONT_CORS_ALLOWED_ORIGINS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
