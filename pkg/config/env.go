package config

// EnvPrefix is empty: variable names are taken verbatim from the tags so the
// storefront keeps the names it already deploys with.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv                  = "APP_ENV"
	EnvPort                    = "APP_PORT"
	EnvDBDSN                   = "DB_DSN"
	EnvRedisURL                = "REDIS_URL"
	EnvWordPressURL            = "WORDPRESS_URL"
	EnvWordPressConsumerKey    = "WORDPRESS_CONSUMER_KEY"
	EnvWordPressConsumerSecret = "WORDPRESS_CONSUMER_SECRET"
	EnvWordPressWebhookSecret  = "WORDPRESS_WEBHOOK_SECRET"
	EnvStripeSecretKey         = "STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret     = "STRIPE_WEBHOOK_SECRET"
	EnvCartSessionSecret       = "CART_SESSION_SECRET"
	EnvUseSQLite               = "USE_SQLITE"
)
