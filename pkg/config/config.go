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
	DB           DBConfig
	Redis        RedisConfig
	WooCommerce  WooCommerceConfig
	Stripe       StripeConfig
	SMTP         SMTPConfig
	Site         SiteConfig
	WhatsApp     WhatsAppConfig
	Commerce     CommerceConfig
	Revalidation RevalidationConfig
	RateLimit    RateLimitConfig
	Admin        AdminConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.WooCommerce.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"APP_ENV" required:"true"`
	Port         string `envconfig:"APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"DB_DSN"`
	Driver string `envconfig:"DB_DRIVER" default:"postgres"`

	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL" required:"true"`
	DB           int           `envconfig:"REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// WooCommerceConfig points at the WordPress install acting as system of record.
type WooCommerceConfig struct {
	URL            string        `envconfig:"WORDPRESS_URL" required:"true"`
	ConsumerKey    string        `envconfig:"WORDPRESS_CONSUMER_KEY" required:"true"`
	ConsumerSecret string        `envconfig:"WORDPRESS_CONSUMER_SECRET" required:"true"`
	WebhookSecret  string        `envconfig:"WORDPRESS_WEBHOOK_SECRET"`
	Timeout        time.Duration `envconfig:"WOOCOMMERCE_TIMEOUT" default:"15s"`
}

func (w WooCommerceConfig) validate() error {
	parsed, err := url.Parse(strings.TrimSpace(w.URL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute url", EnvWordPressURL)
	}
	return nil
}

type StripeConfig struct {
	SecretKey      string `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret  string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	PublishableKey string `envconfig:"NEXT_PUBLIC_STRIPE_PUBLISHABLE_KEY"`
	Env            string `envconfig:"STRIPE_ENV" default:"test"`
	Currency       string `envconfig:"STRIPE_CURRENCY" default:"sek"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SMTPConfig struct {
	Host       string `envconfig:"SMTP_HOST"`
	Port       int    `envconfig:"SMTP_PORT" default:"587"`
	User       string `envconfig:"SMTP_USER"`
	Pass       string `envconfig:"SMTP_PASS"`
	From       string `envconfig:"SMTP_FROM"`
	AdminEmail string `envconfig:"ADMIN_EMAIL"`
}

// Enabled reports whether outbound mail can be attempted.
func (s SMTPConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != "" && strings.TrimSpace(s.AdminEmail) != ""
}

type SiteConfig struct {
	URL         string   `envconfig:"NEXT_PUBLIC_SITE_URL" default:"http://localhost:3000"`
	Name        string   `envconfig:"SITE_NAME" default:"Ideal Indiska LIVS"`
	CORSOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
}

type WhatsAppConfig struct {
	BusinessPhone string `envconfig:"WHATSAPP_BUSINESS_PHONE"`
}

type CommerceConfig struct {
	RulesFile          string        `envconfig:"COMMERCE_RULES_FILE"`
	BundlesFile        string        `envconfig:"BUNDLES_FILE"`
	CartTTL            time.Duration `envconfig:"CART_TTL" default:"720h"`
	CartSessionSecret  string        `envconfig:"CART_SESSION_SECRET" required:"true"`
	CartSessionIssuer  string        `envconfig:"CART_SESSION_ISSUER" default:"livs-backend"`
	ShippingQuoteTTL   time.Duration `envconfig:"SHIPPING_QUOTE_TTL" default:"5m"`
	ProductCacheTTL    time.Duration `envconfig:"PRODUCT_CACHE_TTL" default:"10m"`
	StripeEventTTL     time.Duration `envconfig:"STRIPE_EVENT_TTL" default:"72h"`
	ResponseCacheTTL   time.Duration `envconfig:"RESPONSE_CACHE_TTL" default:"60s"`
	FallbackCurrency   string        `envconfig:"STORE_CURRENCY" default:"SEK"`
	UpstreamFetchLimit int           `envconfig:"UPSTREAM_FETCH_LIMIT" default:"6"`
}

type RevalidationConfig struct {
	Secret string `envconfig:"REVALIDATION_SECRET"`
}

type RateLimitConfig struct {
	ContactWindow      time.Duration `envconfig:"CONTACT_RATE_LIMIT_WINDOW" default:"10m"`
	ContactIPLimit     int           `envconfig:"CONTACT_RATE_LIMIT_IP" default:"5"`
	ContactEmailLimit  int           `envconfig:"CONTACT_RATE_LIMIT_EMAIL" default:"3"`
	CheckoutWindow     time.Duration `envconfig:"CHECKOUT_RATE_LIMIT_WINDOW" default:"10m"`
	CheckoutIPLimit    int           `envconfig:"CHECKOUT_RATE_LIMIT_IP" default:"20"`
	CheckoutEmailLimit int           `envconfig:"CHECKOUT_RATE_LIMIT_EMAIL" default:"10"`
}

type AdminConfig struct {
	APIToken string `envconfig:"ADMIN_API_TOKEN"`
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"CRON_INTERVAL" default:"15m"`
	LockTTL            time.Duration `envconfig:"CRON_LOCK_TTL" default:"10m"`
	ReconcileBatchSize int           `envconfig:"CRON_RECONCILE_BATCH" default:"50"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
		if db.DSN == "" {
			db.DSN = "file:livs.db?cache=shared"
		}
		return nil
	}
	if db.DSN == "" {
		return fmt.Errorf("%s is required", EnvDBDSN)
	}
	return nil
}
