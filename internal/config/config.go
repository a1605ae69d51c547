package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // json or console

	DBDriver       string        `env:"DB_DRIVER" envDefault:"sqlite"`
	DatabaseURL    string        `env:"DATABASE_URL" envDefault:"tenants.db"`
	DBQueryTimeout time.Duration `env:"DB_QUERY_TIMEOUT" envDefault:"5s"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`

	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":50051"`

	// RedisURL enables cross-instance provisioning locks and webhook
	// de-duplication. Empty means in-process only.
	RedisURL string `env:"REDIS_URL"`

	APIKeyPrefix      string        `env:"API_KEY_PREFIX" envDefault:"sk_ellit_"`
	APIKeyPepper      string        `env:"API_KEY_PEPPER"`
	ReprovisionPolicy string        `env:"REPROVISION_POLICY" envDefault:"replace"`
	ProvisionLockTTL  time.Duration `env:"PROVISION_LOCK_TTL" envDefault:"30s"`

	StripeWebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET"`
	StripeWebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
	WebhookDedupeTTL       time.Duration `env:"WEBHOOK_DEDUPE_TTL" envDefault:"72h"`

	SuperAdminKey   string        `env:"SUPER_ADMIN_KEY"`
	SessionSecret   string        `env:"SESSION_SECRET"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	BcryptCost      int           `env:"BCRYPT_COST" envDefault:"12"`
	SuperAdminEmail string        `env:"SUPERADMIN_EMAIL" envDefault:"admin@ellitnow.com"`
	SuperAdminName  string        `env:"SUPERADMIN_NAME" envDefault:"Ellit Super Admin"`

	DemoEmail      string `env:"DEMO_EMAIL"`
	DemoPassword   string `env:"DEMO_PASSWORD"`
	DemoTenantName string `env:"DEMO_TENANT_NAME" envDefault:"Demo Corp"`

	AnalysisURL     string        `env:"ANALYSIS_URL"`
	AnalysisAPIKey  string        `env:"ANALYSIS_API_KEY"`
	AnalysisModel   string        `env:"ANALYSIS_MODEL" envDefault:"gpt-4o"`
	AnalysisTimeout time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"60s"`

	SMTPHost string `env:"SMTP_HOST"`
	SMTPPort int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser string `env:"SMTP_USER"`
	SMTPPass string `env:"SMTP_PASS"`
	SMTPFrom string `env:"SMTP_FROM" envDefault:"no-reply@ellitnow.com"`

	AuthRateLimit float64 `env:"AUTH_RATE_LIMIT" envDefault:"5"`
	AuthRateBurst int     `env:"AUTH_RATE_BURST" envDefault:"10"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	return parse(env.Options{})
}

// LoadFrom reads configuration from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values env tags cannot express.
func (c *Config) Validate() error {
	switch strings.ToLower(c.ReprovisionPolicy) {
	case "replace", "reject", "merge":
	default:
		return fmt.Errorf("REPROVISION_POLICY must be replace, reject or merge, got %q", c.ReprovisionPolicy)
	}
	switch strings.ToLower(c.DBDriver) {
	case "sqlite", "sqlite3", "postgres", "postgresql", "pgx":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.APIKeyPrefix == "" {
		return fmt.Errorf("API_KEY_PREFIX must not be empty")
	}
	if c.DBQueryTimeout <= 0 {
		return fmt.Errorf("DB_QUERY_TIMEOUT must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	return nil
}

// SMTPEnabled reports whether raw keys can be mailed to new tenants.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}
