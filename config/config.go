package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

type Config struct {
	Port      string `env:"PORT, default=5000"`
	Env       string `env:"ENV"`
	PublicURL string `env:"PUBLIC_URL, default=http://localhost:5000"`

	SecretKey     string `env:"SECRET_KEY, default=default-secret-key"`
	AccessSecret  string `env:"ACCESS_SECRET"`
	RefreshSecret string `env:"REFRESH_SECRET"`

	DatabaseURL string `env:"DATABASE_URL"`

	OpenAI    OpenAIConfig
	Twilio    TwilioConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	Mail      MailConfig

	HistoryLimit int    `env:"HISTORY_LIMIT, default=5"`
	SentryDSN    string `env:"SENTRY_DSN"`
}

type OpenAIConfig struct {
	APIKey  string `env:"OPENAI_API_KEY"`
	Model   string `env:"OPENAI_MODEL, default=gpt-4o-mini"`
	BaseURL string `env:"OPENAI_BASE_URL"`
}

type TwilioConfig struct {
	AccountSID        string `env:"TWILIO_ACCOUNT_SID"`
	AuthToken         string `env:"TWILIO_AUTH_TOKEN"`
	PhoneNumber       string `env:"TWILIO_PHONE_NUMBER"`
	ValidateSignature bool   `env:"TWILIO_VALIDATE_SIGNATURE, default=false"`
}

type CacheConfig struct {
	TTLSeconds      int           `env:"CACHE_TTL, default=3600"`
	JanitorInterval time.Duration `env:"CACHE_JANITOR_INTERVAL, default=10m"`
}

// TTL is the lifetime of a cached model response.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type RateLimitConfig struct {
	Enabled    bool   `env:"RATELIMIT_ENABLED, default=true"`
	Default    string `env:"RATELIMIT_DEFAULT, default=1000 per hour"`
	Chat       string `env:"RATELIMIT_CHAT, default=30 per minute"`
	StorageURI string `env:"RATELIMIT_STORAGE_URI, default=memory://"`
	TrustProxy bool   `env:"RATELIMIT_TRUST_PROXY, default=false"`
}

type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL, default=info"`
	Format     string `env:"LOG_FORMAT, default=text"`
	File       string `env:"LOG_FILE, default=logs/jane.log"`
	MaxSize    int    `env:"LOG_MAX_SIZE, default=10"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS, default=10"`
	MaxAge     int    `env:"LOG_MAX_AGE, default=30"`
}

type MailConfig struct {
	Contact  string `env:"MAIL_CONTACT"`
	Server   string `env:"MAIL_SERVER"`
	Port     int    `env:"SMTP_PORT, default=587"`
	Username string `env:"MAIL_USERNAME"`
	Password string `env:"MAIL_PASSWORD"`
}

// Enabled reports whether enough SMTP settings are present to send mail.
func (m MailConfig) Enabled() bool {
	return m.Server != "" && m.Contact != ""
}

// Load reads .env (when present) and the process environment.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	return FromLookuper(ctx, envconfig.OsLookuper())
}

// FromLookuper builds a Config from an arbitrary variable source.
func FromLookuper(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: process environment: %w", err)
	}

	if cfg.Env == "" {
		if v, ok := lookuper.Lookup("FLASK_ENV"); ok && v != "" {
			cfg.Env = v
		} else {
			cfg.Env = EnvDevelopment
		}
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))

	cfg.DatabaseURL = normalizeDatabaseURL(cfg.DatabaseURL)

	if cfg.AccessSecret == "" {
		cfg.AccessSecret = cfg.SecretKey + ":access"
	}
	if cfg.RefreshSecret == "" {
		cfg.RefreshSecret = cfg.SecretKey + ":refresh"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 5
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if !c.IsProduction() {
		return nil
	}
	var errs []error
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required in production"))
	}
	if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.PhoneNumber == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER are required in production"))
	}
	if c.SecretKey == "default-secret-key" {
		errs = append(errs, errors.New("SECRET_KEY must be set in production"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// DatabaseDriver returns the sqlx driver name matching DatabaseURL.
func (c *Config) DatabaseDriver() string {
	if strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return "pgx"
	}
	return "sqlite3"
}

// DatabaseDSN is the data source name handed to the driver. SQLite URLs
// lose their scheme, and an empty URL falls back to a local file.
func (c *Config) DatabaseDSN() string {
	if c.DatabaseDriver() == "pgx" {
		return c.DatabaseURL
	}
	dsn := strings.TrimPrefix(c.DatabaseURL, "sqlite:///")
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	if dsn == "" {
		dsn = "app.db"
	}
	return dsn
}

func normalizeDatabaseURL(url string) string {
	url = strings.TrimSpace(url)
	if strings.HasPrefix(url, "postgres://") {
		return "postgresql://" + strings.TrimPrefix(url, "postgres://")
	}
	return url
}
