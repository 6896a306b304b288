// Package config provides environment configuration for the API server.
package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	developmentJWTSecret      = "development-secret-change-in-production"
	developmentCredentialsKey = "development-credentials-key-change-in-production"
)

// Rate limiting modes for customer auto-replies.
const (
	RateModeBurst    = "burst"
	RateModeCooldown = "cooldown"
)

// Config holds all configuration for the application.
// Values come from the environment, optionally layered over the YAML file named by CONFIG_FILE.
type Config struct {
	// Server settings
	ServerPort         string        `yaml:"port" env:"PORT" env-default:"8080"`
	ServerReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"30s"`
	ServerWriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"60s"`
	Env                string        `yaml:"env" env:"ENV" env-default:"production"`

	// Logging
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	// Storage
	DatabasePath   string `yaml:"database_path" env:"DATABASE_PATH" env-default:"data/autoreply.db"`
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY" env-default:"development-credentials-key-change-in-production"`
	RedisURL       string `yaml:"redis_url" env:"REDIS_URL"`

	// JWT settings for the admin API
	JWTSecret string `yaml:"-" env:"JWT_SECRET" env-default:"development-secret-change-in-production"`

	// WhatsApp Cloud API. The phone number id, token and secrets are global
	// fallbacks for tenants without their own credentials.
	WhatsAppAPIURL        string        `yaml:"whatsapp_api_url" env:"WHATSAPP_API_URL" env-default:"https://graph.facebook.com"`
	WhatsAppAPIVersion    string        `yaml:"whatsapp_api_version" env:"WHATSAPP_API_VERSION" env-default:"v24.0"`
	WhatsAppPhoneNumberID string        `yaml:"whatsapp_phone_number_id" env:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppAccessToken   string        `yaml:"-" env:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppVerifyToken   string        `yaml:"-" env:"WHATSAPP_VERIFY_TOKEN"`
	WhatsAppAppSecret     string        `yaml:"-" env:"WHATSAPP_APP_SECRET"`
	WhatsAppHTTPTimeout   time.Duration `yaml:"whatsapp_http_timeout" env:"WHATSAPP_HTTP_TIMEOUT" env-default:"10s"`

	// LLM settings
	LLMEnabled      bool          `yaml:"llm_enabled" env:"LLM_ENABLED" env-default:"true"`
	LLMProvider     string        `yaml:"llm_provider" env:"LLM_PROVIDER" env-default:"openai"`
	LLMModel        string        `yaml:"llm_model" env:"LLM_MODEL" env-default:"gpt-4o-mini"`
	LLMMaxTokens    int           `yaml:"llm_max_tokens" env:"LLM_MAX_TOKENS" env-default:"500"`
	LLMTemperature  float64       `yaml:"llm_temperature" env:"LLM_TEMPERATURE" env-default:"0.3"`
	LLMTimeout      time.Duration `yaml:"llm_timeout" env:"LLM_TIMEOUT" env-default:"10s"`
	OpenAIAPIKey    string        `yaml:"-" env:"OPENAI_API_KEY"`
	AnthropicAPIKey string        `yaml:"-" env:"ANTHROPIC_API_KEY"`

	// Auto-reply behavior
	RateMode         string        `yaml:"rate_mode" env:"AUTO_REPLY_RATE_MODE" env-default:"burst"`
	BurstWindow      time.Duration `yaml:"burst_window" env:"AUTO_REPLY_BURST_WINDOW" env-default:"5s"`
	CooldownWindow   time.Duration `yaml:"cooldown_window" env:"AUTO_REPLY_COOLDOWN_WINDOW" env-default:"90s"`
	PauseDuration    time.Duration `yaml:"pause_duration" env:"AUTO_REPLY_PAUSE_DURATION" env-default:"30m"`
	BusinessTimezone string        `yaml:"business_timezone" env:"BUSINESS_TIMEZONE" env-default:"Asia/Kuala_Lumpur"`
	PauseCleanup     time.Duration `yaml:"pause_cleanup_interval" env:"PAUSE_CLEANUP_INTERVAL" env-default:"10m"`

	// NATS settings
	NATSURL      string `yaml:"nats_url" env:"NATS_URL"`
	NATSCAFile   string `yaml:"nats_ca_file" env:"NATS_CA_FILE"`
	NATSCertFile string `yaml:"nats_cert_file" env:"NATS_CERT_FILE"`
	NATSKeyFile  string `yaml:"nats_key_file" env:"NATS_KEY_FILE"`
	NATSToken    string `yaml:"-" env:"NATS_TOKEN"`

	// Admin API
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:","`

	// Rate limiting for the admin API
	RateLimitRequests int           `yaml:"admin_rate_limit_requests" env:"ADMIN_RATE_LIMIT_REQUESTS" env-default:"60"`
	RateLimitWindow   time.Duration `yaml:"admin_rate_limit_window" env:"ADMIN_RATE_LIMIT_WINDOW" env-default:"1m"`

	// Tracing
	TracingEnabled  bool   `yaml:"tracing_enabled" env:"TRACING_ENABLED" env-default:"false"`
	TracingEndpoint string `yaml:"tracing_endpoint" env:"TRACING_ENDPOINT" env-default:"localhost:4318"`
}

// Load reads configuration from the environment, layered over CONFIG_FILE when set.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks values that cleanenv cannot.
func (c *Config) Validate() error {
	switch c.RateMode {
	case RateModeBurst, RateModeCooldown:
	default:
		return fmt.Errorf("AUTO_REPLY_RATE_MODE must be %q or %q, got %q", RateModeBurst, RateModeCooldown, c.RateMode)
	}

	switch c.LLMProvider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("LLM_PROVIDER must be openai or anthropic, got %q", c.LLMProvider)
	}

	if c.BurstWindow <= 0 || c.CooldownWindow <= 0 {
		return fmt.Errorf("auto-reply windows must be positive")
	}
	if c.PauseDuration <= 0 {
		return fmt.Errorf("AUTO_REPLY_PAUSE_DURATION must be positive")
	}

	if _, err := time.LoadLocation(c.BusinessTimezone); err != nil {
		return fmt.Errorf("invalid BUSINESS_TIMEZONE: %w", err)
	}

	if c.IsProduction() {
		if c.JWTSecret == developmentJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if c.CredentialsKey == developmentCredentialsKey {
			return fmt.Errorf("CREDENTIALS_KEY must be set in production")
		}
	}
	return nil
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ReplyWindow is the rate-limit window of the configured mode.
func (c *Config) ReplyWindow() time.Duration {
	if c.RateMode == RateModeCooldown {
		return c.CooldownWindow
	}
	return c.BurstWindow
}

// Location returns the business timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LLMAPIKey returns the key for the configured provider.
func (c *Config) LLMAPIKey() string {
	if c.LLMProvider == "anthropic" {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}
