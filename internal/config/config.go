// Package config defines the application configuration and its
// validation rules. Values come from an optional YAML file overlaid with
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/astanek/livechat-relay/pkg/config"
)

// AppConfig is the root configuration of the relay service.
type AppConfig struct {
	Environment string `env:"ENVIRONMENT" yaml:"environment" default:"development"`

	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Telegram TelegramConfig `yaml:"telegram"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            int           `env:"HTTP_PORT" yaml:"port" default:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" default:"10s"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" yaml:"level" default:"info"`
	Format string `env:"LOG_FORMAT" yaml:"format" default:"json"`
}

// TelegramConfig holds the bot transport settings. Leaving the token
// empty disables the transport entirely; the relay then runs
// browser-to-browser only.
type TelegramConfig struct {
	BotToken    string        `env:"TELEGRAM_BOT_TOKEN" yaml:"bot_token"`
	AdminChatID int64         `env:"TELEGRAM_ADMIN_CHAT_ID" yaml:"admin_chat_id"`
	WebhookURL  string        `env:"TELEGRAM_WEBHOOK_URL" yaml:"webhook_url"`
	SendTimeout time.Duration `env:"TELEGRAM_SEND_TIMEOUT" yaml:"send_timeout" default:"10s"`
	Debug       bool          `env:"TELEGRAM_DEBUG" yaml:"debug"`
}

// Enabled reports whether the Telegram transport is configured.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != ""
}

// RealtimeConfig holds websocket endpoint settings.
type RealtimeConfig struct {
	// AllowedOrigins restricts browser upgrades. Empty allows any origin.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" yaml:"allowed_origins"`
}

// MetricsConfig holds the Prometheus listener settings.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" yaml:"enabled" default:"true"`
	Port    int  `env:"METRICS_PORT" yaml:"port" default:"9090"`
}

// Load reads the configuration, tolerating a missing file so env-only
// deployments work.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	if err := config.GetConfig(&cfg, path, true); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// IsProduction reports whether the service runs with production
// settings. Webhook mode is only used in production; everywhere else the
// bot long-polls so no public URL is needed.
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// UseWebhook reports whether inbound Telegram updates arrive by webhook
// rather than polling.
func (c AppConfig) UseWebhook() bool {
	return c.IsProduction() && c.Telegram.WebhookURL != ""
}

// Validate implements config.Validator.
func (c AppConfig) Validate() error {
	var result error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			result = multierror.Append(result, fmt.Errorf("metrics port %d out of range", c.Metrics.Port))
		}
		if c.Metrics.Port == c.Server.Port {
			result = multierror.Append(result, fmt.Errorf("metrics port must differ from server port"))
		}
	}

	if c.Telegram.Enabled() && c.Telegram.AdminChatID == 0 {
		result = multierror.Append(result, fmt.Errorf("TELEGRAM_ADMIN_CHAT_ID is required when a bot token is set"))
	}
	if !c.Telegram.Enabled() && c.Telegram.AdminChatID != 0 {
		result = multierror.Append(result, fmt.Errorf("TELEGRAM_BOT_TOKEN is required when an admin chat id is set"))
	}
	if c.Telegram.WebhookURL != "" && !strings.HasPrefix(c.Telegram.WebhookURL, "https://") {
		result = multierror.Append(result, fmt.Errorf("webhook URL must use https"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown log level %q", c.Logging.Level))
	}

	return result
}
