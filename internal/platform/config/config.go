package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	PublicURL string `env:"PUBLIC_URL"`
	APIKey    string `env:"API_KEY"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	StreamlinkPath       string `env:"STREAMLINK_PATH" default:"streamlink"`
	FFmpegPath           string `env:"FFMPEG_PATH" default:"ffmpeg"`
	OutputDir            string `env:"OUTPUT_DIR" default:"recordings"`
	LogsDir              string `env:"LOGS_DIR" default:"logs"`
	StreamlinkExtraFlags string `env:"STREAMLINK_EXTRA_FLAGS"`
	FFmpegExtraFlags     string `env:"FFMPEG_EXTRA_FLAGS"`

	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`

	TwitchClientID      string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret  string `env:"TWITCH_CLIENT_SECRET"`
	TwitchWebhookSecret string `env:"TWITCH_WEBHOOK_SECRET"`
	TwitchBroadcasters  string `env:"TWITCH_BROADCASTERS"`

	StoreBackend string `env:"STORE_BACKEND" default:"memory"`
	RedisURL     string `env:"REDIS_URL"`
	DatabaseURL  string `env:"DATABASE_URL"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// WebhookCallbackURL is the public address Twitch delivers EventSub notifications to.
func (c *Config) WebhookCallbackURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/hook/twitch"
}

// Broadcasters returns the logins from TWITCH_BROADCASTERS, lowercased and without blanks.
func (c *Config) Broadcasters() []string {
	var logins []string
	for _, part := range strings.Split(c.TwitchBroadcasters, ",") {
		login := strings.ToLower(strings.TrimSpace(part))
		if login != "" {
			logins = append(logins, login)
		}
	}
	return logins
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := []struct {
		name  string
		value string
	}{
		{"PUBLIC_URL", cfg.PublicURL},
		{"TWITCH_CLIENT_ID", cfg.TwitchClientID},
		{"TWITCH_CLIENT_SECRET", cfg.TwitchClientSecret},
		{"TWITCH_WEBHOOK_SECRET", cfg.TwitchWebhookSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if len(cfg.TwitchWebhookSecret) < 10 || len(cfg.TwitchWebhookSecret) > 100 {
		return errors.New("TWITCH_WEBHOOK_SECRET must be between 10 and 100 characters")
	}
	for _, r := range cfg.TwitchWebhookSecret {
		if r > 127 {
			return errors.New("TWITCH_WEBHOOK_SECRET must only contain ASCII characters")
		}
	}

	u, err := url.Parse(cfg.PublicURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("PUBLIC_URL must be an absolute http(s) URL, got %q", cfg.PublicURL)
	}

	if cfg.IsProduction() && cfg.APIKey == "" {
		return errors.New("API_KEY is required in production")
	}

	switch cfg.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when STORE_BACKEND is redis")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND is postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, redis, postgres, got %q", cfg.StoreBackend)
	}

	if cfg.DiscordWebhookURL != "" {
		if err := ValidateDiscordWebhookURL(cfg.DiscordWebhookURL); err != nil {
			return err
		}
	}

	if cfg.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}

	return nil
}

// ValidateDiscordWebhookURL accepts https URLs on a Discord host of the form
// /api/webhooks/<numeric id>/<token>.
func ValidateDiscordWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("DISCORD_WEBHOOK_URL is not a valid URL: %w", err)
	}
	switch u.Host {
	case "discord.com", "ptb.discord.com", "canary.discord.com":
	default:
		return errors.New("DISCORD_WEBHOOK_URL must point to discord.com")
	}
	if u.Scheme != "https" {
		return errors.New("DISCORD_WEBHOOK_URL must use https")
	}
	rest, ok := strings.CutPrefix(u.Path, "/api/webhooks/")
	if !ok {
		return errors.New("DISCORD_WEBHOOK_URL must have the form https://discord.com/api/webhooks/<id>/<token>")
	}
	id, token, ok := strings.Cut(rest, "/")
	if !ok || token == "" {
		return errors.New("DISCORD_WEBHOOK_URL must have the form https://discord.com/api/webhooks/<id>/<token>")
	}
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return errors.New("DISCORD_WEBHOOK_URL webhook id must be numeric")
	}
	return nil
}
