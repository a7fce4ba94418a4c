package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "cartie"
	DefaultPGSSLMode         = "disable"
	DefaultLeadDedupDays     = 14
	DefaultFlagsTTL          = 60 * time.Second
	DefaultBotCacheTTL       = 10 * time.Second
	DefaultRequestTimeout    = 15 * time.Second
	DefaultPacing            = 350 * time.Millisecond
	DefaultHistoryLimit      = 50
	DefaultChannelDelay      = 2 * time.Second
	DefaultBackfillSchedule  = "@every 15m"
	DefaultMTProtoSessionDir = "data/mtproto"
	DefaultMediaDir          = "data/media"
)

// Environment variables that override file values.
const (
	EnvWebhookSecret = "TELEGRAM_WEBHOOK_SECRET"
	EnvLeadDedupDays = "LEAD_DEDUP_DAYS"
	EnvMiniAppURL    = "MINIAPP_URL"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Telegram TelegramConfig `toml:"telegram"`
	Leads    LeadsConfig    `toml:"leads"`
	MiniApp  MiniAppConfig  `toml:"miniapp"`
	Settings SettingsConfig `toml:"settings"`
	MTProto  MTProtoConfig  `toml:"mtproto"`
	Media    MediaConfig    `toml:"media"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr" validate:"required"`
}

type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gt=0"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

// RedisConfig is optional. An empty Addr disables the shared flag cache.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type TelegramConfig struct {
	// WebhookSecret is the process-wide fallback for bots without their own secret.
	WebhookSecret  string   `toml:"webhook_secret"`
	APIEndpoint    string   `toml:"api_endpoint"`
	RequestTimeout Duration `toml:"request_timeout"`
	Pacing         Duration `toml:"pacing"`
	// BotCacheTTL bounds how long a disabled or rotated bot keeps being served.
	BotCacheTTL    Duration `toml:"bot_cache_ttl"`
}

type LeadsConfig struct {
	DedupDays int `toml:"dedup_days" validate:"gte=0"`
}

type MiniAppConfig struct {
	BaseURL string `toml:"base_url" validate:"omitempty,url"`
}

type SettingsConfig struct {
	FlagsTTL Duration `toml:"flags_ttl"`
}

type MTProtoConfig struct {
	Enabled      bool     `toml:"enabled"`
	APIID        int      `toml:"api_id" validate:"required_if=Enabled true"`
	APIHash      string   `toml:"api_hash" validate:"required_if=Enabled true"`
	SessionDir   string   `toml:"session_dir"`
	HistoryLimit int      `toml:"history_limit" validate:"gte=0"`
	ChannelDelay Duration `toml:"channel_delay"`
	Schedule     string   `toml:"schedule"`
}

type MediaConfig struct {
	Dir string `toml:"dir"`
}

// Duration decodes TOML strings like "350ms" or "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DSN returns a libpq style connection URL.
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = DefaultPGSSLMode
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Database, sslMode)
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Telegram: TelegramConfig{
			RequestTimeout: Duration{DefaultRequestTimeout},
			Pacing:         Duration{DefaultPacing},
			BotCacheTTL:    Duration{DefaultBotCacheTTL},
		},
		Leads: LeadsConfig{
			DedupDays: DefaultLeadDedupDays,
		},
		Settings: SettingsConfig{
			FlagsTTL: Duration{DefaultFlagsTTL},
		},
		MTProto: MTProtoConfig{
			SessionDir:   DefaultMTProtoSessionDir,
			HistoryLimit: DefaultHistoryLimit,
			ChannelDelay: Duration{DefaultChannelDelay},
			Schedule:     DefaultBackfillSchedule,
		},
		Media: MediaConfig{
			Dir: DefaultMediaDir,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if value, ok := lookup(EnvWebhookSecret); ok && strings.TrimSpace(value) != "" {
		cfg.Telegram.WebhookSecret = strings.TrimSpace(value)
	}
	if value, ok := lookup(EnvMiniAppURL); ok && strings.TrimSpace(value) != "" {
		cfg.MiniApp.BaseURL = strings.TrimSpace(value)
	}
	if value, ok := lookup(EnvLeadDedupDays); ok && strings.TrimSpace(value) != "" {
		days, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLeadDedupDays, err)
		}
		if days > 0 {
			cfg.Leads.DedupDays = days
		}
	}
	return nil
}
