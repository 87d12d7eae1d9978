package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Env                string `mapstructure:"ENV"`
	LogLevel           string `mapstructure:"LOG_LEVEL"`
	OwnerIdentity      string `mapstructure:"OWNER_IDENTITY"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32  `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir      string `mapstructure:"MIGRATIONS_DIR"`
	AuditWebhookURL    string `mapstructure:"AUDIT_WEBHOOK_URL"`
	AuditWebhookSecret string `mapstructure:"AUDIT_WEBHOOK_SECRET"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("OWNER_IDENTITY")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("AUDIT_WEBHOOK_URL")
	v.BindEnv("AUDIT_WEBHOOK_SECRET")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. The registry owner
// is fixed at startup and empowers doctor registration, so refusing to start
// without one is the only safe default.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OwnerIdentity) == "" {
		return fmt.Errorf("OWNER_IDENTITY is required: the registry owner is fixed at creation " +
			"and is the only identity permitted to register doctors")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL %q is not a valid zerolog level: %w", c.LogLevel, err)
	}
	if c.AuditWebhookSecret != "" && c.AuditWebhookURL == "" {
		return fmt.Errorf("AUDIT_WEBHOOK_SECRET is set but AUDIT_WEBHOOK_URL is empty")
	}
	return nil
}

// RequireDatabase returns an error when no database is configured. Commands
// that operate on the Postgres-backed store call this; the in-memory store
// needs no connection string.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for this command")
	}
	return nil
}
