package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full application configuration. Ambient values the
// financial core depends on (system account id, platform fee percent)
// are explicit here and injected at construction, never read from
// process-wide state by the services themselves.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Platform PlatformConfig `mapstructure:"platform"`
	Provider ProviderConfig `mapstructure:"provider"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PlatformConfig carries the platform's own financial identity.
type PlatformConfig struct {
	SystemAccountID uuid.UUID       `mapstructure:"-"`
	SystemAccountIDRaw string       `mapstructure:"system_account_id"`
	FeePercent      decimal.Decimal `mapstructure:"-"`
	FeePercentRaw   string          `mapstructure:"fee_percent"`
}

// ProviderConfig configures the upstream payment provider boundary.
type ProviderConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// JobsConfig configures the background job scheduler.
type JobsConfig struct {
	ReconciliationInterval   time.Duration `mapstructure:"reconciliation_interval"`
	SettlementReportInterval time.Duration `mapstructure:"settlement_report_interval"`
	RunAtStartup             bool          `mapstructure:"run_at_startup"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the given yaml file (optional) and the
// environment (ACADER_ prefix), applies defaults, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("platform.fee_percent", "10")
	v.SetDefault("provider.timeout", 10*time.Second)
	v.SetDefault("jobs.reconciliation_interval", 24*time.Hour)
	v.SetDefault("jobs.settlement_report_interval", 24*time.Hour)
	v.SetDefault("jobs.run_at_startup", false)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("ACADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.parse(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) parse() error {
	id, err := uuid.Parse(c.Platform.SystemAccountIDRaw)
	if err != nil {
		return fmt.Errorf("invalid platform.system_account_id: %w", err)
	}
	c.Platform.SystemAccountID = id

	fee, err := decimal.NewFromString(c.Platform.FeePercentRaw)
	if err != nil {
		return fmt.Errorf("invalid platform.fee_percent: %w", err)
	}
	c.Platform.FeePercent = fee
	return nil
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Provider.WebhookSecret == "" {
		return fmt.Errorf("provider.webhook_secret is required")
	}
	if c.Platform.FeePercent.IsNegative() || c.Platform.FeePercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("platform.fee_percent must be between 0 and 100")
	}
	return nil
}
