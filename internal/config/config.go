// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Database DatabaseConfig          `yaml:"database" mapstructure:"database"`
	Session  SessionConfig           `yaml:"session" mapstructure:"session"`
	Ingest   IngestConfig            `yaml:"ingest" mapstructure:"ingest"`
	Notify   NotifyConfig            `yaml:"notify" mapstructure:"notify"`
	Portals  map[string]PortalConfig `yaml:"portals" mapstructure:"portals"`
	Log      LogConfig               `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig configures the Postgres backend.
type DatabaseConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// SessionConfig configures the S3-compatible session store. When Bucket is
// empty the store is unconfigured and adapters fall back to full login.
type SessionConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Region    string `yaml:"region" mapstructure:"region"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// IngestConfig configures the run orchestrator.
type IngestConfig struct {
	TempDir        string `yaml:"temp_dir" mapstructure:"temp_dir"`
	DiagnosticDir  string `yaml:"diagnostic_dir" mapstructure:"diagnostic_dir"`
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`
	MaxAttempts    int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoffSec int    `yaml:"base_backoff_secs" mapstructure:"base_backoff_secs"`
}

// NotifyConfig configures the end-of-run summary webhook.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// MailboxConfig points at the mail-gateway used to fetch emailed one-time
// codes for portals that require them.
type MailboxConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Token   string `yaml:"token" mapstructure:"token"`
}

// PortalConfig holds per-portal credentials, endpoints, and timeout budgets.
// Source adapters consume these as opaque lookups.
type PortalConfig struct {
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	Username   string        `yaml:"username" mapstructure:"username"`
	Password   string        `yaml:"password" mapstructure:"password"`
	APIKey     string        `yaml:"api_key" mapstructure:"api_key"`
	APISecret  string        `yaml:"api_secret" mapstructure:"api_secret"`
	TOTPSecret string        `yaml:"totp_secret" mapstructure:"totp_secret"`
	Mailbox    MailboxConfig `yaml:"mailbox" mapstructure:"mailbox"`
	Headless   bool          `yaml:"headless" mapstructure:"headless"`

	AuthTimeoutSecs     int `yaml:"auth_timeout_secs" mapstructure:"auth_timeout_secs"`
	RetrieveTimeoutSecs int `yaml:"retrieve_timeout_secs" mapstructure:"retrieve_timeout_secs"`
	PollIntervalSecs    int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// AuthTimeout returns the authenticate-phase budget, defaulting to 90s.
func (p PortalConfig) AuthTimeout() time.Duration {
	if p.AuthTimeoutSecs > 0 {
		return time.Duration(p.AuthTimeoutSecs) * time.Second
	}
	return 90 * time.Second
}

// RetrieveTimeout returns the retrieve-phase budget. Queued-report portals
// configure multi-hour allowances here; the default suits same-page downloads.
func (p PortalConfig) RetrieveTimeout() time.Duration {
	if p.RetrieveTimeoutSecs > 0 {
		return time.Duration(p.RetrieveTimeoutSecs) * time.Second
	}
	return 5 * time.Minute
}

// PollInterval returns the bounded interval for report-status polling.
func (p PortalConfig) PollInterval() time.Duration {
	if p.PollIntervalSecs > 0 {
		return time.Duration(p.PollIntervalSecs) * time.Second
	}
	return 30 * time.Second
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PORTALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ingest.temp_dir", "/tmp/portalsync")
	v.SetDefault("ingest.diagnostic_dir", "/tmp/portalsync/diagnostics")
	v.SetDefault("ingest.batch_size", 500)
	v.SetDefault("ingest.max_attempts", 3)
	v.SetDefault("ingest.base_backoff_secs", 2)
	v.SetDefault("session.region", "us-east-1")
	v.SetDefault("session.prefix", "sessions")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Portal returns the configuration block for the named portal.
func (c *Config) Portal(name string) (PortalConfig, error) {
	p, ok := c.Portals[name]
	if !ok {
		return PortalConfig{}, eris.Errorf("config: no configuration for portal %q", name)
	}
	return p, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
