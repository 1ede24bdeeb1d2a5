package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. TRAWL_DB_DSN.
const EnvPrefix = "TRAWL"

type DBConfig struct {
	Driver         string `mapstructure:"driver"` // postgres or sqlite
	DSN            string `mapstructure:"dsn"`
	PasswordSecret string `mapstructure:"password_secret"`
	Records        string `mapstructure:"records"` // db, csv or ndjson
	RecordsPath    string `mapstructure:"records_path"`
}

type SearchConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	TLSProfile   string        `mapstructure:"tls_profile"`
	ProxyURL     string        `mapstructure:"proxy_url"`
	UserAgent    string        `mapstructure:"user_agent"`
}

type SecretsConfig struct {
	Provider  string `mapstructure:"provider"` // env or file
	File      string `mapstructure:"file"`
	EnvPrefix string `mapstructure:"env_prefix"`
}

type PipelineConfig struct {
	ResharePolicy     string  `mapstructure:"reshare_policy"`
	Concurrency       int     `mapstructure:"concurrency"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type MetricsConfig struct {
	Port        int    `mapstructure:"port"`
	Pushgateway string `mapstructure:"pushgateway"`
	Job         string `mapstructure:"job"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

type Config struct {
	DB       DBConfig       `mapstructure:"db"`
	Search   SearchConfig   `mapstructure:"search"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "trawl.db")
	v.SetDefault("db.password_secret", "sqlPwd")
	v.SetDefault("db.records", "db")
	v.SetDefault("db.records_path", "")

	v.SetDefault("search.base_url", "https://api.twitter.com")
	v.SetDefault("search.timeout", 30*time.Second)
	v.SetDefault("search.max_redirects", 5)
	v.SetDefault("search.tls_profile", "go")
	v.SetDefault("search.proxy_url", "")
	v.SetDefault("search.user_agent", "trawl")

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("secrets.file", "")
	v.SetDefault("secrets.env_prefix", "TRAWL_SECRET_")

	v.SetDefault("pipeline.reshare_policy", "keep")
	v.SetDefault("pipeline.concurrency", 2)
	v.SetDefault("pipeline.requests_per_second", 0.0)

	v.SetDefault("metrics.port", 0)
	v.SetDefault("metrics.pushgateway", "")
	v.SetDefault("metrics.job", "trawl")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the optional YAML file at path, applies TRAWL_ environment
// overrides and fills in defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("db.driver: unsupported %q", c.DB.Driver))
	}
	switch c.DB.Records {
	case "db":
	case "csv", "ndjson":
		if c.DB.RecordsPath == "" {
			errs = append(errs, fmt.Errorf("db.records_path: required for %s records", c.DB.Records))
		}
	default:
		errs = append(errs, fmt.Errorf("db.records: unsupported %q", c.DB.Records))
	}
	switch c.Secrets.Provider {
	case "env":
	case "file":
		if c.Secrets.File == "" {
			errs = append(errs, errors.New("secrets.file: required for the file provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("secrets.provider: unsupported %q", c.Secrets.Provider))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported %q", c.Log.Format))
	}
	if c.Pipeline.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency: must be at least 1, got %d", c.Pipeline.Concurrency))
	}
	if c.Search.Timeout < 0 {
		errs = append(errs, fmt.Errorf("search.timeout: negative %s", c.Search.Timeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// TriggerLayout is the scheduler's timestamp format. A fractional second part
// after '.' is accepted and discarded.
const TriggerLayout = "2006-01-02T15:04:05"

// ParseTriggerTime parses an invocation trigger time as TriggerLayout in UTC,
// or as RFC 3339.
func ParseTriggerTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	base := s
	if i := strings.IndexByte(s, '.'); i >= 0 {
		base = s[:i]
	}
	t, err := time.Parse(TriggerLayout, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid trigger time %q: want %s or RFC 3339", s, TriggerLayout)
	}
	return t.UTC(), nil
}
