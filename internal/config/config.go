// Package config loads service configuration from an optional YAML file
// with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sadaka-platform/zakat"
)

// Config is the root configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Backend BackendConfig `yaml:"backend"`
	Nisab   NisabConfig   `yaml:"nisab"`
	Logging LoggingConfig `yaml:"logging"`

	// DevUserID is used when a request carries no Telegram init data.
	// Zero disables the fallback.
	DevUserID int64 `yaml:"dev_user_id"`
}

// HTTPConfig configures the calculator HTTP service.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// BackendConfig points at the platform backend.
type BackendConfig struct {
	// BaseURL of the backend. Empty means no backend: the static nisab is
	// used and submissions are rejected.
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// NisabConfig is the static fallback nisab.
type NisabConfig struct {
	Amount   string `yaml:"amount"`
	Rate     string `yaml:"rate"`
	Currency string `yaml:"currency"`

	// SessionTTL bounds how long a Mini-App session keeps the nisab it
	// resolved.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Backend: BackendConfig{
			Timeout: 10 * time.Second,
		},
		Nisab: NisabConfig{
			Amount:     zakat.DefaultNisab.String(),
			Rate:       zakat.DefaultRate.String(),
			Currency:   zakat.DefaultCurrency,
			SessionTTL: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("ZAKAT_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("ZAKAT_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ZAKAT_REQUEST_TIMEOUT: %w", err)
		}
		c.HTTP.RequestTimeout = d
	}
	if v := os.Getenv("ZAKAT_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("ZAKAT_NISAB_AMOUNT"); v != "" {
		c.Nisab.Amount = v
	}
	if v := os.Getenv("ZAKAT_RATE"); v != "" {
		c.Nisab.Rate = v
	}
	if v := os.Getenv("ZAKAT_CURRENCY"); v != "" {
		c.Nisab.Currency = v
	}
	if v := os.Getenv("ZAKAT_NISAB_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ZAKAT_NISAB_SESSION_TTL: %w", err)
		}
		c.Nisab.SessionTTL = d
	}
	if v := os.Getenv("ZAKAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ZAKAT_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("ZAKAT_DEV_USER_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("ZAKAT_DEV_USER_ID: %w", err)
		}
		c.DevUserID = id
	}
	return nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.RequestTimeout <= 0 {
		errs = append(errs, errors.New("http.request_timeout must be positive"))
	}
	if _, err := c.ZakatConfig(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// ZakatConfig returns the static nisab as an engine config.
func (c *Config) ZakatConfig() (zakat.Config, error) {
	amount, err := zakat.ParseDecimal(c.Nisab.Amount)
	if err != nil {
		return zakat.Config{}, fmt.Errorf("nisab.amount: %w", err)
	}
	rate, err := zakat.ParseDecimal(c.Nisab.Rate)
	if err != nil {
		return zakat.Config{}, fmt.Errorf("nisab.rate: %w", err)
	}
	currency := c.Nisab.Currency
	if currency == "" {
		currency = zakat.DefaultCurrency
	}

	zc := zakat.Config{NisabAmount: amount, Rate: rate, Currency: currency}
	if err := zc.Validate(); err != nil {
		return zakat.Config{}, fmt.Errorf("nisab: %w", err)
	}
	return zc, nil
}
