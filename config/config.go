// Package config loads service configuration from a YAML file, a .env file
// and LEDGER_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ticktalk/balance-engine/observability"
)

type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Database DatabaseConfig          `yaml:"database"`
	Log      observability.LogConfig `yaml:"log"`
	Ledger   LedgerConfig            `yaml:"ledger"`
	Notify   NotifyConfig            `yaml:"notify"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LedgerConfig struct {
	MaxConflictRetries int `yaml:"max_conflict_retries"`
	IDMaxAttempts      int `yaml:"id_max_attempts"`
	EventBuffer        int `yaml:"event_buffer"`
}

type NotifyConfig struct {
	Enabled           bool          `yaml:"enabled"`
	AMQPURL           string        `yaml:"amqp_url"`
	Exchange          string        `yaml:"exchange"`
	LowBalancePercent int           `yaml:"low_balance_percent"`
	ExpiryWindow      time.Duration `yaml:"expiry_window"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	DeactivateExpired bool          `yaml:"deactivate_expired"`
}

// Default returns a configuration that runs locally with no files.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "",
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Database: DatabaseConfig{Path: "./data/ledger.db"},
		Log:      observability.LogConfig{Level: "info", TimeFormat: time.RFC3339},
		Ledger: LedgerConfig{
			MaxConflictRetries: 5,
			IDMaxAttempts:      16,
			EventBuffer:        64,
		},
		Notify: NotifyConfig{
			Enabled:           true,
			Exchange:          "balance.notifications",
			LowBalancePercent: 20,
			ExpiryWindow:      14 * 24 * time.Hour,
			SweepInterval:     time.Hour,
		},
	}
}

// Load reads .env (if present), then path (if non-empty and present), then
// the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("LEDGER_HOST", &c.Server.Host)
	integer("LEDGER_PORT", &c.Server.Port)
	if v, ok := lookup("LEDGER_ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}
	str("LEDGER_DB_PATH", &c.Database.Path)
	str("LEDGER_LOG_LEVEL", &c.Log.Level)
	boolean("LEDGER_LOG_PRETTY", &c.Log.Pretty)
	integer("LEDGER_MAX_CONFLICT_RETRIES", &c.Ledger.MaxConflictRetries)
	integer("LEDGER_ID_MAX_ATTEMPTS", &c.Ledger.IDMaxAttempts)
	boolean("LEDGER_NOTIFY_ENABLED", &c.Notify.Enabled)
	str("LEDGER_AMQP_URL", &c.Notify.AMQPURL)
	str("LEDGER_AMQP_EXCHANGE", &c.Notify.Exchange)
	integer("LEDGER_LOW_BALANCE_PERCENT", &c.Notify.LowBalancePercent)
	duration("LEDGER_EXPIRY_WINDOW", &c.Notify.ExpiryWindow)
	duration("LEDGER_SWEEP_INTERVAL", &c.Notify.SweepInterval)
	boolean("LEDGER_DEACTIVATE_EXPIRED", &c.Notify.DeactivateExpired)

	return errors.Join(errs...)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Ledger.MaxConflictRetries < 0 {
		errs = append(errs, errors.New("ledger.max_conflict_retries must not be negative"))
	}
	if c.Ledger.IDMaxAttempts <= 0 {
		errs = append(errs, errors.New("ledger.id_max_attempts must be positive"))
	}
	if c.Notify.LowBalancePercent < 0 || c.Notify.LowBalancePercent > 100 {
		errs = append(errs, fmt.Errorf("notify.low_balance_percent %d out of range", c.Notify.LowBalancePercent))
	}
	if c.Notify.SweepInterval <= 0 {
		errs = append(errs, errors.New("notify.sweep_interval must be positive"))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
