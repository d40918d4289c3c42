// Package config loads runtime settings from defaults, an optional .env file,
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"eauharvest/internal/database"
	"eauharvest/internal/logger"
	"eauharvest/internal/ratelimit"
)

const EnvPrefix = "HARVEST"

var (
	ErrMissingPlaybook = errors.New("playbook path is required")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type RateConfig struct {
	DefaultRPS float64 `mapstructure:"default_rps"`
}

type PaginationConfig struct {
	PageSize int `mapstructure:"page_size"`
	MaxDepth int `mapstructure:"max_depth"`
}

type DBConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Config holds every runtime setting
type Config struct {
	DatabaseURL string           `mapstructure:"database_url"`
	LogLevel    string           `mapstructure:"log_level"`
	LogFile     string           `mapstructure:"log_file"`
	LogConsole  bool             `mapstructure:"log_console"`
	Playbook    string           `mapstructure:"playbook"`
	UserAgent   string           `mapstructure:"user_agent"`
	HTTPTimeout time.Duration    `mapstructure:"http_timeout"`
	StatusAddr  string           `mapstructure:"status_addr"`
	Retry       RetryConfig      `mapstructure:"retry"`
	Rate        RateConfig       `mapstructure:"rate"`
	Pagination  PaginationConfig `mapstructure:"pagination"`
	DB          DBConfig         `mapstructure:"db"`
}

// New returns a viper instance with defaults and environment binding.
// DATABASE_URL and LOG_LEVEL are honored without the prefix.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("database_url", database.DefaultURL)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", logger.DefaultFile)
	v.SetDefault("log_console", true)
	v.SetDefault("playbook", "playbook.json")
	v.SetDefault("user_agent", "LB-RAG-Agent/1.0")
	v.SetDefault("http_timeout", 45*time.Second)
	v.SetDefault("status_addr", ":8080")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 16*time.Second)
	v.SetDefault("rate.default_rps", 1.0)
	v.SetDefault("pagination.page_size", 1000)
	v.SetDefault("pagination.max_depth", 20000)
	v.SetDefault("db.max_open_conns", 0)
	v.SetDefault("db.max_idle_conns", 0)
	v.SetDefault("db.conn_max_lifetime", 0)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database_url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("log_level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL")

	return v
}

// LoadDotEnv reads KEY=VALUE pairs into the environment. A missing file is
// not an error; existing variables are not overridden.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// BindFlags registers the persistent flags of the root command and binds them
func BindFlags(v *viper.Viper, cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("playbook", v.GetString("playbook"), "path to the playbook (JSON or YAML)")
	flags.String("database-url", v.GetString("database_url"), "state database URL (sqlite://path or postgres://...)")
	flags.String("log-level", v.GetString("log_level"), "log level (debug, info, warn, error)")
	flags.String("log-file", v.GetString("log_file"), "JSON lines log file, empty to disable")
	flags.Bool("log-console", v.GetBool("log_console"), "also log to stdout")
	flags.String("status-addr", v.GetString("status_addr"), "listen address of the status API")

	bindings := map[string]string{
		"playbook":     "playbook",
		"database_url": "database-url",
		"log_level":    "log-level",
		"log_file":     "log-file",
		"log_console":  "log-console",
		"status_addr":  "status-addr",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Load decodes v into a validated Config
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast before any network activity
func (c *Config) Validate() error {
	var problems []string

	if c.Playbook == "" {
		return ErrMissingPlaybook
	}
	if c.DatabaseURL == "" {
		problems = append(problems, "database_url is empty")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.HTTPTimeout <= 0 {
		problems = append(problems, "http_timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		problems = append(problems, "retry delays must satisfy 0 < base_delay <= max_delay")
	}
	if err := (ratelimit.Limit{Rate: c.Rate.DefaultRPS}).Validate(); err != nil {
		problems = append(problems, "rate.default_rps: "+err.Error())
	}
	if c.Pagination.PageSize <= 0 {
		problems = append(problems, "pagination.page_size must be positive")
	}
	if c.Pagination.MaxDepth < c.Pagination.PageSize {
		problems = append(problems, "pagination.max_depth must be at least page_size")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// DatabaseOptions maps the config onto database.Init options
func (c *Config) DatabaseOptions() database.Options {
	return database.Options{
		URL:             c.DatabaseURL,
		LogLevel:        c.LogLevel,
		MaxOpenConns:    c.DB.MaxOpenConns,
		MaxIdleConns:    c.DB.MaxIdleConns,
		ConnMaxLifetime: c.DB.ConnMaxLifetime,
	}
}
