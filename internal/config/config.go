// Package config loads server settings.
//
// LAYERING:
// Values are resolved in this order, later layers winning:
//  1. Defaults set in Load
//  2. An optional YAML file named by CONFIG_FILE
//  3. Environment variables (PORT, DB_PATH, ...)
//
// Keys in the YAML file are the lower-case environment names, so
// PERSIST_DEBOUNCE in the environment and persist_debounce in the file
// set the same value.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Executor backends.
const (
	ExecutorPiston = "piston"
	ExecutorDocker = "docker"
)

// Config holds every setting the server reads at startup.
type Config struct {
	Port int `mapstructure:"port"`

	StoreBackend  string `mapstructure:"store_backend"`
	DBPath        string `mapstructure:"db_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	ExecutorBackend string        `mapstructure:"executor_backend"`
	PistonURL       string        `mapstructure:"piston_url"`
	ExecTimeout     time.Duration `mapstructure:"exec_timeout"`

	PersistDebounce time.Duration `mapstructure:"persist_debounce"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	JWTSecret string `mapstructure:"jwt_secret"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	WSRateLimit    float64  `mapstructure:"ws_rate_limit"`
	WSRateBurst    int      `mapstructure:"ws_rate_burst"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

var defaults = map[string]any{
	"port":             8080,
	"store_backend":    StoreSQLite,
	"db_path":          "data/collab.db",
	"redis_addr":       "localhost:6379",
	"redis_password":   "",
	"redis_db":         0,
	"executor_backend": ExecutorPiston,
	"piston_url":       "https://emkc.org/api/v2/piston",
	"exec_timeout":     "20s",
	"persist_debounce": "1500ms",
	"shutdown_timeout": "30s",
	"jwt_secret":       "",
	"log_level":        "info",
	"log_format":       "text",
	"ws_rate_limit":    50.0,
	"ws_rate_burst":    100,
	"allowed_origins":  []string{},
}

// Load builds a Config from defaults, the optional CONFIG_FILE and the
// environment, then validates it.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		// AutomaticEnv only consults the environment for keys viper already
		// knows about, so bind each one explicitly.
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.AllowedOrigins = splitOrigins(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitOrigins accepts both a YAML list and a comma separated env value.
func splitOrigins(in []string) []string {
	var out []string
	for _, item := range in {
		for _, o := range strings.Split(item, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Port > 0 && c.Port < 65536, "PORT must be between 1 and 65535, got %d", c.Port)
	check(c.StoreBackend == StoreSQLite || c.StoreBackend == StoreRedis,
		"STORE_BACKEND must be %q or %q, got %q", StoreSQLite, StoreRedis, c.StoreBackend)
	check(c.StoreBackend != StoreSQLite || c.DBPath != "", "DB_PATH is required for the sqlite store")
	check(c.StoreBackend != StoreRedis || c.RedisAddr != "", "REDIS_ADDR is required for the redis store")
	check(c.ExecutorBackend == ExecutorPiston || c.ExecutorBackend == ExecutorDocker,
		"EXECUTOR_BACKEND must be %q or %q, got %q", ExecutorPiston, ExecutorDocker, c.ExecutorBackend)
	check(c.ExecutorBackend != ExecutorPiston || c.PistonURL != "", "PISTON_URL is required for the piston executor")
	check(c.ExecTimeout > 0, "EXEC_TIMEOUT must be positive")
	check(c.PersistDebounce > 0, "PERSIST_DEBOUNCE must be positive")
	check(c.ShutdownTimeout > 0, "SHUTDOWN_TIMEOUT must be positive")
	check(c.JWTSecret == "" || len(c.JWTSecret) >= 16, "JWT_SECRET must be at least 16 characters when set")
	check(c.LogFormat == "text" || c.LogFormat == "json", "LOG_FORMAT must be text or json, got %q", c.LogFormat)
	check(c.WSRateLimit > 0, "WS_RATE_LIMIT must be positive")
	check(c.WSRateBurst >= 1, "WS_RATE_BURST must be at least 1")

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not a log level", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Level returns LOG_LEVEL as an slog.Level. Validate has already checked it.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	_ = lvl.UnmarshalText([]byte(c.LogLevel))
	return lvl
}
