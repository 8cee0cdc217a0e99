// Package config loads relay settings: defaults, then a YAML file, then RELAY_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/runner"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RELAY"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Coordinator kinds.
const (
	CoordinatorKeyword = "keyword"
	CoordinatorRemote  = "remote"
)

// Config is the full application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" env:"SERVER"`
	Execution   ExecutionConfig   `yaml:"execution" env:"EXECUTION"`
	Store       StoreConfig       `yaml:"store" env:"STORE"`
	Coordinator CoordinatorConfig `yaml:"coordinator" env:"COORDINATOR"`
	Workers     WorkersConfig     `yaml:"workers" env:"WORKERS"`
	Log         LogConfig         `yaml:"log" env:"LOG"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr        string   `yaml:"addr" env:"ADDR"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS"`
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" env:"RATE_BURST"`
	// TrustProxy reads the client address from forwarding headers.
	TrustProxy bool `yaml:"trust_proxy" env:"TRUST_PROXY"`
}

// ExecutionConfig bounds executions.
type ExecutionConfig struct {
	MaxSteps         int           `yaml:"max_steps" env:"MAX_STEPS"`
	MaxInputBytes    int           `yaml:"max_input_bytes" env:"MAX_INPUT_BYTES"`
	InvokeTimeout    time.Duration `yaml:"invoke_timeout" env:"INVOKE_TIMEOUT"`
	ParallelHandoffs bool          `yaml:"parallel_handoffs" env:"PARALLEL_HANDOFFS"`
	// HandoffConcurrency caps parallel workers per batch; zero is unbounded.
	HandoffConcurrency int `yaml:"handoff_concurrency" env:"HANDOFF_CONCURRENCY"`
}

// StoreConfig selects and configures the checkpoint store.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	// Path is the directory of the file driver or the database file of the sqlite driver.
	Path          string        `yaml:"path" env:"PATH"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
	LockTTL       time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
	EncryptionKey string        `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
	Redact        []string      `yaml:"redact" env:"REDACT"`
}

// CoordinatorConfig selects the coordinator capability.
type CoordinatorConfig struct {
	Kind string  `yaml:"kind" env:"KIND"`
	URL  string  `yaml:"url" env:"URL"`
	RPS  float64 `yaml:"rps" env:"RPS"`
}

// WorkersConfig locates the worker catalog and process tools.
type WorkersConfig struct {
	Dir   string `yaml:"dir" env:"DIR"`
	Tools string `yaml:"tools" env:"TOOLS"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
			RateBurst:   10,
		},
		Execution: ExecutionConfig{
			MaxSteps:      domain.DefaultMaxSteps,
			MaxInputBytes: runner.DefaultMaxInputBytes,
			InvokeTimeout: 60 * time.Second,
		},
		Store: StoreConfig{
			Driver:    DriverMemory,
			RedisAddr: "localhost:6379",
			LockTTL:   2 * time.Minute,
		},
		Coordinator: CoordinatorConfig{
			Kind: CoordinatorKeyword,
		},
		Workers: WorkersConfig{
			Dir:   "workers",
			Tools: "tools.yaml",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (optional; a missing file keeps defaults) and applies environment overrides.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix, getenv); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []string

	if c.Execution.MaxSteps < 1 || c.Execution.MaxSteps > domain.MaxStepsLimit {
		errs = append(errs, fmt.Sprintf("execution.max_steps must be in [1, %d]", domain.MaxStepsLimit))
	}
	if c.Execution.MaxInputBytes < runner.MaxQueryLength {
		errs = append(errs, fmt.Sprintf("execution.max_input_bytes must be at least %d", runner.MaxQueryLength))
	}
	if c.Execution.HandoffConcurrency < 0 {
		errs = append(errs, "execution.handoff_concurrency must not be negative")
	}
	if c.Execution.InvokeTimeout <= 0 {
		errs = append(errs, "execution.invoke_timeout must be positive")
	}
	switch c.Store.Driver {
	case DriverMemory, DriverFile, DriverRedis, DriverSQLite:
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, file, redis, sqlite", c.Store.Driver))
	}
	switch c.Coordinator.Kind {
	case CoordinatorKeyword:
	case CoordinatorRemote:
		if c.Coordinator.URL == "" {
			errs = append(errs, "coordinator.url is required for the remote coordinator")
		}
	default:
		errs = append(errs, fmt.Sprintf("coordinator.kind %q is not one of keyword, remote", c.Coordinator.Kind))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server.rate_limit must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func setFieldsFromEnv(v reflect.Value, prefix string, getenv func(string) string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, key, getenv); err != nil {
				return err
			}
			continue
		}

		value := getenv(key)
		if value == "" {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}
