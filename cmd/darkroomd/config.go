package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/darkroomhq/darkroom"
)

// Duration is a time.Duration that unmarshals from Go duration strings
// like "500ms" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// FileConfig is the darkroomd YAML configuration. Values are expanded
// against the environment before parsing, so ${VAR} references work in
// any field.
type FileConfig struct {
	Server ServerConfig `yaml:"server"`
	Engine EngineConfig `yaml:"engine"`
	Store  StoreConfig  `yaml:"store"`
	Host   HostConfig   `yaml:"host"`
	Auth   AuthConfig   `yaml:"auth"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type EngineConfig struct {
	Concurrency     int      `yaml:"concurrency"`
	PollInterval    Duration `yaml:"poll_interval"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MaxAttempts     int      `yaml:"max_attempts"`
	LimitedAttempts int      `yaml:"limited_attempts"`
	RetryBaseDelay  Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   Duration `yaml:"retry_max_delay"`
	BusBufferSize   int      `yaml:"bus_buffer_size"`
}

type StoreConfig struct {
	// Backend selects the persistence layer: memory, postgres, or redis.
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
}

// HostConfig points at the editing host that develops recipes. With an
// empty endpoint, darkroomd simulates development locally.
type HostConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
}

type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens"`
}

type TokenConfig struct {
	Token   string   `yaml:"token"`
	Subject string   `yaml:"subject"`
	Scopes  []string `yaml:"scopes"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is one of text (tint, for terminals) or json.
	Format string `yaml:"format"`
}

// DefaultFileConfig returns the configuration used when no file is
// given.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Store: StoreConfig{Backend: "memory"},
		Host:  HostConfig{Timeout: Duration(5 * time.Minute)},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// engineConfig maps the YAML engine section onto darkroom.Config.
// Unset fields keep the library defaults.
func engineConfig(cfg EngineConfig) darkroom.Config {
	out := darkroom.DefaultConfig()
	if cfg.Concurrency > 0 {
		out.Concurrency = cfg.Concurrency
	}
	if cfg.PollInterval > 0 {
		out.PollInterval = cfg.PollInterval.Std()
	}
	if cfg.ShutdownTimeout > 0 {
		out.ShutdownTimeout = cfg.ShutdownTimeout.Std()
	}
	if cfg.MaxAttempts > 0 {
		out.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.LimitedAttempts > 0 {
		out.LimitedAttempts = cfg.LimitedAttempts
	}
	if cfg.RetryBaseDelay > 0 {
		out.RetryBaseDelay = cfg.RetryBaseDelay.Std()
	}
	if cfg.RetryMaxDelay > 0 {
		out.RetryMaxDelay = cfg.RetryMaxDelay.Std()
	}
	if cfg.BusBufferSize > 0 {
		out.BusBufferSize = cfg.BusBufferSize
	}
	return out
}

// LoadConfig reads, env-expands, and parses the YAML file at path.
func LoadConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
