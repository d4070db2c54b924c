// Package config loads the chat server's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cyberinferno/go-chatroom/logger"
)

// ServerConfig configures the chat listener.
type ServerConfig struct {
	Host        string `yaml:"host,omitempty"`
	Port        int    `yaml:"port"`
	MaxSessions int    `yaml:"max_sessions"`
	OutboxSize  int    `yaml:"outbox_size"`
}

// InsultsConfig points at an optional phrase file, one phrase per line.
type InsultsConfig struct {
	File string `yaml:"file,omitempty"`
}

// LogConfig configures logging. An empty Dir logs to stdout only.
type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir,omitempty"`
}

// StatusConfig configures the HTTP status endpoint. An empty Addr disables it.
type StatusConfig struct {
	Addr      string        `yaml:"addr,omitempty"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	RedisAddr string        `yaml:"redis_addr,omitempty"`
}

// Config is the top-level YAML document.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Insults InsultsConfig `yaml:"insults"`
	Log     LogConfig     `yaml:"log"`
	Status  StatusConfig  `yaml:"status"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        8000,
			MaxSessions: 10,
			OutboxSize:  64,
		},
		Log: LogConfig{
			Level: "info",
		},
		Status: StatusConfig{
			CacheTTL: time.Second,
		},
	}
}

// Load reads the YAML file at path over Default and validates the result.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path from the operator's command line
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range 1..65535", c.Server.Port))
	}
	if c.Server.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions must be positive, got %d", c.Server.MaxSessions))
	}
	if c.Server.OutboxSize <= 0 {
		errs = append(errs, fmt.Errorf("server.outbox_size must be positive, got %d", c.Server.OutboxSize))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Status.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("status.cache_ttl must not be negative, got %s", c.Status.CacheTTL))
	}

	return errors.Join(errs...)
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(&c)
}
