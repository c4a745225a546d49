// Package config provides configuration loading and management for reliefdesk.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete reliefdesk configuration
type Config struct {
	API  APIConfig  `yaml:"api"`
	NATS NATSConfig `yaml:"nats"`
	S3   S3Config   `yaml:"s3"`
	Log  LogConfig  `yaml:"log"`
}

// APIConfig configures the damage-report service
type APIConfig struct {
	// BaseURL is the service root, including the /api prefix
	BaseURL string `yaml:"base_url"`
	// Timeout bounds every request (default: 30s)
	Timeout time.Duration `yaml:"timeout"`
	// Token is a fixed bearer credential
	Token string `yaml:"token,omitempty"`
	// TokenFile is read for the bearer credential and reloaded on change.
	// Takes precedence over Token.
	TokenFile string `yaml:"token_file,omitempty"`
}

// NATSConfig configures the optional NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = NATS disabled)
	URL string `yaml:"url"`
	// Bucket is the KV bucket holding the last good snapshot
	Bucket string `yaml:"bucket"`
	// NotifySubject prefixes notification subjects
	NotifySubject string `yaml:"notify_subject"`
}

// S3Config configures s3:// attachment references
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	PathStyle bool   `yaml:"path_style"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 30 * time.Second,
		},
		NATS: NATSConfig{
			URL:           "", // Disabled
			Bucket:        "RELIEFDESK_SNAPSHOTS",
			NotifySubject: "reliefdesk.notify",
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.NATS.URL != "" && c.NATS.Bucket == "" {
		return fmt.Errorf("nats.bucket is required when nats.url is set")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", s)
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// May hold a token
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// API
	if other.API.BaseURL != "" {
		c.API.BaseURL = other.API.BaseURL
	}
	if other.API.Timeout != 0 {
		c.API.Timeout = other.API.Timeout
	}
	if other.API.Token != "" {
		c.API.Token = other.API.Token
	}
	if other.API.TokenFile != "" {
		c.API.TokenFile = other.API.TokenFile
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Bucket != "" {
		c.NATS.Bucket = other.NATS.Bucket
	}
	if other.NATS.NotifySubject != "" {
		c.NATS.NotifySubject = other.NATS.NotifySubject
	}

	// S3
	if other.S3.Region != "" {
		c.S3.Region = other.S3.Region
	}
	if other.S3.Endpoint != "" {
		c.S3.Endpoint = other.S3.Endpoint
	}
	if other.S3.PathStyle {
		c.S3.PathStyle = true
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
