package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "reliefdesk.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/reliefdesk"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// EnvFile is read from the working directory for environment overrides
	EnvFile = ".env"
)

// Environment variables recognised by the loader.
const (
	EnvAPIURL      = "RELIEFDESK_API_URL"
	EnvViteAPIURL  = "VITE_API_URL"
	EnvAPIToken    = "RELIEFDESK_API_TOKEN"
	EnvTokenFile   = "RELIEFDESK_TOKEN_FILE"
	EnvAPITimeout  = "RELIEFDESK_API_TIMEOUT"
	EnvNATSURL     = "RELIEFDESK_NATS_URL"
	EnvS3Region    = "RELIEFDESK_S3_REGION"
	EnvS3Endpoint  = "RELIEFDESK_S3_ENDPOINT"
	EnvS3PathStyle = "RELIEFDESK_S3_PATH_STYLE"
	EnvLogLevel    = "RELIEFDESK_LOG_LEVEL"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger  *slog.Logger
	workDir string
	homeDir string
	getenv  func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger, getenv: os.Getenv}
	if cwd, err := os.Getwd(); err == nil {
		l.workDir = cwd
	}
	if home, err := os.UserHomeDir(); err == nil {
		l.homeDir = home
	}
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/reliefdesk/config.yaml)
// 3. Project config (reliefdesk.yaml in current or parent directories)
// 4. .env in the current directory
// 5. Process environment
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Load user config
	if userConfigPath := l.userConfigPath(); userConfigPath != "" {
		if userConfig, err := readLayer(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	// Load project config
	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		projectConfig, err := readLayer(projectConfigPath)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
		config.Merge(projectConfig)
	} else {
		l.logger.Debug("No project config found")
	}

	// Environment, with .env filling in what the process doesn't set
	dotenv := l.readDotenv()
	lookup := func(key string) string {
		if v := l.getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
	if err := config.applyEnv(lookup); err != nil {
		return nil, err
	}

	// Validate final config
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return fmt.Errorf("cannot determine home directory")
	}

	// Check if it already exists
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil // Already exists
	}

	// Create default config
	config := DefaultConfig()
	if err := config.SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// readLayer parses a config file without applying defaults, so only the
// keys the file sets take part in the merge.
func readLayer(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var layer Config
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &layer, nil
}

func (l *Loader) readDotenv() map[string]string {
	if l.workDir == "" {
		return nil
	}
	path := filepath.Join(l.workDir, EnvFile)
	values, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to read env file", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	}
	l.logger.Debug("Loaded env file", slog.String("path", path), slog.Int("keys", len(values)))
	return values
}

// applyEnv overrides c with environment values.
func (c *Config) applyEnv(lookup func(string) string) error {
	if v := lookup(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	} else if v := lookup(EnvViteAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := lookup(EnvAPIToken); v != "" {
		c.API.Token = v
	}
	if v := lookup(EnvTokenFile); v != "" {
		c.API.TokenFile = v
	}
	if v := lookup(EnvAPITimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAPITimeout, err)
		}
		c.API.Timeout = d
	}
	if v := lookup(EnvNATSURL); v != "" {
		c.NATS.URL = v
	}
	if v := lookup(EnvS3Region); v != "" {
		c.S3.Region = v
	}
	if v := lookup(EnvS3Endpoint); v != "" {
		c.S3.Endpoint = v
	}
	if v := lookup(EnvS3PathStyle); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvS3PathStyle, err)
		}
		c.S3.PathStyle = b
	}
	if v := lookup(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	if l.homeDir == "" {
		return ""
	}
	return filepath.Join(l.homeDir, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for reliefdesk.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	if l.workDir == "" {
		return ""
	}

	dir := l.workDir
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		// Move to parent directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return ""
}
