package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.BaseURL != "http://localhost:5000/api" {
		t.Errorf("expected default base URL http://localhost:5000/api, got %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.API.Timeout)
	}
	if cfg.NATS.URL != "" {
		t.Error("expected NATS disabled by default")
	}
	if cfg.NATS.Bucket != "RELIEFDESK_SNAPSHOTS" {
		t.Errorf("expected default bucket RELIEFDESK_SNAPSHOTS, got %s", cfg.NATS.Bucket)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing base url",
			modify:  func(c *Config) { c.API.BaseURL = "" },
			wantErr: true,
		},
		{
			name:    "relative base url",
			modify:  func(c *Config) { c.API.BaseURL = "/api" },
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			modify:  func(c *Config) { c.API.BaseURL = "ftp://host/api" },
			wantErr: true,
		},
		{
			name:    "zero timeout",
			modify:  func(c *Config) { c.API.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "nats without bucket",
			modify:  func(c *Config) { c.NATS.URL = "nats://localhost:4222"; c.NATS.Bucket = "" },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "warning alias",
			modify:  func(c *Config) { c.Log.Level = "WARNING" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	if err != nil || level != slog.LevelDebug {
		t.Errorf("ParseLevel(debug) = %v, %v", level, err)
	}
	level, err = ParseLevel("")
	if err != nil || level != slog.LevelInfo {
		t.Errorf("ParseLevel(\"\") = %v, %v", level, err)
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
api:
  base_url: "https://relief.example.org/api"
  timeout: 10s
  token_file: "/run/secrets/admin-token"
nats:
  url: "nats://test:4222"
s3:
  region: "eu-west-1"
  path_style: true
log:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.API.BaseURL != "https://relief.example.org/api" {
		t.Errorf("expected base URL https://relief.example.org/api, got %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 10*time.Second {
		t.Errorf("expected timeout 10s, got %v", cfg.API.Timeout)
	}
	if cfg.API.TokenFile != "/run/secrets/admin-token" {
		t.Errorf("expected token file, got %s", cfg.API.TokenFile)
	}
	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if cfg.NATS.Bucket != "RELIEFDESK_SNAPSHOTS" {
		t.Errorf("expected default bucket to survive, got %s", cfg.NATS.Bucket)
	}
	if !cfg.S3.PathStyle || cfg.S3.Region != "eu-west-1" {
		t.Errorf("unexpected s3 config %+v", cfg.S3)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		API: APIConfig{
			BaseURL: "https://override.example.org/api",
		},
		Log: LogConfig{
			Level: "error",
		},
	}

	base.Merge(override)

	if base.API.BaseURL != "https://override.example.org/api" {
		t.Errorf("expected overridden base URL, got %s", base.API.BaseURL)
	}
	// Timeout should remain from base since override didn't set it
	if base.API.Timeout != 30*time.Second {
		t.Errorf("expected timeout to remain default, got %v", base.API.Timeout)
	}
	if base.Log.Level != "error" {
		t.Errorf("expected log level error, got %s", base.Log.Level)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.API.Token = "secret"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("config file was not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.API.Token != "secret" {
		t.Errorf("expected token to round trip, got %q", loaded.API.Token)
	}
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func testLoader(t *testing.T, env map[string]string) (*Loader, string, string) {
	t.Helper()
	root := t.TempDir()
	home := filepath.Join(root, "home")
	work := filepath.Join(root, "project", "reports")
	if err := os.MkdirAll(work, 0755); err != nil {
		t.Fatal(err)
	}
	l := &Loader{
		logger:  slog.Default(),
		workDir: work,
		homeDir: home,
		getenv:  func(k string) string { return env[k] },
	}
	return l, home, work
}

func TestLoaderLayers(t *testing.T) {
	env := map[string]string{}
	l, home, work := testLoader(t, env)

	writeConfig(t, filepath.Join(home, UserConfigDir, UserConfigFile), `
api:
  base_url: "https://user.example.org/api"
  timeout: 5s
log:
  level: warn
`)
	// Found by walking up from the working directory
	writeConfig(t, filepath.Join(filepath.Dir(work), ProjectConfigFile), `
log:
  level: debug
nats:
  url: "nats://project:4222"
`)

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.BaseURL != "https://user.example.org/api" {
		t.Errorf("project layer must not reset user base URL, got %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("expected user timeout 5s, got %v", cfg.API.Timeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected project log level debug, got %s", cfg.Log.Level)
	}
	if cfg.NATS.URL != "nats://project:4222" {
		t.Errorf("expected project NATS URL, got %s", cfg.NATS.URL)
	}

	// .env beats files, the process environment beats .env
	writeConfig(t, filepath.Join(work, EnvFile), "VITE_API_URL=https://dotenv.example.org/api\nRELIEFDESK_API_TIMEOUT=45s\n")
	env[EnvAPITimeout] = "1m"

	cfg, err = l.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.BaseURL != "https://dotenv.example.org/api" {
		t.Errorf("expected .env base URL, got %s", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != time.Minute {
		t.Errorf("expected environment timeout 1m, got %v", cfg.API.Timeout)
	}

	env[EnvAPIURL] = "https://env.example.org/api"
	cfg, err = l.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.BaseURL != "https://env.example.org/api" {
		t.Errorf("RELIEFDESK_API_URL should win over VITE_API_URL, got %s", cfg.API.BaseURL)
	}
}

func TestLoaderErrors(t *testing.T) {
	l, _, work := testLoader(t, map[string]string{EnvS3PathStyle: "maybe"})
	if _, err := l.Load(); err == nil {
		t.Error("expected error for invalid RELIEFDESK_S3_PATH_STYLE")
	}

	l, _, work = testLoader(t, nil)
	writeConfig(t, filepath.Join(work, ProjectConfigFile), "api: [not a map")
	if _, err := l.Load(); err == nil {
		t.Error("expected error for malformed project config")
	}

	l, _, _ = testLoader(t, map[string]string{EnvAPIURL: "not a url"})
	if _, err := l.Load(); err == nil {
		t.Error("expected validation error for bad base URL")
	}
}

func TestEnsureUserConfig(t *testing.T) {
	l, home, _ := testLoader(t, nil)

	if err := l.EnsureUserConfig(); err != nil {
		t.Fatalf("EnsureUserConfig() error = %v", err)
	}
	path := filepath.Join(home, UserConfigDir, UserConfigFile)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("user config not created: %v", err)
	}
	// Second call leaves the file alone
	if err := l.EnsureUserConfig(); err != nil {
		t.Fatalf("EnsureUserConfig() second call error = %v", err)
	}
}
