package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_LoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "hostbridge.yaml")

	yamlContent := `
server:
  port: 8080
  admin_port: 8081
  log_level: debug
  cors: true

agent:
  api_prefix: /_matrix/client

storage:
  path: ./test.db
  retention: 168h

embedded:
  module: diag
  image_path: ./images/module.img

upstream:
  url: https://matrix.example.org

rules:
  - name: bypass-media
    condition: 'request.path.contains("/media/")'
    effect: bypass
  - name: deny-deactivate
    condition: 'request.path.endsWith("/deactivate")'
    effect: deny
    message: account deactivation is disabled
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cfg := loader.Get()

	// Server
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.AdminPort != 8081 {
		t.Errorf("Server.AdminPort = %d, want 8081", cfg.Server.AdminPort)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Server.LogLevel = %q, want \"debug\"", cfg.Server.LogLevel)
	}
	if !cfg.Server.CORS {
		t.Error("Server.CORS = false, want true")
	}

	// Agent
	if cfg.Agent.APIPrefix != "/_matrix/client" {
		t.Errorf("Agent.APIPrefix = %q", cfg.Agent.APIPrefix)
	}

	// Storage
	if cfg.Storage.Path != "./test.db" {
		t.Errorf("Storage.Path = %q, want \"./test.db\"", cfg.Storage.Path)
	}
	if cfg.Storage.Retention != 168*time.Hour {
		t.Errorf("Storage.Retention = %v, want 168h", cfg.Storage.Retention)
	}

	// Embedded
	if cfg.Embedded.Module != "diag" {
		t.Errorf("Embedded.Module = %q, want \"diag\"", cfg.Embedded.Module)
	}
	if cfg.Embedded.ImagePath != "./images/module.img" {
		t.Errorf("Embedded.ImagePath = %q", cfg.Embedded.ImagePath)
	}

	// Upstream
	if cfg.Upstream.URL != "https://matrix.example.org" {
		t.Errorf("Upstream.URL = %q", cfg.Upstream.URL)
	}

	// Rules
	if len(cfg.Rules) != 2 {
		t.Fatalf("Rules length = %d, want 2", len(cfg.Rules))
	}
	if cfg.Rules[0].Name != "bypass-media" {
		t.Errorf("Rules[0].Name = %q, want \"bypass-media\"", cfg.Rules[0].Name)
	}
	if cfg.Rules[1].Effect != "deny" {
		t.Errorf("Rules[1].Effect = %q, want \"deny\"", cfg.Rules[1].Effect)
	}
}

func TestLoader_DefaultConfig(t *testing.T) {
	loader := NewLoader()
	cfg := loader.Get()

	// Verify defaults
	if cfg.Server.Port != 6780 {
		t.Errorf("default Server.Port = %d, want 6780", cfg.Server.Port)
	}
	if cfg.Server.AdminPort != 6781 {
		t.Errorf("default Server.AdminPort = %d, want 6781", cfg.Server.AdminPort)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("default Server.LogLevel = %q, want \"info\"", cfg.Server.LogLevel)
	}
	if cfg.Storage.Path != "./hostbridge.db" {
		t.Errorf("default Storage.Path = %q, want \"./hostbridge.db\"", cfg.Storage.Path)
	}
	if cfg.Storage.Retention != 30*24*time.Hour {
		t.Errorf("default Storage.Retention = %v, want 720h", cfg.Storage.Retention)
	}
	if cfg.Embedded.Module != "diag" {
		t.Errorf("default Embedded.Module = %q, want \"diag\"", cfg.Embedded.Module)
	}
	if cfg.Agent.APIPrefix != "" {
		t.Errorf("default Agent.APIPrefix = %q, want empty (built-in default)", cfg.Agent.APIPrefix)
	}
}

func TestLoader_LoadNonExistentFile(t *testing.T) {
	loader := NewLoader()
	err := loader.Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("Load() with nonexistent file should return error")
	}
}

func TestLoader_LoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.yaml")

	if err := os.WriteFile(configPath, []byte(`{{{invalid yaml`), 0644); err != nil {
		t.Fatalf("failed to write bad config: %v", err)
	}

	loader := NewLoader()
	err := loader.Load(configPath)
	if err == nil {
		t.Error("Load() with invalid YAML should return error")
	}
}

func TestLoader_FilePath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "hostbridge.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 9999\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	if loader.FilePath() != "" {
		t.Errorf("FilePath() before Load() = %q, want empty", loader.FilePath())
	}

	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if loader.FilePath() != configPath {
		t.Errorf("FilePath() = %q, want %q", loader.FilePath(), configPath)
	}
}

func TestLoader_Reload(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "hostbridge.yaml")

	// Write initial config
	if err := os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if loader.Get().Server.Port != 8080 {
		t.Errorf("initial port = %d, want 8080", loader.Get().Server.Port)
	}

	// Overwrite with new config
	if err := os.WriteFile(configPath, []byte("server:\n  port: 9999\n"), 0644); err != nil {
		t.Fatalf("failed to overwrite config: %v", err)
	}

	if err := loader.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	if loader.Get().Server.Port != 9999 {
		t.Errorf("reloaded port = %d, want 9999", loader.Get().Server.Port)
	}
}

func TestLoader_ReloadWithoutLoad(t *testing.T) {
	loader := NewLoader()
	err := loader.Reload()
	if err == nil {
		t.Error("Reload() without prior Load() should return error")
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("TEST_HB_PORT", "9999")
	os.Setenv("TEST_HB_SECRET", "my-secret")
	defer os.Unsetenv("TEST_HB_PORT")
	defer os.Unsetenv("TEST_HB_SECRET")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "port: ${TEST_HB_PORT}",
			want:  "port: 9999",
		},
		{
			name:  "multiple substitutions",
			input: "port: ${TEST_HB_PORT}\nsecret: ${TEST_HB_SECRET}",
			want:  "port: 9999\nsecret: my-secret",
		},
		{
			name:  "undefined variable",
			input: "value: ${UNDEFINED_TEST_VAR_XYZ}",
			want:  "value: ",
		},
		{
			name:  "default value syntax",
			input: "value: ${UNDEFINED_TEST_VAR_XYZ:-default-val}",
			want:  "value: default-val",
		},
		{
			name:  "default value not used when env var set",
			input: "port: ${TEST_HB_PORT:-1234}",
			want:  "port: 9999",
		},
		{
			name:  "no env vars",
			input: "port: 8080",
			want:  "port: 8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substituteEnvVars(tt.input)
			if got != tt.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSubstituteEnvVars_InConfigLoad(t *testing.T) {
	os.Setenv("TEST_HB_CFG_PORT", "7777")
	defer os.Unsetenv("TEST_HB_CFG_PORT")

	dir := t.TempDir()
	configPath := filepath.Join(dir, "hostbridge.yaml")

	yamlContent := `
server:
  port: ${TEST_HB_CFG_PORT}
  log_level: info
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cfg := loader.Get()
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port with env var = %d, want 7777", cfg.Server.Port)
	}
}

func TestGenerateDefault(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "hostbridge.yaml")

	if err := GenerateDefault(configPath); err != nil {
		t.Fatalf("GenerateDefault() error: %v", err)
	}

	// File should exist
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read generated config: %v", err)
	}

	content := string(data)
	if len(content) == 0 {
		t.Error("generated config is empty")
	}

	// Verify it's valid YAML by loading it
	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("generated config is not valid YAML: %v", err)
	}

	cfg := loader.Get()
	if cfg.Server.Port != 6780 {
		t.Errorf("generated config port = %d, want 6780", cfg.Server.Port)
	}
}
