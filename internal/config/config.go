package config

import (
	"time"
)

// Config is the top-level hostbridge configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Agent    AgentConfig    `yaml:"agent"`
	Storage  StorageConfig  `yaml:"storage"`
	Embedded EmbeddedConfig `yaml:"embedded"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Rules    []RuleConfig   `yaml:"rules"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`       // front port the host sends requests to
	AdminPort int    `yaml:"admin_port"` // management API + metrics
	LogLevel  string `yaml:"log_level"`
	CORS      bool   `yaml:"cors"`
}

// AgentConfig controls the interception agent.
type AgentConfig struct {
	// APIPrefix is the URL path namespace redirected through the bridge.
	// Empty selects the built-in default.
	APIPrefix string `yaml:"api_prefix"`
}

type StorageConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// EmbeddedConfig selects the embedded server module and where its image
// lives on disk (the watcher observes the image for replacements).
type EmbeddedConfig struct {
	Module    string `yaml:"module"`
	ImagePath string `yaml:"image_path"`
}

// UpstreamConfig names the normal network path pass-through requests are
// forwarded to. Empty means no network path is configured.
type UpstreamConfig struct {
	URL string `yaml:"url"`
}

// RuleConfig is one operator interception rule. Condition is a CEL
// expression over request.method, request.path and request.query.
type RuleConfig struct {
	Name      string `yaml:"name"`
	Condition string `yaml:"condition"`
	Effect    string `yaml:"effect"` // bypass, deny
	Message   string `yaml:"message"`
}

// DefaultConfig returns a config with sensible defaults for zero-config startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      6780,
			AdminPort: 6781,
			LogLevel:  "info",
			CORS:      false,
		},
		Storage: StorageConfig{
			Path:      "./hostbridge.db",
			Retention: 30 * 24 * time.Hour,
		},
		Embedded: EmbeddedConfig{
			Module:    "diag",
			ImagePath: "./module.img",
		},
	}
}
