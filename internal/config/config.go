// Package config loads process configuration from an optional YAML file and
// CREDVAULT_-prefixed environment variables, with sane defaults for every
// field. Credentials themselves live in a separate file owned by the
// registry loader.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `mapstructure:"listen_addr"`
	// ExternalURL is the base URL callers should use to reach the proxy.
	// Empty means derive it from each request's Host header.
	ExternalURL string `mapstructure:"external_url"`
	// CredentialsFile is the path to the service credentials YAML.
	CredentialsFile string `mapstructure:"credentials_file"`
	// LegacyKey enables the static shared-key auth mode when non-empty.
	LegacyKey string `mapstructure:"legacy_key"`
	// DefaultSessionTTL applies when a session is created without a TTL.
	DefaultSessionTTL time.Duration `mapstructure:"default_session_ttl"`
	// UpstreamTimeout bounds one proxied upstream round trip.
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
	// GitTimeout bounds each git subprocess invocation.
	GitTimeout time.Duration `mapstructure:"git_timeout"`
	// ReviewTimeout bounds the review-creation side effect.
	ReviewTimeout time.Duration `mapstructure:"review_timeout"`
	// CloneDepth shallows fetch-side clones when positive; 0 is full.
	CloneDepth int `mapstructure:"clone_depth"`
	// WorkspaceDir is the parent directory for bundle workspaces.
	WorkspaceDir string `mapstructure:"workspace_dir"`
	// Debug switches logging to development output.
	Debug bool `mapstructure:"debug"`
}

// Load reads configuration from path (optional; empty skips the file) and
// the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", "127.0.0.1:8443")
	v.SetDefault("external_url", "")
	v.SetDefault("credentials_file", "credentials.yaml")
	v.SetDefault("legacy_key", "")
	v.SetDefault("default_session_ttl", 30*time.Minute)
	v.SetDefault("upstream_timeout", 30*time.Second)
	v.SetDefault("git_timeout", 5*time.Minute)
	v.SetDefault("review_timeout", time.Minute)
	v.SetDefault("clone_depth", 0)
	v.SetDefault("workspace_dir", "")
	v.SetDefault("debug", false)

	v.SetEnvPrefix("credvault")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.CredentialsFile == "" {
		return fmt.Errorf("credentials_file is required")
	}
	if c.DefaultSessionTTL <= 0 {
		return fmt.Errorf("default_session_ttl must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream_timeout must be positive")
	}
	return nil
}
