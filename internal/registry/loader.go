package registry

import (
	"fmt"
	"net/url"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// File represents the credentials configuration file.
type File struct {
	Services map[string]ServiceConfig `yaml:"services"`
}

// ServiceConfig is one service entry in the credentials file.
type ServiceConfig struct {
	BaseURL    string `yaml:"base_url"`
	Auth       string `yaml:"auth"`
	Credential string `yaml:"credential"`
	Header     string `yaml:"header,omitempty"`
	QueryParam string `yaml:"query_param,omitempty"`
}

// Load reads a credentials file and builds the registry, failing fast on any
// malformed entry. Values may reference environment variables as ${VAR}.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses credentials configuration from raw YAML.
func LoadBytes(data []byte) (*Registry, error) {
	// Substitute environment variables before parsing so secrets can stay
	// out of the file itself.
	content := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		varName := match[2 : len(match)-1]
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return match
	})

	var file File
	if err := yaml.Unmarshal([]byte(content), &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	creds := make([]*Credential, 0, len(file.Services))
	for name, sc := range file.Services {
		cred, err := sc.toCredential(name)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return New(creds)
}

func (sc ServiceConfig) toCredential(name string) (*Credential, error) {
	base, err := url.Parse(sc.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("service %q: invalid base_url: %w", name, err)
	}

	strategy := Strategy{Kind: StrategyKind(sc.Auth)}
	switch strategy.Kind {
	case StrategyHeader:
		strategy.Param = sc.Header
	case StrategyQuery:
		strategy.Param = sc.QueryParam
	}

	return &Credential{
		Name:     name,
		BaseURL:  base,
		Strategy: strategy,
		Secret:   sc.Credential,
	}, nil
}
