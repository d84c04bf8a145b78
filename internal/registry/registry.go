// Package registry holds the static mapping from service name to upstream
// address, auth strategy, and secret. The registry is built once at startup
// and never mutated, so concurrent reads need no locking.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
)

// ErrUnknownService is returned when a service name is not registered.
var ErrUnknownService = errors.New("unknown service")

// StrategyKind identifies how a credential is injected into an upstream request.
type StrategyKind string

const (
	// StrategyBearer sets "Authorization: Bearer <secret>".
	StrategyBearer StrategyKind = "bearer"
	// StrategyHeader sets a named header to the secret.
	StrategyHeader StrategyKind = "header"
	// StrategyQuery appends a named query parameter carrying the secret.
	StrategyQuery StrategyKind = "query"
)

// Strategy is a closed variant: Kind selects the injection mechanism and
// Param names the header or query parameter for the header/query kinds.
type Strategy struct {
	Kind  StrategyKind
	Param string
}

// Validate checks that the strategy is one of the supported kinds and that
// kinds requiring a parameter have one.
func (s Strategy) Validate() error {
	switch s.Kind {
	case StrategyBearer:
		return nil
	case StrategyHeader:
		if s.Param == "" {
			return errors.New("header strategy requires a header name")
		}
		return nil
	case StrategyQuery:
		if s.Param == "" {
			return errors.New("query strategy requires a parameter name")
		}
		return nil
	default:
		return fmt.Errorf("unsupported auth strategy %q", s.Kind)
	}
}

// Credential describes one proxied service. The secret never leaves this
// struct except inside the forwarding engine's single injection call.
type Credential struct {
	Name     string
	BaseURL  *url.URL
	Strategy Strategy
	Secret   string
}

// Registry is the immutable service credential lookup.
type Registry struct {
	creds map[string]*Credential
	names []string
}

// New builds a registry from the given credentials, validating each record.
func New(creds []*Credential) (*Registry, error) {
	r := &Registry{creds: make(map[string]*Credential, len(creds))}
	for _, c := range creds {
		if c.Name == "" {
			return nil, errors.New("service name is required")
		}
		if _, dup := r.creds[c.Name]; dup {
			return nil, fmt.Errorf("duplicate service %q", c.Name)
		}
		if c.BaseURL == nil || (c.BaseURL.Scheme != "http" && c.BaseURL.Scheme != "https") {
			return nil, fmt.Errorf("service %q: base_url must be an http(s) URL", c.Name)
		}
		if c.Secret == "" {
			return nil, fmt.Errorf("service %q: credential is required", c.Name)
		}
		if err := c.Strategy.Validate(); err != nil {
			return nil, fmt.Errorf("service %q: %w", c.Name, err)
		}
		r.creds[c.Name] = c
		r.names = append(r.names, c.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Resolve returns the credential record for a service.
func (r *Registry) Resolve(name string) (*Credential, error) {
	c, ok := r.creds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return c, nil
}

// Has reports whether a service is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.creds[name]
	return ok
}

// Services returns the registered service names in sorted order.
// Only names are exposed, never credentials.
func (r *Registry) Services() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
