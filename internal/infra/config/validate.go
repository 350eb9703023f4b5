package config

import (
	"fmt"
	"net/url"
	"strings"

	"stockripper/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func (c *Config) Validate() error {
	ve := &ValidationError{}
	validateAgent(c, ve)
	validateProviders(c, ve)
	validatePeers(c, ve)
	validateLogger(c, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.Name == "" {
		ve.Add("agent.name must not be empty")
	}
	if cfg.Agent.URL != "" {
		if err := validURL(cfg.Agent.URL); err != nil {
			ve.Add("agent.url: %v", err)
		}
	}
}

func validateProviders(cfg *Config, ve *ValidationError) {
	names := make(map[string]bool)
	for i, p := range cfg.Providers {
		if err := p.Validate(); err != nil {
			ve.Add("providers[%d]: %v", i, err)
			continue
		}
		if names[p.Name] {
			ve.Add("providers[%d].name %q is duplicate", i, p.Name)
		}
		names[p.Name] = true
		if p.Transport == domain.TransportHTTP {
			if err := validURL(p.URL); err != nil {
				ve.Add("providers[%d].url: %v", i, err)
			}
		}
	}
}

func validatePeers(cfg *Config, ve *ValidationError) {
	for name, base := range cfg.Peers {
		if name == "" {
			ve.Add("peers: empty peer name")
			continue
		}
		if err := validURL(base); err != nil {
			ve.Add("peers[%s]: %v", name, err)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format must be text or json, got %q", cfg.Logger.Format)
	}
}

func validURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", value)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: missing host", value)
	}
	return nil
}
