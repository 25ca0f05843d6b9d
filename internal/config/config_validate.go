// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// minTokenSecretLength is the minimum accepted signing secret length.
// Shorter secrets make capability tokens brute-forceable.
const minTokenSecretLength = 32

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateResolver(); err != nil {
		return err
	}
	if err := c.validateProxy(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	switch c.Server.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("ENVIRONMENT must be development or production, got %q", c.Server.Environment)
	}
	return nil
}

// validateSecurity enforces the token secret requirement. There is no
// insecure fallback: a missing secret is a startup failure.
func (c *Config) validateSecurity() error {
	if c.Security.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET is required: capability tokens cannot be signed without it")
	}
	if len(c.Security.TokenSecret) < minTokenSecretLength {
		return fmt.Errorf("TOKEN_SECRET must be at least %d characters, got %d",
			minTokenSecretLength, len(c.Security.TokenSecret))
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if len(c.Security.AllowedHosts) == 0 {
		return fmt.Errorf("ALLOWED_HOSTS must not be empty: the proxy would reject every request")
	}
	for _, host := range c.Security.AllowedHosts {
		if strings.ContainsAny(host, "/: ") {
			return fmt.Errorf("ALLOWED_HOSTS entry %q must be a bare hostname suffix", host)
		}
	}
	return nil
}

func (c *Config) validateResolver() error {
	if err := validateHTTPURL(c.Resolver.ArchiveBaseURL, "ARCHIVE_BASE_URL"); err != nil {
		return err
	}
	if c.Resolver.MaxCandidateProbes < 1 {
		return fmt.Errorf("MAX_CANDIDATE_PROBES must be at least 1")
	}
	return nil
}

func (c *Config) validateProxy() error {
	if c.Proxy.MaxEPUBBytes <= 0 || c.Proxy.MaxPDFBytes <= 0 {
		return fmt.Errorf("proxy size ceilings must be positive")
	}
	if c.Proxy.SniffBytes < 4 {
		return fmt.Errorf("PROXY_SNIFF_BYTES must be at least 4 to cover magic numbers")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// validateHTTPURL checks that a value parses as an absolute http(s) URL.
func validateHTTPURL(raw, name string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme, got %q", name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", name)
	}
	return nil
}
