// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

// Package config holds all application configuration, loaded with Koanf v2
// from layered sources: built-in defaults, an optional YAML config file,
// and environment variables (highest priority).
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Resolver ResolverConfig `koanf:"resolver"`
	Access   AccessConfig   `koanf:"access"`
	Proxy    ProxyConfig    `koanf:"proxy"`
	Cache    CacheConfig    `koanf:"cache"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - HTTP_PORT: Listen port (default: 8097)
//   - HTTP_HOST: Bind address (default: 0.0.0.0)
//   - HTTP_TIMEOUT: Read/write timeout for non-streaming routes
type ServerConfig struct {
	Port        int           `koanf:"port"`
	Host        string        `koanf:"host"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"` // development or production
}

// SecurityConfig holds token signing, rate limiting, and domain policy.
//
// TokenSecret is REQUIRED: the server refuses to start without it, since
// an unsigned or guessable capability token would open the proxy to
// arbitrary-URL fetching.
type SecurityConfig struct {
	// TokenSecret signs reader capability tokens (HMAC-SHA256).
	TokenSecret string `koanf:"token_secret"`

	// TokenTTL is the capability token lifetime.
	TokenTTL time.Duration `koanf:"token_ttl"`

	// AllowedHosts are the hostname suffixes the proxy may fetch from.
	AllowedHosts []string `koanf:"allowed_hosts"`

	// Rate limiting for the public endpoints, by endpoint class.
	RateLimitResolve int           `koanf:"rate_limit_resolve"`
	RateLimitToken   int           `koanf:"rate_limit_token"`
	RateLimitProxy   int           `koanf:"rate_limit_proxy"`
	RateLimitWindow  time.Duration `koanf:"rate_limit_window"`

	CORSOrigins    []string `koanf:"cors_origins"`
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// ResolverConfig holds upstream metadata settings for the archive and
// external landing-page resolvers.
type ResolverConfig struct {
	// ArchiveBaseURL is the archive.org API root.
	ArchiveBaseURL string        `koanf:"archive_base_url"`
	ArchiveTimeout time.Duration `koanf:"archive_timeout"`

	// ExternalTimeout bounds a landing-page fetch plus link extraction.
	ExternalTimeout time.Duration `koanf:"external_timeout"`

	// MaxCandidateProbes caps HEAD validations per landing page.
	MaxCandidateProbes int `koanf:"max_candidate_probes"`

	// ProbesPerSecond rate-limits candidate HEAD probes.
	ProbesPerSecond float64 `koanf:"probes_per_second"`

	// CacheTTL is how long resolved descriptors are cached.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// Circuit breaker tuning for the archive metadata client.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
}

// AccessConfig holds HEAD-probe access checking settings.
type AccessConfig struct {
	// ProbeTimeout bounds a single accessibility HEAD probe.
	ProbeTimeout time.Duration `koanf:"probe_timeout"`

	// CacheTTL is how long an accessibility verdict is remembered.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// ProbesPerSecond rate-limits outbound HEAD probes.
	ProbesPerSecond float64 `koanf:"probes_per_second"`

	// MaxRedirects bounds redirect chains during probing.
	MaxRedirects int `koanf:"max_redirects"`
}

// ProxyConfig holds streaming proxy settings.
type ProxyConfig struct {
	// FetchTimeout bounds an entire upstream document fetch.
	FetchTimeout time.Duration `koanf:"fetch_timeout"`

	// MaxEPUBBytes and MaxPDFBytes are per-format size ceilings.
	MaxEPUBBytes int64 `koanf:"max_epub_bytes"`
	MaxPDFBytes  int64 `koanf:"max_pdf_bytes"`

	// SniffBytes is the size of the first-chunk payload sniff.
	SniffBytes int `koanf:"sniff_bytes"`

	// UserAgent is sent on all upstream requests.
	UserAgent string `koanf:"user_agent"`
}

// CacheConfig bounds the in-memory caches.
type CacheConfig struct {
	MaxEntries    int           `koanf:"max_entries"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// LoggingConfig holds log output settings.
//
// Environment Variables:
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction reports whether the server runs in production mode.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == "production"
}
