// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/booklantern/config.yaml",
	"/etc/booklantern/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and env vars.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8097,
			Host:        "0.0.0.0",
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Security: SecurityConfig{
			TokenSecret: "",
			TokenTTL:    7 * 24 * time.Hour,
			AllowedHosts: []string{
				"archive.org",
				"openlibrary.org",
				"gutenberg.org",
				"standardebooks.org",
				"feedbooks.com",
			},
			RateLimitResolve: 60,
			RateLimitToken:   30,
			RateLimitProxy:   120,
			RateLimitWindow:  time.Minute,
			CORSOrigins:      []string{"*"},
			TrustedProxies:   []string{},
		},
		Resolver: ResolverConfig{
			ArchiveBaseURL:     "https://archive.org",
			ArchiveTimeout:     20 * time.Second,
			ExternalTimeout:    20 * time.Second,
			MaxCandidateProbes: 10,
			ProbesPerSecond:    5,
			CacheTTL:           time.Hour,
			BreakerMaxFailures: 5,
			BreakerTimeout:     60 * time.Second,
		},
		Access: AccessConfig{
			ProbeTimeout:    4 * time.Second,
			CacheTTL:        30 * time.Minute,
			ProbesPerSecond: 5,
			MaxRedirects:    5,
		},
		Proxy: ProxyConfig{
			FetchTimeout: 45 * time.Second,
			MaxEPUBBytes: 50 << 20,  // 50MB
			MaxPDFBytes:  200 << 20, // 200MB
			SniffBytes:   512,
			UserAgent:    "Mozilla/5.0 (compatible; BookLantern/1.0; +https://github.com/sidopines/booklantern)",
		},
		Cache: CacheConfig{
			MaxEntries:    10_000,
			SweepInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML (if present)
//  3. Environment variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// TOKEN_SECRET -> security.token_secret etc.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are config paths parsed as comma-separated slices when
// they arrive as env var strings.
var sliceConfigPaths = []string{
	"security.allowed_hosts",
	"security.cors_origins",
	"security.trusted_proxies",
}

// processSliceFields converts comma-separated strings to slices for known
// slice fields. Env vars come in as strings; YAML values are already slices
// and are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables return "" and are skipped so random environment
// variables cannot pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Security
		"token_secret":       "security.token_secret",
		"token_ttl":          "security.token_ttl",
		"allowed_hosts":      "security.allowed_hosts",
		"rate_limit_resolve": "security.rate_limit_resolve",
		"rate_limit_token":   "security.rate_limit_token",
		"rate_limit_proxy":   "security.rate_limit_proxy",
		"rate_limit_window":  "security.rate_limit_window",
		"cors_origins":       "security.cors_origins",
		"trusted_proxies":    "security.trusted_proxies",

		// Resolver
		"archive_base_url":     "resolver.archive_base_url",
		"archive_timeout":      "resolver.archive_timeout",
		"external_timeout":     "resolver.external_timeout",
		"max_candidate_probes": "resolver.max_candidate_probes",
		"resolver_cache_ttl":   "resolver.cache_ttl",
		"breaker_max_failures": "resolver.breaker_max_failures",
		"breaker_timeout":      "resolver.breaker_timeout",

		// Access checking
		"access_probe_timeout":     "access.probe_timeout",
		"access_cache_ttl":         "access.cache_ttl",
		"access_probes_per_second": "access.probes_per_second",
		"access_max_redirects":     "access.max_redirects",

		// Proxy
		"proxy_fetch_timeout": "proxy.fetch_timeout",
		"proxy_max_epub":      "proxy.max_epub_bytes",
		"proxy_max_pdf":       "proxy.max_pdf_bytes",
		"proxy_sniff_bytes":   "proxy.sniff_bytes",
		"proxy_user_agent":    "proxy.user_agent",

		// Cache
		"cache_max_entries":    "cache.max_entries",
		"cache_sweep_interval": "cache.sweep_interval",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
