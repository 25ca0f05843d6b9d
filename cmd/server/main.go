// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

// Package main is the entry point for the BookLantern server.
//
// BookLantern resolves public-domain book references from federated
// catalogs (archive.org, Project Gutenberg, Standard Ebooks, Feedbooks)
// to directly streamable EPUB and PDF files, and proxies those files to
// an in-browser reader behind signed capability tokens.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered load from defaults, YAML file, and
//     environment variables (Koanf v2)
//  2. Outbound fetch guard: lexical SSRF policy over the host allowlist
//  3. Resolvers: archive.org metadata client (circuit-broken) and the
//     external landing-page scraper
//  4. Access checker: HEAD-probe verdict cache for direct URLs
//  5. Token manager: HMAC-SHA256 capability tokens
//  6. HTTP server and cache sweeper, under a suture supervision tree
//
// # Configuration
//
// TOKEN_SECRET is required (32+ characters); the server refuses to start
// without it. Everything else has workable defaults; see the config
// package for the full surface.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the listener stops
// accepting connections and in-flight streams get the shutdown timeout to
// finish.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sidopines/booklantern/internal/access"
	"github.com/sidopines/booklantern/internal/api"
	"github.com/sidopines/booklantern/internal/cache"
	"github.com/sidopines/booklantern/internal/config"
	"github.com/sidopines/booklantern/internal/logging"
	"github.com/sidopines/booklantern/internal/netguard"
	"github.com/sidopines/booklantern/internal/proxy"
	"github.com/sidopines/booklantern/internal/resolver"
	"github.com/sidopines/booklantern/internal/supervisor"
	"github.com/sidopines/booklantern/internal/supervisor/services"
	"github.com/sidopines/booklantern/internal/token"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("environment", cfg.Server.Environment).
		Strs("allowed_hosts", cfg.Security.AllowedHosts).
		Msg("Starting BookLantern")

	guard := netguard.New(cfg.Security.AllowedHosts)

	tokens, err := token.NewManager(cfg.Security.TokenSecret, cfg.Security.TokenTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize token manager")
	}

	sizeLimits := resolver.SizeLimits{
		EPUB: cfg.Proxy.MaxEPUBBytes,
		PDF:  cfg.Proxy.MaxPDFBytes,
	}

	archive := resolver.NewArchiveResolver(resolver.ArchiveOptions{
		BaseURL:            cfg.Resolver.ArchiveBaseURL,
		Timeout:            cfg.Resolver.ArchiveTimeout,
		CacheTTL:           cfg.Resolver.CacheTTL,
		MaxCacheEntries:    cfg.Cache.MaxEntries,
		BreakerMaxFailures: cfg.Resolver.BreakerMaxFailures,
		BreakerTimeout:     cfg.Resolver.BreakerTimeout,
		Limits:             sizeLimits,
	})

	external := resolver.NewExternalResolver(resolver.ExternalOptions{
		Guard:           guard,
		Timeout:         cfg.Resolver.ExternalTimeout,
		CacheTTL:        cfg.Resolver.CacheTTL,
		MaxCacheEntries: cfg.Cache.MaxEntries,
		MaxProbes:       cfg.Resolver.MaxCandidateProbes,
		ProbesPerSecond: cfg.Resolver.ProbesPerSecond,
		UserAgent:       cfg.Proxy.UserAgent,
		Limits:          sizeLimits,
	})

	checker := access.NewChecker(access.Options{
		ProbeTimeout:    cfg.Access.ProbeTimeout,
		CacheTTL:        cfg.Access.CacheTTL,
		ProbesPerSecond: cfg.Access.ProbesPerSecond,
		MaxRedirects:    cfg.Access.MaxRedirects,
		MaxCacheEntries: cfg.Cache.MaxEntries,
	})

	fetcher := proxy.NewFetcher(proxy.FetcherOptions{
		Guard:      guard,
		Timeout:    cfg.Proxy.FetchTimeout,
		SniffBytes: cfg.Proxy.SniffBytes,
		UserAgent:  cfg.Proxy.UserAgent,
	})

	caches := map[string]*cache.Cache{
		"archive":  archive.Cache(),
		"external": external.Cache(),
		"access":   checker.Cache(),
	}

	handler := api.NewHandler(api.HandlerDeps{
		Config:   cfg,
		Archive:  archive,
		External: external,
		Tokens:   tokens,
		Fetcher:  fetcher,
		Checker:  checker,
		Guard:    guard,
		Caches:   caches,
		Version:  version,
	})
	router := api.NewRouter(handler, api.NewChiMiddlewareFromConfig(cfg.Security))

	server := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router.SetupChi(),
		// Write timeout must cover a whole document stream, so only the
		// read side uses the short request timeout.
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Proxy.FetchTimeout + cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	tree.AddMaintenanceService(services.NewSweeperService(caches, cfg.Cache.SweepInterval))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor error")
		}
	}

	logging.Info().Msg("Stopped gracefully")
}
