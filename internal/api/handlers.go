// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

// Package api provides the HTTP handlers and Chi routing for BookLantern.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sidopines/booklantern/internal/access"
	"github.com/sidopines/booklantern/internal/cache"
	"github.com/sidopines/booklantern/internal/config"
	"github.com/sidopines/booklantern/internal/models"
	"github.com/sidopines/booklantern/internal/netguard"
	"github.com/sidopines/booklantern/internal/proxy"
	"github.com/sidopines/booklantern/internal/token"
)

// ArchiveResolver resolves archive.org identifiers to streamable files.
type ArchiveResolver interface {
	Resolve(ctx context.Context, identifier string) (*models.ResolvedFile, error)
}

// ExternalResolver resolves landing-page URLs to streamable files.
type ExternalResolver interface {
	Resolve(ctx context.Context, pageURL string) (*models.ResolvedFile, error)
}

// DocumentFetcher performs guarded upstream fetches for the proxy routes.
type DocumentFetcher interface {
	Fetch(ctx context.Context, req proxy.Request) (*proxy.Upstream, error)
}

// SubscriberAuth authorizes the direct-URL form of the document proxy.
// Token-bearing requests never consult it. Nil means the url form is off.
type SubscriberAuth interface {
	Authorized(r *http.Request) bool
}

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	cfg      *config.Config
	archive  ArchiveResolver
	external ExternalResolver
	tokens   *token.Manager
	fetcher  DocumentFetcher
	checker  *access.Checker
	guard    *netguard.Guard
	subs     SubscriberAuth
	caches   map[string]*cache.Cache
	version  string

	startTime time.Time
}

// HandlerDeps bundles the constructor arguments for NewHandler.
type HandlerDeps struct {
	Config   *config.Config
	Archive  ArchiveResolver
	External ExternalResolver
	Tokens   *token.Manager
	Fetcher  DocumentFetcher
	Checker  *access.Checker
	Guard    *netguard.Guard

	// Subscribers authorizes GET /proxy/document?url= requests. Optional.
	Subscribers SubscriberAuth

	// Caches maps a stable name ("archive", "external", "access") to the
	// TTL cache behind each component, for the stats endpoint.
	Caches  map[string]*cache.Cache
	Version string
}

// NewHandler creates the API handler set.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		cfg:       deps.Config,
		archive:   deps.Archive,
		external:  deps.External,
		tokens:    deps.Tokens,
		fetcher:   deps.Fetcher,
		checker:   deps.Checker,
		guard:     deps.Guard,
		subs:      deps.Subscribers,
		caches:    deps.Caches,
		version:   deps.Version,
		startTime: time.Now(),
	}
}
