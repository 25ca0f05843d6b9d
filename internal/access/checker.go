// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

// Package access decides whether a book's direct URL is actually
// streamable before it is ever offered to a reader.
//
// Archive items frequently carry files that exist in the metadata manifest
// but answer with a lending wall or a 403 when fetched anonymously. The
// checker sends a cheap HEAD probe, follows a bounded redirect chain, and
// records the verdict in a TTL cache so catalog listings don't hammer
// upstreams. Verdicts fail closed: a probe error means "not accessible".
package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sidopines/booklantern/internal/cache"
	"github.com/sidopines/booklantern/internal/logging"
)

// blockedRedirectMarkers are URL fragments that indicate a probe was
// bounced to a lending or login wall rather than the document itself.
var blockedRedirectMarkers = []string{
	"/borrow",
	"/login",
	"/account",
	"/stream_only",
}

// Checker probes direct URLs for anonymous accessibility and memoizes
// the verdicts.
type Checker struct {
	client       *http.Client
	verdicts     *cache.Cache
	limiter      *rate.Limiter
	probeTimeout time.Duration
	cacheTTL     time.Duration
}

// Options tunes a Checker. Zero values take defaults.
type Options struct {
	// Client issues the HEAD probes. Its CheckRedirect is overridden to
	// bound the chain. Nil means a fresh client.
	Client *http.Client

	// ProbeTimeout bounds a single probe including redirects.
	ProbeTimeout time.Duration

	// CacheTTL is how long a verdict is remembered.
	CacheTTL time.Duration

	// ProbesPerSecond rate-limits outbound probes. Zero disables limiting.
	ProbesPerSecond float64

	// MaxRedirects bounds the redirect chain.
	MaxRedirects int

	// MaxCacheEntries bounds the verdict cache.
	MaxCacheEntries int
}

// NewChecker creates an access checker.
func NewChecker(opts Options) *Checker {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 4 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 5
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	maxRedirects := opts.MaxRedirects
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.ProbesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ProbesPerSecond), int(opts.ProbesPerSecond)+1)
	}

	return &Checker{
		client:       client,
		verdicts:     cache.New(opts.CacheTTL, opts.MaxCacheEntries),
		limiter:      limiter,
		probeTimeout: opts.ProbeTimeout,
		cacheTTL:     opts.CacheTTL,
	}
}

// IsAccessible reports whether the URL answers an anonymous HEAD probe
// with a success status and no lending-wall redirect. Verdicts are cached;
// repeat calls within the TTL never touch the network.
func (c *Checker) IsAccessible(ctx context.Context, rawURL string) bool {
	key := cache.GenerateKey("access", rawURL)
	if v, ok := c.verdicts.Get(key); ok {
		return v.(bool)
	}

	verdict := c.probe(ctx, rawURL)
	c.verdicts.Set(key, verdict)
	return verdict
}

// probe performs the actual HEAD request. Any transport error, a
// non-success status, or a redirect onto a lending wall counts as
// inaccessible.
func (c *Checker) probe(ctx context.Context, rawURL string) bool {
	if err := c.limiter.Wait(ctx); err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("url", rawURL).Msg("access probe failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	// The client follows redirects, so a 2xx here may still be a lending
	// wall that answered at the end of the chain.
	if finalURL := resp.Request.URL; finalURL != nil {
		low := strings.ToLower(finalURL.Path)
		for _, marker := range blockedRedirectMarkers {
			if strings.Contains(low, marker) {
				return false
			}
		}
	}
	return true
}

// FilterAccessible probes a batch of URLs with bounded concurrency and
// returns, in input order, only those that are accessible. Used by catalog
// listings that must never show a reader a book it cannot open.
func (c *Checker) FilterAccessible(ctx context.Context, urls []string, workers int) []string {
	if workers <= 0 {
		workers = 4
	}

	verdicts := make([]bool, len(urls))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, u string) {
			defer wg.Done()
			defer func() { <-sem }()
			verdicts[i] = c.IsAccessible(ctx, u)
		}(i, u)
	}
	wg.Wait()

	accessible := make([]string, 0, len(urls))
	for i, ok := range verdicts {
		if ok {
			accessible = append(accessible, urls[i])
		}
	}
	return accessible
}

// Invalidate drops the cached verdict for a URL. Called when the proxy
// observes an upstream rejection that contradicts a cached "accessible".
func (c *Checker) Invalidate(rawURL string) {
	c.verdicts.Delete(cache.GenerateKey("access", rawURL))
}

// Stats exposes verdict cache counters for the stats endpoint.
func (c *Checker) Stats() cache.Stats {
	return c.verdicts.GetStats()
}

// Cache exposes the verdict cache for sweeping.
func (c *Checker) Cache() *cache.Cache {
	return c.verdicts
}

// ErrInaccessible is returned by callers that need an error value for an
// inaccessible document rather than a bare false.
var ErrInaccessible = errors.New("document is not anonymously accessible")
