// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package services

import (
	"context"
	"time"

	"github.com/sidopines/booklantern/internal/cache"
	"github.com/sidopines/booklantern/internal/logging"
	"github.com/sidopines/booklantern/internal/metrics"
)

// SweeperService periodically evicts expired entries from the named
// caches and publishes entry-count gauges. The caches own no goroutines
// themselves; this service is the only thing that sweeps them.
type SweeperService struct {
	caches   map[string]*cache.Cache
	interval time.Duration
}

// NewSweeperService creates a sweeper over the given named caches.
func NewSweeperService(caches map[string]*cache.Cache, interval time.Duration) *SweeperService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SweeperService{caches: caches, interval: interval}
}

// Serve implements suture.Service.
func (s *SweeperService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepAll(ctx)
		}
	}
}

func (s *SweeperService) sweepAll(ctx context.Context) {
	for name, c := range s.caches {
		if c == nil {
			continue
		}
		evicted := c.Sweep()
		stats := c.GetStats()
		metrics.CacheEntries.WithLabelValues(name).Set(float64(stats.TotalKeys))
		if evicted > 0 {
			logging.Ctx(ctx).Debug().
				Str("cache", name).
				Int64("evicted", evicted).
				Msg("Swept expired cache entries")
		}
	}
}

func (s *SweeperService) String() string {
	return "cache-sweeper"
}
