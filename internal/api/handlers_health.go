// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package api

import (
	"net/http"
	"time"

	"github.com/sidopines/booklantern/internal/models"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	UptimeSec int64  `json:"uptime_seconds"`
}

// CacheStats is one cache's entry in the stats body.
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Keys      int64   `json:"keys"`
	HitRate   float64 `json:"hit_rate"`
}

// Health handles GET /api/v1/health. A process that can serve this route
// is alive regardless of upstream weather.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Version:   h.version,
		UptimeSec: int64(time.Since(h.startTime).Seconds()),
	}, time.Now(), false)
}

// HealthLive handles GET /api/v1/health/live. Same contract as Health;
// split out so orchestrators can target liveness explicitly.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.Health(w, r)
}

// Ready handles GET /api/v1/health/ready. The service is ready once its token
// signer exists; upstream reachability is deliberately not probed, since a
// flapping archive.org would otherwise bounce the whole deployment.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		respondError(w, r, http.StatusServiceUnavailable, &models.APIError{
			Code:    "NOT_READY",
			Message: "Service dependencies are not initialized",
		}, nil)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "ready"}, time.Now(), false)
}

// Stats handles GET /api/v1/stats with per-cache counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	caches := make(map[string]CacheStats, len(h.caches))
	for name, c := range h.caches {
		if c == nil {
			continue
		}
		s := c.GetStats()
		caches[name] = CacheStats{
			Hits:      s.Hits,
			Misses:    s.Misses,
			Evictions: s.Evictions,
			Keys:      s.TotalKeys,
			HitRate:   c.HitRate(),
		}
	}

	respondJSON(w, r, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"caches":         caches,
	}, started, false)
}
