// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sidopines/booklantern/internal/format"
	"github.com/sidopines/booklantern/internal/logging"
	"github.com/sidopines/booklantern/internal/metrics"
	"github.com/sidopines/booklantern/internal/models"
	"github.com/sidopines/booklantern/internal/proxy"
	"github.com/sidopines/booklantern/internal/token"
)

// imageClient follows redirects (archive.org's image service bounces to a
// datanode) but never keeps connections around longer than the fetch.
var imageClient = &http.Client{}

// ProxyDocument handles GET /api/v1/proxy/document?token=... and, for
// authenticated subscribers, the direct ?url=... form.
//
// The capability token carries everything needed to fetch: no lookup
// against a store happens here. Respond-then-stream: every failure that
// occurs before the first byte is a JSON error; once streaming starts the
// connection is simply closed on error.
func (h *Handler) ProxyDocument(w http.ResponseWriter, r *http.Request) {
	grant, ok := h.grantFromRequest(w, r)
	if !ok {
		return
	}

	req := proxy.Request{
		URL:         grant.DirectURL,
		Format:      grant.Format,
		RangeHeader: r.Header.Get("Range"),
		Referer:     grant.SourceURL,
	}

	upstream, err := h.fetcher.Fetch(r.Context(), req)
	if err != nil && errors.Is(err, proxy.ErrUpstreamDenied) && grant.ArchiveID != "" {
		// Archive download URLs rotate between datanodes and can go stale
		// inside the token's lifetime. Drop the cached verdict, re-resolve
		// once, and retry with the fresh URL.
		h.checker.Invalidate(grant.DirectURL)
		upstream, err = h.refetchArchive(r, grant, req)
	}
	if err != nil {
		h.respondProxyError(w, r, err, grant.Format, grant.SourceURL)
		return
	}
	defer upstream.Body.Close()

	h.streamDocument(w, r, grant, upstream)
}

// grantFromRequest extracts and validates the capability token from the
// token query parameter or an Authorization: Bearer header.
func (h *Handler) grantFromRequest(w http.ResponseWriter, r *http.Request) (*token.Grant, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("token"))
	if raw == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			raw = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	if raw == "" {
		if direct := strings.TrimSpace(r.URL.Query().Get("url")); direct != "" {
			return h.directGrant(w, r, direct)
		}
		respondError(w, r, http.StatusUnauthorized, &models.APIError{
			Code:    "TOKEN_INVALID",
			Message: "A reader token is required",
		}, nil)
		return nil, false
	}

	grant, err := h.tokens.Validate(raw)
	if err != nil {
		metrics.TokenValidationFailures.Inc()
		respondError(w, r, http.StatusUnauthorized, &models.APIError{
			Code:    "TOKEN_INVALID",
			Message: "The reader token is missing, malformed, or expired",
		}, nil)
		return nil, false
	}
	return grant, true
}

// directGrant builds a grant from a raw URL for authenticated subscribers.
// The guard still vets the URL inside the fetcher; this only gates who may
// skip the token step.
func (h *Handler) directGrant(w http.ResponseWriter, r *http.Request, direct string) (*token.Grant, bool) {
	if h.subs == nil || !h.subs.Authorized(r) {
		respondError(w, r, http.StatusUnauthorized, &models.APIError{
			Code:    "TOKEN_INVALID",
			Message: "Direct-URL proxying requires an authenticated subscriber",
		}, nil)
		return nil, false
	}

	f := format.Classify(direct, r.URL.Query().Get("format"))
	if f == format.None {
		respondError(w, r, http.StatusUnprocessableEntity, &models.APIError{
			Code:    "INVALID_PAYLOAD",
			Message: "The URL does not point at an EPUB or PDF document",
		}, nil)
		return nil, false
	}

	return &token.Grant{
		Title:     pathTitle(direct),
		Format:    string(f),
		DirectURL: direct,
		SourceURL: direct,
	}, true
}

// pathTitle derives a display title from the URL's final path segment.
func pathTitle(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "document"
	}
	base := u.Path
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	if base == "" {
		return "document"
	}
	return base
}

// refetchArchive re-resolves an archive grant and retries the fetch once.
// Returns the original denial when re-resolution yields nothing new.
func (h *Handler) refetchArchive(r *http.Request, grant *token.Grant, req proxy.Request) (*proxy.Upstream, error) {
	fresh, rerr := h.archive.Resolve(r.Context(), grant.ArchiveID)
	if rerr != nil || fresh.DirectURL == "" || fresh.DirectURL == grant.DirectURL {
		return nil, proxy.ErrUpstreamDenied
	}

	logging.Ctx(r.Context()).Info().
		Str("archive_id", sanitizeLogValue(grant.ArchiveID)).
		Msg("Retrying with re-resolved download URL")

	req.URL = fresh.DirectURL
	return h.fetcher.Fetch(r.Context(), req)
}

// streamDocument commits headers and copies the upstream body through.
func (h *Handler) streamDocument(w http.ResponseWriter, r *http.Request, grant *token.Grant, upstream *proxy.Upstream) {
	docFormat := grant.Format

	switch docFormat {
	case "epub":
		w.Header().Set("Content-Type", "application/epub+zip")
		// EPUBs are consumed by the in-browser reader in one shot; keeping
		// them out of shared caches avoids serving stale tokenized fetches.
		w.Header().Set("Cache-Control", "no-store")
	case "pdf":
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Cache-Control", "private, max-age=3600")
		w.Header().Set("Accept-Ranges", "bytes")
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Cache-Control", "no-store")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", documentFilename(grant.Title, docFormat)))

	status := http.StatusOK
	if upstream.StatusCode == http.StatusPartialContent {
		status = http.StatusPartialContent
		if upstream.ContentRange != "" {
			w.Header().Set("Content-Range", upstream.ContentRange)
		}
	}
	if upstream.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(upstream.ContentLength, 10))
	}
	w.WriteHeader(status)

	n, err := io.Copy(w, upstream.Body)
	metrics.ProxyBytesStreamed.WithLabelValues(docFormat).Add(float64(n))
	if err != nil {
		// Headers are already on the wire; all we can do is log and drop.
		logging.Ctx(r.Context()).Debug().Err(err).Int64("bytes", n).Msg("Stream ended early")
		metrics.ProxyRequestsTotal.WithLabelValues(docFormat, "upstream_error").Inc()
		return
	}
	metrics.ProxyRequestsTotal.WithLabelValues(docFormat, "ok").Inc()
}

// documentFilename derives a safe download filename from the book title.
func documentFilename(title, docFormat string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, title)
	cleaned = strings.Trim(cleaned, "-")
	if len(cleaned) > 80 {
		cleaned = cleaned[:80]
	}
	if cleaned == "" {
		cleaned = "book"
	}
	ext := "bin"
	if docFormat == "epub" || docFormat == "pdf" {
		ext = docFormat
	}
	return cleaned + "." + ext
}

// respondProxyError maps fetch failures onto the error taxonomy and records
// the outcome metric.
func (h *Handler) respondProxyError(w http.ResponseWriter, r *http.Request, err error, docFormat, sourceURL string) {
	switch {
	case errors.Is(err, proxy.ErrDomainNotAllowed):
		metrics.ProxyRequestsTotal.WithLabelValues(docFormat, "domain_blocked").Inc()
		respondError(w, r, http.StatusForbidden, &models.APIError{
			Code:    "DOMAIN_NOT_ALLOWED",
			Message: "The document host is not on the streaming allowlist",
		}, nil)
	case errors.Is(err, proxy.ErrBorrowRequired), errors.Is(err, proxy.ErrUpstreamDenied):
		metrics.ProxyRequestsTotal.WithLabelValues(docFormat, "borrow_required").Inc()
		respondError(w, r, http.StatusUnprocessableEntity, &models.APIError{
			Code:    "BORROW_REQUIRED",
			Message: "The source requires borrowing this item; open it at the source instead",
			Details: map[string]interface{}{"source_url": sourceURL},
		}, nil)
	case errors.Is(err, proxy.ErrInvalidPayload):
		metrics.ProxyRequestsTotal.WithLabelValues(docFormat, "invalid_payload").Inc()
		respondError(w, r, http.StatusUnprocessableEntity, &models.APIError{
			Code:    "INVALID_PAYLOAD",
			Message: "The upstream bytes do not match the expected document format",
		}, nil)
	case errors.Is(err, proxy.ErrUpstreamTimeout):
		metrics.ProxyRequestsTotal.WithLabelValues(docFormat, "timeout").Inc()
		respondError(w, r, http.StatusGatewayTimeout, &models.APIError{
			Code:    "UPSTREAM_TIMEOUT",
			Message: "The upstream source did not respond in time",
		}, nil)
	default:
		metrics.ProxyRequestsTotal.WithLabelValues(docFormat, "upstream_error").Inc()
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Proxy fetch failed")
		respondError(w, r, http.StatusBadGateway, &models.APIError{
			Code:    "UPSTREAM_ERROR",
			Message: "The upstream source returned an unexpected response",
		}, nil)
	}
}

// ProxyImage handles GET /api/v1/proxy/image?url=...
//
// Cover images are best-effort: when the host is off the allowlist or the
// fetch fails, the client is redirected to the origin URL instead of seeing
// an error, so covers still render from sites the proxy will not touch.
func (h *Handler) ProxyImage(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		respondError(w, r, http.StatusBadRequest, &models.APIError{
			Code:    "VALIDATION_ERROR",
			Message: `Query parameter "url" is required`,
		}, nil)
		return
	}

	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		respondError(w, r, http.StatusBadRequest, &models.APIError{
			Code:    "VALIDATION_ERROR",
			Message: "The image URL must be an absolute http(s) URL",
		}, nil)
		return
	}

	if _, gerr := h.guard.CheckURL(raw); gerr != nil {
		http.Redirect(w, r, raw, http.StatusFound)
		return
	}

	ctx, cancel := contextWithTimeout(r, h.cfg.Proxy.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		http.Redirect(w, r, raw, http.StatusFound)
		return
	}
	req.Header.Set("User-Agent", h.cfg.Proxy.UserAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := imageClient.Do(req)
	if err != nil {
		http.Redirect(w, r, raw, http.StatusFound)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		http.Redirect(w, r, raw, http.StatusFound)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "image/jpeg")
	}
	if resp.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, resp.Body); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Image stream ended early")
	}
}

func contextWithTimeout(r *http.Request, d time.Duration) (ctx context.Context, cancel context.CancelFunc) {
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}
