// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sidopines/booklantern/internal/logging"
	"github.com/sidopines/booklantern/internal/models"
	"github.com/sidopines/booklantern/internal/netguard"
	"github.com/sidopines/booklantern/internal/resolver"
)

// archiveDetailsURL is where readers land when streaming is not possible.
func archiveDetailsURL(identifier string) string {
	return fmt.Sprintf("https://archive.org/details/%s", url.PathEscape(identifier))
}

// ResolveArchive handles GET /api/v1/resolve/archive?identifier=...
//
// On success the response carries a direct download URL plus the detected
// format. When resolution fails for a deterministic reason (no usable file,
// lending-protected item) the caller still receives the details-page URL so
// the UI can hand off to archive.org instead of dead-ending.
func (h *Handler) ResolveArchive(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	identifier, ok := requireQueryParam(w, r, "identifier")
	if !ok {
		return
	}

	resolved, err := h.archive.Resolve(r.Context(), identifier)
	if err != nil {
		h.respondResolveError(w, r, err, archiveDetailsURL(identifier))
		return
	}

	respondJSON(w, r, http.StatusOK, models.ResolveResponse{
		OK:        true,
		Format:    resolved.Format,
		DirectURL: resolved.DirectURL,
		SourceURL: archiveDetailsURL(identifier),
		TooLarge:  resolved.TooLarge,
	}, started, false)
}

// ResolveExternal handles GET /api/v1/resolve/external?url=...
//
// The landing page must sit on an allow-listed host; everything else is
// rejected before any network traffic happens.
func (h *Handler) ResolveExternal(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	pageURL, ok := requireQueryParam(w, r, "url")
	if !ok {
		return
	}

	resolved, err := h.external.Resolve(r.Context(), pageURL)
	if err != nil {
		h.respondResolveError(w, r, err, pageURL)
		return
	}

	respondJSON(w, r, http.StatusOK, models.ResolveResponse{
		OK:        true,
		Format:    resolved.Format,
		DirectURL: resolved.DirectURL,
		SourceURL: pageURL,
		TooLarge:  resolved.TooLarge,
	}, started, false)
}

// respondResolveError maps resolver failures onto the error taxonomy. The
// fallback source URL rides along in the data payload on every outcome.
func (h *Handler) respondResolveError(w http.ResponseWriter, r *http.Request, err error, sourceURL string) {
	fallback := models.ResolveResponse{OK: false, SourceURL: sourceURL}

	switch {
	case errors.Is(err, resolver.ErrNotFound):
		respondError(w, r, http.StatusNotFound, &models.APIError{
			Code:    "NOT_FOUND",
			Message: "No streamable EPUB or PDF was found for this item",
		}, fallback)
	case errors.Is(err, resolver.ErrAccessRestricted):
		respondError(w, r, http.StatusUnprocessableEntity, &models.APIError{
			Code:    "BORROW_REQUIRED",
			Message: "This item is lending-protected and must be borrowed at the source",
			Details: map[string]interface{}{"source_url": sourceURL},
		}, fallback)
	case errors.Is(err, netguard.ErrHostNotAllowed):
		respondError(w, r, http.StatusForbidden, &models.APIError{
			Code:    "DOMAIN_NOT_ALLOWED",
			Message: "The requested host is not on the streaming allowlist",
		}, fallback)
	case errors.Is(err, resolver.ErrUpstreamTimeout):
		respondError(w, r, http.StatusGatewayTimeout, &models.APIError{
			Code:    "UPSTREAM_TIMEOUT",
			Message: "The upstream source did not respond in time",
		}, fallback)
	default:
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Resolution failed")
		respondError(w, r, http.StatusBadGateway, &models.APIError{
			Code:    "UPSTREAM_ERROR",
			Message: "The upstream source returned an unexpected response",
		}, fallback)
	}
}
