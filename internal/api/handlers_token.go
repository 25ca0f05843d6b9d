// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package api

import (
	"errors"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/sidopines/booklantern/internal/logging"
	"github.com/sidopines/booklantern/internal/metrics"
	"github.com/sidopines/booklantern/internal/models"
	"github.com/sidopines/booklantern/internal/netguard"
	"github.com/sidopines/booklantern/internal/resolver"
	"github.com/sidopines/booklantern/internal/token"
	"github.com/sidopines/booklantern/internal/validation"
)

const maxTokenRequestBytes = 16 << 10

// IssueToken handles POST /api/v1/token.
//
// The request carries a book descriptor from the search layer; the handler
// resolves it to a concrete file (archive identifier or external landing
// page, depending on which field is set) and mints a capability token that
// the proxy routes will later honor. Failures still return an OpenURL so
// the reader can fall back to the source site.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req models.TokenRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTokenRequestBytes))
	if err := dec.Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, &models.APIError{
			Code:    "VALIDATION_ERROR",
			Message: "Request body is not valid JSON",
		}, nil)
		return
	}

	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidationError(w, r, verr)
		return
	}
	if (req.Identifier == "") == (req.LandingURL == "") {
		respondError(w, r, http.StatusBadRequest, &models.APIError{
			Code:    "VALIDATION_ERROR",
			Message: "Exactly one of identifier or landing_url must be set",
		}, nil)
		return
	}

	var (
		resolved  *models.ResolvedFile
		sourceURL string
		err       error
	)
	if req.Identifier != "" {
		sourceURL = archiveDetailsURL(req.Identifier)
		resolved, err = h.archive.Resolve(r.Context(), req.Identifier)
	} else {
		sourceURL = req.LandingURL
		resolved, err = h.external.Resolve(r.Context(), req.LandingURL)
	}
	if err != nil {
		h.respondTokenError(w, r, err, sourceURL)
		return
	}

	// Oversized-only resolutions still name a fallback file, but nothing
	// fit the ceilings; no token is minted. Hand the caller the candidate
	// list so the UI can offer a manual edition choice or open-at-source.
	if resolved.TooLarge {
		respondJSON(w, r, http.StatusOK, models.TokenResponse{
			OK:         false,
			TooLarge:   true,
			OpenURL:    sourceURL,
			Candidates: resolved.Candidates,
		}, started, false)
		return
	}

	// Archive manifests list files that answer with a lending wall when
	// fetched anonymously. Probe before minting so the reader never opens
	// a viewer that immediately fails.
	if req.Identifier != "" && !h.checker.IsAccessible(r.Context(), resolved.DirectURL) {
		h.respondTokenError(w, r, resolver.ErrAccessRestricted, sourceURL)
		return
	}

	if req.Format != "" && req.Format != resolved.Format {
		logging.Ctx(r.Context()).Debug().
			Str("declared", req.Format).
			Str("resolved", resolved.Format).
			Msg("Resolved format differs from catalog record")
	}

	coverURL := req.CoverURL
	if coverURL == "" {
		coverURL = resolved.CoverURL
	}

	grant := token.Grant{
		Title:      req.Title,
		Author:     req.Author,
		Provider:   models.Provider(req.Provider),
		ProviderID: req.Identifier,
		Format:     resolved.Format,
		DirectURL:  resolved.DirectURL,
		SourceURL:  sourceURL,
		ArchiveID:  req.Identifier,
		CoverURL:   coverURL,
	}
	if req.LandingURL != "" {
		grant.ProviderID = req.LandingURL
		grant.ArchiveID = ""
	}

	signed, err := h.tokens.Issue(grant)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Token signing failed")
		respondError(w, r, http.StatusInternalServerError, &models.APIError{
			Code:    "UPSTREAM_ERROR",
			Message: "Failed to issue reader token",
		}, nil)
		return
	}
	metrics.TokensIssued.Inc()

	respondJSON(w, r, http.StatusOK, models.TokenResponse{
		OK:        true,
		Token:     signed,
		Format:    resolved.Format,
		DirectURL: resolved.DirectURL,
		CoverURL:  coverURL,
		OpenURL:   sourceURL,
	}, started, false)
}

// respondTokenError mirrors respondResolveError but keeps the TokenResponse
// shape so clients parse one body type per endpoint.
func (h *Handler) respondTokenError(w http.ResponseWriter, r *http.Request, err error, sourceURL string) {
	fallback := models.TokenResponse{OK: false, OpenURL: sourceURL}

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
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Resolution for token failed")
		respondError(w, r, http.StatusBadGateway, &models.APIError{
			Code:    "UPSTREAM_ERROR",
			Message: "The upstream source returned an unexpected response",
		}, fallback)
	}
}
