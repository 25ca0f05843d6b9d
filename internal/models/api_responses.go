// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package models

import (
	"time"
)

// APIResponse is the standardized response wrapper used by all JSON
// endpoints. Streaming endpoints bypass it once the first chunk has been
// committed; everything else, including their failure paths, uses it.
//
// Status field values:
//   - "success": request completed, see Data
//   - "error": request failed, see Error
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries per-response observability fields.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
}

// APIError is a structured error body.
//
// Common codes:
//   - VALIDATION_ERROR: invalid input parameters
//   - TOKEN_INVALID: missing, malformed, or expired capability token
//   - DOMAIN_NOT_ALLOWED: SSRF guard or allow-list rejection
//   - NOT_FOUND: resolution finished with no suitable file
//   - BORROW_REQUIRED: upstream is access-gated; use OpenURL instead
//   - INVALID_PAYLOAD: upstream bytes are not the declared format
//   - UPSTREAM_ERROR: origin returned a non-success status
//   - UPSTREAM_TIMEOUT: origin did not respond in time
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ResolveResponse is the body of the /resolve endpoints. When OK is false
// the caller still receives SourceURL so it can offer an open-at-source
// fallback.
type ResolveResponse struct {
	OK        bool   `json:"ok"`
	Format    string `json:"format,omitempty"`
	DirectURL string `json:"direct_url,omitempty"`
	SourceURL string `json:"source_url"`
	TooLarge  bool   `json:"too_large,omitempty"`
}

// TokenRequest is the body of POST /token. Exactly one of Identifier or
// LandingURL must be set; it selects the resolution path.
type TokenRequest struct {
	Provider   string `json:"provider" validate:"required,max=64"`
	Title      string `json:"title" validate:"required,max=512"`
	Author     string `json:"author" validate:"max=512"`
	CoverURL   string `json:"cover_url" validate:"omitempty,url,max=2048"`
	Identifier string `json:"identifier" validate:"max=256"`
	LandingURL string `json:"landing_url" validate:"omitempty,url,max=2048"`

	// Format is what the catalog record advertised. Resolution decides the
	// real format; a mismatch is logged, not an error.
	Format string `json:"format" validate:"omitempty,bookformat"`
}

// TokenResponse is the body of POST /token. On failure the handler responds
// with OK=false, an OpenURL fallback, and, when resolution found only
// oversized files, the full candidate list for manual edition choice.
type TokenResponse struct {
	OK         bool            `json:"ok"`
	Token      string          `json:"token,omitempty"`
	Format     string          `json:"format,omitempty"`
	DirectURL  string          `json:"direct_url,omitempty"`
	CoverURL   string          `json:"cover_url,omitempty"`
	OpenURL    string          `json:"open_url,omitempty"`
	TooLarge   bool            `json:"too_large,omitempty"`
	Candidates []CandidateFile `json:"candidates,omitempty"`
}
