// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package api

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"
	"unicode"

	json "github.com/goccy/go-json"

	"github.com/sidopines/booklantern/internal/logging"
	"github.com/sidopines/booklantern/internal/models"
	"github.com/sidopines/booklantern/internal/validation"
)

const maxLogValueLength = 256

// sanitizeLogValue strips control characters from user-supplied strings
// before they reach the log stream, preventing log injection.
func sanitizeLogValue(value string) string {
	if len(value) > maxLogValueLength {
		value = value[:maxLogValueLength]
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
}

// generateETag produces a weak ETag from the response body so clients
// can revalidate cached resolution results.
func generateETag(body []byte) string {
	h := fnv.New64a()
	h.Write(body)
	return fmt.Sprintf(`W/"%x"`, h.Sum64())
}

// respondJSON writes a success envelope with query timing metadata.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}, started time.Time, cached bool) {
	resp := models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp:   time.Now().UTC(),
			QueryTimeMS: time.Since(started).Milliseconds(),
			Cached:      cached,
		},
	}

	body, err := json.Marshal(resp)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to marshal API response")
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("ETag", generateETag(body))
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Failed to write API response")
	}
}

// respondError writes an error envelope. Data may carry a partial result
// (for example a source URL the caller can fall back to) alongside the error.
func respondError(w http.ResponseWriter, r *http.Request, status int, apiErr *models.APIError, data interface{}) {
	resp := models.APIResponse{
		Status: "error",
		Data:   data,
		Error:  apiErr,
		Metadata: models.Metadata{
			Timestamp: time.Now().UTC(),
		},
	}

	body, err := json.Marshal(resp)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to marshal error response")
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}

	logging.Ctx(r.Context()).Debug().
		Int("status", status).
		Str("code", apiErr.Code).
		Str("path", sanitizeLogValue(r.URL.Path)).
		Msg("Request failed")

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Failed to write error response")
	}
}

// respondValidationError converts validator output into a 400 response.
func respondValidationError(w http.ResponseWriter, r *http.Request, verr *validation.RequestValidationError) {
	apiErr := verr.ToAPIError()
	respondError(w, r, http.StatusBadRequest, &models.APIError{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	}, nil)
}

// requireQueryParam fetches a non-empty query parameter or writes a 400.
func requireQueryParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		respondError(w, r, http.StatusBadRequest, &models.APIError{
			Code:    "VALIDATION_ERROR",
			Message: fmt.Sprintf("Query parameter %q is required", name),
		}, nil)
		return "", false
	}
	return value, true
}
