// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

// Package token issues and validates reader capability tokens.
//
// A capability token is a signed, self-contained grant to stream one
// specific book through the proxy. The payload (book descriptor fields)
// and an expiry are base64url-encoded and signed with HMAC-SHA256; the
// proxy trusts nothing in the request except a token that verifies. A
// token for book A can never be replayed to fetch book B because the
// direct URL is part of the signed payload.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sidopines/booklantern/internal/models"
)

// ErrInvalid is returned for tokens that are malformed, tampered with,
// expired, or signed with the wrong key. Callers treat all of these the
// same way (401), so the distinction is logged but not surfaced.
var ErrInvalid = errors.New("invalid reader token")

// GrantClaims is the signed payload of a reader capability token.
type GrantClaims struct {
	Title      string `json:"title"`
	Author     string `json:"author,omitempty"`
	Provider   string `json:"provider"`
	ProviderID string `json:"provider_id"`
	Format     string `json:"format"`
	DirectURL  string `json:"direct_url"`
	SourceURL  string `json:"source_url,omitempty"`
	ArchiveID  string `json:"archive_id,omitempty"`
	CoverURL   string `json:"cover_url,omitempty"`
	jwt.RegisteredClaims
}

// Grant is a validated capability: the descriptor the proxy is allowed
// to stream.
type Grant struct {
	Title      string
	Author     string
	Provider   models.Provider
	ProviderID string
	Format     string
	DirectURL  string
	SourceURL  string
	ArchiveID  string
	CoverURL   string
}

// Manager signs and verifies reader capability tokens with HMAC-SHA256.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager creates a token Manager. The secret must be non-empty; config
// validation enforces length before this is reached.
func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("token secret is required but was empty")
	}
	return &Manager{
		secret: []byte(secret),
		ttl:    ttl,
	}, nil
}

// Issue signs a capability token for the given grant, valid for the
// manager's configured TTL.
func (m *Manager) Issue(grant Grant) (string, error) {
	now := time.Now()
	claims := &GrantClaims{
		Title:      grant.Title,
		Author:     grant.Author,
		Provider:   string(grant.Provider),
		ProviderID: grant.ProviderID,
		Format:     grant.Format,
		DirectURL:  grant.DirectURL,
		SourceURL:  grant.SourceURL,
		ArchiveID:  grant.ArchiveID,
		CoverURL:   grant.CoverURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate verifies a token's signature and expiry and returns the grant
// it carries. Any failure returns ErrInvalid (wrapped with detail).
func (m *Manager) Validate(tokenString string) (*Grant, error) {
	token, err := jwt.ParseWithClaims(tokenString, &GrantClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Reject algorithm confusion: only HMAC is ever accepted.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*GrantClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: bad claims", ErrInvalid)
	}

	if claims.DirectURL == "" && claims.SourceURL == "" {
		return nil, fmt.Errorf("%w: grant carries no URL", ErrInvalid)
	}

	return &Grant{
		Title:      claims.Title,
		Author:     claims.Author,
		Provider:   models.Provider(claims.Provider),
		ProviderID: claims.ProviderID,
		Format:     claims.Format,
		DirectURL:  claims.DirectURL,
		SourceURL:  claims.SourceURL,
		ArchiveID:  claims.ArchiveID,
		CoverURL:   claims.CoverURL,
	}, nil
}
