// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

// Package resolver turns provider identifiers and landing pages into
// concrete, streamable file descriptors.
//
// Two resolvers exist: the archive resolver consults the archive.org
// metadata API for an item's file manifest, and the external resolver
// scrapes an institutional landing page for direct document links. Both
// feed the same candidate selection: smallest eligible EPUB first, then
// smallest eligible PDF, then a too-large EPUB marker, then not found.
package resolver

import (
	"errors"
	"sort"

	"github.com/sidopines/booklantern/internal/models"
)

// Sentinel errors mapped to HTTP statuses by the API layer.
var (
	// ErrNotFound means the item exists but offers no usable EPUB or PDF,
	// or the item itself is unknown upstream.
	ErrNotFound = errors.New("no streamable document found")

	// ErrAccessRestricted means every candidate file is lending-controlled
	// or DRM-protected. Restricted items are reported, never silently
	// dropped, so the caller can point the reader at the borrow page.
	ErrAccessRestricted = errors.New("document is lending-restricted")

	// ErrUpstream means the provider answered with an error or garbage.
	ErrUpstream = errors.New("upstream provider failure")

	// ErrUpstreamTimeout means the provider did not answer in time.
	ErrUpstreamTimeout = errors.New("upstream provider timeout")
)

// Default size ceilings per format. An EPUB is read fully into a
// browser-side reader, so the ceiling is tight; a PDF streams with Range
// support and tolerates much more.
const (
	DefaultMaxEPUBSize int64 = 50 << 20  // 50MB
	DefaultMaxPDFSize  int64 = 200 << 20 // 200MB
)

// SizeLimits are the per-format streaming ceilings. Zero fields take the
// package defaults.
type SizeLimits struct {
	EPUB int64
	PDF  int64
}

// DefaultSizeLimits returns the built-in ceilings.
func DefaultSizeLimits() SizeLimits {
	return SizeLimits{EPUB: DefaultMaxEPUBSize, PDF: DefaultMaxPDFSize}
}

// SelectCandidate picks the best streamable file from a candidate pool:
//
//  1. smallest EPUB within the EPUB ceiling
//  2. smallest PDF within the PDF ceiling
//  3. smallest EPUB over the ceiling, marked TooLarge
//  4. nothing -> ErrNotFound
//
// Protected candidates must already be excluded by the caller. A size of
// zero means the manifest did not state one; such files count as within
// the ceiling and sort after files with a known size.
func SelectCandidate(candidates []models.CandidateFile, limits SizeLimits) (*models.ResolvedFile, error) {
	if limits.EPUB <= 0 {
		limits.EPUB = DefaultMaxEPUBSize
	}
	if limits.PDF <= 0 {
		limits.PDF = DefaultMaxPDFSize
	}

	var epubs, pdfs []models.CandidateFile
	for _, c := range candidates {
		switch c.Format {
		case "epub":
			epubs = append(epubs, c)
		case "pdf":
			pdfs = append(pdfs, c)
		}
	}
	sortBySize(epubs)
	sortBySize(pdfs)

	for _, e := range epubs {
		if e.Size <= limits.EPUB {
			return &models.ResolvedFile{
				Format:     "epub",
				DirectURL:  e.URL,
				Size:       e.Size,
				Candidates: candidates,
			}, nil
		}
	}

	for _, p := range pdfs {
		if p.Size <= limits.PDF {
			return &models.ResolvedFile{
				Format:     "pdf",
				DirectURL:  p.URL,
				Size:       p.Size,
				Candidates: candidates,
			}, nil
		}
	}

	if len(epubs) > 0 {
		e := epubs[0]
		return &models.ResolvedFile{
			Format:     "epub",
			DirectURL:  e.URL,
			Size:       e.Size,
			TooLarge:   true,
			Candidates: candidates,
		}, nil
	}

	return nil, ErrNotFound
}

// sortBySize orders candidates smallest first, unknown sizes (zero) last.
func sortBySize(files []models.CandidateFile) {
	sort.SliceStable(files, func(i, j int) bool {
		si, sj := files[i].Size, files[j].Size
		if si == 0 {
			return false
		}
		if sj == 0 {
			return true
		}
		return si < sj
	})
}
