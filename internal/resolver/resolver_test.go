// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package resolver

import (
	"errors"
	"testing"

	"github.com/sidopines/booklantern/internal/models"
)

func TestSelectCandidatePrefersSmallestEPUB(t *testing.T) {
	resolved, err := SelectCandidate([]models.CandidateFile{
		{Name: "big.epub", Format: "epub", Size: 30 << 20, URL: "u/big.epub"},
		{Name: "small.epub", Format: "epub", Size: 1 << 20, URL: "u/small.epub"},
		{Name: "tiny.pdf", Format: "pdf", Size: 100 << 10, URL: "u/tiny.pdf"},
	}, DefaultSizeLimits())
	if err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	if resolved.Format != "epub" || resolved.DirectURL != "u/small.epub" {
		t.Errorf("got %s %s, want smallest epub", resolved.Format, resolved.DirectURL)
	}
	if resolved.TooLarge {
		t.Error("eligible epub must not be marked too large")
	}
}

func TestSelectCandidateFallsBackToPDF(t *testing.T) {
	resolved, err := SelectCandidate([]models.CandidateFile{
		{Name: "huge.epub", Format: "epub", Size: 80 << 20, URL: "u/huge.epub"},
		{Name: "big.pdf", Format: "pdf", Size: 60 << 20, URL: "u/big.pdf"},
		{Name: "small.pdf", Format: "pdf", Size: 10 << 20, URL: "u/small.pdf"},
	}, DefaultSizeLimits())
	if err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	if resolved.Format != "pdf" || resolved.DirectURL != "u/small.pdf" {
		t.Errorf("got %s %s, want smallest pdf under ceiling", resolved.Format, resolved.DirectURL)
	}
}

func TestSelectCandidateTooLargeEPUB(t *testing.T) {
	resolved, err := SelectCandidate([]models.CandidateFile{
		{Name: "huge.epub", Format: "epub", Size: 80 << 20, URL: "u/huge.epub"},
		{Name: "huge.pdf", Format: "pdf", Size: 300 << 20, URL: "u/huge.pdf"},
	}, DefaultSizeLimits())
	if err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	if !resolved.TooLarge {
		t.Error("expected TooLarge marker when nothing fits")
	}
	if resolved.Format != "epub" {
		t.Errorf("too-large fallback format = %s, want epub", resolved.Format)
	}
}

func TestSelectCandidateNotFound(t *testing.T) {
	_, err := SelectCandidate([]models.CandidateFile{
		{Name: "huge.pdf", Format: "pdf", Size: 300 << 20, URL: "u/huge.pdf"},
	}, DefaultSizeLimits())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("oversized-pdf-only pool: got %v, want ErrNotFound", err)
	}

	if _, err := SelectCandidate(nil, DefaultSizeLimits()); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty pool: got %v, want ErrNotFound", err)
	}
}

func TestSelectCandidateUnknownSizesSortLast(t *testing.T) {
	resolved, err := SelectCandidate([]models.CandidateFile{
		{Name: "unsized.epub", Format: "epub", Size: 0, URL: "u/unsized.epub"},
		{Name: "sized.epub", Format: "epub", Size: 5 << 20, URL: "u/sized.epub"},
	}, DefaultSizeLimits())
	if err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	if resolved.DirectURL != "u/sized.epub" {
		t.Errorf("got %s, want the file with a known size", resolved.DirectURL)
	}
}

func TestSelectCandidateUnknownSizeCountsAsEligible(t *testing.T) {
	resolved, err := SelectCandidate([]models.CandidateFile{
		{Name: "unsized.epub", Format: "epub", Size: 0, URL: "u/unsized.epub"},
	}, DefaultSizeLimits())
	if err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	if resolved.TooLarge {
		t.Error("unknown size must not be treated as over the ceiling")
	}
}

func TestSelectCandidateConfigurableCeilings(t *testing.T) {
	pool := []models.CandidateFile{
		{Name: "book.epub", Format: "epub", Size: 40 << 20, URL: "u/book.epub"},
		{Name: "book.pdf", Format: "pdf", Size: 20 << 20, URL: "u/book.pdf"},
	}

	// Default ceilings: the 40MB EPUB fits.
	resolved, err := SelectCandidate(pool, DefaultSizeLimits())
	if err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	if resolved.Format != "epub" {
		t.Errorf("default limits picked %s, want epub", resolved.Format)
	}

	// Tightened EPUB ceiling: selection falls through to the PDF.
	resolved, err = SelectCandidate(pool, SizeLimits{EPUB: 10 << 20, PDF: 200 << 20})
	if err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	if resolved.Format != "pdf" {
		t.Errorf("tight epub ceiling picked %s, want pdf", resolved.Format)
	}

	// Zero fields fall back to the defaults.
	resolved, err = SelectCandidate(pool, SizeLimits{})
	if err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	if resolved.Format != "epub" {
		t.Errorf("zero limits picked %s, want epub via defaults", resolved.Format)
	}
}
