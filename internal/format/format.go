// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

// Package format classifies catalog file records as EPUB, PDF, or neither,
// and detects DRM/lending protection markers.
//
// Classification is deliberately strict about matching on the filename
// suffix or the declared-format token, never a substring: archive manifests
// contain files literally named "...repub..." that must not classify as
// EPUB, and derivative assets ("cover.pdf.jpg") that must not classify as
// PDF. The denylist of non-book extensions is checked before any allowlist
// so a log or metadata sidecar can never win on its declared format alone.
package format

import (
	"strings"
)

// Format is the classification result for a file record.
type Format string

const (
	EPUB Format = "epub"
	PDF  Format = "pdf"
	None Format = "none"
)

// nonBookExtensions are filename suffixes that disqualify a record outright,
// regardless of its declared format. These cover sidecar metadata, markup,
// scripts, and image/audio derivatives that share an item with the real book
// files in archive manifests.
var nonBookExtensions = []string{
	".log", ".txt", ".xml", ".json", ".md",
	".opf", ".ncx",
	".html", ".htm", ".xhtml", ".css", ".js",
	".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg", ".bmp", ".tif", ".tiff",
	".mp3", ".ogg", ".m4a", ".m4b", ".flac", ".wav",
}

// epubDeclaredFormats are declared-format values that identify an EPUB.
// Matching is exact or on the "epub " prefix ("epub 3 with images" and
// similar manifest spellings).
var epubDeclaredFormats = map[string]bool{
	"epub":  true,
	"epub3": true,
}

// pdfDeclaredFormats are declared-format values that identify a PDF.
var pdfDeclaredFormats = map[string]bool{
	"pdf":                 true,
	"text pdf":            true,
	"image container pdf": true,
}

// protectionTokens mark DRM or lending-controlled content. A record whose
// name or declared format contains any of these is excluded from candidate
// pools entirely, never offered even as a too-large fallback.
var protectionTokens = []string{
	"acsm",      // Adobe Content Server loan voucher
	"adept",     // Adobe ADEPT DRM
	"lcp",       // Readium LCP
	"lcpdf",     // LCP-wrapped PDF
	"daisy",     // protected DAISY talking books
	"lending",   // lending-control markers
	"borrow",    // borrow-only markers
	"encrypted", // encrypted containers
}

// Classify decides whether a file record is an EPUB, a PDF, or neither.
//
// EPUB requires the filename NOT to carry a denylisted non-book extension
// AND either a declared EPUB format or an .epub/.epub3 suffix. PDF requires
// a declared PDF format or a .pdf suffix. The denylist runs first so that
// near-miss names ("notes.epub.txt", "cover.pdf.jpg") and declared-format
// lies on sidecars cannot classify as books.
func Classify(name, declared string) Format {
	lowName := strings.ToLower(strings.TrimSpace(name))
	lowDeclared := strings.ToLower(strings.TrimSpace(declared))

	for _, ext := range nonBookExtensions {
		if strings.HasSuffix(lowName, ext) {
			return None
		}
	}

	if epubDeclaredFormats[lowDeclared] || strings.HasPrefix(lowDeclared, "epub ") {
		return EPUB
	}
	if strings.HasSuffix(lowName, ".epub") || strings.HasSuffix(lowName, ".epub3") {
		return EPUB
	}

	if pdfDeclaredFormats[lowDeclared] || strings.HasSuffix(lowName, ".pdf") {
		return PDF
	}

	return None
}

// IsProtected reports whether a file record carries a DRM or lending
// restriction marker in its name or declared format.
func IsProtected(name, declared string) bool {
	lowName := strings.ToLower(name)
	lowDeclared := strings.ToLower(declared)
	for _, tok := range protectionTokens {
		if strings.Contains(lowName, tok) || strings.Contains(lowDeclared, tok) {
			return true
		}
	}
	return false
}

// IsThumbnail reports whether a URL or filename is a derivative image of a
// document rather than the document itself (e.g. "page1.pdf.jpg"). Used by
// the landing-page resolver to reject preview assets at every stage.
func IsThumbnail(name string) bool {
	low := strings.ToLower(name)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(low, ext) {
			return true
		}
	}
	return false
}
