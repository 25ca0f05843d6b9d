// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

// Package proxy streams documents from allowlisted upstreams to readers,
// validating that what comes back is actually the promised document and
// not a lending wall dressed up with a 200 status.
package proxy

import (
	"bytes"
	"strings"
)

// htmlMarkers identify an HTML payload by its opening bytes. Upstreams
// that require a borrow frequently answer document URLs with a full HTML
// page and a success status.
var htmlMarkers = [][]byte{
	[]byte("<!doctype"),
	[]byte("<html"),
	[]byte("<head"),
	[]byte("<body"),
	[]byte("<?xml"),
	[]byte("<!DOCTYPE"),
}

// utf8BOM is stripped before sniffing.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LooksLikeHTML reports whether a first chunk or Content-Type identifies
// an HTML page rather than a binary document.
func LooksLikeHTML(contentType string, chunk []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml") {
		return true
	}

	trimmed := bytes.TrimPrefix(chunk, utf8BOM)
	trimmed = bytes.TrimLeft(trimmed, " \t\r\n")
	lower := bytes.ToLower(trimmed)
	for _, marker := range htmlMarkers {
		if bytes.HasPrefix(lower, bytes.ToLower(marker)) {
			return true
		}
	}
	return false
}

// IsZIP reports whether a chunk starts with the ZIP local-file magic.
// Every EPUB is a ZIP container, so a payload without this prefix cannot
// be an EPUB no matter what the upstream claims.
func IsZIP(chunk []byte) bool {
	return len(chunk) >= 2 && chunk[0] == 0x50 && chunk[1] == 0x4B
}

// IsPDF reports whether a chunk starts with the PDF header.
func IsPDF(chunk []byte) bool {
	return bytes.HasPrefix(chunk, []byte("%PDF"))
}

// ValidatePayload checks a first chunk against the expected format.
//
// HTML means the upstream put up a borrow or viewer page: the reader
// should be sent to the source page instead (ErrBorrowRequired). A
// non-ZIP payload claiming to be an EPUB is corrupt or mislabeled
// (ErrInvalidPayload). PDFs get the HTML check only; some mirrors serve
// valid PDFs behind transformer CDNs that strip the leading header into
// a later chunk.
func ValidatePayload(format, contentType string, chunk []byte) error {
	if len(chunk) == 0 {
		return ErrInvalidPayload
	}
	if LooksLikeHTML(contentType, chunk) {
		return ErrBorrowRequired
	}
	if format == "epub" && !IsZIP(chunk) {
		return ErrInvalidPayload
	}
	return nil
}
