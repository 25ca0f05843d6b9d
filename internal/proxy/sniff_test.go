// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package proxy

import (
	"errors"
	"testing"
)

func TestLooksLikeHTML(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		chunk       []byte
		want        bool
	}{
		{"doctype", "", []byte("<!DOCTYPE html><html>"), true},
		{"lowercase doctype", "", []byte("<!doctype html>"), true},
		{"html tag", "", []byte("<html lang=\"en\">"), true},
		{"leading whitespace", "", []byte("\n\t <html>"), true},
		{"bom then html", "", append([]byte{0xEF, 0xBB, 0xBF}, []byte("<html>")...), true},
		{"content type wins", "text/html; charset=utf-8", []byte{0x50, 0x4B, 0x03, 0x04}, true},
		{"zip payload", "application/epub+zip", []byte{0x50, 0x4B, 0x03, 0x04}, false},
		{"pdf payload", "application/pdf", []byte("%PDF-1.7"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooksLikeHTML(tt.contentType, tt.chunk); got != tt.want {
				t.Errorf("LooksLikeHTML = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsZIP(t *testing.T) {
	if !IsZIP([]byte{0x50, 0x4B, 0x03, 0x04}) {
		t.Error("PK magic not recognized")
	}
	if IsZIP([]byte("%PDF-1.7")) {
		t.Error("PDF header misidentified as ZIP")
	}
	if IsZIP([]byte{0x50}) {
		t.Error("single byte cannot be a ZIP")
	}
}

func TestValidatePayload(t *testing.T) {
	epub := []byte{0x50, 0x4B, 0x03, 0x04, 0x00, 0x00}
	pdf := []byte("%PDF-1.7 stream")
	htmlPage := []byte("<!DOCTYPE html><html><body>Borrow this book</body></html>")

	if err := ValidatePayload("epub", "application/epub+zip", epub); err != nil {
		t.Errorf("valid epub rejected: %v", err)
	}
	if err := ValidatePayload("pdf", "application/pdf", pdf); err != nil {
		t.Errorf("valid pdf rejected: %v", err)
	}

	if err := ValidatePayload("epub", "text/html", htmlPage); !errors.Is(err, ErrBorrowRequired) {
		t.Errorf("html payload: got %v, want ErrBorrowRequired", err)
	}
	if err := ValidatePayload("pdf", "", htmlPage); !errors.Is(err, ErrBorrowRequired) {
		t.Errorf("html pdf payload: got %v, want ErrBorrowRequired", err)
	}

	if err := ValidatePayload("epub", "application/octet-stream", pdf); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("non-zip epub payload: got %v, want ErrInvalidPayload", err)
	}
	if err := ValidatePayload("epub", "", nil); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("empty payload: got %v, want ErrInvalidPayload", err)
	}

	// PDFs without the %PDF prefix pass the sniff as long as they are
	// not HTML; the header may arrive in a later chunk.
	if err := ValidatePayload("pdf", "application/pdf", []byte{0x00, 0x01, 0x02, 0x03}); err != nil {
		t.Errorf("binary pdf payload rejected: %v", err)
	}
}
