// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sidopines/booklantern/internal/models"
)

const testSecret = "test-secret-at-least-32-characters!!"

func testGrant() Grant {
	return Grant{
		Title:      "Frankenstein",
		Author:     "Mary Shelley",
		Provider:   models.ProviderArchive,
		ProviderID: "frankenstein00shel",
		Format:     "epub",
		DirectURL:  "https://archive.org/download/frankenstein00shel/book.epub",
		SourceURL:  "https://archive.org/details/frankenstein00shel",
		ArchiveID:  "frankenstein00shel",
	}
}

func TestIssueAndValidate(t *testing.T) {
	m, err := NewManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	signed, err := m.Issue(testGrant())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(strings.Split(signed, ".")) != 3 {
		t.Errorf("token should have three dot-separated segments, got %q", signed)
	}

	grant, err := m.Validate(signed)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if grant.Title != "Frankenstein" {
		t.Errorf("Title = %q, want Frankenstein", grant.Title)
	}
	if grant.Provider != models.ProviderArchive {
		t.Errorf("Provider = %q, want archive", grant.Provider)
	}
	if grant.DirectURL != testGrant().DirectURL {
		t.Errorf("DirectURL = %q, want original", grant.DirectURL)
	}
}

func TestValidateExpired(t *testing.T) {
	m, _ := NewManager(testSecret, -time.Minute)

	signed, err := m.Issue(testGrant())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := m.Validate(signed); !errors.Is(err, ErrInvalid) {
		t.Errorf("expired token: got %v, want ErrInvalid", err)
	}
}

func TestValidateTampered(t *testing.T) {
	m, _ := NewManager(testSecret, time.Hour)

	signed, _ := m.Issue(testGrant())

	// Flip a character in the payload segment.
	parts := strings.Split(signed, ".")
	payload := []byte(parts[1])
	if payload[5] == 'A' {
		payload[5] = 'B'
	} else {
		payload[5] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	if _, err := m.Validate(tampered); !errors.Is(err, ErrInvalid) {
		t.Errorf("tampered token: got %v, want ErrInvalid", err)
	}
}

func TestValidateWrongSecret(t *testing.T) {
	m1, _ := NewManager(testSecret, time.Hour)
	m2, _ := NewManager("a-completely-different-32-char-secret", time.Hour)

	signed, _ := m1.Issue(testGrant())
	if _, err := m2.Validate(signed); !errors.Is(err, ErrInvalid) {
		t.Errorf("wrong-secret token: got %v, want ErrInvalid", err)
	}
}

func TestValidateGarbage(t *testing.T) {
	m, _ := NewManager(testSecret, time.Hour)

	for _, tok := range []string{"", "not-a-token", "a.b", "a.b.c.d"} {
		if _, err := m.Validate(tok); !errors.Is(err, ErrInvalid) {
			t.Errorf("Validate(%q): got %v, want ErrInvalid", tok, err)
		}
	}
}

func TestValidateRequiresURL(t *testing.T) {
	m, _ := NewManager(testSecret, time.Hour)

	grant := testGrant()
	grant.DirectURL = ""
	grant.SourceURL = ""
	signed, _ := m.Issue(grant)

	if _, err := m.Validate(signed); !errors.Is(err, ErrInvalid) {
		t.Errorf("URL-less grant: got %v, want ErrInvalid", err)
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager("", time.Hour); err == nil {
		t.Error("expected NewManager to fail with empty secret")
	}
}
