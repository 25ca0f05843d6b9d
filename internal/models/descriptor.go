// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

// Package models defines the shared data types exchanged between the
// connector boundary, the resolution engine, and the HTTP layer.
package models

// Provider identifies the bibliographic catalog a descriptor came from.
type Provider string

// Known catalog providers. Connectors outside this core map their own
// response shapes into descriptors tagged with one of these values.
const (
	ProviderArchive       Provider = "archive"
	ProviderOpenLibrary   Provider = "openlibrary"
	ProviderGutenberg     Provider = "gutenberg"
	ProviderStandardBooks Provider = "standardebooks"
	ProviderFeedbooks     Provider = "feedbooks"
	ProviderExternal      Provider = "external"
)

// Access describes what we know about an item's availability.
type Access string

const (
	AccessOpen       Access = "open"
	AccessRestricted Access = "restricted"
	AccessUnknown    Access = "unknown"
)

// BookDescriptor is the normalized record describing one book result from
// any catalog, before resolution to a concrete file. Produced by the search
// connectors; consumed read-only by the resolution engine. It is a
// request-scoped value and is never persisted.
//
// Restricted items are kept and surfaced with IsRestricted set rather than
// silently dropped, so the UI can route them to an open-at-source link.
type BookDescriptor struct {
	Title        string   `json:"title"`
	Author       string   `json:"author,omitempty"`
	Provider     Provider `json:"provider"`
	ProviderID   string   `json:"provider_id"`
	Format       string   `json:"format"` // epub|pdf|unknown
	DirectURL    string   `json:"direct_url,omitempty"`
	SourceURL    string   `json:"source_url"`
	ArchiveID    string   `json:"archive_id,omitempty"`
	CoverURL     string   `json:"cover_url,omitempty"`
	Access       Access   `json:"access"`
	IsRestricted bool     `json:"is_restricted"`
}

// CandidateFile is one entry from a catalog manifest or a scraped landing
// page. Candidates are ephemeral: produced while scanning, discarded once a
// file has been chosen.
type CandidateFile struct {
	Name      string `json:"name"`
	Format    string `json:"format"`
	Size      int64  `json:"size"`
	URL       string `json:"url,omitempty"`
	Protected bool   `json:"protected,omitempty"`
}

// ResolvedFile is the outcome of a successful resolution: the single best
// directly fetchable file for a descriptor.
//
// Invariant: when TooLarge is true the format is always "epub" and no
// candidate of either format fit under its size ceiling; the full candidate
// lists are attached so a caller can offer alternate editions.
type ResolvedFile struct {
	Format     string          `json:"format"`
	DirectURL  string          `json:"direct_url"`
	Size       int64           `json:"size,omitempty"`
	TooLarge   bool            `json:"too_large,omitempty"`
	CoverURL   string          `json:"cover_url,omitempty"`
	Candidates []CandidateFile `json:"candidates,omitempty"`
}
