// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

// Package netguard enforces the outbound fetch policy for the streaming
// proxy. Every upstream URL is checked lexically before any connection is
// opened: the scheme must be http(s), the hostname must not be an IP
// literal or an internal name, and it must match the configured allowlist
// of public book-source domains.
//
// The guard is deliberately lexical rather than resolution-based: it never
// performs DNS lookups, so a malicious hostname cannot trigger a lookup as
// a side effect of being validated.
package netguard

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrHostNotAllowed is wrapped by every rejection CheckURL produces, so
// callers can distinguish policy failures from transport failures.
var ErrHostNotAllowed = errors.New("host not allowed")

// Guard validates upstream URLs against an allowlist of hostname suffixes.
type Guard struct {
	// allowedHosts are bare hostname suffixes, lowercase. A URL hostname
	// matches when it equals a suffix or ends with "." + suffix.
	allowedHosts []string
}

// New creates a Guard for the given hostname suffixes.
//
//	guard := netguard.New([]string{"archive.org", "gutenberg.org"})
func New(allowedHosts []string) *Guard {
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Guard{allowedHosts: hosts}
}

// CheckURL validates a raw URL against the full fetch policy. It returns
// the parsed URL on success so callers never re-parse (and can never fetch
// a URL that differs from the one validated).
func (g *Guard) CheckURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable URL: %v", ErrHostNotAllowed, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrHostNotAllowed, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: URL has no hostname", ErrHostNotAllowed)
	}

	if err := rejectInternalHost(host); err != nil {
		return nil, err
	}

	if !g.hostAllowed(host) {
		return nil, fmt.Errorf("%w: host %q is not on the allowlist", ErrHostNotAllowed, host)
	}

	return u, nil
}

// HostAllowed reports whether a bare hostname passes the allowlist and
// internal-host checks. Used for hosts extracted from already-parsed URLs.
func (g *Guard) HostAllowed(host string) bool {
	host = strings.ToLower(host)
	if rejectInternalHost(host) != nil {
		return false
	}
	return g.hostAllowed(host)
}

func (g *Guard) hostAllowed(host string) bool {
	for _, allowed := range g.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// rejectInternalHost rejects IP literals and names that can only refer to
// internal infrastructure. IP literals are rejected wholesale, not just
// private ranges: the allowlist holds domain names, so a numeric host has
// no legitimate path through the proxy.
func rejectInternalHost(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		return fmt.Errorf("%w: IP literal %q", ErrHostNotAllowed, host)
	}
	// Bracketless IPv6 with zone, and other exotic literals.
	if strings.Contains(host, ":") {
		return fmt.Errorf("%w: host %q is not a valid hostname", ErrHostNotAllowed, host)
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: host %q refers to the local machine", ErrHostNotAllowed, host)
	}
	for _, suffix := range []string{".local", ".internal", ".lan", ".home.arpa"} {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: host %q is an internal name", ErrHostNotAllowed, host)
		}
	}
	return nil
}
