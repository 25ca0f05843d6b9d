// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/sidopines/booklantern/internal/cache"
	"github.com/sidopines/booklantern/internal/format"
	"github.com/sidopines/booklantern/internal/logging"
	"github.com/sidopines/booklantern/internal/metrics"
	"github.com/sidopines/booklantern/internal/models"
	"github.com/sidopines/booklantern/internal/netguard"
)

// maxLandingPageBytes caps how much of a landing page is parsed.
const maxLandingPageBytes = 4 << 20

// ExternalResolver extracts direct document links from institutional
// landing pages (library repositories, university collections).
//
// Extraction runs in priority order and stops at the first stage that
// yields a candidate surviving validation:
//
//  1. <meta name="citation_pdf_url"> (Google Scholar convention)
//  2. JSON-LD contentUrl properties
//  3. anchors under file-store paths (/download/, /bitstream/, /files/)
//  4. any anchor ending in .pdf or .epub
//
// Thumbnail derivatives (*.pdf.jpg and friends) are rejected at every
// stage. Candidates are HEAD-validated, capped at MaxProbes per page, and
// EPUBs win ties because the in-browser reader prefers them.
type ExternalResolver struct {
	client    *http.Client
	guard     *netguard.Guard
	cache     *cache.Cache
	userAgent string
	maxProbes int
	limiter   *rate.Limiter
	limits    SizeLimits
}

// ExternalOptions tunes an ExternalResolver. Zero values take defaults.
type ExternalOptions struct {
	Guard           *netguard.Guard
	Timeout         time.Duration
	CacheTTL        time.Duration
	MaxCacheEntries int
	MaxProbes       int
	UserAgent       string

	// ProbesPerSecond rate-limits candidate HEAD probes so a link-heavy
	// landing page cannot turn resolution into a hammering run. Zero
	// disables limiting.
	ProbesPerSecond float64

	// Limits are the per-format size ceilings. Zero fields take defaults.
	Limits SizeLimits
}

// NewExternalResolver creates a landing-page resolver. The guard is
// required: external pages are attacker-influenced input and every
// extracted URL goes through the same allowlist as the proxy itself.
func NewExternalResolver(opts ExternalOptions) *ExternalResolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.MaxProbes <= 0 {
		opts.MaxProbes = 10
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.ProbesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ProbesPerSecond), int(opts.ProbesPerSecond)+1)
	}
	return &ExternalResolver{
		client:    &http.Client{Timeout: opts.Timeout},
		guard:     opts.Guard,
		cache:     cache.New(opts.CacheTTL, opts.MaxCacheEntries),
		userAgent: opts.UserAgent,
		maxProbes: opts.MaxProbes,
		limiter:   limiter,
		limits:    opts.Limits,
	}
}

// Resolve fetches a landing page and returns the best direct document
// link found on it.
func (r *ExternalResolver) Resolve(ctx context.Context, pageURL string) (*models.ResolvedFile, error) {
	start := time.Now()

	parsed, err := r.guard.CheckURL(pageURL)
	if err != nil {
		return nil, fmt.Errorf("landing page rejected: %w", err)
	}

	key := cache.GenerateKey("external_resolve", parsed.String())
	if v, ok := r.cache.Get(key); ok {
		metrics.CacheHits.WithLabelValues("external_resolve").Inc()
		return cachedResolution(v)
	}
	metrics.CacheMisses.WithLabelValues("external_resolve").Inc()

	doc, err := r.fetchPage(ctx, parsed)
	if err != nil {
		metrics.RecordResolution("external", "error", time.Since(start))
		return nil, err
	}

	resolved, err := r.extract(ctx, parsed, doc)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.cache.Set(key, resolutionOutcome{Err: err})
		}
		metrics.RecordResolution("external", outcomeLabel(err), time.Since(start))
		return nil, err
	}

	if cover := coverImage(doc); cover != "" {
		resolved.CoverURL = absoluteURL(parsed, cover)
	}

	r.cache.Set(key, resolutionOutcome{File: resolved})
	metrics.RecordResolution("external", resolved.Format, time.Since(start))
	logging.Ctx(ctx).Debug().
		Str("page", parsed.String()).
		Str("format", resolved.Format).
		Str("direct_url", resolved.DirectURL).
		Msg("external page resolved")
	return resolved, nil
}

func (r *ExternalResolver) fetchPage(ctx context.Context, u *url.URL) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: landing page returned %d", ErrUpstream, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxLandingPageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable landing page: %v", ErrUpstream, err)
	}
	return doc, nil
}

// extract walks the extraction stages in priority order.
func (r *ExternalResolver) extract(ctx context.Context, base *url.URL, doc *html.Node) (*models.ResolvedFile, error) {
	stages := [][]string{
		citationLinks(doc),
		jsonLDLinks(doc),
		fileStoreAnchors(doc),
		documentAnchors(doc),
	}

	for _, links := range stages {
		candidates := r.validateLinks(ctx, base, links)
		if len(candidates) == 0 {
			continue
		}
		resolved, err := SelectCandidate(candidates, r.limits)
		if err == nil {
			return resolved, nil
		}
	}
	return nil, ErrNotFound
}

// validateLinks resolves, guards, deduplicates, and HEAD-probes raw hrefs
// into candidate files. Probing stops at the resolver's probe budget.
func (r *ExternalResolver) validateLinks(ctx context.Context, base *url.URL, links []string) []models.CandidateFile {
	var candidates []models.CandidateFile
	seen := make(map[string]bool)
	probes := 0

	for _, link := range links {
		if probes >= r.maxProbes {
			break
		}
		abs := absoluteURL(base, link)
		if abs == "" || seen[abs] {
			continue
		}
		seen[abs] = true

		if format.IsThumbnail(abs) {
			continue
		}
		if _, err := r.guard.CheckURL(abs); err != nil {
			continue
		}

		fmtClass := classifyLink(abs)
		if fmtClass == format.None {
			continue
		}

		probes++
		size, ok := r.probe(ctx, abs, fmtClass)
		if !ok {
			continue
		}
		candidates = append(candidates, models.CandidateFile{
			Name:   pathBase(abs),
			Format: string(fmtClass),
			Size:   size,
			URL:    abs,
		})
	}
	return candidates
}

// probe HEAD-validates a candidate; returns its Content-Length when known.
func (r *ExternalResolver) probe(ctx context.Context, rawURL string, want format.Format) (int64, bool) {
	if err := r.limiter.Wait(ctx); err != nil {
		return 0, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, false
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, false
	}
	if !acceptableContentType(resp.Header.Get("Content-Type"), want) {
		return 0, false
	}
	if resp.ContentLength > 0 {
		return resp.ContentLength, true
	}
	return 0, true
}

// acceptableContentType reports whether a HEAD answer's Content-Type is
// trustworthy for the format the URL extension promised. Only the exact
// document MIME types pass, plus generic binary (the extension already
// matched) and a missing header, which many institutional file stores
// never set. Anything else, a viewer page or a thumbnail masquerading
// under a document URL, is rejected.
func acceptableContentType(header string, want format.Format) bool {
	ct := strings.ToLower(strings.TrimSpace(header))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "":
		return true
	case "application/octet-stream", "binary/octet-stream":
		return true
	case "application/pdf", "application/x-pdf":
		return want == format.PDF
	case "application/epub+zip":
		return want == format.EPUB
	default:
		return false
	}
}

// classifyLink classifies a URL by its path extension, ignoring query.
func classifyLink(rawURL string) format.Format {
	u, err := url.Parse(rawURL)
	if err != nil {
		return format.None
	}
	return format.Classify(u.Path, "")
}

// absoluteURL resolves an href against the page URL.
func absoluteURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func pathBase(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segs := strings.Split(strings.TrimRight(u.Path, "/"), "/")
	return segs[len(segs)-1]
}

// citationLinks collects citation meta tags, the strongest signal a
// repository can emit.
func citationLinks(doc *html.Node) []string {
	var links []string
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "meta" {
			return
		}
		name := strings.ToLower(attr(n, "name"))
		if name == "citation_pdf_url" || name == "citation_epub_url" {
			if content := attr(n, "content"); content != "" {
				links = append(links, content)
			}
		}
	})
	return links
}

// coverImage pulls a cover URL from og:image or citation image metadata.
// Best effort: resolution never fails over a missing cover.
func coverImage(doc *html.Node) string {
	var cover string
	walk(doc, func(n *html.Node) {
		if cover != "" || n.Type != html.ElementNode || n.Data != "meta" {
			return
		}
		prop := strings.ToLower(attr(n, "property"))
		name := strings.ToLower(attr(n, "name"))
		if prop == "og:image" || name == "citation_image_url" {
			cover = attr(n, "content")
		}
	})
	return cover
}

// jsonLDLinks collects contentUrl values from embedded JSON-LD blocks.
func jsonLDLinks(doc *html.Node) []string {
	var links []string
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "script" {
			return
		}
		if !strings.EqualFold(attr(n, "type"), "application/ld+json") {
			return
		}
		if n.FirstChild == nil {
			return
		}
		links = append(links, contentURLs(n.FirstChild.Data)...)
	})
	return links
}

// contentURLs pulls every contentUrl string out of an arbitrary JSON-LD
// document. The structure varies wildly between repositories, so this
// walks the decoded value generically instead of modeling schema.org.
func contentURLs(raw string) []string {
	var decoded interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil
	}
	var urls []string
	var visit func(v interface{})
	visit = func(v interface{}) {
		switch val := v.(type) {
		case map[string]interface{}:
			for k, child := range val {
				if strings.EqualFold(k, "contentUrl") {
					if s, ok := child.(string); ok {
						urls = append(urls, s)
						continue
					}
				}
				visit(child)
			}
		case []interface{}:
			for _, child := range val {
				visit(child)
			}
		}
	}
	visit(decoded)
	return urls
}

// fileStorePaths mark repository file-store URL layouts (DSpace, EPrints,
// institutional mirrors).
var fileStorePaths = []string{"/download/", "/bitstream/", "/files/"}

// fileStoreAnchors collects anchors whose href sits under a known
// file-store path.
func fileStoreAnchors(doc *html.Node) []string {
	var links []string
	walk(doc, func(n *html.Node) {
		href := anchorHref(n)
		if href == "" {
			return
		}
		low := strings.ToLower(href)
		for _, p := range fileStorePaths {
			if strings.Contains(low, p) {
				links = append(links, href)
				return
			}
		}
	})
	return links
}

// documentAnchors collects any anchor ending in a document extension.
func documentAnchors(doc *html.Node) []string {
	var links []string
	walk(doc, func(n *html.Node) {
		href := anchorHref(n)
		if href == "" {
			return
		}
		if classifyLink(href) != format.None {
			links = append(links, href)
		}
	})
	return links
}

func anchorHref(n *html.Node) string {
	if n.Type != html.ElementNode || n.Data != "a" {
		return ""
	}
	return attr(n, "href")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

// Cache exposes the resolution cache for sweeping and stats reporting.
func (r *ExternalResolver) Cache() *cache.Cache {
	return r.cache
}
