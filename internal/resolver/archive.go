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
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/sidopines/booklantern/internal/cache"
	"github.com/sidopines/booklantern/internal/format"
	"github.com/sidopines/booklantern/internal/logging"
	"github.com/sidopines/booklantern/internal/metrics"
	"github.com/sidopines/booklantern/internal/models"
)

// maxMetadataBytes caps how much of a metadata response is read. Archive
// manifests for large collections run to a few MB; anything past this is
// not a book item.
const maxMetadataBytes = 8 << 20

// ArchiveResolver resolves archive.org item identifiers to streamable
// files via the public metadata API, behind a circuit breaker so a
// degraded archive.org cannot pile up goroutines here.
type ArchiveResolver struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*archiveMetadata]
	cache   *cache.Cache
	ttl     time.Duration
	limits  SizeLimits
}

// ArchiveOptions tunes an ArchiveResolver. Zero values take defaults.
type ArchiveOptions struct {
	BaseURL         string
	Timeout         time.Duration
	CacheTTL        time.Duration
	MaxCacheEntries int

	// BreakerMaxFailures consecutive failures open the circuit.
	BreakerMaxFailures uint32
	// BreakerTimeout is the open-state cooldown before a trial request.
	BreakerTimeout time.Duration

	// Limits are the per-format size ceilings. Zero fields take defaults.
	Limits SizeLimits
}

// archiveMetadata is the subset of the metadata API response we consume.
type archiveMetadata struct {
	Files    []archiveFile `json:"files"`
	Metadata archiveItem   `json:"metadata"`
	IsDark   bool          `json:"is_dark"`
	Server   string        `json:"server"`
	Dir      string        `json:"dir"`
}

type archiveItem struct {
	Identifier           string      `json:"identifier"`
	Title                flexString  `json:"title"`
	Creator              flexString  `json:"creator"`
	AccessRestrictedItem string      `json:"access-restricted-item"`
	Collection           flexStrings `json:"collection"`
}

type archiveFile struct {
	Name    string     `json:"name"`
	Format  string     `json:"format"`
	Size    flexInt64  `json:"size"`
	Private flexString `json:"private"`
	Source  string     `json:"source"`
}

// flexString tolerates the metadata API's habit of returning either a
// string or an array of strings for the same field.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) > 0 {
			*f = flexString(arr[0])
		}
		return nil
	}
	*f = ""
	return nil
}

// flexStrings accepts a string or an array of strings.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = []string{s}
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*f = arr
		return nil
	}
	*f = nil
	return nil
}

// flexInt64 accepts a number or a numeric string; file sizes arrive as
// strings in most manifests.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt64(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err == nil {
			*f = flexInt64(parsed)
		}
		return nil
	}
	*f = 0
	return nil
}

// NewArchiveResolver creates an archive.org metadata resolver.
func NewArchiveResolver(opts ArchiveOptions) *ArchiveResolver {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://archive.org"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.BreakerMaxFailures == 0 {
		opts.BreakerMaxFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = time.Minute
	}

	cbName := "archive-metadata"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	breaker := gobreaker.NewCircuitBreaker[*archiveMetadata](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &ArchiveResolver{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  &http.Client{Timeout: opts.Timeout},
		breaker: breaker,
		cache:   cache.New(opts.CacheTTL, opts.MaxCacheEntries),
		ttl:     opts.CacheTTL,
		limits:  opts.Limits,
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Resolve finds the best streamable file for an archive.org item.
//
// Restricted items are never silently dropped: when the item or all of
// its files are lending-controlled, Resolve returns ErrAccessRestricted
// so the caller can surface the borrow page.
func (r *ArchiveResolver) Resolve(ctx context.Context, identifier string) (*models.ResolvedFile, error) {
	start := time.Now()

	key := cache.GenerateKey("archive_resolve", identifier)
	if v, ok := r.cache.Get(key); ok {
		metrics.CacheHits.WithLabelValues("archive_resolve").Inc()
		return cachedResolution(v)
	}
	metrics.CacheMisses.WithLabelValues("archive_resolve").Inc()

	meta, err := r.fetchMetadata(ctx, identifier)
	if err != nil {
		metrics.RecordResolution("archive", "error", time.Since(start))
		return nil, err
	}

	resolved, err := r.selectFromManifest(identifier, meta)
	if err != nil {
		// Deterministic outcomes are cacheable too: an item with no book
		// files will not grow one within the TTL.
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessRestricted) {
			r.cache.Set(key, resolutionOutcome{Err: err})
		}
		metrics.RecordResolution("archive", outcomeLabel(err), time.Since(start))
		return nil, err
	}

	r.cache.Set(key, resolutionOutcome{File: resolved})
	metrics.RecordResolution("archive", resolved.Format, time.Since(start))
	logging.Ctx(ctx).Debug().
		Str("identifier", identifier).
		Str("format", resolved.Format).
		Int64("size", resolved.Size).
		Bool("too_large", resolved.TooLarge).
		Msg("archive item resolved")
	return resolved, nil
}

// resolutionOutcome is what the resolve cache stores: either a file or a
// deterministic failure.
type resolutionOutcome struct {
	File *models.ResolvedFile
	Err  error
}

func cachedResolution(v interface{}) (*models.ResolvedFile, error) {
	outcome, ok := v.(resolutionOutcome)
	if !ok {
		return nil, ErrNotFound
	}
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	return outcome.File, nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAccessRestricted):
		return "restricted"
	case errors.Is(err, ErrUpstreamTimeout):
		return "timeout"
	default:
		return "error"
	}
}

// fetchMetadata retrieves and decodes the item manifest through the
// circuit breaker.
func (r *ArchiveResolver) fetchMetadata(ctx context.Context, identifier string) (*archiveMetadata, error) {
	meta, err := r.breaker.Execute(func() (*archiveMetadata, error) {
		return r.doFetch(ctx, identifier)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues("archive-metadata", "rejected").Inc()
			return nil, fmt.Errorf("%w: archive metadata circuit open", ErrUpstream)
		}
		metrics.CircuitBreakerRequests.WithLabelValues("archive-metadata", "failure").Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues("archive-metadata", "success").Inc()
	return meta, nil
}

func (r *ArchiveResolver) doFetch(ctx context.Context, identifier string) (*archiveMetadata, error) {
	endpoint := fmt.Sprintf("%s/metadata/%s", r.baseURL, url.PathEscape(identifier))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: metadata API returned %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	meta := &archiveMetadata{}
	if err := json.Unmarshal(body, meta); err != nil {
		return nil, fmt.Errorf("%w: malformed metadata: %v", ErrUpstream, err)
	}

	// The API answers 200 with an empty object for unknown identifiers.
	if len(meta.Files) == 0 && meta.Metadata.Identifier == "" {
		return nil, ErrNotFound
	}
	return meta, nil
}

// selectFromManifest classifies the manifest files and picks the best
// candidate.
func (r *ArchiveResolver) selectFromManifest(identifier string, meta *archiveMetadata) (*models.ResolvedFile, error) {
	if meta.IsDark {
		return nil, ErrNotFound
	}

	restricted := strings.EqualFold(meta.Metadata.AccessRestrictedItem, "true")
	for _, c := range meta.Metadata.Collection {
		if c == "inlibrary" || c == "printdisabled" {
			restricted = true
		}
	}

	var candidates []models.CandidateFile
	sawProtected := false
	for _, f := range meta.Files {
		if strings.EqualFold(string(f.Private), "true") {
			sawProtected = true
			continue
		}
		if format.IsProtected(f.Name, f.Format) {
			sawProtected = true
			continue
		}
		fmtClass := format.Classify(f.Name, f.Format)
		if fmtClass == format.None {
			continue
		}
		candidates = append(candidates, models.CandidateFile{
			Name:   f.Name,
			Format: string(fmtClass),
			Size:   int64(f.Size),
			URL:    r.downloadURL(identifier, f.Name),
		})
	}

	if len(candidates) == 0 {
		if restricted || sawProtected {
			return nil, ErrAccessRestricted
		}
		return nil, ErrNotFound
	}

	resolved, err := SelectCandidate(candidates, r.limits)
	if err != nil {
		return nil, err
	}
	resolved.CoverURL = fmt.Sprintf("%s/services/img/%s", r.baseURL, url.PathEscape(identifier))
	return resolved, nil
}

// downloadURL builds the direct download URL for a manifest file. Each
// path segment is escaped individually; manifest names contain spaces and
// slashes.
func (r *ArchiveResolver) downloadURL(identifier, name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/download/%s/%s", r.baseURL, url.PathEscape(identifier), strings.Join(segments, "/"))
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// Cache exposes the resolution cache for sweeping and stats reporting.
func (r *ArchiveResolver) Cache() *cache.Cache {
	return r.cache
}
