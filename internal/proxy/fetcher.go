// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sidopines/booklantern/internal/logging"
	"github.com/sidopines/booklantern/internal/metrics"
	"github.com/sidopines/booklantern/internal/netguard"
)

// Sentinel errors mapped to HTTP statuses by the API layer.
var (
	// ErrDomainNotAllowed means the upstream URL failed the fetch policy.
	ErrDomainNotAllowed = errors.New("upstream domain is not allowed")

	// ErrBorrowRequired means the upstream answered with an HTML page
	// instead of the document: the reader must visit the source page.
	ErrBorrowRequired = errors.New("upstream requires a borrow")

	// ErrInvalidPayload means the payload cannot be the promised format.
	ErrInvalidPayload = errors.New("upstream payload is not the expected format")

	// ErrUpstreamDenied means the upstream rejected the fetch (401/403/404).
	// For archive items the handler re-resolves once before giving up.
	ErrUpstreamDenied = errors.New("upstream refused the document")

	// ErrUpstream means the upstream failed outright.
	ErrUpstream = errors.New("upstream fetch failed")

	// ErrUpstreamTimeout means the upstream did not answer in time.
	ErrUpstreamTimeout = errors.New("upstream fetch timed out")
)

// Fetcher performs guarded upstream document fetches for the streaming
// proxy.
type Fetcher struct {
	client     *http.Client
	guard      *netguard.Guard
	userAgent  string
	timeout    time.Duration
	sniffBytes int
}

// FetcherOptions tunes a Fetcher. Zero values take defaults.
type FetcherOptions struct {
	Guard      *netguard.Guard
	Timeout    time.Duration
	SniffBytes int
	UserAgent  string

	// Client overrides the HTTP client, for tests.
	Client *http.Client
}

// NewFetcher creates a Fetcher. The guard is required.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.SniffBytes < 4 {
		opts.SniffBytes = 512
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		client:     client,
		guard:      opts.Guard,
		userAgent:  opts.UserAgent,
		timeout:    opts.Timeout,
		sniffBytes: opts.SniffBytes,
	}
}

// Request describes one upstream fetch.
type Request struct {
	// URL is the direct document URL from a validated capability grant.
	URL string

	// Format is the expected document format ("epub" or "pdf").
	Format string

	// RangeHeader passes a reader's Range request through to the
	// upstream. Only honored for PDFs; EPUBs always stream whole.
	RangeHeader string

	// Referer is sent upstream when set; some mirrors refuse
	// referer-less fetches.
	Referer string
}

// Upstream is a validated upstream response ready to stream. Body starts
// with the sniffed prefix replayed, so callers copy it as-is.
type Upstream struct {
	Body          io.ReadCloser
	StatusCode    int
	ContentLength int64
	ContentType   string
	ContentRange  string
	AcceptRanges  string
}

// Fetch retrieves a document, retrying once with simplified headers when
// the first attempt is refused or fails at the transport, and sniffs the
// payload before handing it over. The configured timeout bounds each
// attempt's connect, headers, and first-chunk sniff; once streaming
// starts only the caller's context governs, so a large document over a
// slow link is never cut off mid-copy. The returned Upstream must be
// closed by the caller.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Upstream, error) {
	u, err := f.guard.CheckURL(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDomainNotAllowed, err)
	}

	up, cancel, err := f.fetchOnce(ctx, req, u.String(), false)
	if retryableFetch(err) && req.RangeHeader == "" && ctx.Err() == nil {
		// Some mirrors refuse browser-shaped requests but accept plain
		// ones; flaky ones drop the first connection outright. One retry
		// with minimal headers and a fresh deadline.
		metrics.ProxyUpstreamRetries.Inc()
		logging.Ctx(ctx).Debug().Str("url", req.URL).Msg("retrying upstream fetch with simplified headers")
		up, cancel, err = f.fetchOnce(ctx, req, u.String(), true)
	}
	if err != nil {
		return nil, err
	}

	// The attempt context must outlive this call while the body streams;
	// tie its cancellation to Close.
	up.Body = &cancelReadCloser{ReadCloser: up.Body, cancel: cancel}
	return up, nil
}

// retryableFetch reports whether a failed attempt is worth one more try:
// an upstream refusal, a transport failure, or a header-phase timeout.
// Payload and policy failures are final.
func retryableFetch(err error) bool {
	return errors.Is(err, ErrUpstreamDenied) ||
		errors.Is(err, ErrUpstream) ||
		errors.Is(err, ErrUpstreamTimeout)
}

// fetchOnce runs a single attempt under its own header-phase deadline.
// The returned cancel func releases the attempt context and must be
// called when the body is done; it is nil on error.
func (f *Fetcher) fetchOnce(ctx context.Context, req Request, fetchURL string, simplified bool) (*Upstream, context.CancelFunc, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	timer := time.AfterFunc(f.timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	up, err := f.attempt(attemptCtx, req, fetchURL, simplified)
	timer.Stop()
	if err != nil {
		cancel()
		if timedOut.Load() {
			return nil, nil, fmt.Errorf("%w: no response within %s", ErrUpstreamTimeout, f.timeout)
		}
		return nil, nil, err
	}
	return up, cancel, nil
}

// attempt performs one upstream request and validates its first chunk.
func (f *Fetcher) attempt(ctx context.Context, req Request, fetchURL string, simplified bool) (*Upstream, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	f.setHeaders(httpReq, req, simplified)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamDenied, resp.StatusCode)
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: range not satisfiable", ErrInvalidPayload)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	// Sniff only payloads that begin at byte zero; a mid-file range chunk
	// legitimately starts anywhere.
	if req.RangeHeader == "" || resp.StatusCode == http.StatusOK {
		chunk := make([]byte, f.sniffBytes)
		n, readErr := io.ReadFull(resp.Body, chunk)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %v", ErrUpstream, readErr)
		}
		chunk = chunk[:n]

		if err := ValidatePayload(req.Format, resp.Header.Get("Content-Type"), chunk); err != nil {
			resp.Body.Close()
			return nil, err
		}

		return &Upstream{
			Body:          replayBody(chunk, resp.Body),
			StatusCode:    resp.StatusCode,
			ContentLength: resp.ContentLength,
			ContentType:   resp.Header.Get("Content-Type"),
			ContentRange:  resp.Header.Get("Content-Range"),
			AcceptRanges:  resp.Header.Get("Accept-Ranges"),
		}, nil
	}

	return &Upstream{
		Body:          resp.Body,
		StatusCode:    resp.StatusCode,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentRange:  resp.Header.Get("Content-Range"),
		AcceptRanges:  resp.Header.Get("Accept-Ranges"),
	}, nil
}

// setHeaders shapes the upstream request. The full header set mimics a
// browser because several mirrors reject obviously non-browser clients;
// the simplified set carries only the user agent.
func (f *Fetcher) setHeaders(httpReq *http.Request, req Request, simplified bool) {
	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}
	if req.RangeHeader != "" && req.Format == "pdf" {
		httpReq.Header.Set("Range", req.RangeHeader)
	}
	if simplified {
		return
	}

	httpReq.Header.Set("Accept", "*/*")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if req.Referer != "" {
		httpReq.Header.Set("Referer", req.Referer)
	}
}

// replayBody prefixes a sniffed chunk back onto the remaining stream.
func replayBody(chunk []byte, rest io.ReadCloser) io.ReadCloser {
	return &multiReadCloser{
		Reader: io.MultiReader(bytes.NewReader(chunk), rest),
		closer: rest,
	}
}

type multiReadCloser struct {
	io.Reader
	closer io.Closer
}

func (m *multiReadCloser) Close() error {
	return m.closer.Close()
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
