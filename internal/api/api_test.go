// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/sidopines/booklantern/internal/access"
	"github.com/sidopines/booklantern/internal/config"
	"github.com/sidopines/booklantern/internal/models"
	"github.com/sidopines/booklantern/internal/netguard"
	"github.com/sidopines/booklantern/internal/proxy"
	"github.com/sidopines/booklantern/internal/resolver"
	"github.com/sidopines/booklantern/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stubArchive struct {
	resolve func(ctx context.Context, id string) (*models.ResolvedFile, error)
	calls   int
}

func (s *stubArchive) Resolve(ctx context.Context, id string) (*models.ResolvedFile, error) {
	s.calls++
	return s.resolve(ctx, id)
}

type stubExternal struct {
	resolve func(ctx context.Context, url string) (*models.ResolvedFile, error)
}

func (s *stubExternal) Resolve(ctx context.Context, url string) (*models.ResolvedFile, error) {
	return s.resolve(ctx, url)
}

type stubFetcher struct {
	fetch func(ctx context.Context, req proxy.Request) (*proxy.Upstream, error)
	calls int
}

func (s *stubFetcher) Fetch(ctx context.Context, req proxy.Request) (*proxy.Upstream, error) {
	s.calls++
	return s.fetch(ctx, req)
}

type testEnv struct {
	archive  *stubArchive
	external *stubExternal
	fetcher  *stubFetcher
	tokens   *token.Manager
	server   http.Handler
}

func newTestEnv(t *testing.T, opts ...func(*HandlerDeps)) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Security.TokenSecret = testSecret

	tokens, err := token.NewManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	env := &testEnv{
		archive: &stubArchive{resolve: func(ctx context.Context, id string) (*models.ResolvedFile, error) {
			return nil, resolver.ErrNotFound
		}},
		external: &stubExternal{resolve: func(ctx context.Context, url string) (*models.ResolvedFile, error) {
			return nil, resolver.ErrNotFound
		}},
		fetcher: &stubFetcher{fetch: func(ctx context.Context, req proxy.Request) (*proxy.Upstream, error) {
			return nil, proxy.ErrUpstream
		}},
		tokens: tokens,
	}

	deps := HandlerDeps{
		Config:   cfg,
		Archive:  env.archive,
		External: env.external,
		Tokens:   tokens,
		Fetcher:  env.fetcher,
		Checker:  access.NewChecker(access.Options{Client: &http.Client{Transport: statusTransport{code: http.StatusOK}}}),
		Guard:    netguard.New(cfg.Security.AllowedHosts),
		Version:  "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}
	handler := NewHandler(deps)

	router := NewRouter(handler, NewChiMiddlewareFromConfig(cfg.Security))
	env.server = router.SetupChi()
	return env
}

func doRequest(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode envelope: %v (body: %s)", err, rec.Body.String())
	}
	return resp
}

func dataField(t *testing.T, resp models.APIResponse, key string) interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data is %T, not an object", resp.Data)
	}
	return m[key]
}

func TestResolveArchiveSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.archive.resolve = func(ctx context.Context, id string) (*models.ResolvedFile, error) {
		if id != "alice-in-wonderland" {
			t.Errorf("identifier = %q", id)
		}
		return &models.ResolvedFile{
			Format:    "epub",
			DirectURL: "https://archive.org/download/alice-in-wonderland/alice.epub",
		}, nil
	}

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/resolve/archive?identifier=alice-in-wonderland", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	resp := decodeEnvelope(t, rec)
	if resp.Status != "success" {
		t.Errorf("status = %q", resp.Status)
	}
	if ok, _ := dataField(t, resp, "ok").(bool); !ok {
		t.Error("expected ok=true")
	}
	if got := dataField(t, resp, "format"); got != "epub" {
		t.Errorf("format = %v", got)
	}
	if got := dataField(t, resp, "source_url"); got != "https://archive.org/details/alice-in-wonderland" {
		t.Errorf("source_url = %v", got)
	}
	if rec.Header().Get("ETag") == "" {
		t.Error("expected ETag header")
	}
}

func TestResolveArchiveMissingIdentifier(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/resolve/archive", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestResolveArchiveNotFoundKeepsSourceURL(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/resolve/archive?identifier=ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != "NOT_FOUND" {
		t.Fatalf("error = %+v", resp.Error)
	}
	if got := dataField(t, resp, "source_url"); got != "https://archive.org/details/ghost" {
		t.Errorf("source_url = %v", got)
	}
}

func TestResolveArchiveRestricted(t *testing.T) {
	env := newTestEnv(t)
	env.archive.resolve = func(ctx context.Context, id string) (*models.ResolvedFile, error) {
		return nil, resolver.ErrAccessRestricted
	}

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/resolve/archive?identifier=lent-book", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != "BORROW_REQUIRED" {
		t.Errorf("error = %+v", resp.Error)
	}
	if resp.Error.Details["source_url"] != "https://archive.org/details/lent-book" {
		t.Errorf("details = %+v", resp.Error.Details)
	}
}

func TestResolveExternalGuardRejection(t *testing.T) {
	env := newTestEnv(t)
	env.external.resolve = func(ctx context.Context, url string) (*models.ResolvedFile, error) {
		_, err := netguard.New([]string{"archive.org"}).CheckURL(url)
		return nil, err
	}

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/resolve/external?url=https%3A%2F%2Fevil.example%2Fbook", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != "DOMAIN_NOT_ALLOWED" {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestResolveExternalUpstreamTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.external.resolve = func(ctx context.Context, url string) (*models.ResolvedFile, error) {
		return nil, resolver.ErrUpstreamTimeout
	}

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/resolve/external?url=https%3A%2F%2Fstandardebooks.org%2Febooks%2Fslow", nil)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIssueTokenArchive(t *testing.T) {
	env := newTestEnv(t)
	env.archive.resolve = func(ctx context.Context, id string) (*models.ResolvedFile, error) {
		return &models.ResolvedFile{
			Format:    "pdf",
			DirectURL: "https://archive.org/download/some-book/book.pdf",
			CoverURL:  "https://archive.org/services/img/some-book",
		}, nil
	}

	body, _ := json.Marshal(models.TokenRequest{
		Provider:   "archive",
		Title:      "Some Book",
		Author:     "A. Writer",
		Identifier: "some-book",
	})
	rec := doRequest(t, env.server, http.MethodPost, "/api/v1/token", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	resp := decodeEnvelope(t, rec)
	signed, _ := dataField(t, resp, "token").(string)
	if signed == "" {
		t.Fatal("expected a token")
	}

	grant, err := env.tokens.Validate(signed)
	if err != nil {
		t.Fatalf("issued token failed validation: %v", err)
	}
	if grant.Format != "pdf" {
		t.Errorf("grant format = %q", grant.Format)
	}
	if grant.ArchiveID != "some-book" {
		t.Errorf("grant archive id = %q", grant.ArchiveID)
	}
	if grant.DirectURL != "https://archive.org/download/some-book/book.pdf" {
		t.Errorf("grant direct url = %q", grant.DirectURL)
	}
	if grant.CoverURL != "https://archive.org/services/img/some-book" {
		t.Errorf("grant cover url = %q", grant.CoverURL)
	}
}

func TestIssueTokenRequiresExactlyOneSource(t *testing.T) {
	env := newTestEnv(t)

	for name, reqBody := range map[string]models.TokenRequest{
		"neither": {Provider: "archive", Title: "T"},
		"both": {
			Provider:   "archive",
			Title:      "T",
			Identifier: "x",
			LandingURL: "https://standardebooks.org/ebooks/x",
		},
	} {
		body, _ := json.Marshal(reqBody)
		rec := doRequest(t, env.server, http.MethodPost, "/api/v1/token", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", name, rec.Code)
		}
	}
}

func TestIssueTokenOversizedOnlyReturnsCandidates(t *testing.T) {
	env := newTestEnv(t)
	env.archive.resolve = func(ctx context.Context, id string) (*models.ResolvedFile, error) {
		// Selection result for a manifest where nothing fits the
		// ceilings: the smallest oversized EPUB is still named.
		return resolver.SelectCandidate([]models.CandidateFile{
			{Name: "huge.epub", Format: "epub", Size: 90 << 20, URL: "https://archive.org/download/huge-book/huge.epub"},
			{Name: "huge.pdf", Format: "pdf", Size: 250 << 20, URL: "https://archive.org/download/huge-book/huge.pdf"},
		}, resolver.DefaultSizeLimits())
	}

	body, _ := json.Marshal(models.TokenRequest{
		Provider:   "archive",
		Title:      "Huge Book",
		Identifier: "huge-book",
	})
	rec := doRequest(t, env.server, http.MethodPost, "/api/v1/token", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	resp := decodeEnvelope(t, rec)
	if ok, _ := dataField(t, resp, "ok").(bool); ok {
		t.Error("expected ok=false for oversized-only resolution")
	}
	if tooLarge, _ := dataField(t, resp, "too_large").(bool); !tooLarge {
		t.Error("expected too_large=true for oversized-only resolution")
	}
	if got, _ := dataField(t, resp, "token").(string); got != "" {
		t.Errorf("token = %q, want none minted", got)
	}
	if got := dataField(t, resp, "open_url"); got != "https://archive.org/details/huge-book" {
		t.Errorf("open_url = %v", got)
	}
	candidates, _ := dataField(t, resp, "candidates").([]interface{})
	if len(candidates) != 2 {
		t.Errorf("candidates = %v, want the full pool", candidates)
	}
}

func TestIssueTokenRestricted(t *testing.T) {
	env := newTestEnv(t)
	env.archive.resolve = func(ctx context.Context, id string) (*models.ResolvedFile, error) {
		return nil, resolver.ErrAccessRestricted
	}

	body, _ := json.Marshal(models.TokenRequest{
		Provider:   "archive",
		Title:      "Lent Book",
		Identifier: "lent-book",
	})
	rec := doRequest(t, env.server, http.MethodPost, "/api/v1/token", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if got := dataField(t, resp, "open_url"); got != "https://archive.org/details/lent-book" {
		t.Errorf("open_url = %v", got)
	}
}

func TestIssueTokenChecksAnonymousAccess(t *testing.T) {
	// Resolution finds a file, but the HEAD probe answers 403: the item is
	// lending-walled and no token should be minted.
	env := newTestEnv(t, func(deps *HandlerDeps) {
		deps.Checker = access.NewChecker(access.Options{
			Client: &http.Client{Transport: statusTransport{code: http.StatusForbidden}},
		})
	})
	env.archive.resolve = func(ctx context.Context, id string) (*models.ResolvedFile, error) {
		return &models.ResolvedFile{
			Format:    "epub",
			DirectURL: "https://archive.org/download/walled-book/walled-book.epub",
		}, nil
	}

	body, _ := json.Marshal(models.TokenRequest{
		Provider:   "archive",
		Title:      "Walled Book",
		Identifier: "walled-book",
	})
	rec := doRequest(t, env.server, http.MethodPost, "/api/v1/token", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != "BORROW_REQUIRED" {
		t.Errorf("error = %+v, want BORROW_REQUIRED", resp.Error)
	}
}

func issueTestToken(t *testing.T, env *testEnv, grant token.Grant) string {
	t.Helper()
	signed, err := env.tokens.Issue(grant)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return signed
}

func TestProxyDocumentRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/proxy/document", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != "TOKEN_INVALID" {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestProxyDocumentRejectsGarbageToken(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/proxy/document?token=not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProxyDocumentStreamsEPUB(t *testing.T) {
	env := newTestEnv(t)
	payload := append([]byte("PK\x03\x04"), bytes.Repeat([]byte{0xAB}, 100)...)
	env.fetcher.fetch = func(ctx context.Context, req proxy.Request) (*proxy.Upstream, error) {
		if req.Format != "epub" {
			t.Errorf("fetch format = %q", req.Format)
		}
		return &proxy.Upstream{
			Body:          io.NopCloser(bytes.NewReader(payload)),
			StatusCode:    http.StatusOK,
			ContentLength: int64(len(payload)),
			ContentType:   "application/octet-stream",
		}, nil
	}

	signed := issueTestToken(t, env, token.Grant{
		Title:     "Alice in Wonderland",
		Provider:  models.ProviderArchive,
		Format:    "epub",
		DirectURL: "https://archive.org/download/alice/alice.epub",
		SourceURL: "https://archive.org/details/alice",
		ArchiveID: "alice",
	})

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/proxy/document?token="+signed, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/epub+zip" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "Alice-in-Wonderland.epub") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Error("streamed body differs from upstream payload")
	}
}

func TestProxyDocumentRangePDF(t *testing.T) {
	env := newTestEnv(t)
	chunk := []byte("chunk-of-a-pdf")
	env.fetcher.fetch = func(ctx context.Context, req proxy.Request) (*proxy.Upstream, error) {
		if req.RangeHeader != "bytes=100-113" {
			t.Errorf("range = %q", req.RangeHeader)
		}
		return &proxy.Upstream{
			Body:          io.NopCloser(bytes.NewReader(chunk)),
			StatusCode:    http.StatusPartialContent,
			ContentLength: int64(len(chunk)),
			ContentRange:  "bytes 100-113/5000",
			ContentType:   "application/pdf",
		}, nil
	}

	signed := issueTestToken(t, env, token.Grant{
		Title:     "Big Manual",
		Provider:  models.ProviderArchive,
		Format:    "pdf",
		DirectURL: "https://archive.org/download/manual/manual.pdf",
		SourceURL: "https://archive.org/details/manual",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/proxy/document?token="+signed, nil)
	req.Header.Set("Range", "bytes=100-113")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if cr := rec.Header().Get("Content-Range"); cr != "bytes 100-113/5000" {
		t.Errorf("Content-Range = %q", cr)
	}
	if ar := rec.Header().Get("Accept-Ranges"); ar != "bytes" {
		t.Errorf("Accept-Ranges = %q", ar)
	}
}

func TestProxyDocumentBorrowRequired(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.fetch = func(ctx context.Context, req proxy.Request) (*proxy.Upstream, error) {
		return nil, proxy.ErrBorrowRequired
	}

	signed := issueTestToken(t, env, token.Grant{
		Title:     "Lending Only",
		Provider:  models.ProviderArchive,
		Format:    "epub",
		DirectURL: "https://archive.org/download/lend/lend.epub",
		SourceURL: "https://archive.org/details/lend",
	})

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/proxy/document?token="+signed, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.Error == nil || resp.Error.Code != "BORROW_REQUIRED" {
		t.Fatalf("error = %+v", resp.Error)
	}
	if resp.Error.Details["source_url"] != "https://archive.org/details/lend" {
		t.Errorf("details = %+v", resp.Error.Details)
	}
}

func TestProxyDocumentRetriesAfterDenialWithFreshURL(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte("PK\x03\x04fresh")

	env.archive.resolve = func(ctx context.Context, id string) (*models.ResolvedFile, error) {
		return &models.ResolvedFile{
			Format:    "epub",
			DirectURL: "https://archive.org/download/alice/alice-v2.epub",
		}, nil
	}
	env.fetcher.fetch = func(ctx context.Context, req proxy.Request) (*proxy.Upstream, error) {
		if req.URL == "https://archive.org/download/alice/alice.epub" {
			return nil, proxy.ErrUpstreamDenied
		}
		return &proxy.Upstream{
			Body:          io.NopCloser(bytes.NewReader(payload)),
			StatusCode:    http.StatusOK,
			ContentLength: int64(len(payload)),
		}, nil
	}

	signed := issueTestToken(t, env, token.Grant{
		Title:     "Alice",
		Provider:  models.ProviderArchive,
		Format:    "epub",
		DirectURL: "https://archive.org/download/alice/alice.epub",
		SourceURL: "https://archive.org/details/alice",
		ArchiveID: "alice",
	})

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/proxy/document?token="+signed, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	if env.fetcher.calls != 2 {
		t.Errorf("fetch calls = %d, want 2", env.fetcher.calls)
	}
	if env.archive.calls != 1 {
		t.Errorf("archive resolve calls = %d, want 1", env.archive.calls)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Error("expected the retried payload")
	}
}

func TestProxyDocumentDenialWithoutArchiveIDFails(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.fetch = func(ctx context.Context, req proxy.Request) (*proxy.Upstream, error) {
		return nil, proxy.ErrUpstreamDenied
	}

	signed := issueTestToken(t, env, token.Grant{
		Title:     "External Book",
		Provider:  models.ProviderExternal,
		Format:    "pdf",
		DirectURL: "https://standardebooks.org/files/book.pdf",
		SourceURL: "https://standardebooks.org/ebooks/book",
	})

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/proxy/document?token="+signed, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	if env.fetcher.calls != 1 {
		t.Errorf("fetch calls = %d, want 1 (no retry without an archive id)", env.fetcher.calls)
	}
}

// statusTransport answers every access probe with a fixed status so token
// tests never reach the network.
type statusTransport struct{ code int }

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: t.code,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

type allowAllSubscribers struct{}

func (allowAllSubscribers) Authorized(*http.Request) bool { return true }

func TestProxyDocumentDirectURLRequiresSubscriber(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/proxy/document?url=https%3A%2F%2Farchive.org%2Fdownload%2Fx%2Fx.pdf", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProxyDocumentDirectURLWithSubscriber(t *testing.T) {
	env := newTestEnv(t, func(deps *HandlerDeps) {
		deps.Subscribers = allowAllSubscribers{}
	})
	payload := []byte("%PDF-1.7 direct")
	env.fetcher.fetch = func(ctx context.Context, req proxy.Request) (*proxy.Upstream, error) {
		if req.URL != "https://archive.org/download/x/x.pdf" {
			t.Errorf("fetch url = %q", req.URL)
		}
		if req.Format != "pdf" {
			t.Errorf("fetch format = %q", req.Format)
		}
		return &proxy.Upstream{
			Body:          io.NopCloser(bytes.NewReader(payload)),
			StatusCode:    http.StatusOK,
			ContentLength: int64(len(payload)),
		}, nil
	}

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/proxy/document?url=https%3A%2F%2Farchive.org%2Fdownload%2Fx%2Fx.pdf", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestProxyImageRedirectsOffAllowlist(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/proxy/image?url=https%3A%2F%2Fcovers.example.net%2Fc.jpg", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://covers.example.net/c.jpg" {
		t.Errorf("Location = %q", loc)
	}
}

func TestProxyImageRejectsNonHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/proxy/image?url=file%3A%2F%2F%2Fetc%2Fpasswd", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"/api/v1/health", "/api/v1/health/live"} {
		rec := doRequest(t, env.server, http.MethodGet, target, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", target, rec.Code)
		}
		resp := decodeEnvelope(t, rec)
		if got := dataField(t, resp, "status"); got != "healthy" {
			t.Errorf("%s status = %v", target, got)
		}
	}

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/health/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.server, http.MethodGet, "/api/v1/resolve/archive?identifier=x", nil)
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}
