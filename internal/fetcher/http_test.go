package fetcher

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalcore/evidence-engine/internal/model"
)

var fixedNow = time.Date(2026, 9, 20, 12, 0, 0, 0, time.UTC)

// rewriteTransport sends every request to target while leaving req.URL's
// host visible to the fetcher, so api.github.com routing can be exercised.
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(out)
}

func newTestFetcher(t *testing.T, h http.Handler, opts HTTPOptions) *HTTPFetcher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	opts.Client = &http.Client{Transport: rewriteTransport{target: target}}
	opts.Now = func() time.Time { return fixedNow }
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	return NewHTTPFetcher(opts)
}

func source(u string, st model.SourceType) model.ResearchSource {
	return model.ResearchSource{VendorID: "langfuse", URL: u, SourceType: st, Label: "test"}
}

func TestFetch_HTMLPage(t *testing.T) {
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SignalCore-Research/1.0", r.Header.Get("User-Agent"))
		assert.Empty(t, r.Header.Get("Accept"))
		w.Write([]byte(`<html><head><title>Self Hosting</title>
			<meta property="article:published_time" content="2026-08-01T00:00:00Z"></head>
			<body><p>Deploy with Docker.</p></body></html>`))
	}), HTTPOptions{})

	page := f.Fetch(context.Background(), source("https://langfuse.com/docs/deployment/self-host", model.SourceOfficial))

	assert.Equal(t, model.PageSuccess, page.Status)
	assert.Equal(t, "Self Hosting", page.Title)
	assert.Equal(t, "Deploy with Docker.", page.Text)
	require.NotNil(t, page.PublishedAt)
	assert.Equal(t, 2026, page.PublishedAt.Year())
	assert.Equal(t, fixedNow, page.FetchedAt)
	assert.Equal(t, "langfuse", page.VendorID)
	assert.Equal(t, model.SourceOfficial, page.SourceType)
	assert.Empty(t, page.Error)
}

func TestFetch_ReadmePathOnOtherHostIsHTML(t *testing.T) {
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Readme</title></head><body><p>Getting started.</p></body></html>`))
	}), HTTPOptions{})

	page := f.Fetch(context.Background(), source("https://langfuse.com/docs/readme", model.SourceOfficial))

	assert.Equal(t, model.PageSuccess, page.Status)
	assert.Equal(t, "Readme", page.Title)
	assert.Equal(t, "Getting started.", page.Text)
}

func TestFetch_GitHubRepoAndReadme(t *testing.T) {
	readme := base64.StdEncoding.EncodeToString([]byte("# Langfuse\nOpen source observability"))

	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.github.v3+json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/repos/langfuse/langfuse":
			w.Write([]byte(`{"full_name":"langfuse/langfuse","stargazers_count":1234,"pushed_at":"2026-09-01T00:00:00Z"}`))
		case "/repos/langfuse/langfuse/readme":
			w.Write([]byte(`{"name":"README.md","content":"` + readme + `"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}), HTTPOptions{GitHubToken: "gh-token"})

	repo := f.Fetch(context.Background(), source("https://api.github.com/repos/langfuse/langfuse", model.SourceGitHub))
	require.Equal(t, model.PageSuccess, repo.Status, repo.Error)
	assert.Equal(t, "langfuse/langfuse", repo.Title)
	assert.Contains(t, repo.Text, "Stars: 1,234")
	require.NotNil(t, repo.PublishedAt)

	rd := f.Fetch(context.Background(), source("https://api.github.com/repos/langfuse/langfuse/readme", model.SourceGitHub))
	require.Equal(t, model.PageSuccess, rd.Status, rd.Error)
	assert.Equal(t, "Langfuse", rd.Title)
	assert.Nil(t, rd.PublishedAt)
}

func TestFetch_RetriesServerErrorOnce(t *testing.T) {
	var calls atomic.Int32
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), HTTPOptions{MaxRetries: 1})

	page := f.Fetch(context.Background(), source("https://example.com/docs", model.SourceOfficial))

	assert.Equal(t, model.PageError, page.Status)
	assert.Equal(t, "HTTP 502", page.Error)
	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, page.Text)
	assert.Nil(t, page.PublishedAt)
}

func TestFetch_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("<p>ok</p>"))
	}), HTTPOptions{MaxRetries: 1})

	page := f.Fetch(context.Background(), source("https://example.com/docs", model.SourceOfficial))
	assert.Equal(t, model.PageSuccess, page.Status)
	assert.Equal(t, "ok", page.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_ClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}), HTTPOptions{MaxRetries: 1})

	page := f.Fetch(context.Background(), source("https://example.com/missing", model.SourceBlog))
	assert.Equal(t, model.PageError, page.Status)
	assert.Equal(t, "HTTP 404", page.Error)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_LabelsBlockedPage(t *testing.T) {
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("cf-ray", "abc123")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("Just a moment..."))
	}), HTTPOptions{})

	page := f.Fetch(context.Background(), source("https://example.com/blocked", model.SourceCommunity))
	assert.Equal(t, "HTTP 403 (cloudflare)", page.Error)
}

func TestFetch_MalformedJSON(t *testing.T) {
	var calls atomic.Int32
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"full_name": `))
	}), HTTPOptions{MaxRetries: 1})

	page := f.Fetch(context.Background(), source("https://api.github.com/repos/a/b", model.SourceGitHub))
	assert.Equal(t, model.PageError, page.Status)
	assert.Equal(t, "invalid JSON response", page.Error)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_TimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), HTTPOptions{Timeout: 50 * time.Millisecond, MaxRetries: 1})
	t.Cleanup(func() { close(release) })

	page := f.Fetch(context.Background(), source("https://example.com/slow", model.SourceOfficial))
	assert.Equal(t, model.PageError, page.Status)
	assert.Equal(t, "request timed out after 50ms", page.Error)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_CancelledContext(t *testing.T) {
	f := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<p>never</p>"))
	}), HTTPOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	page := f.Fetch(ctx, source("https://example.com/docs", model.SourceOfficial))
	assert.Equal(t, model.PageError, page.Status)
}

func TestLimiterFor_GitHubRate(t *testing.T) {
	f := NewHTTPFetcher(HTTPOptions{GitHubRPS: 2})

	gh := f.limiterFor("https://api.github.com/repos/a/b")
	assert.InDelta(t, 2.0, float64(gh.Limit()), 0.001)
	assert.Same(t, gh, f.limiterFor("https://API.github.com/repos/c/d/readme"))

	other := f.limiterFor("https://langfuse.com/docs")
	assert.InDelta(t, float64(defaultHostRPS), float64(other.Limit()), 0.001)
	assert.NotSame(t, gh, other)
}

type countingFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	delay time.Duration
	page  func(model.ResearchSource) model.FetchedPage
}

func (c *countingFetcher) Fetch(_ context.Context, s model.ResearchSource) model.FetchedPage {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[s.URL]++
	c.mu.Unlock()
	time.Sleep(c.delay)
	return c.page(s)
}

func (c *countingFetcher) count(u string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[u]
}

func TestCachingFetcher_MemoizesErrorPages(t *testing.T) {
	inner := &countingFetcher{page: func(s model.ResearchSource) model.FetchedPage {
		return model.FetchedPage{URL: s.URL, VendorID: s.VendorID, Status: model.PageError, Error: "HTTP 500"}
	}}
	c := NewCachingFetcher(inner)

	src := source("https://example.com/down", model.SourceOfficial)
	first := c.Fetch(context.Background(), src)
	second := c.Fetch(context.Background(), src)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.count(src.URL))
	assert.Equal(t, 1, c.Len())
}

func TestCachingFetcher_SharesInFlight(t *testing.T) {
	inner := &countingFetcher{delay: 50 * time.Millisecond, page: func(s model.ResearchSource) model.FetchedPage {
		return model.FetchedPage{URL: s.URL, VendorID: s.VendorID, SourceType: s.SourceType, Status: model.PageSuccess, Text: "shared"}
	}}
	c := NewCachingFetcher(inner)

	var wg sync.WaitGroup
	pages := make([]model.FetchedPage, 5)
	for i := range pages {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pages[i] = c.Fetch(context.Background(), source("https://example.com/same", model.SourceOfficial))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, inner.count("https://example.com/same"))
	for _, p := range pages {
		assert.Equal(t, "shared", p.Text)
	}
}

func TestCachingFetcher_RelabelsForOtherVendor(t *testing.T) {
	inner := &countingFetcher{page: func(s model.ResearchSource) model.FetchedPage {
		return model.FetchedPage{URL: s.URL, VendorID: s.VendorID, SourceType: s.SourceType, Status: model.PageSuccess}
	}}
	c := NewCachingFetcher(inner)

	c.Fetch(context.Background(), model.ResearchSource{VendorID: "a", URL: "https://x", SourceType: model.SourceOfficial})
	p := c.Fetch(context.Background(), model.ResearchSource{VendorID: "b", URL: "https://x", SourceType: model.SourceBlog})

	assert.Equal(t, "b", p.VendorID)
	assert.Equal(t, model.SourceBlog, p.SourceType)
	assert.Equal(t, 1, inner.count("https://x"))
}

func TestDetectBlock(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   BlockType
	}{
		{"cf header", 503, http.Header{"Cf-Ray": {"1"}}, "", BlockCloudflare},
		{"cf server", 403, http.Header{"Server": {"cloudflare"}}, "", BlockCloudflare},
		{"challenge body", 403, http.Header{}, "Checking your browser before accessing", BlockCloudflare},
		{"captcha", 403, http.Header{}, "please solve the hCaptcha", BlockCaptcha},
		{"plain forbidden", 403, http.Header{}, "forbidden", BlockNone},
		{"not found ignored", 404, http.Header{"Cf-Ray": {"1"}}, "captcha", BlockNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: tt.header}
			assert.Equal(t, tt.want, DetectBlock(resp, []byte(tt.body)))
		})
	}
	assert.Equal(t, BlockNone, DetectBlock(nil, nil))
}
