package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/signalcore/evidence-engine/internal/model"
	"github.com/signalcore/evidence-engine/internal/parser"
	"github.com/signalcore/evidence-engine/internal/resilience"
)

const (
	githubAPIHost  = "api.github.com"
	githubAccept   = "application/vnd.github.v3+json"
	maxBodyBytes   = 5 << 20
	defaultHostRPS = 10
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration // per attempt
	MaxRetries   int
	RetryBackoff time.Duration
	GitHubToken  string
	GitHubRPS    float64

	// Client overrides the HTTP client. Its Timeout is ignored in favour of
	// the per-attempt context deadline.
	Client *http.Client
	// Now overrides the clock used for FetchedAt.
	Now func() time.Time
}

// HTTPFetcher fetches sources over HTTP with a per-attempt timeout, bounded
// retry of transient failures and a rate limiter per host.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher. Zero options take the defaults of
// a 10s timeout, one retry and 5 GitHub requests per second.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "SignalCore-Research/1.0"
	}
	if opts.GitHubRPS <= 0 {
		opts.GitHubRPS = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPFetcher{
		client:   client,
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, source model.ResearchSource) model.FetchedPage {
	page := model.FetchedPage{
		URL:        source.URL,
		SourceType: source.SourceType,
		VendorID:   source.VendorID,
	}
	log := zap.L().With(
		zap.String("vendor_id", source.VendorID),
		zap.String("url", source.URL),
	)

	retry := resilience.WithRetries(f.opts.MaxRetries, f.opts.RetryBackoff)
	retry.OnRetry = func(attempt int, err error) {
		log.Warn("fetch: retrying", zap.Int("attempt", attempt), zap.Error(err))
	}

	body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		return f.attempt(ctx, source.URL)
	})
	page.FetchedAt = f.opts.Now().UTC()
	if err != nil {
		page.Status = model.PageError
		page.Error = errorText(err, f.opts.Timeout)
		log.Warn("fetch: source failed", zap.String("error", page.Error))
		return page
	}

	kind := parser.KindFor(source.URL)
	if kind.IsJSON() && !json.Valid(body) {
		page.Status = model.PageError
		page.Error = "invalid JSON response"
		log.Warn("fetch: malformed json", zap.Stringer("kind", kind))
		return page
	}

	res := parser.Parse(kind, body)
	page.Text = res.Text
	page.Title = res.Title
	page.PublishedAt = res.PublishedAt
	page.Status = model.PageSuccess

	log.Debug("fetch: source parsed",
		zap.Stringer("kind", kind),
		zap.Int("text_len", len(page.Text)),
	)
	return page
}

// attempt performs one request under its own deadline.
func (f *HTTPFetcher) attempt(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetch: rate limiter wait")
	}

	actx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	f.setHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetch: cancelled")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetch: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetch: cancelled")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetch: read body"), 0)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resilience.HTTPError(resp.StatusCode, string(DetectBlock(resp, body)))
	}
	return body, nil
}

func (f *HTTPFetcher) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.opts.UserAgent)
	if !isGitHubAPI(req.URL) {
		return
	}
	req.Header.Set("Accept", githubAccept)
	if f.opts.GitHubToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.opts.GitHubToken)
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}

	rps := rate.Limit(defaultHostRPS)
	burst := defaultHostRPS
	if host == githubAPIHost {
		rps = rate.Limit(f.opts.GitHubRPS)
		burst = max(1, int(f.opts.GitHubRPS))
	}
	lim := rate.NewLimiter(rps, burst)
	f.limiters[host] = lim
	return lim
}

func isGitHubAPI(u *url.URL) bool {
	return strings.EqualFold(u.Hostname(), githubAPIHost)
}

// errorText renders a fetch failure for FetchedPage.Error.
func errorText(err error, timeout time.Duration) string {
	var se *resilience.StatusError
	if errors.As(err, &se) {
		return se.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("request timed out after %s", timeout)
	}
	if errors.Is(err, context.Canceled) {
		return "request cancelled"
	}
	return err.Error()
}
