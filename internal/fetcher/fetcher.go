// Package fetcher downloads research sources and parses them into pages.
package fetcher

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/signalcore/evidence-engine/internal/model"
)

// Fetcher turns a source into a page. Failures are reported on the page
// (Status error) rather than as a Go error.
type Fetcher interface {
	Fetch(ctx context.Context, source model.ResearchSource) model.FetchedPage
}

// CachingFetcher memoizes pages by URL, including error pages, and shares a
// single in-flight fetch between concurrent callers for the same URL.
// Create one per research run.
type CachingFetcher struct {
	next  Fetcher
	group singleflight.Group

	mu    sync.RWMutex
	pages map[string]model.FetchedPage
}

// NewCachingFetcher wraps next with a run-scoped cache.
func NewCachingFetcher(next Fetcher) *CachingFetcher {
	return &CachingFetcher{next: next, pages: make(map[string]model.FetchedPage)}
}

// Fetch implements Fetcher.
func (c *CachingFetcher) Fetch(ctx context.Context, source model.ResearchSource) model.FetchedPage {
	if page, ok := c.lookup(source.URL); ok {
		return relabel(page, source)
	}

	v, _, _ := c.group.Do(source.URL, func() (any, error) {
		if page, ok := c.lookup(source.URL); ok {
			return page, nil
		}
		page := c.next.Fetch(ctx, source)
		// an aborted run must not poison the cache for a retry
		if ctx.Err() == nil {
			c.mu.Lock()
			c.pages[source.URL] = page
			c.mu.Unlock()
		}
		return page, nil
	})

	return relabel(v.(model.FetchedPage), source)
}

// relabel attributes a shared page to the requesting source, since two
// vendors may list the same URL.
func relabel(page model.FetchedPage, source model.ResearchSource) model.FetchedPage {
	page.VendorID = source.VendorID
	page.SourceType = source.SourceType
	return page
}

// Len returns the number of cached pages.
func (c *CachingFetcher) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages)
}

func (c *CachingFetcher) lookup(url string) (model.FetchedPage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	page, ok := c.pages[url]
	return page, ok
}
