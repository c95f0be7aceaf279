// Package worker is the Scraper Worker Runtime (spec §4.G): it pulls jobs from the
// scrape/instagram-scrape queues, hands them to a scraper.Module, and persists the result
// through the ingestion core, honoring cancellation and per-source rate limiting along the
// way.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/eventscrape/core/internal/scraper"
)

// BrowserPool is the explicit resource type REDESIGN FLAGS calls for: no raw page handle
// ever leaves Acquire, only a PageGuard whose Release is the sole way to give it back.
// Grounded on internal/supervisor's managed-resource map pattern, generalized from a map of
// named services to a fixed-size pool of interchangeable pages.
type BrowserPool struct {
	pages    chan scraper.Page
	newFn    func(ctx context.Context) (scraper.Page, error)
	capacity int

	mu      sync.Mutex
	created int
}

// NewBrowserPool builds a pool of capacity size, lazily creating pages via newFn up to that
// capacity rather than up front, so a pool that's never used for website scraping (e.g. a
// worker process handling only Instagram jobs) never opens a browser context.
func NewBrowserPool(size int, newFn func(ctx context.Context) (scraper.Page, error)) *BrowserPool {
	if size <= 0 {
		size = 3
	}
	return &BrowserPool{pages: make(chan scraper.Page, size), newFn: newFn, capacity: size}
}

// PageGuard is the only way a caller ever touches a leased Page; it must be Released on
// every exit path, success or error.
type PageGuard struct {
	pool *BrowserPool
	Page scraper.Page
}

// Release returns the page to the pool. Safe to call exactly once; calling it twice would
// double-enqueue the same page, so callers should guard with defer immediately after Acquire.
func (g *PageGuard) Release() {
	if g == nil || g.pool == nil {
		return
	}
	select {
	case g.pool.pages <- g.Page:
	default:
		// Pool is already at capacity (shouldn't happen under correct use); drop it rather
		// than block or leak a goroutine.
		_ = g.Page.Close()
	}
}

// Acquire blocks until a page is available or ctx is canceled, creating a fresh one the
// first `capacity` times it's called and reusing released pages from then on.
func (p *BrowserPool) Acquire(ctx context.Context) (*PageGuard, error) {
	select {
	case page := <-p.pages:
		return &PageGuard{pool: p, Page: page}, nil
	default:
	}

	if p.tryReserveSlot() {
		page, err := p.newFn(ctx)
		if err != nil {
			p.releaseSlot()
			return nil, fmt.Errorf("create browser page: %w", err)
		}
		return &PageGuard{pool: p, Page: page}, nil
	}

	select {
	case page := <-p.pages:
		return &PageGuard{pool: p, Page: page}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *BrowserPool) tryReserveSlot() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.created >= p.capacity {
		return false
	}
	p.created++
	return true
}

func (p *BrowserPool) releaseSlot() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created--
}

// Close closes every page currently idle in the pool. In-flight leased pages are closed by
// their holder's next Release call racing a canceled context, or leaked on an unclean
// shutdown — acceptable since the process is exiting anyway.
func (p *BrowserPool) Close() {
	for {
		select {
		case page := <-p.pages:
			_ = page.Close()
		default:
			return
		}
	}
}
