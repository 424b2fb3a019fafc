package catalog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/koustreak/pistas/internal/errs"
	"github.com/koustreak/pistas/internal/filestore"
	"github.com/koustreak/pistas/internal/logger"
)

const (
	// DefaultTTL is how long a snapshot is served without touching the remote.
	DefaultTTL = 30 * time.Minute

	// DefaultCrawlTimeout bounds a whole refresh, every page included.
	DefaultCrawlTimeout = 10 * time.Minute
)

// Options tune a Cache. Zero values select the defaults.
type Options struct {
	TTL          time.Duration
	CrawlTimeout time.Duration

	// PageSize is the listing page size; 0 lets the driver choose.
	PageSize int

	// RateLimit caps page fetches per second during a crawl; 0 is unlimited.
	RateLimit float64

	// Now is the clock, time.Now if nil.
	Now func() time.Time
}

// Cache holds the latest catalog snapshot and refreshes it when it expires.
// Concurrent callers that find the snapshot expired share one crawl.
// It is safe for concurrent use by multiple goroutines.
type Cache struct {
	enum    *Enumerator
	opts    Options
	log     *logger.Logger
	limiter *rate.Limiter

	current atomic.Pointer[Snapshot]
	// gen is bumped by Invalidate; snapshots crawled under an older
	// generation are never fresh.
	gen    atomic.Uint64
	flight singleflight.Group
}

// NewCache returns an empty Cache crawling through enum.
func NewCache(enum *Enumerator, opts Options, log *logger.Logger) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.CrawlTimeout <= 0 {
		opts.CrawlTimeout = DefaultCrawlTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}

	c := &Cache{enum: enum, opts: opts, log: log.Component("catalog")}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return c
}

// NewCacheFromLister is NewCache over a filestore.Lister.
func NewCacheFromLister(lister filestore.Lister, opts Options, log *logger.Logger) *Cache {
	return NewCache(NewEnumerator(lister), opts, log)
}

// Snapshot returns the current catalog, crawling the bucket first when the
// snapshot is missing or older than the TTL.
//
// When a crawl fails, the previous snapshot is returned unchanged if there is
// one; otherwise the error is ErrKindCatalogUnavailable. The crawl itself is
// not tied to ctx: if ctx ends first the caller stops waiting and gets the
// previous snapshot, or ErrKindCatalogUnavailable, while the crawl carries on.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	if s, ok := c.fresh(); ok {
		return s, nil
	}

	ch := c.flight.DoChan("catalog", func() (interface{}, error) {
		if s, ok := c.fresh(); ok {
			return s, nil
		}
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if stale := c.current.Load(); stale != nil {
				return stale, nil
			}
			return nil, errs.Wrap(errs.ErrKindCatalogUnavailable, "catalog refresh failed", res.Err)
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		if stale := c.current.Load(); stale != nil {
			return stale, nil
		}
		return nil, errs.Wrap(errs.ErrKindCatalogUnavailable, "waiting for catalog refresh", ctx.Err())
	}
}

// Peek returns the current snapshot, possibly stale, without crawling.
// It returns nil before the first successful crawl.
func (c *Cache) Peek() *Snapshot {
	return c.current.Load()
}

// Invalidate makes the next Snapshot call crawl again. The current snapshot
// is still served as a fallback if that crawl fails.
func (c *Cache) Invalidate() {
	c.gen.Add(1)
}

func (c *Cache) fresh() (*Snapshot, bool) {
	s := c.current.Load()
	if s == nil || s.gen != c.gen.Load() {
		return nil, false
	}
	if c.opts.Now().Sub(s.CapturedAt) >= c.opts.TTL {
		return nil, false
	}
	return s, true
}

// refresh crawls every page and publishes the result as the new snapshot.
// Nothing is published unless the whole listing succeeds.
func (c *Cache) refresh(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CrawlTimeout)
	defer cancel()

	log := c.log.With().Str("crawl_id", uuid.NewString()).Logger()
	gen := c.gen.Load()
	started := time.Now()

	var (
		entries []Entry
		cursor  string
		pages   int
	)
	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, c.crawlFailed(log, pages, errs.Wrap(errs.ErrKindRemoteUnavailable, "crawl rate limit wait", err))
			}
		}

		page, err := c.enum.ListPage(ctx, c.opts.PageSize, cursor)
		if err != nil {
			return nil, c.crawlFailed(log, pages, err)
		}
		pages++
		entries = append(entries, page.Entries...)

		if page.NextCursor == "" {
			break
		}
		if page.NextCursor == cursor {
			return nil, c.crawlFailed(log, pages, errs.New(errs.ErrKindRemoteUnavailable, "listing cursor did not advance: "+cursor))
		}
		cursor = page.NextCursor
	}

	snap := NewSnapshot(entries, c.opts.Now())
	snap.gen = gen
	c.current.Store(snap)

	log.InfoWith("catalog refreshed", map[string]interface{}{
		"entries":  len(snap.Entries),
		"pages":    pages,
		"duration": time.Since(started).String(),
	})
	return snap, nil
}

func (c *Cache) crawlFailed(log *logger.Logger, pages int, err error) error {
	fields := map[string]interface{}{"pages": pages}
	if stale := c.current.Load(); stale != nil {
		fields["stale_entries"] = len(stale.Entries)
		fields["stale_captured_at"] = stale.CapturedAt
		log.WarnWith("catalog refresh failed, serving stale snapshot", err, fields)
	} else {
		log.ErrorWith("catalog refresh failed, no snapshot available", err, fields)
	}
	return err
}
