package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/pistas/internal/errs"
	"github.com/koustreak/pistas/internal/filestore"
	"github.com/koustreak/pistas/internal/naming"
)

// fakeLister serves keys in pages using the page index as cursor.
type fakeLister struct {
	mu       sync.Mutex
	keys     []string
	failAt   int // page index that fails; -1 never
	failErr  error
	gate     chan struct{}
	calls    atomic.Int32
	crawls   atomic.Int32
	pageSize int
}

func newFakeLister(n, pageSize int) *fakeLister {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("Artista %03d - Tema %03d.mp3", i, i)
	}
	return &fakeLister{keys: keys, failAt: -1, pageSize: pageSize}
}

func (f *fakeLister) ListPage(ctx context.Context, opts filestore.ListOptions) (*filestore.Page, error) {
	f.calls.Add(1)
	if opts.Cursor == "" {
		f.crawls.Add(1)
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	idx := 0
	if opts.Cursor != "" {
		idx, _ = strconv.Atoi(opts.Cursor)
	}
	if idx == f.failAt {
		return nil, f.failErr
	}

	start := idx * f.pageSize
	end := start + f.pageSize
	if end > len(f.keys) {
		end = len(f.keys)
	}
	page := &filestore.Page{}
	for _, k := range f.keys[start:end] {
		page.Objects = append(page.Objects, filestore.ObjectInfo{Key: k, ID: "id-" + k, Size: 1})
	}
	if end < len(f.keys) {
		page.NextCursor = strconv.Itoa(idx + 1)
	}
	return page, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestFromObject(t *testing.T) {
	e := FromObject(filestore.ObjectInfo{
		Key:         "Los Shapis - Cumbia Peruana.mp3",
		ID:          "4_z1",
		Size:        2048,
		ContentType: "audio/mpeg",
	})
	assert.Equal(t, "Cumbia Peruana", e.Title)
	assert.Equal(t, "Los Shapis", e.Artist)
	assert.Equal(t, "4_z1", e.ObjectID)

	e = FromObject(filestore.ObjectInfo{
		Key:      "TrackOnly.mp3",
		Metadata: map[string]string{"artist": "Chacalon", "title": "Soy Provinciano"},
	})
	assert.Equal(t, "Soy Provinciano", e.Title)
	assert.Equal(t, "Chacalon", e.Artist)

	e = FromObject(filestore.ObjectInfo{Key: "TrackOnly.mp3"})
	assert.Equal(t, naming.UnknownArtist, e.Artist)
}

func TestEnumerator_PagesPartitionTheListing(t *testing.T) {
	lister := newFakeLister(23, 5)
	enum := NewEnumerator(lister)

	var keys []string
	cursor := ""
	for {
		page, err := enum.ListPage(context.Background(), 5, cursor)
		require.NoError(t, err)
		for _, e := range page.Entries {
			keys = append(keys, e.Key)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, lister.keys, keys)
	assert.EqualValues(t, 5, lister.calls.Load())
}

func TestEnumerator_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"config kept", errs.New(errs.ErrKindConfig, "no key"), errs.IsConfig},
		{"auth kept", errs.New(errs.ErrKindAuth, "rejected"), errs.IsAuth},
		{"timeout retagged", errs.Wrap(errs.ErrKindTimeout, "slow", context.DeadlineExceeded), errs.IsRemoteUnavailable},
		{"plain retagged", errors.New("connection reset"), errs.IsRemoteUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := newFakeLister(3, 5)
			lister.failAt = 0
			lister.failErr = tt.err

			_, err := NewEnumerator(lister).ListPage(context.Background(), 5, "")
			require.Error(t, err)
			assert.True(t, tt.is(err))
		})
	}
}

func TestCache_ConcurrentCallersShareOneCrawl(t *testing.T) {
	lister := newFakeLister(12, 5)
	lister.gate = make(chan struct{})
	cache := NewCacheFromLister(lister, Options{PageSize: 5}, nil)

	const callers = 20
	results := make([]*Snapshot, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := cache.Snapshot(context.Background())
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}

	// Let the callers pile up behind the first page before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(lister.gate)
	wg.Wait()

	assert.EqualValues(t, 1, lister.crawls.Load())
	for _, s := range results {
		assert.Same(t, results[0], s)
	}
	assert.Equal(t, 12, results[0].Len())
}

func TestCache_FreshSnapshotSkipsRemote(t *testing.T) {
	clock := newClock()
	lister := newFakeLister(7, 5)
	cache := NewCacheFromLister(lister, Options{PageSize: 5, TTL: 30 * time.Minute, Now: clock.Now}, nil)
	ctx := context.Background()

	first, err := cache.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), first.CapturedAt)
	assert.EqualValues(t, 2, lister.calls.Load())

	clock.Advance(29 * time.Minute)
	again, err := cache.Snapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.EqualValues(t, 2, lister.calls.Load())

	clock.Advance(time.Minute)
	refreshed, err := cache.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, refreshed)
	assert.EqualValues(t, 2, lister.crawls.Load())
	assert.Equal(t, clock.Now(), refreshed.CapturedAt)
}

func TestCache_FailedRefreshKeepsStaleSnapshot(t *testing.T) {
	clock := newClock()
	lister := newFakeLister(20, 5)
	cache := NewCacheFromLister(lister, Options{PageSize: 5, TTL: time.Minute, Now: clock.Now}, nil)
	ctx := context.Background()

	prior, err := cache.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 20, prior.Len())

	// Grow the bucket, then fail on the fourth page of the next crawl.
	lister.mu.Lock()
	lister.keys = append(lister.keys, "Nuevo - Tema.mp3")
	lister.failAt = 3
	lister.failErr = errs.New(errs.ErrKindRemoteUnavailable, "503 from provider")
	lister.mu.Unlock()

	clock.Advance(2 * time.Minute)
	got, err := cache.Snapshot(ctx)
	require.NoError(t, err)
	assert.Same(t, prior, got)
	assert.Equal(t, 20, got.Len())
	assert.Same(t, prior, cache.Peek())
}

func TestCache_FirstFailureIsCatalogUnavailable(t *testing.T) {
	lister := newFakeLister(10, 5)
	lister.failAt = 1
	lister.failErr = errors.New("connection reset")
	cache := NewCacheFromLister(lister, Options{PageSize: 5}, nil)

	s, err := cache.Snapshot(context.Background())
	assert.Nil(t, s)
	assert.True(t, errs.IsCatalogUnavailable(err))
	assert.Nil(t, cache.Peek())
}

func TestCache_CallerTimeoutDoesNotAbortCrawl(t *testing.T) {
	lister := newFakeLister(3, 5)
	lister.gate = make(chan struct{})
	cache := NewCacheFromLister(lister, Options{PageSize: 5}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := cache.Snapshot(ctx)
	assert.True(t, errs.IsCatalogUnavailable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(lister.gate)
	require.Eventually(t, func() bool { return cache.Peek() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, cache.Peek().Len())
}

func TestCache_Invalidate(t *testing.T) {
	lister := newFakeLister(4, 5)
	cache := NewCacheFromLister(lister, Options{PageSize: 5}, nil)
	ctx := context.Background()

	first, err := cache.Snapshot(ctx)
	require.NoError(t, err)

	cache.Invalidate()
	assert.Same(t, first, cache.Peek())

	second, err := cache.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.EqualValues(t, 2, lister.crawls.Load())
}

func TestCache_StuckCursorFails(t *testing.T) {
	cache := NewCacheFromLister(stuckLister{}, Options{}, nil)

	_, err := cache.Snapshot(context.Background())
	assert.True(t, errs.IsCatalogUnavailable(err))
}

type stuckLister struct{}

func (stuckLister) ListPage(_ context.Context, _ filestore.ListOptions) (*filestore.Page, error) {
	return &filestore.Page{
		Objects:    []filestore.ObjectInfo{{Key: "a.mp3"}},
		NextCursor: "a.mp3",
	}, nil
}

func TestSnapshot_Lookup(t *testing.T) {
	s := NewSnapshot([]Entry{{Key: "a.mp3", ObjectID: "1"}, {Key: "b.mp3", ObjectID: "2"}}, time.Now())

	e, ok := s.Lookup("b.mp3")
	assert.True(t, ok)
	assert.Equal(t, "2", e.ObjectID)

	_, ok = s.Lookup("c.mp3")
	assert.False(t, ok)
	assert.NotNil(t, NewSnapshot(nil, time.Now()).Entries)
}
