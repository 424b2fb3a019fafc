// Package search ranks catalog entries against a free-text query.
//
// The bucket offers no server-side search, so every query scores the whole
// in-memory snapshot: normalized phrase and word matches first, then partial
// and fuzzy token similarity, plus optional configured boosts. Entries under
// the threshold are dropped; the rest are ordered by score, then by key.
package search

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/koustreak/pistas/internal/catalog"
	"github.com/koustreak/pistas/internal/errs"
	"github.com/koustreak/pistas/internal/logger"
)

const (
	// DefaultMaxResults is used when a caller asks for 0 or fewer results.
	DefaultMaxResults = 50

	// MaxResultsLimit caps any single search.
	MaxResultsLimit = 500

	// DefaultThreshold is the minimum score an entry needs to be returned.
	DefaultThreshold = 10

	minQueryLength = 2
)

// Result is one ranked entry.
type Result struct {
	Entry catalog.Entry
	Score float64
}

// SnapshotSource supplies the catalog to search. *catalog.Cache implements it.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// Options tune an Engine. Zero values select the defaults.
type Options struct {
	Weights    *Weights
	Threshold  float64
	Boosts     []Boost
	MaxResults int
}

// Engine searches the snapshots of a SnapshotSource. It never modifies them.
// It is safe for concurrent use by multiple goroutines.
type Engine struct {
	src        SnapshotSource
	scorer     scorer
	threshold  float64
	maxResults int
	log        *logger.Logger
}

// NewEngine returns an Engine over src.
func NewEngine(src SnapshotSource, opts Options, log *logger.Logger) *Engine {
	w := DefaultWeights()
	if opts.Weights != nil {
		w = *opts.Weights
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxResults <= 0 || opts.MaxResults > MaxResultsLimit {
		opts.MaxResults = DefaultMaxResults
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		src:        src,
		scorer:     newScorer(w, opts.Boosts),
		threshold:  opts.Threshold,
		maxResults: opts.MaxResults,
		log:        log.Component("search"),
	}
}

// Search returns up to maxResults entries matching q, best first.
// maxResults <= 0 selects the engine default; values above MaxResultsLimit
// are capped. A query shorter than two characters fails with
// ErrKindInvalidQuery.
func (e *Engine) Search(ctx context.Context, q string, maxResults int) ([]Result, error) {
	if err := validate(q); err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = e.maxResults
	}

	snap, err := e.src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	results := rank(e.scorer, e.threshold, snap.Entries, q, maxResults)
	e.log.DebugWith("search", map[string]interface{}{
		"query":   q,
		"scanned": len(snap.Entries),
		"results": len(results),
	})
	return results, nil
}

// Rank scores entries against q with the default weights and threshold and
// returns up to maxResults of them, best first. It fails like Search on a
// query that is too short.
func Rank(entries []catalog.Entry, q string, maxResults int) ([]Result, error) {
	if err := validate(q); err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return rank(newScorer(DefaultWeights(), nil), DefaultThreshold, entries, q, maxResults), nil
}

func validate(q string) error {
	if utf8.RuneCountInString(strings.TrimSpace(q)) < minQueryLength {
		return errs.New(errs.ErrKindInvalidQuery, "query must be at least 2 characters")
	}
	return nil
}

func rank(s scorer, threshold float64, entries []catalog.Entry, raw string, maxResults int) []Result {
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}
	q := prepare(raw)
	results := []Result{}
	if q.phrase == "" {
		return results
	}

	for _, entry := range entries {
		if score := s.score(q, entry); score >= threshold {
			results = append(results, Result{Entry: entry, Score: score})
		}
	}

	slices.SortFunc(results, func(a, b Result) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return strings.Compare(a.Entry.Key, b.Entry.Key)
	})

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}
