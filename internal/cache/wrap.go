package cache

import (
	"context"
	"errors"
	"time"

	"github.com/matsen/bibfix/internal/provider"
)

// Policy controls how memoized lookups are used. Threshold is the
// similarity gate in force for the current run: stored results are
// re-judged against it, so tightening or loosening the gate between
// runs never replays a stale verdict. A TTL of zero keeps entries
// forever. Refresh skips stored answers and requeries the network,
// overwriting whatever was memoized.
type Policy struct {
	TTL       time.Duration
	Threshold float64
	Refresh   bool
}

// errStale marks a stored entry that cannot stand under the current
// policy; the lookup must go to the network.
var errStale = errors.New("stale cache entry")

// Wrap decorates a provider with lookup memoization. Hits, definitive
// not-found answers, and gate rejections are stored; rate limits and
// transport failures are not, since they say nothing about the title.
func Wrap(inner provider.Provider, db *DB, pol Policy) provider.Provider {
	return &cachingProvider{inner: inner, db: db, pol: pol}
}

type cachingProvider struct {
	inner provider.Provider
	db    *DB
	pol   Policy
}

func (c *cachingProvider) Name() string { return c.inner.Name() }

func (c *cachingProvider) Resolve(ctx context.Context, title string) (*provider.Candidate, error) {
	if !c.pol.Refresh {
		if e, err := c.db.Get(c.Name(), title); err == nil && e != nil && c.fresh(e) {
			cand, replayErr := c.replay(e)
			if !errors.Is(replayErr, errStale) {
				return cand, replayErr
			}
		}
	}

	cand, err := c.inner.Resolve(ctx, title)
	c.store(title, cand, err)
	return cand, err
}

// replay turns a stored entry back into a provider answer.
func (c *cachingProvider) replay(e *Entry) (*provider.Candidate, error) {
	switch e.Outcome {
	case Hit:
		if e.Score < c.pol.Threshold {
			// Accepted under a looser gate than today's.
			return nil, errStale
		}
		return &provider.Candidate{
			Title:    e.Title,
			BibTeX:   e.BibTeX,
			Score:    e.Score,
			Provider: c.Name(),
		}, nil
	case NotFound:
		return nil, provider.ErrNotFound
	case LowScore:
		if e.Score >= c.pol.Threshold {
			// Rejected under a stricter gate than today's; the text
			// was never fetched, so ask again.
			return nil, errStale
		}
		return nil, &provider.LowScoreError{
			Provider:  c.Name(),
			Title:     e.Title,
			Score:     e.Score,
			Threshold: c.pol.Threshold,
		}
	}
	return nil, errStale
}

// store memoizes a fresh provider answer. Writes are best effort: a
// cache failure never disturbs the resolution itself.
func (c *cachingProvider) store(title string, cand *provider.Candidate, err error) {
	switch {
	case err == nil:
		_ = c.db.Put(c.Name(), title, Entry{
			Outcome: Hit,
			Title:   cand.Title,
			BibTeX:  cand.BibTeX,
			Score:   cand.Score,
		})
	case provider.IsNotFound(err):
		_ = c.db.Put(c.Name(), title, Entry{Outcome: NotFound})
	default:
		if lse, ok := provider.AsLowScore(err); ok {
			_ = c.db.Put(c.Name(), title, Entry{
				Outcome: LowScore,
				Title:   lse.Title,
				Score:   lse.Score,
			})
		}
	}
}

func (c *cachingProvider) fresh(e *Entry) bool {
	if c.pol.TTL <= 0 {
		return true
	}
	return time.Since(e.CachedAt) <= c.pol.TTL
}
