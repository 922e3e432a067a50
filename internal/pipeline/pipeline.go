// Package pipeline runs one citation record through the ranked
// provider chain, applies the similarity gate each adapter enforces,
// and finalizes the winning record under the original citation key.
package pipeline

import (
	"context"
	"time"

	"github.com/matsen/bibfix/internal/bibtex"
	"github.com/matsen/bibfix/internal/provider"
)

// DefaultCooldown is the pause before each provider attempt beyond the
// first for the same record. Chaining straight into the next provider
// after a failure tends to trip its rate limiter too.
const DefaultCooldown = time.Second

// Outcome classifies a single provider attempt.
type Outcome string

const (
	OutcomeResolved    Outcome = "resolved"
	OutcomeNotFound    Outcome = "not-found"
	OutcomeRateLimited Outcome = "rate-limited"
	OutcomeLowScore    Outcome = "low-score"
	OutcomeError       Outcome = "error"
)

// Attempt records what one provider did with one record.
type Attempt struct {
	Provider string  `json:"provider"`
	Outcome  Outcome `json:"outcome"`
	Score    float64 `json:"score,omitempty"`
	Title    string  `json:"title,omitempty"`
	Detail   string  `json:"detail,omitempty"`
}

// Result is the terminal outcome for one record. Text is the finalized
// record: the winning provider's bibliographic text rekeyed to the
// record's citation key and canonically formatted. Attempts lists every
// provider tried, in order, for operator diagnostics.
type Result struct {
	Resolved  bool
	Provider  string
	Text      string
	Candidate *provider.Candidate
	Attempts  []Attempt
}

// Pipeline tries providers in rank order until one accepts a record.
type Pipeline struct {
	providers []provider.Provider
	cooldown  time.Duration
}

// Option adjusts pipeline behavior.
type Option func(*Pipeline)

// WithCooldown overrides the pause between provider attempts for the
// same record. Zero disables it.
func WithCooldown(d time.Duration) Option {
	return func(p *Pipeline) { p.cooldown = d }
}

// New creates a pipeline over the given providers. Order is rank
// order: the first provider to accept a record wins and later ones are
// never consulted for it.
func New(providers []provider.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		providers: providers,
		cooldown:  DefaultCooldown,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resolve runs one record through the provider chain. Every expected
// failure mode (not found, rate limited, low similarity, transport
// trouble) moves on to the next provider; a provider verdict is final
// for that record, there are no per-provider retries. The returned
// error is non-nil only when ctx ends the run early.
func (p *Pipeline) Resolve(ctx context.Context, rec bibtex.Entry) (*Result, error) {
	res := &Result{}
	for i, prov := range p.providers {
		if i > 0 {
			if err := sleep(ctx, p.cooldown); err != nil {
				return res, err
			}
		}

		cand, err := prov.Resolve(ctx, rec.Title)
		if err == nil {
			res.Resolved = true
			res.Provider = prov.Name()
			res.Candidate = cand
			res.Text = bibtex.Format(bibtex.SetKey(cand.BibTeX, rec.CitationKey))
			res.Attempts = append(res.Attempts, Attempt{
				Provider: prov.Name(),
				Outcome:  OutcomeResolved,
				Score:    cand.Score,
				Title:    cand.Title,
			})
			return res, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		res.Attempts = append(res.Attempts, classify(prov.Name(), err))
	}
	return res, nil
}

// classify maps a provider error onto an attempt record.
func classify(name string, err error) Attempt {
	a := Attempt{Provider: name}
	switch {
	case provider.IsNotFound(err):
		a.Outcome = OutcomeNotFound
	case provider.IsRateLimited(err):
		a.Outcome = OutcomeRateLimited
	default:
		if lse, ok := provider.AsLowScore(err); ok {
			a.Outcome = OutcomeLowScore
			a.Score = lse.Score
			a.Title = lse.Title
			break
		}
		a.Outcome = OutcomeError
		a.Detail = err.Error()
	}
	return a
}

// sleep pauses for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
