// Package provider implements bibliographic metadata lookup against
// ranked external sources. Each adapter searches one source by title,
// validates the top hit against the claimed title with a similarity
// gate, and returns the source's canonical bibliographic text with the
// citation key still untouched.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds every provider HTTP request.
const DefaultTimeout = 10 * time.Second

// Candidate is a provider's proposed match for a claimed title.
type Candidate struct {
	Title    string   // title as reported by the provider
	BibTeX   string   // provider-native bibliographic text, citation key not rewritten
	Score    float64  // similarity against the claimed title
	Provider string   // name of the source that produced the match
	Authors  []string // display metadata, where the source supplies it
	Year     int      // zero when the source reports no year
	Venue    string
}

// Provider searches one external metadata source for the canonical
// record matching a claimed title.
type Provider interface {
	// Name identifies the provider in logs and statistics.
	Name() string

	// Resolve searches for title and returns the top hit once it
	// clears the similarity gate. Expected misses are sentinel
	// errors: ErrNotFound when the source has no match, ErrRateLimited
	// on throttling, and *LowScoreError when the hit fails the gate.
	Resolve(ctx context.Context, title string) (*Candidate, error)
}

// clientConfig carries the HTTP plumbing shared by all adapters.
type clientConfig struct {
	httpClient *http.Client
	baseURL    string
	doiBaseURL string // content negotiation host, Crossref only
	apiKey     string // credential, Semantic Scholar only
	limiter    *rate.Limiter
}

func newClientConfig(baseURL string, limit rate.Limit, burst int) clientConfig {
	return clientConfig{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// Option configures a provider adapter.
type Option func(*clientConfig)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithDOIBaseURL sets a custom DOI content-negotiation base URL
// (for testing). Only the Crossref adapter uses it.
func WithDOIBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.doiBaseURL = url
	}
}

// WithAPIKey sets the credential for authenticated requests. Only the
// Semantic Scholar adapter sends one.
func WithAPIKey(key string) Option {
	return func(c *clientConfig) {
		c.apiKey = key
	}
}

// checkStatus maps HTTP error statuses onto sentinel errors. A 429 is
// a distinguished rate-limit outcome so the caller can fall through to
// the next provider without retrying this one.
func checkStatus(name string, resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status 429", ErrRateLimited)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: status 404", ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return &StatusError{Provider: name, StatusCode: resp.StatusCode}
	}
	return nil
}
