package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/matsen/bibfix/internal/bibtex"
	"github.com/matsen/bibfix/internal/similarity"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const dblpBaseURL = "https://dblp.org"

// dblpAdminFields are DBLP housekeeping fields stripped from fetched
// records before they leave the adapter.
var dblpAdminFields = []string{"timestamp", "biburl", "bibsource"}

// DBLP resolves titles against the DBLP computer science bibliography.
// DBLP has no JSON record endpoint for this flow: the search results
// page is scanned for the first link advertising a BibTeX view, that
// link is rewritten into the direct .bib resource, and the record is
// fetched from there.
type DBLP struct {
	clientConfig
	threshold float64
}

// NewDBLP creates a DBLP adapter with the given similarity threshold.
// The endpoint can be overridden through the BIBFIX_DBLP_URL
// environment variable or WithBaseURL.
func NewDBLP(threshold float64, opts ...Option) *DBLP {
	// Burst of two covers the search-then-fetch pair of one Resolve.
	d := &DBLP{
		clientConfig: newClientConfig(dblpBaseURL, rate.Every(time.Second), 2),
		threshold:    threshold,
	}
	if u := os.Getenv("BIBFIX_DBLP_URL"); u != "" {
		d.baseURL = u
	}
	for _, opt := range opts {
		opt(&d.clientConfig)
	}
	return d
}

// Name identifies the adapter in logs and statistics.
func (d *DBLP) Name() string { return "dblp" }

// Resolve searches DBLP by title and fetches the first hit's .bib
// resource. The similarity gate runs against the title re-extracted
// from the fetched record, not the HTML result page, because the page
// decorates titles with highlighting markup.
func (d *DBLP) Resolve(ctx context.Context, title string) (*Candidate, error) {
	searchURL := fmt.Sprintf("%s/search?q=%s", d.baseURL, url.QueryEscape(title))
	body, err := d.get(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	link, ok := bibLinkFromHTML(strings.NewReader(body))
	if !ok {
		return nil, ErrNotFound
	}
	bibURL := strings.Replace(link, ".html?view=bibtex", ".bib", 1)

	bib, err := d.get(ctx, bibURL)
	if err != nil {
		return nil, err
	}
	bib = strings.TrimSpace(bib)

	foundTitle, ok := bibtex.Title(bib)
	if !ok {
		return nil, fmt.Errorf("%w: fetched record has no title", ErrInvalidResponse)
	}

	score := similarity.Score(title, foundTitle)
	if score < d.threshold {
		return nil, &LowScoreError{
			Provider:  d.Name(),
			Title:     foundTitle,
			Score:     score,
			Threshold: d.threshold,
		}
	}

	return &Candidate{
		Title:    foundTitle,
		BibTeX:   stripAdminFields(bib),
		Score:    score,
		Provider: d.Name(),
	}, nil
}

// get performs one rate-limited request and returns the response body.
// Both the search and the fetch step report 429 as a rate-limit
// outcome.
func (d *DBLP) get(ctx context.Context, rawURL string) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(d.Name(), resp); err != nil {
		return "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrNetwork, err)
	}
	return string(data), nil
}

// bibLinkFromHTML scans search result markup for the first hyperlink
// whose target advertises a BibTeX view and returns that target.
func bibLinkFromHTML(r io.Reader) (string, bool) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "a" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "href" && strings.Contains(string(val), "?view=bibtex") {
					return string(val), true
				}
				if !more {
					break
				}
			}
		}
	}
}

// stripAdminFields drops lines holding DBLP housekeeping fields,
// matched by line prefix after indentation.
func stripAdminFields(bib string) string {
	lines := strings.Split(bib, "\n")
	kept := lines[:0]
	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		admin := false
		for _, field := range dblpAdminFields {
			if strings.HasPrefix(stripped, field) {
				admin = true
				break
			}
		}
		if !admin {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
