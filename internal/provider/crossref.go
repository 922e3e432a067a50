package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/matsen/bibfix/internal/bibtex"
	"github.com/matsen/bibfix/internal/similarity"
	"golang.org/x/time/rate"
)

const (
	crossrefBaseURL = "https://api.crossref.org"
	doiOrgBaseURL   = "https://doi.org"
)

// Crossref resolves titles through the Crossref works search, then
// obtains ready-made bibliographic text by content negotiation on the
// matched DOI. Two round trips per hit, but the result is the
// publisher-registered record.
type Crossref struct {
	clientConfig
	threshold float64
}

// NewCrossref creates a Crossref adapter with the given similarity
// threshold. Endpoints can be overridden through BIBFIX_CROSSREF_URL
// and BIBFIX_DOI_URL, or WithBaseURL / WithDOIBaseURL.
func NewCrossref(threshold float64, opts ...Option) *Crossref {
	// Burst of two covers the search-then-negotiate pair.
	c := &Crossref{
		clientConfig: newClientConfig(crossrefBaseURL, rate.Every(time.Second), 2),
		threshold:    threshold,
	}
	c.doiBaseURL = doiOrgBaseURL
	if u := os.Getenv("BIBFIX_CROSSREF_URL"); u != "" {
		c.baseURL = u
	}
	if u := os.Getenv("BIBFIX_DOI_URL"); u != "" {
		c.doiBaseURL = u
	}
	for _, opt := range opts {
		opt(&c.clientConfig)
	}
	return c
}

// Name identifies the adapter in logs and statistics.
func (c *Crossref) Name() string { return "crossref" }

// crossrefWorks mirrors the works-search response shape.
type crossrefWorks struct {
	Message struct {
		Items []crossrefItem `json:"items"`
	} `json:"message"`
}

type crossrefItem struct {
	DOI    string   `json:"DOI"`
	Title  []string `json:"title"`
	Author []struct {
		Family string `json:"family"`
	} `json:"author"`
	Published crossrefDate `json:"published"`
	Created   crossrefDate `json:"created"`
}

type crossrefDate struct {
	DateParts [][]int `json:"date-parts"`
}

// year returns the first date part, zero when absent.
func (d crossrefDate) year() int {
	if len(d.DateParts) > 0 && len(d.DateParts[0]) > 0 {
		return d.DateParts[0][0]
	}
	return 0
}

// Resolve searches Crossref by title, limit one, and fetches the
// matched DOI's bibliographic text once the similarity gate passes.
func (c *Crossref) Resolve(ctx context.Context, title string) (*Candidate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	searchURL := fmt.Sprintf("%s/works?query=%s&rows=1", c.baseURL, url.QueryEscape(title))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(c.Name(), resp); err != nil {
		return nil, err
	}

	var result crossrefWorks
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: parsing works: %v", ErrInvalidResponse, err)
	}
	if len(result.Message.Items) == 0 {
		return nil, ErrNotFound
	}

	item := result.Message.Items[0]
	foundTitle := ""
	if len(item.Title) > 0 {
		foundTitle = item.Title[0]
	}

	score := similarity.Score(title, foundTitle)
	if score < c.threshold {
		return nil, &LowScoreError{
			Provider:  c.Name(),
			Title:     foundTitle,
			Score:     score,
			Threshold: c.threshold,
		}
	}

	bib, err := c.negotiate(ctx, item.DOI)
	if err != nil {
		return nil, err
	}

	// The registered publication year, falling back to the deposit
	// year; zero means unknown.
	year := item.Published.year()
	if year == 0 {
		year = item.Created.year()
	}

	var authors []string
	if len(item.Author) > 0 && item.Author[0].Family != "" {
		authors = []string{item.Author[0].Family}
	}

	return &Candidate{
		Title:    foundTitle,
		BibTeX:   bib,
		Score:    score,
		Provider: c.Name(),
		Authors:  authors,
		Year:     year,
	}, nil
}

// negotiate fetches bibliographic text for a DOI via content
// negotiation against the DOI resolver.
func (c *Crossref) negotiate(ctx context.Context, doi string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.doiBaseURL+"/"+strings.TrimPrefix(doi, "/"), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/x-bibtex")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(c.Name(), resp); err != nil {
		return "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrNetwork, err)
	}
	bib := strings.TrimSpace(string(data))
	if bib == "" {
		return "", fmt.Errorf("%w: empty record for doi %s", ErrInvalidResponse, doi)
	}
	return bib, nil
}

// ResolveDOI fetches bibliographic text for a known DOI directly,
// skipping the title search and the similarity gate. Used when a DOI
// was recovered from a document rather than claimed by a model.
func (c *Crossref) ResolveDOI(ctx context.Context, doi string) (*Candidate, error) {
	bib, err := c.negotiate(ctx, doi)
	if err != nil {
		return nil, err
	}

	title, _ := bibtex.Title(bib)
	return &Candidate{
		Title:    title,
		BibTeX:   bib,
		Score:    1,
		Provider: c.Name(),
	}, nil
}
