package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/matsen/bibfix/internal/similarity"
	"golang.org/x/time/rate"
)

const (
	semanticScholarBaseURL = "https://api.semanticscholar.org/graph/v1"

	// searchFields asks for the citation-style text up front, so a
	// match costs a single round trip.
	searchFields = "paperId,title,authors,year,venue,citationStyles"
)

// The unauthenticated rate pool is shared and tight (100 requests per
// five minutes); an API key raises the tier to one request per second.
var (
	s2UnkeyedRate = rate.Every(3 * time.Second)
	s2KeyedRate   = rate.Every(time.Second)
)

// SemanticScholar resolves titles against the Semantic Scholar Graph
// API. It has the broadest coverage of the three sources, including
// preprints, which is why it ranks first.
type SemanticScholar struct {
	clientConfig
	threshold float64
}

// NewSemanticScholar creates a Semantic Scholar adapter with the given
// similarity threshold. The endpoint can be overridden through the
// BIBFIX_S2_URL environment variable or WithBaseURL.
func NewSemanticScholar(threshold float64, opts ...Option) *SemanticScholar {
	s := &SemanticScholar{
		clientConfig: newClientConfig(semanticScholarBaseURL, s2UnkeyedRate, 1),
		threshold:    threshold,
	}
	if u := os.Getenv("BIBFIX_S2_URL"); u != "" {
		s.baseURL = u
	}
	for _, opt := range opts {
		opt(&s.clientConfig)
	}
	if s.apiKey != "" {
		s.limiter = rate.NewLimiter(s2KeyedRate, 1)
	}
	return s
}

// Name identifies the adapter in logs and statistics.
func (s *SemanticScholar) Name() string { return "semantic-scholar" }

// s2SearchResponse mirrors the /paper/search response shape.
type s2SearchResponse struct {
	Data []struct {
		PaperID string `json:"paperId"`
		Title   string `json:"title"`
		Authors []struct {
			Name string `json:"name"`
		} `json:"authors"`
		Year           int    `json:"year"`
		Venue          string `json:"venue"`
		CitationStyles struct {
			BibTeX string `json:"bibtex"`
		} `json:"citationStyles"`
	} `json:"data"`
}

// Resolve searches Semantic Scholar by free-text title, limit one, and
// returns the hit with its embedded bibliographic text once the
// similarity gate passes.
func (s *SemanticScholar) Resolve(ctx context.Context, title string) (*Candidate, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	searchURL := fmt.Sprintf("%s/paper/search?query=%s&limit=1&fields=%s",
		s.baseURL, url.QueryEscape(title), searchFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(s.Name(), resp); err != nil {
		return nil, err
	}

	var result s2SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: parsing search results: %v", ErrInvalidResponse, err)
	}
	if len(result.Data) == 0 {
		return nil, ErrNotFound
	}

	paper := result.Data[0]
	score := similarity.Score(title, paper.Title)
	if score < s.threshold {
		return nil, &LowScoreError{
			Provider:  s.Name(),
			Title:     paper.Title,
			Score:     score,
			Threshold: s.threshold,
		}
	}

	bib := strings.TrimSpace(paper.CitationStyles.BibTeX)
	if bib == "" {
		return nil, fmt.Errorf("%w: paper %s carries no bibtex", ErrInvalidResponse, paper.PaperID)
	}

	authors := make([]string, 0, len(paper.Authors))
	for _, a := range paper.Authors {
		authors = append(authors, a.Name)
	}

	return &Candidate{
		Title:    paper.Title,
		BibTeX:   bib,
		Score:    score,
		Provider: s.Name(),
		Authors:  authors,
		Year:     paper.Year,
		Venue:    paper.Venue,
	}, nil
}
