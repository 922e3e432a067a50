package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/matsen/bibfix/internal/bibtex"
	"github.com/matsen/bibfix/internal/checkpoint"
	"github.com/matsen/bibfix/internal/config"
	"github.com/matsen/bibfix/internal/pdf"
	"github.com/matsen/bibfix/internal/pipeline"
	"github.com/matsen/bibfix/internal/provider"
	"github.com/spf13/cobra"
)

var (
	frompdfOutput      string
	frompdfKey         string
	frompdfSemanticKey string
	frompdfSimilarity  float64
	frompdfNoCache     bool
)

var frompdfCmd = &cobra.Command{
	Use:   "frompdf <pdf-file>...",
	Short: "Build citation records from PDFs",
	Long: `Frompdf scans the opening pages of a PDF for a DOI and a probable
title. A DOI is resolved directly through Crossref content
negotiation; otherwise the extracted title goes through the same
ranked provider chain refine uses.

Each finished record is printed to stdout, or merged into --output,
which may be an existing bibliography file. With several PDFs the
run keeps going past files that fail and reports them at the end.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFrompdf,
}

func init() {
	rootCmd.AddCommand(frompdfCmd)

	frompdfCmd.Flags().StringVarP(&frompdfOutput, "output", "o", "", "Merge the records into this file instead of printing them")
	frompdfCmd.Flags().StringVar(&frompdfKey, "key", "", "Citation key for the record (single file only; default: derived from the file name)")
	frompdfCmd.Flags().StringVarP(&frompdfSemanticKey, "semantic-key", "k", "", "Semantic Scholar API key (falls back to S2_API_KEY, then global config)")
	frompdfCmd.Flags().Float64Var(&frompdfSimilarity, "similarity", config.DefaultSimilarity, "Title similarity gate in [0,1]")
	frompdfCmd.Flags().BoolVar(&frompdfNoCache, "no-cache", false, "Bypass the lookup cache")
}

// FrompdfResponse reports the record built from one PDF.
type FrompdfResponse struct {
	Status      string `json:"status"`
	File        string `json:"file"`
	CitationKey string `json:"citation_key,omitempty"`
	DOI         string `json:"doi,omitempty"`
	Title       string `json:"title,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Output      string `json:"output,omitempty"`
	Text        string `json:"text,omitempty"`
	Error       string `json:"error,omitempty"`
}

// FrompdfBatchResponse reports the records built from several PDFs.
type FrompdfBatchResponse struct {
	Results  []FrompdfResponse `json:"results"`
	Resolved int               `json:"resolved"`
	Failed   int               `json:"failed"`
}

func runFrompdf(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	threshold := frompdfSimilarity
	if !cmd.Flags().Changed("similarity") {
		threshold = cfg.SimilarityOrDefault()
	}
	if err := config.ValidateSimilarity(threshold); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	if frompdfKey != "" && len(args) > 1 {
		exitWithError(ExitConfigError, "--key applies to a single PDF, got %d files", len(args))
	}
	apiKey := resolveAPIKey(frompdfSemanticKey, cfg)

	db := openCache(frompdfNoCache || cfg.CacheDisabled)
	if db != nil {
		defer db.Close()
	}
	crossref := provider.NewCrossref(threshold)
	pl := pipeline.New(buildProviders(threshold, apiKey, db, cfg.CacheTTLOrDefault(), false))

	if len(args) > 1 {
		return runFrompdfBatch(cmd, crossref, pl, args)
	}

	path := args[0]
	doi, title, err := pdf.Identify(path)
	if err != nil {
		exitWithError(ExitDataError, "%v", err)
	}
	if doi == "" && title == "" {
		exitWithError(ExitDataError, "no DOI or usable title found in %s", path)
	}

	key := frompdfKey
	if key == "" {
		key = keyFromFilename(path)
	}

	text, source, err := resolveFromPDF(cmd.Context(), crossref, pl, doi, title, key)
	if err != nil {
		exitWithError(ExitError, "interrupted: %v", err)
	}
	if text == "" {
		exitWithError(ExitError, "could not resolve %s (doi %q, title %q)", path, doi, title)
	}

	if frompdfOutput != "" {
		store, err := checkpoint.Load(frompdfOutput)
		if err != nil {
			exitWithError(ExitError, "reading %s: %v", frompdfOutput, err)
		}
		if err := store.Add(key, text); err != nil {
			exitWithError(ExitError, "%v", err)
		}
	}

	resp := FrompdfResponse{
		Status:      "resolved",
		File:        path,
		CitationKey: key,
		DOI:         doi,
		Title:       title,
		Provider:    source,
		Output:      frompdfOutput,
		Text:        text,
	}
	if humanOutput {
		if frompdfOutput != "" {
			fmt.Printf("Merged %s into %s (from %s)\n", key, frompdfOutput, source)
		} else {
			fmt.Println(text)
		}
	} else {
		outputJSON(resp)
	}
	return nil
}

func runFrompdfBatch(cmd *cobra.Command, crossref *provider.Crossref, pl *pipeline.Pipeline, paths []string) error {
	var store *checkpoint.Store
	if frompdfOutput != "" {
		var err error
		store, err = checkpoint.Load(frompdfOutput)
		if err != nil {
			exitWithError(ExitError, "reading %s: %v", frompdfOutput, err)
		}
	}

	results := make([]FrompdfResponse, 0, len(paths))
	var resolved, failed int
	for i, path := range paths {
		fmt.Fprintf(os.Stderr, "\n[%d/%d] %s\n", i+1, len(paths), path)
		resp := FrompdfResponse{Status: "failed", File: path}

		doi, title, err := pdf.Identify(path)
		if err != nil {
			resp.Error = err.Error()
			fmt.Fprintf(os.Stderr, "  %v\n", err)
			results = append(results, resp)
			failed++
			continue
		}
		resp.DOI = doi
		resp.Title = title
		if doi == "" && title == "" {
			resp.Error = "no DOI or usable title found"
			fmt.Fprintln(os.Stderr, "  no DOI or usable title found")
			results = append(results, resp)
			failed++
			continue
		}
		if doi != "" {
			fmt.Fprintf(os.Stderr, "  doi: %s\n", doi)
		} else {
			fmt.Fprintf(os.Stderr, "  title: %s\n", title)
		}

		key := keyFromFilename(path)
		text, source, err := resolveFromPDF(cmd.Context(), crossref, pl, doi, title, key)
		if err != nil {
			exitWithError(ExitError, "interrupted: %v", err)
		}
		if text == "" {
			resp.Error = "no provider found a matching record"
			fmt.Fprintln(os.Stderr, "  could not resolve")
			results = append(results, resp)
			failed++
			continue
		}
		if store != nil {
			if err := store.Add(key, text); err != nil {
				exitWithError(ExitError, "%v", err)
			}
		}

		resp.Status = "resolved"
		resp.CitationKey = key
		resp.Provider = source
		resp.Output = frompdfOutput
		resp.Text = text
		results = append(results, resp)
		resolved++
		fmt.Fprintf(os.Stderr, "  resolved from %s\n", source)
	}

	if humanOutput {
		if frompdfOutput != "" {
			fmt.Printf("Merged %d of %d records into %s\n", resolved, len(paths), frompdfOutput)
		} else {
			first := true
			for _, r := range results {
				if r.Status != "resolved" {
					continue
				}
				if !first {
					fmt.Println()
				}
				fmt.Println(r.Text)
				first = false
			}
		}
	} else {
		outputJSON(FrompdfBatchResponse{Results: results, Resolved: resolved, Failed: failed})
	}
	if resolved == 0 {
		os.Exit(ExitError)
	}
	return nil
}

// resolveFromPDF tries the DOI first and falls back to a title search
// through the ranked pipeline. A DOI pins the record exactly, so no
// similarity gate applies; only a title search has to defend against
// near-miss candidates. The returned error is non-nil only when the
// context ended.
func resolveFromPDF(ctx context.Context, crossref *provider.Crossref, pl *pipeline.Pipeline, doi, title, key string) (string, string, error) {
	if doi != "" {
		cand, err := crossref.ResolveDOI(ctx, doi)
		if err == nil {
			return bibtex.Format(bibtex.SetKey(cand.BibTeX, key)), cand.Provider, nil
		}
		fmt.Fprintf(os.Stderr, "warning: doi %s lookup failed: %v\n", doi, err)
	}
	if title == "" {
		return "", "", nil
	}
	res, err := pl.Resolve(ctx, bibtex.Entry{CitationKey: key, Title: title})
	if err != nil {
		return "", "", err
	}
	printAttempts(res.Attempts)
	if !res.Resolved {
		return "", "", nil
	}
	return res.Text, res.Provider, nil
}

// keyFromFilename derives a citation key from a PDF file name.
func keyFromFilename(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, base)
	key = strings.Trim(key, "-")
	if key == "" {
		return "pdf"
	}
	return key
}
