package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/matsen/bibfix/internal/bibtex"
	"github.com/matsen/bibfix/internal/checkpoint"
	"github.com/matsen/bibfix/internal/config"
	"github.com/matsen/bibfix/internal/pipeline"
	"github.com/spf13/cobra"
)

// errorFile collects the claimed titles of records no provider could
// resolve, one per line.
const errorFile = "error.txt"

var (
	refineInput       string
	refineOutput      string
	refineSemanticKey string
	refineSimilarity  float64
	refineDelay       time.Duration
	refineKeepOrig    bool
	refineForce       bool
	refineNoCache     bool
)

var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Resolve citation records against ranked metadata providers",
	Long: `Refine reads brace-delimited citation records from the input file and
resolves each claimed title against Semantic Scholar, DBLP, and
Crossref, in that order. The first candidate that clears the
similarity gate replaces the record's text; its citation key is
preserved.

The output file doubles as the checkpoint: it is rewritten after every
resolved record, and records already present in it are skipped on the
next run. Use --force to reprocess everything from scratch.

Titles that no provider could resolve are written to error.txt. With
--keep-original, such records keep their original text in the output
instead of being dropped.`,
	RunE: runRefine,
}

func init() {
	rootCmd.AddCommand(refineCmd)

	refineCmd.Flags().StringVar(&refineInput, "input", "title.txt", "Input file of citation records")
	refineCmd.Flags().StringVarP(&refineOutput, "output", "o", "ref.txt", "Output file; doubles as the resume checkpoint")
	refineCmd.Flags().StringVarP(&refineSemanticKey, "semantic-key", "k", "", "Semantic Scholar API key (falls back to S2_API_KEY, then global config)")
	refineCmd.Flags().Float64Var(&refineSimilarity, "similarity", config.DefaultSimilarity, "Title similarity gate in [0,1]")
	refineCmd.Flags().DurationVar(&refineDelay, "delay", config.DefaultDelay, "Pause between records")
	refineCmd.Flags().BoolVar(&refineKeepOrig, "keep-original", false, "Keep a record's original text when every provider fails")
	refineCmd.Flags().BoolVar(&refineForce, "force", false, "Ignore prior output and reprocess every record")
	refineCmd.Flags().BoolVar(&refineNoCache, "no-cache", false, "Bypass the lookup cache")

	// Load .env file if present (for S2_API_KEY)
	_ = godotenv.Load()
}

// RefineResponse summarizes a refine run.
type RefineResponse struct {
	Input        string         `json:"input"`
	Output       string         `json:"output"`
	Total        int            `json:"total"`
	Resolved     int            `json:"resolved"`
	Skipped      int            `json:"skipped"`
	Kept         int            `json:"kept,omitempty"`
	Failed       int            `json:"failed"`
	Sources      map[string]int `json:"sources,omitempty"`
	FailedTitles []string       `json:"failed_titles,omitempty"`
}

func runRefine(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadGlobalConfig()
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}

	threshold := refineSimilarity
	if !cmd.Flags().Changed("similarity") {
		threshold = cfg.SimilarityOrDefault()
	}
	if err := config.ValidateSimilarity(threshold); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	delay := refineDelay
	if !cmd.Flags().Changed("delay") {
		delay = cfg.DelayOrDefault()
	}

	apiKey := resolveAPIKey(refineSemanticKey, cfg)

	data, err := os.ReadFile(refineInput)
	if err != nil {
		exitWithError(ExitDataError, "reading %s: %v", refineInput, err)
	}
	records, warnings := bibtex.Extract(string(data))
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %v\n", w)
	}
	if len(records) == 0 {
		exitWithError(ExitDataError, "no citation records found in %s", refineInput)
	}

	var store *checkpoint.Store
	if refineForce {
		store = checkpoint.New(refineOutput)
	} else {
		store, err = checkpoint.Load(refineOutput)
		if err != nil {
			exitWithError(ExitError, "reading prior output: %v", err)
		}
	}

	db := openCache(refineNoCache || cfg.CacheDisabled)
	if db != nil {
		defer db.Close()
	}
	// A forced run means "requery": stored checkpoint state and cached
	// lookup answers are both set aside, though fresh answers still
	// land in the cache.
	pl := pipeline.New(buildProviders(threshold, apiKey, db, cfg.CacheTTLOrDefault(), refineForce))
	failures := checkpoint.NewFailureList(errorFile)

	total := len(records)
	fmt.Fprintf(os.Stderr, "Found %d records in %s\n", total, refineInput)
	if n := store.Count(); n > 0 {
		fmt.Fprintf(os.Stderr, "Resuming: %d records already in %s\n", n, refineOutput)
	}
	if apiKey != "" {
		fmt.Fprintf(os.Stderr, "Semantic Scholar API key: %s\n", maskKey(apiKey))
	} else {
		fmt.Fprintln(os.Stderr, "warning: no Semantic Scholar API key, public rate limits apply")
	}

	var resolved, skipped, kept, failed int
	sources := make(map[string]int)

	for i, rec := range records {
		fmt.Fprintf(os.Stderr, "\n[%d/%d] %s\n", i+1, total, rec.CitationKey)
		fmt.Fprintf(os.Stderr, "  title: %s\n", rec.Title)

		if _, ok := store.Done(rec.CitationKey); ok {
			skipped++
			fmt.Fprintln(os.Stderr, "  already resolved, skipping")
			continue
		}

		res, err := pl.Resolve(cmd.Context(), rec)
		if err != nil {
			exitWithError(ExitError, "interrupted: %v", err)
		}
		printAttempts(res.Attempts)

		if res.Resolved {
			if err := store.Add(rec.CitationKey, res.Text); err != nil {
				exitWithError(ExitError, "%v", err)
			}
			resolved++
			sources[res.Provider]++
			fmt.Fprintf(os.Stderr, "  updated from %s\n", res.Provider)
		} else {
			failed++
			if err := failures.Add(rec.Title); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
			if refineKeepOrig {
				if err := store.Add(rec.CitationKey, rec.Raw); err != nil {
					exitWithError(ExitError, "%v", err)
				}
				kept++
				fmt.Fprintln(os.Stderr, "  all providers failed, keeping original text")
			} else {
				fmt.Fprintln(os.Stderr, "  all providers failed")
			}
		}

		// Resume-skipped records continue above without pausing; the
		// delay only separates records that actually hit the network.
		if i < total-1 {
			sleepCtx(cmd.Context(), delay)
		}
	}

	if failures.Count() > 0 {
		if err := failures.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}

	resp := RefineResponse{
		Input:        refineInput,
		Output:       refineOutput,
		Total:        total,
		Resolved:     resolved,
		Skipped:      skipped,
		Kept:         kept,
		Failed:       failed,
		Sources:      sources,
		FailedTitles: failures.Titles(),
	}
	if humanOutput {
		printRefineHuman(resp)
	} else {
		outputJSON(resp)
	}

	// Nothing landed in the output this run: every record failed and
	// none were kept. Signal failure so batch callers notice.
	if resolved+skipped+kept == 0 {
		os.Exit(ExitError)
	}
	return nil
}

func printRefineHuman(r RefineResponse) {
	fmt.Printf("Processed %d of %d records\n", r.Resolved+r.Skipped+r.Kept, r.Total)
	if r.Skipped > 0 {
		fmt.Printf("  already done: %d\n", r.Skipped)
	}
	for _, name := range []string{"semantic-scholar", "dblp", "crossref"} {
		if n := r.Sources[name]; n > 0 {
			fmt.Printf("  %s: %d\n", name, n)
		}
	}
	if r.Kept > 0 {
		fmt.Printf("  kept original: %d\n", r.Kept)
	}
	if r.Failed > 0 {
		fmt.Printf("  failed: %d (titles in %s)\n", r.Failed, errorFile)
	}
	fmt.Printf("Saved to %s\n", r.Output)
}

// resolveAPIKey picks the Semantic Scholar key: flag, then the
// S2_API_KEY environment variable, then global config.
func resolveAPIKey(flagValue string, cfg *config.GlobalConfig) string {
	if flagValue != "" {
		return flagValue
	}
	if key := os.Getenv("S2_API_KEY"); key != "" {
		return key
	}
	return cfg.S2APIKey
}

// sleepCtx pauses for d, returning early if ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
