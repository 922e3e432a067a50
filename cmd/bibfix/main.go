// Package main provides the bibfix CLI entry point.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/matsen/bibfix/internal/cache"
	"github.com/matsen/bibfix/internal/provider"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

// humanOutput controls whether to use human-readable output
var humanOutput bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		// This ensures Cobra errors (like missing required flags) are visible
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bibfix",
	Short: "Reconcile citation records against authoritative metadata sources",
	Long: `bibfix reconciles bibliographic records, as produced by a language
model and therefore potentially fabricated, against authoritative
metadata sources.

Each record's claimed title is searched on Semantic Scholar, DBLP,
and Crossref, in that order. A candidate must clear a title-similarity
gate before its canonical text is accepted, rekeyed to the original
citation key, and formatted. Finished records are checkpointed into
the output file itself, so an interrupted batch resumes where it
stopped.

All commands output JSON by default for agent integration.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.Version = Version
}

// buildProviders assembles the ranked provider chain, wrapping each
// provider in the lookup cache when one is open. refresh makes the
// cache requery and overwrite instead of replaying stored answers.
func buildProviders(threshold float64, apiKey string, db *cache.DB, ttl time.Duration, refresh bool) []provider.Provider {
	var s2Opts []provider.Option
	if apiKey != "" {
		s2Opts = append(s2Opts, provider.WithAPIKey(apiKey))
	}

	ranked := []provider.Provider{
		provider.NewSemanticScholar(threshold, s2Opts...),
		provider.NewDBLP(threshold),
		provider.NewCrossref(threshold),
	}
	if db == nil {
		return ranked
	}

	pol := cache.Policy{TTL: ttl, Threshold: threshold, Refresh: refresh}
	for i, p := range ranked {
		ranked[i] = cache.Wrap(p, db, pol)
	}
	return ranked
}

// openCache opens the lookup cache, or returns nil when it is
// disabled or unusable; resolution then proceeds uncached.
func openCache(disabled bool) *cache.DB {
	if disabled {
		return nil
	}
	path := cache.DefaultPath()
	if path == "" {
		return nil
	}
	db, err := cache.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: lookup cache unavailable: %v\n", err)
		return nil
	}
	return db
}
