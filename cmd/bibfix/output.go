package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/matsen/bibfix/internal/pipeline"
)

// maskedKeyLen is how many leading characters of an API key are shown.
const maskedKeyLen = 8

// ErrorResponse is the JSON shape for command failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConfigResponse is the response for config get commands.
type ConfigResponse struct {
	S2APIKey      string  `json:"s2_api_key,omitempty"`
	Similarity    float64 `json:"similarity,omitempty"`
	Delay         string  `json:"delay,omitempty"`
	CacheTTL      string  `json:"cache_ttl,omitempty"`
	CacheDisabled bool    `json:"cache_disabled,omitempty"`
}

// UpdateResponse is the response for config set commands.
type UpdateResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
	Value  string `json:"value"`
}

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error encoding JSON: %v\n", err)
	}
}

// exitWithError reports an error in the selected output mode and exits.
func exitWithError(code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg})
	}
	os.Exit(code)
}

// maskKey shortens an API key for display.
func maskKey(key string) string {
	if len(key) <= maskedKeyLen {
		return key + "..."
	}
	return key[:maskedKeyLen] + "..."
}

// printAttempts narrates per-provider lookup outcomes to stderr.
func printAttempts(attempts []pipeline.Attempt) {
	for _, a := range attempts {
		switch a.Outcome {
		case pipeline.OutcomeResolved:
			fmt.Fprintf(os.Stderr, "  [%s] ok: %q (score %.2f)\n", a.Provider, a.Title, a.Score)
		case pipeline.OutcomeLowScore:
			fmt.Fprintf(os.Stderr, "  [%s] rejected: %q scored %.2f\n", a.Provider, a.Title, a.Score)
		case pipeline.OutcomeNotFound:
			fmt.Fprintf(os.Stderr, "  [%s] no results\n", a.Provider)
		case pipeline.OutcomeRateLimited:
			fmt.Fprintf(os.Stderr, "  [%s] rate limited\n", a.Provider)
		default:
			fmt.Fprintf(os.Stderr, "  [%s] error: %s\n", a.Provider, a.Detail)
		}
	}
}
