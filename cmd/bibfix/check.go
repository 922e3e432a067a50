package main

import (
	"fmt"
	"os"

	"github.com/matsen/bibfix/internal/bibtex"
	"github.com/spf13/cobra"
)

var checkInput string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Parse citation records and report structural problems",
	Long: `Check extracts citation records from the input file without touching
the network, reporting each record's key, type, and claimed title
alongside any records that had to be skipped. Use it to preview what
refine would process.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkInput, "input", "title.txt", "Input file of citation records")
}

// CheckRecord is one extracted record in a CheckResponse.
type CheckRecord struct {
	CitationKey string `json:"citation_key"`
	Type        string `json:"type"`
	Title       string `json:"title"`
}

// CheckResponse reports what refine would process.
type CheckResponse struct {
	Status   string        `json:"status"`
	Input    string        `json:"input"`
	Total    int           `json:"total"`
	Records  []CheckRecord `json:"records"`
	Warnings []string      `json:"warnings,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(checkInput)
	if err != nil {
		exitWithError(ExitDataError, "reading %s: %v", checkInput, err)
	}

	records, warnings := bibtex.Extract(string(data))
	if len(records) == 0 {
		exitWithError(ExitDataError, "no citation records found in %s", checkInput)
	}

	resp := CheckResponse{
		Status:  "ok",
		Input:   checkInput,
		Total:   len(records),
		Records: make([]CheckRecord, 0, len(records)),
	}
	for _, rec := range records {
		resp.Records = append(resp.Records, CheckRecord{
			CitationKey: rec.CitationKey,
			Type:        rec.Type,
			Title:       rec.Title,
		})
	}
	for _, w := range warnings {
		resp.Warnings = append(resp.Warnings, w.Error())
	}
	if len(warnings) > 0 {
		resp.Status = "issues"
	}

	if humanOutput {
		fmt.Printf("%d records in %s\n", resp.Total, checkInput)
		for _, r := range resp.Records {
			fmt.Printf("  %s (%s): %s\n", r.CitationKey, r.Type, r.Title)
		}
		for _, w := range resp.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	} else {
		outputJSON(resp)
	}
	return nil
}
