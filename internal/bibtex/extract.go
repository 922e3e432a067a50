// Package bibtex implements the structural subset of BibTeX needed to
// refine citation records: brace-balanced scanning, record extraction,
// field lookup, citation-key rewriting and canonical formatting. It is
// deliberately not a full BibTeX grammar.
package bibtex

import (
	"fmt"
	"regexp"
	"strings"
)

// Entry is one citation record extracted from raw text.
type Entry struct {
	CitationKey string // stable identity within a batch
	Type        string // declared entry type (article, inproceedings, ...)
	Title       string // title value with one level of brace groups flattened
	Body        string // unparsed field block following the citation key
	Raw         string // full record text, header and outer braces included
}

// entryStart matches the "@type{" header that opens a record.
var entryStart = regexp.MustCompile(`@(\w+)\{`)

// Extract segments text into citation records, in order of appearance.
// A record with unbalanced braces, no citation key separator, or no
// usable title field is skipped and reported as a warning in the
// returned error slice; extraction itself never fails.
func Extract(text string) ([]Entry, []error) {
	var entries []Entry
	var warns []error

	for _, loc := range entryStart.FindAllStringSubmatchIndex(text, -1) {
		start, braceStart := loc[0], loc[1]
		entryType := text[loc[2]:loc[3]]

		end, ok := MatchingClose(text, braceStart)
		if !ok {
			warns = append(warns, fmt.Errorf("record @%s at offset %d: unbalanced braces", entryType, start))
			continue
		}

		body := text[braceStart : end-1]
		comma := strings.IndexByte(body, ',')
		if comma < 0 {
			warns = append(warns, fmt.Errorf("record @%s at offset %d: missing citation key separator", entryType, start))
			continue
		}

		key := strings.TrimSpace(body[:comma])
		fields := strings.TrimSpace(body[comma+1:])

		title, err := titleValue(fields)
		if err != nil {
			warns = append(warns, fmt.Errorf("record %s: %w", key, err))
			continue
		}

		entries = append(entries, Entry{
			CitationKey: key,
			Type:        entryType,
			Title:       title,
			Body:        fields,
			Raw:         text[start:end],
		})
	}

	return entries, warns
}
