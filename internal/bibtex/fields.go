package bibtex

import (
	"errors"
	"regexp"
	"strings"
)

// Title field errors, reported as extraction warnings.
var (
	errNoTitle         = errors.New("no title field")
	errTitleUnbalanced = errors.New("title field has unbalanced braces")
)

// Field-start patterns match `name = {` at a word boundary, so "title"
// never matches the tail of "booktitle".
var (
	titleStart  = regexp.MustCompile(`(?i)\btitle\s*=\s*\{`)
	authorStart = regexp.MustCompile(`(?i)\bauthor\s*=\s*\{`)
)

// groupPattern matches an innermost brace group, one with no nested braces.
var groupPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// Flatten removes one level of brace-literal groups: a group {X} whose
// content has no braces of its own collapses to bare X. Deeper nesting
// is preserved as-is, so {{MMAudio}} becomes {MMAudio}.
func Flatten(s string) string {
	return groupPattern.ReplaceAllString(s, "$1")
}

// titleValue extracts the flattened title from a record's field block.
func titleValue(fields string) (string, error) {
	loc := titleStart.FindStringIndex(fields)
	if loc == nil {
		return "", errNoTitle
	}
	end, ok := MatchingClose(fields, loc[1])
	if !ok {
		return "", errTitleUnbalanced
	}
	return Flatten(strings.TrimSpace(fields[loc[1] : end-1])), nil
}

// Title extracts the flattened title from any fragment of bibliographic
// text. ok is false when no well-formed title field is present.
func Title(text string) (string, bool) {
	t, err := titleValue(text)
	return t, err == nil
}

// keyPattern matches the header through the citation key: @type{key,
var keyPattern = regexp.MustCompile(`(@\w+\{)[^,]+,`)

// SetKey rewrites the citation key of the first record in text,
// replacing everything between the header's opening brace and the
// first comma. Text without a recognizable header is returned
// unchanged apart from whitespace trimming.
func SetKey(text, key string) string {
	loc := keyPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return strings.TrimSpace(text)
	}
	end := loc[1] // index one past the comma
	return strings.TrimSpace(text[:loc[3]] + key + text[end-1:])
}
