package bibtex

import (
	"regexp"
	"strings"
)

const (
	// MaxAuthors is the number of names kept before an author list is
	// truncated to "and others".
	MaxAuthors = 5

	// authorIndent aligns continuation lines of a wrapped author list
	// with hand-formatted bibliography files.
	authorIndent = "                  " // 18 spaces
)

// singleLineEntry matches a whole record carried on one physical line:
// @type{key, f1={...}, f2={...}}
var singleLineEntry = regexp.MustCompile(`(?s)^(@\w+\{)([^,]+),\s*(.*?)\s*\}$`)

// fieldAssign matches a field name and its assignment operator.
var fieldAssign = regexp.MustCompile(`^(\w+)\s*=\s*`)

// Format renders bibliographic text in the canonical multi-line
// layout: header and closing brace unindented, one field per line at
// two-space indentation, trailing comma on every field except the
// last. Author lists longer than MaxAuthors are truncated. Format is
// idempotent: reformatting canonical text yields the same text.
func Format(text string) string {
	if strings.Count(text, "\n") <= 1 {
		expanded, ok := expandSingleLine(text)
		if !ok {
			return text
		}
		return truncateAuthorField(expanded)
	}
	return truncateAuthorField(reindent(text))
}

// expandSingleLine splits a one-line record into one field per line.
// ok is false when the text does not look like a complete record, in
// which case the caller should leave it alone.
func expandSingleLine(text string) (string, bool) {
	m := singleLineEntry.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", false
	}

	fields := splitFields(m[3])

	var b strings.Builder
	b.WriteString(m[1])
	b.WriteString(m[2])
	b.WriteString(",\n")
	for i, f := range fields {
		b.WriteString("  ")
		b.WriteString(f)
		if i < len(fields)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}")
	return b.String(), true
}

// splitFields parses a record's field text into "name = value" pairs.
// Values are either brace-delimited (nesting honored) or bare tokens
// terminated by a comma or the closing brace.
func splitFields(s string) []string {
	var fields []string
	pos := 0
	for pos < len(s) {
		for pos < len(s) && isSpace(s[pos]) {
			pos++
		}
		if pos >= len(s) {
			break
		}

		m := fieldAssign.FindStringSubmatchIndex(s[pos:])
		if m == nil {
			break
		}
		name := s[pos+m[2] : pos+m[3]]
		pos += m[1]

		var value string
		if pos < len(s) && s[pos] == '{' {
			if end, ok := MatchingClose(s, pos+1); ok {
				value = s[pos:end]
				pos = end
			} else {
				// Runaway value: keep the rest verbatim.
				value = strings.TrimSpace(s[pos:])
				pos = len(s)
			}
		} else {
			start := pos
			for pos < len(s) && s[pos] != ',' && s[pos] != '}' {
				pos++
			}
			value = strings.TrimSpace(s[start:pos])
		}

		fields = append(fields, name+" = "+value)

		if pos < len(s) && s[pos] == ',' {
			pos++
		}
	}
	return fields
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// reindent normalizes an already multi-line record: header line and
// closing brace unindented, every other non-blank line at two spaces.
// Field order and values are untouched.
func reindent(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		s := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(s, "@") || s == "}":
			lines = append(lines, s)
		case s != "":
			lines = append(lines, "  "+s)
		}
	}
	return strings.Join(lines, "\n")
}

// truncateAuthorField locates the author field and rewrites its
// content through truncateAuthors. Text without a brace-delimited
// author field passes through unchanged.
func truncateAuthorField(text string) string {
	loc := authorStart.FindStringIndex(text)
	if loc == nil {
		return text
	}
	end, ok := MatchingClose(text, loc[1])
	if !ok {
		return text
	}
	return text[:loc[1]] + truncateAuthors(text[loc[1]:end-1]) + text[end-1:]
}

// truncateAuthors splits an author list on " and ", keeps at most
// MaxAuthors names (appending a literal "others" beyond that), and
// rejoins with one name per line at the continuation indent.
func truncateAuthors(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	authors := strings.Split(clean, " and ")

	sep := " and\n" + authorIndent
	if len(authors) > MaxAuthors {
		return strings.Join(authors[:MaxAuthors], sep) + sep + "others"
	}
	return strings.Join(authors, sep)
}
