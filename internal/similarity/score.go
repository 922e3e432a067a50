// Package similarity scores how well a candidate title from a metadata
// provider matches the title claimed by a citation record.
package similarity

import "strings"

// Jaccard overlap and candidate coverage are blended with these
// weights. Coverage dominates: when most of the candidate's words
// appear in the claimed title, it is very likely the same work even if
// the claimed title carries extra words.
const (
	jaccardWeight  = 0.3
	coverageWeight = 0.7
)

// delimiterReplacer turns joining punctuation into spaces before
// tokenizing, so "Video-to-Audio" compares equal to "Video to Audio".
var delimiterReplacer = strings.NewReplacer(
	"-", " ", ":", " ", "/", " ", "\\", " ",
	"(", " ", ")", " ", "[", " ", "]", " ",
	"{", " ", "}", " ",
)

// asciiPunct is the remaining punctuation stripped outright after
// delimiter replacement.
const asciiPunct = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// stopWords are common words ignored when comparing titles.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
}

// Score returns a similarity in [0, 1] between a claimed title and a
// candidate title. Both are lowercased, split into word sets with
// joining punctuation treated as spaces, and stripped of stop words;
// the result is 0.3 x Jaccard plus 0.7 x coverage, where coverage is
// the fraction of the candidate's words found in the claimed title.
// The asymmetry penalizes candidates that introduce unrelated words.
// Score is pure and makes no network calls.
func Score(claimed, candidate string) float64 {
	a := tokenize(claimed)
	b := tokenize(candidate)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	inter := 0
	for w := range b {
		if a[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter

	jaccard := float64(inter) / float64(union)
	coverage := float64(inter) / float64(len(b))
	return jaccardWeight*jaccard + coverageWeight*coverage
}

// tokenize normalizes a title into its comparable word set.
func tokenize(s string) map[string]bool {
	s = strings.ToLower(strings.TrimSpace(s))
	s = delimiterReplacer.Replace(s)
	s = strings.Map(func(r rune) rune {
		if r < 128 && strings.ContainsRune(asciiPunct, r) {
			return -1
		}
		return r
	}, s)

	words := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		if !stopWords[w] {
			words[w] = true
		}
	}
	return words
}
