package bibtex

// MatchingClose scans text forward from start with one brace group
// already open and returns the index one past the '}' that closes it.
// Nested groups are honored to arbitrary depth. ok is false when the
// text ends before the group closes. Offsets are byte offsets; no
// escape sequences are recognized, so a literal \{ still counts.
func MatchingClose(text string, start int) (int, bool) {
	depth := 1
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
