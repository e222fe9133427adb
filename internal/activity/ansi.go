package activity

import "strings"

// StripANSI removes ANSI escape sequences in a single O(n) pass.
// Terminal captures are full of color codes; they must not reach the
// pattern matchers or the content hash.
//
// Deliberately not regex-based: complex ANSI regexes can backtrack
// catastrophically on malformed sequences from a truncated capture.
func StripANSI(content string) string {
	// Fast path: no ESC and no 8-bit CSI present.
	if strings.IndexByte(content, 0x1b) < 0 && strings.IndexByte(content, 0x9b) < 0 {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))

	i := 0
	for i < len(content) {
		c := content[i]
		switch {
		case c == 0x1b && i+1 < len(content) && content[i+1] == '[':
			i = skipCSI(content, i+2)
		case c == 0x1b && i+1 < len(content) && content[i+1] == ']':
			i = skipOSC(content, i)
		case c == 0x1b:
			// Bare ESC plus one byte (SS2/SS3 etc., or trailing ESC).
			i += 2
		case c == 0x9b:
			i = skipCSI(content, i+1)
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// skipCSI advances past a CSI body starting at i, returning the index after
// the terminating letter (or end of string).
func skipCSI(s string, i int) int {
	for i < len(s) {
		c := s[i]
		i++
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
			break
		}
	}
	return i
}

// skipOSC advances past an OSC sequence starting at the ESC, terminated by
// BEL or ST (ESC \). An unterminated OSC swallows the rest of the string.
func skipOSC(s string, i int) int {
	if bell := strings.IndexByte(s[i:], 0x07); bell >= 0 {
		return i + bell + 1
	}
	if st := strings.Index(s[i:], "\x1b\\"); st >= 0 {
		return i + st + 2
	}
	return len(s)
}

// stripControlChars removes ASCII control characters except tab, newline,
// and carriage return. Stabilizes content for hashing.
func stripControlChars(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		if (r >= 32 && r != 127) || r == '\t' || r == '\n' || r == '\r' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
