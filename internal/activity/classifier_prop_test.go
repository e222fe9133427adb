package activity

import (
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

// Classification must be a pure function: identical captures always yield
// identical results, for any input, including garbage bytes.
func TestClassify_DeterministicProperty(t *testing.T) {
	c := NewClassifier("claude", nil)
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		title := rapid.String().Draw(t, "title")

		first := c.Classify(text, title)
		second := c.Classify(text, title)
		if first != second {
			t.Fatalf("classification not deterministic: %+v vs %+v", first, second)
		}
		if !first.State.Valid() {
			t.Fatalf("invalid state %q", first.State)
		}
	})
}

// Tail must always return valid UTF-8 within the byte budget, even when the
// cut lands inside a multibyte sequence.
func TestTail_LenientDecodeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		max := rapid.IntRange(0, 64).Draw(t, "max")

		got := Tail(s, max)
		if len(got) > max {
			t.Fatalf("tail %d bytes exceeds budget %d", len(got), max)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("tail produced invalid UTF-8: %q", got)
		}
	})
}

// The fingerprint must be insensitive to spinner frame flips and ANSI color
// churn: equal underlying text always hashes equal.
func TestFingerprint_NormalizationProperty(t *testing.T) {
	spinners := []string{"⠋", "⠙", "⠹", "⠸", "✳"}
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.StringMatching(`[a-z ]{0,40}`).Draw(t, "base")
		a := spinners[rapid.IntRange(0, len(spinners)-1).Draw(t, "a")]
		b := spinners[rapid.IntRange(0, len(spinners)-1).Draw(t, "b")]

		if Fingerprint(a+base) != Fingerprint(b+base) {
			t.Fatalf("spinner frame changed fingerprint for %q", base)
		}
		if Fingerprint("\x1b[32m"+base+"\x1b[0m") != Fingerprint(base) {
			t.Fatalf("ANSI color changed fingerprint for %q", base)
		}
	})
}
