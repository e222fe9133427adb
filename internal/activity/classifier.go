package activity

import (
	"strings"
)

// tailWindow bounds how much captured text the classifier inspects.
// Status lines, prompts, and completion verbs all live at the bottom of the
// screen; scanning the full scrollback would just slow the poll loop down.
const tailWindow = 5000

// recentLineCount bounds how many trailing lines pattern matching sees.
const recentLineCount = 25

// Result is one classification outcome. CompletionMarker is set when the
// state was derived from completion-verb evidence, so the correlator can
// record which token fired.
type Result struct {
	State            State
	CompletionMarker string
}

// Classifier turns a raw capture and window title into an activity state.
// It is a pure function of its inputs: same (text, title) always yields the
// same Result. Sticky-state resolution against the previous state happens in
// the tracker via Resolve.
type Classifier struct {
	tool     string
	patterns *ResolvedPatterns
}

// NewClassifier builds a classifier for an agent tool. A nil patterns
// argument selects the built-in defaults for that tool; unknown tools get
// title-glyph detection only.
func NewClassifier(tool string, patterns *ResolvedPatterns) *Classifier {
	if patterns == nil {
		if raw := DefaultRawPatterns(tool); raw != nil {
			patterns, _ = Compile(raw)
		} else {
			patterns = &ResolvedPatterns{}
		}
	}
	return &Classifier{tool: strings.ToLower(tool), patterns: patterns}
}

// Tool returns the agent tool this classifier was built for.
func (c *Classifier) Tool() string { return c.tool }

// Classify runs the detection priority order:
//  1. busy glyph in the title, or busy pattern in the trailing content -> processing
//  2. completion verb (or done glyph in the title) -> idle, with marker
//  3. interactive prompt signature at the tail -> input_needed
//  4. otherwise -> unknown
//
// Empty captures and captures truncated mid-rune decode leniently and
// resolve to unknown rather than erroring.
func (c *Classifier) Classify(text, title string) Result {
	if c.titleShowsBusy(title) {
		return Result{State: StateProcessing}
	}

	tail := Tail(text, tailWindow)
	if tail == "" && title == "" {
		return Result{State: StateUnknown}
	}

	clean := StripANSI(tail)
	recent := lastNLines(clean, recentLineCount)
	recentJoined := strings.Join(recent, "\n")
	recentLower := strings.ToLower(recentJoined)

	for _, re := range c.patterns.BusyRegexps {
		if re.MatchString(recentJoined) {
			return Result{State: StateProcessing}
		}
	}
	for _, s := range c.patterns.BusyStrings {
		if strings.Contains(recentLower, strings.ToLower(s)) {
			return Result{State: StateProcessing}
		}
	}

	if marker := c.completionMarker(title, recentJoined, recentLower); marker != "" {
		return Result{State: StateIdle, CompletionMarker: marker}
	}

	if c.hasPromptSignature(recent, recentLower) {
		return Result{State: StateInputNeeded}
	}

	return Result{State: StateUnknown}
}

// titleShowsBusy checks the window title for busy evidence: a configured
// busy glyph, or any braille spinner frame (U+2800-U+28FF) which Claude Code
// sets via OSC title sequences while working.
func (c *Classifier) titleShowsBusy(title string) bool {
	if title == "" {
		return false
	}
	for _, glyph := range c.patterns.BusyTitleGlyphs {
		if strings.Contains(title, glyph) {
			return true
		}
	}
	for _, r := range title {
		if r >= 0x2800 && r <= 0x28FF {
			return true
		}
	}
	return false
}

// completionMarker returns the completion token found in the title or trailing
// content, or "" when there is no completion evidence.
func (c *Classifier) completionMarker(title, recent, recentLower string) string {
	for _, glyph := range c.patterns.DoneTitleGlyphs {
		if glyph != "" && strings.Contains(title, glyph) {
			return glyph
		}
	}
	for _, re := range c.patterns.DoneRegexps {
		if m := re.FindString(recent); m != "" {
			return m
		}
	}
	for _, verb := range c.patterns.DoneStrings {
		if strings.Contains(recentLower, strings.ToLower(verb)) {
			return verb
		}
	}
	return ""
}

// hasPromptSignature checks the trailing lines for interactive-prompt
// evidence: a configured prompt pattern, or a question mark ending the last
// non-blank line.
func (c *Classifier) hasPromptSignature(recent []string, recentLower string) bool {
	for _, re := range c.patterns.PromptRegexps {
		for _, line := range recent {
			if re.MatchString(line) {
				return true
			}
		}
	}
	for _, s := range c.patterns.PromptStrings {
		if strings.Contains(recentLower, strings.ToLower(s)) {
			return true
		}
	}

	for i := len(recent) - 1; i >= 0; i-- {
		line := strings.TrimSpace(recent[i])
		if line == "" {
			continue
		}
		return strings.HasSuffix(line, "?")
	}
	return false
}

// Tail returns the final max bytes of s, decoded leniently: a cut that lands
// mid-rune drops the partial sequence instead of propagating invalid UTF-8.
func Tail(s string, max int) string {
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return strings.ToValidUTF8(s, "")
}

// lastNLines returns up to n trailing lines with trailing blank lines removed.
func lastNLines(content string, n int) []string {
	lines := strings.Split(content, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if start := len(lines) - n; start > 0 {
		lines = lines[start:]
	}
	return lines
}
