package activity

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/samotage/claude-monitor/internal/logging"
)

var patternLog = logging.ForComponent(logging.CompStatus)

// RawPatterns holds string-form detection patterns before compilation.
// Entries prefixed with "re:" are compiled as regex; everything else is
// matched with strings.Contains (case-insensitive for busy/prompt).
//
// The completion-verb vocabulary is deliberately configuration, not a
// hard-coded constant: agent UIs change their wording across releases.
type RawPatterns struct {
	BusyTitleGlyphs []string // glyphs in the window title that mean "working"
	DoneTitleGlyphs []string // glyphs in the window title that mean "finished"
	BusyPatterns    []string // content patterns that mean "working"
	CompletionVerbs []string // content patterns that mean "response finished"
	PromptPatterns  []string // content patterns that mean "waiting for input"
	SpinnerChars    []string // animated chars, stripped before fingerprinting
}

// ResolvedPatterns holds compiled, ready-to-match patterns.
type ResolvedPatterns struct {
	BusyTitleGlyphs []string
	DoneTitleGlyphs []string

	BusyStrings   []string
	BusyRegexps   []*regexp.Regexp
	DoneStrings   []string
	DoneRegexps   []*regexp.Regexp
	PromptStrings []string
	PromptRegexps []*regexp.Regexp
	SpinnerChars  []string
}

// DefaultRawPatterns returns the built-in detection patterns for a known
// agent tool. Returns nil for unknown tools (they have no defaults).
func DefaultRawPatterns(tool string) *RawPatterns {
	switch strings.ToLower(tool) {
	case "claude":
		return &RawPatterns{
			BusyTitleGlyphs: []string{"✳"},
			DoneTitleGlyphs: []string{"✅", "✻"},
			BusyPatterns: []string{
				`re:(?m)^[✳✽✶✻✢·]\s*.+…`, // spinner + ellipsis status line
				"ctrl+c to interrupt",
				"esc to interrupt",
			},
			CompletionVerbs: defaultCompletionVerbs(),
			PromptPatterns: []string{
				"No, and tell Claude what to do differently",
				"Do you want",
				"Would you like",
				"(Y/n)", "(y/N)", "[Y/n]", "[y/N]",
				"❯ Yes", "❯ No",
			},
			SpinnerChars: defaultSpinnerChars(),
		}
	case "gemini":
		return &RawPatterns{
			BusyTitleGlyphs: []string{"✦"},
			BusyPatterns:    []string{"esc to cancel"},
			CompletionVerbs: defaultCompletionVerbs(),
			PromptPatterns:  []string{"gemini>", "Type your message"},
		}
	case "codex":
		return &RawPatterns{
			BusyPatterns: []string{
				"ctrl+c to interrupt",
				"esc to interrupt",
			},
			CompletionVerbs: defaultCompletionVerbs(),
			PromptPatterns:  []string{"codex>", "Continue?"},
		}
	case "shell":
		return &RawPatterns{
			PromptPatterns: []string{"$ ", "# ", "% "},
		}
	default:
		return nil
	}
}

// defaultCompletionVerbs is the fixed verb vocabulary that marks the tail of a
// finished agent response. Completeness against every UI version is unverified,
// which is why sessions stuck in processing past a threshold get flagged.
func defaultCompletionVerbs() []string {
	return []string{
		"Done",
		"Done!",
		"Completed",
		"Task completed",
		"Finished",
		"Tests passed",
		"All set",
		"What would you like",
		"Anything else",
		"Let me know if",
	}
}

// defaultSpinnerChars returns the braille and asterisk spinner frames used by
// Claude Code. These animate every frame and must be stripped before hashing.
func defaultSpinnerChars() []string {
	return []string{
		"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏",
		"✳", "✽", "✶", "✻", "✢", "·",
	}
}

// Compile turns raw patterns into ready-to-use ResolvedPatterns.
// Invalid "re:" entries are logged and skipped, never fatal.
func Compile(raw *RawPatterns) (*ResolvedPatterns, error) {
	if raw == nil {
		return nil, fmt.Errorf("nil RawPatterns")
	}

	rp := &ResolvedPatterns{
		BusyTitleGlyphs: copySlice(raw.BusyTitleGlyphs),
		DoneTitleGlyphs: copySlice(raw.DoneTitleGlyphs),
		SpinnerChars:    copySlice(raw.SpinnerChars),
	}
	rp.BusyStrings, rp.BusyRegexps = splitCompiled("busy", raw.BusyPatterns)
	rp.DoneStrings, rp.DoneRegexps = splitCompiled("completion", raw.CompletionVerbs)
	rp.PromptStrings, rp.PromptRegexps = splitCompiled("prompt", raw.PromptPatterns)
	return rp, nil
}

func splitCompiled(kind string, patterns []string) (strs []string, regexps []*regexp.Regexp) {
	for _, p := range patterns {
		if !strings.HasPrefix(p, "re:") {
			strs = append(strs, p)
			continue
		}
		re, err := regexp.Compile(p[3:])
		if err != nil {
			patternLog.Warn("invalid_pattern_regex",
				slog.String("kind", kind),
				slog.String("pattern", p),
				slog.String("error", err.Error()))
			continue
		}
		regexps = append(regexps, re)
	}
	return strs, regexps
}

// Merge combines defaults with overrides and extras.
//   - A non-nil override slice (even empty) replaces the default field.
//   - extras are appended after defaults or overrides.
func Merge(defaults, overrides, extras *RawPatterns) *RawPatterns {
	result := &RawPatterns{}
	if defaults != nil {
		result.BusyTitleGlyphs = copySlice(defaults.BusyTitleGlyphs)
		result.DoneTitleGlyphs = copySlice(defaults.DoneTitleGlyphs)
		result.BusyPatterns = copySlice(defaults.BusyPatterns)
		result.CompletionVerbs = copySlice(defaults.CompletionVerbs)
		result.PromptPatterns = copySlice(defaults.PromptPatterns)
		result.SpinnerChars = copySlice(defaults.SpinnerChars)
	}
	if overrides != nil {
		if overrides.BusyTitleGlyphs != nil {
			result.BusyTitleGlyphs = copySlice(overrides.BusyTitleGlyphs)
		}
		if overrides.DoneTitleGlyphs != nil {
			result.DoneTitleGlyphs = copySlice(overrides.DoneTitleGlyphs)
		}
		if overrides.BusyPatterns != nil {
			result.BusyPatterns = copySlice(overrides.BusyPatterns)
		}
		if overrides.CompletionVerbs != nil {
			result.CompletionVerbs = copySlice(overrides.CompletionVerbs)
		}
		if overrides.PromptPatterns != nil {
			result.PromptPatterns = copySlice(overrides.PromptPatterns)
		}
		if overrides.SpinnerChars != nil {
			result.SpinnerChars = copySlice(overrides.SpinnerChars)
		}
	}
	if extras != nil {
		result.BusyTitleGlyphs = append(result.BusyTitleGlyphs, extras.BusyTitleGlyphs...)
		result.DoneTitleGlyphs = append(result.DoneTitleGlyphs, extras.DoneTitleGlyphs...)
		result.BusyPatterns = append(result.BusyPatterns, extras.BusyPatterns...)
		result.CompletionVerbs = append(result.CompletionVerbs, extras.CompletionVerbs...)
		result.PromptPatterns = append(result.PromptPatterns, extras.PromptPatterns...)
		result.SpinnerChars = append(result.SpinnerChars, extras.SpinnerChars...)
	}
	return result
}

// spinnerRuneSet is every spinner-like rune stripped during normalization,
// including the done-state markers that still flip between captures.
var spinnerRuneSet = map[rune]bool{
	'⠋': true, '⠙': true, '⠹': true, '⠸': true, '⠼': true,
	'⠴': true, '⠦': true, '⠧': true, '⠇': true, '⠏': true,
	'·': true, '✳': true, '✽': true, '✶': true, '✻': true, '✢': true,
}

// StripSpinnerRunes removes animated spinner characters in one pass so that
// spinner frame flips do not change the content fingerprint.
func StripSpinnerRunes(s string) string {
	return strings.Map(func(r rune) rune {
		if spinnerRuneSet[r] {
			return -1
		}
		return r
	}, s)
}

func copySlice(s []string) []string {
	if s == nil {
		return nil
	}
	c := make([]string, len(s))
	copy(c, s)
	return c
}
