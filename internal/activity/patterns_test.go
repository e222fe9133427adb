package activity

import (
	"strings"
	"testing"
)

func TestDefaultRawPatterns(t *testing.T) {
	for _, tool := range []string{"claude", "gemini", "codex", "shell"} {
		if DefaultRawPatterns(tool) == nil {
			t.Errorf("no defaults for known tool %q", tool)
		}
	}
	if DefaultRawPatterns("CLAUDE") == nil {
		t.Error("tool lookup should be case-insensitive")
	}
	if DefaultRawPatterns("vim") != nil {
		t.Error("unknown tool should have no defaults")
	}
}

func TestCompile(t *testing.T) {
	raw := &RawPatterns{
		BusyPatterns:    []string{"esc to interrupt", `re:^[✳✽]\s`},
		CompletionVerbs: []string{"Done"},
		PromptPatterns:  []string{"re:("}, // invalid regex, skipped
	}
	rp, err := Compile(raw)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(rp.BusyStrings) != 1 || rp.BusyStrings[0] != "esc to interrupt" {
		t.Errorf("BusyStrings = %v", rp.BusyStrings)
	}
	if len(rp.BusyRegexps) != 1 {
		t.Fatalf("BusyRegexps = %v", rp.BusyRegexps)
	}
	if !rp.BusyRegexps[0].MatchString("✳ Thinking") {
		t.Error("compiled busy regex should match spinner line")
	}
	if len(rp.PromptStrings) != 0 || len(rp.PromptRegexps) != 0 {
		t.Error("invalid prompt regex should be dropped, not kept as a literal")
	}
	if _, err := Compile(nil); err == nil {
		t.Error("Compile(nil) should fail")
	}
}

func TestMerge(t *testing.T) {
	defaults := DefaultRawPatterns("claude")

	t.Run("nil override keeps defaults", func(t *testing.T) {
		merged := Merge(defaults, nil, nil)
		if len(merged.BusyPatterns) != len(defaults.BusyPatterns) {
			t.Errorf("BusyPatterns = %v", merged.BusyPatterns)
		}
	})

	t.Run("override replaces field", func(t *testing.T) {
		merged := Merge(defaults, &RawPatterns{CompletionVerbs: []string{"Fertig"}}, nil)
		if len(merged.CompletionVerbs) != 1 || merged.CompletionVerbs[0] != "Fertig" {
			t.Errorf("CompletionVerbs = %v", merged.CompletionVerbs)
		}
		if len(merged.BusyPatterns) == 0 {
			t.Error("untouched fields should keep defaults")
		}
	})

	t.Run("empty override clears field", func(t *testing.T) {
		merged := Merge(defaults, &RawPatterns{PromptPatterns: []string{}}, nil)
		if len(merged.PromptPatterns) != 0 {
			t.Errorf("PromptPatterns = %v", merged.PromptPatterns)
		}
	})

	t.Run("extras append", func(t *testing.T) {
		merged := Merge(defaults, nil, &RawPatterns{BusyPatterns: []string{"compiling"}})
		if merged.BusyPatterns[len(merged.BusyPatterns)-1] != "compiling" {
			t.Errorf("BusyPatterns = %v", merged.BusyPatterns)
		}
	})

	t.Run("merge does not alias defaults", func(t *testing.T) {
		merged := Merge(defaults, nil, nil)
		merged.BusyPatterns[0] = "mutated"
		if defaults.BusyPatterns[0] == "mutated" {
			t.Error("Merge must copy slices")
		}
	})
}

func TestStripSpinnerRunes(t *testing.T) {
	in := "⠋ Thinking\n✳ working\nplain line"
	out := StripSpinnerRunes(in)
	if strings.ContainsAny(out, "⠋✳") {
		t.Errorf("spinner runes survived: %q", out)
	}
	if !strings.Contains(out, "plain line") {
		t.Errorf("non-spinner content lost: %q", out)
	}
}
