package turns

import (
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/samotage/claude-monitor/internal/activity"
)

// summaryLines and summaryWidth bound the derived response summary.
const (
	summaryLines = 3
	summaryWidth = 160
)

// Summarize derives a short response summary from the raw capture tail:
// the last few non-blank lines, stripped of escape codes and spinner
// chrome, each truncated by display width.
func Summarize(rawTail string) string {
	cleaned := activity.StripSpinnerRunes(activity.StripANSI(rawTail))

	var kept []string
	lines := strings.Split(cleaned, "\n")
	for i := len(lines) - 1; i >= 0 && len(kept) < summaryLines; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		kept = append([]string{runewidth.Truncate(line, summaryWidth, "…")}, kept...)
	}
	return strings.Join(kept, "\n")
}
