package turns

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samotage/claude-monitor/internal/activity"
	"github.com/samotage/claude-monitor/internal/corrlog"
)

func newTestCorrelator(t *testing.T) (*Correlator, *corrlog.Appender) {
	t.Helper()
	sink, err := corrlog.NewAppender(filepath.Join(t.TempDir(), "log.jsonl"), 1, false)
	require.NoError(t, err)
	return NewCorrelator(sink, "tmux"), sink
}

func completionResult(marker string) activity.Result {
	return activity.Result{State: activity.StateIdle, CompletionMarker: marker}
}

func TestSubmitObserveCycle(t *testing.T) {
	c, sink := newTestCorrelator(t)

	turn, err := c.Submit("s1", "run tests")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, turn.Status)
	assert.True(t, c.Pending("s1"))

	// Processing poll with no completion evidence.
	assert.Nil(t, c.Observe("s1", activity.Result{State: activity.StateProcessing}, false, ""))
	assert.True(t, c.Pending("s1"))

	done := c.Observe("s1", completionResult("Tests passed"), false, "All 42 tests green\nTests passed. Done.")
	require.NotNil(t, done)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, activity.StateIdle, done.ResultState)
	assert.False(t, done.CompletedAt.IsZero())
	assert.Contains(t, done.ResponseSummary, "Tests passed")
	assert.False(t, c.Pending("s1"))

	records, err := sink.ReconstructTurns("s1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, turn.ID, records[0].CorrelationID)
	require.NotNil(t, records[0].Start)
	require.NotNil(t, records[0].Complete)
	assert.True(t, records[0].Complete.Success)
}

func TestSubmitWhilePendingRejected(t *testing.T) {
	c, _ := newTestCorrelator(t)

	_, err := c.Submit("s1", "first")
	require.NoError(t, err)
	_, err = c.Submit("s1", "second")
	assert.ErrorIs(t, err, ErrTurnPending)

	// A different session is unaffected.
	_, err = c.Submit("s2", "other")
	assert.NoError(t, err)
}

func TestObserve_CacheHitNeverCompletes(t *testing.T) {
	c, _ := newTestCorrelator(t)
	_, err := c.Submit("s1", "cmd")
	require.NoError(t, err)

	// Completion marker present but content unchanged: already acted upon.
	assert.Nil(t, c.Observe("s1", completionResult("Done"), true, "Done."))
	assert.True(t, c.Pending("s1"))

	// Same evidence on changed content completes.
	assert.NotNil(t, c.Observe("s1", completionResult("Done"), false, "Done."))
}

func TestObserve_LeftoverMarkerFromPreviousTurn(t *testing.T) {
	c, _ := newTestCorrelator(t)

	_, err := c.Submit("s1", "run tests")
	require.NoError(t, err)
	require.NotNil(t, c.Observe("s1", completionResult("Done"), false, "Tests passed. Done."))

	// The old verb is still on screen when the next command's echo lands.
	_, err = c.Submit("s1", "make lint")
	require.NoError(t, err)
	assert.Nil(t, c.Observe("s1", completionResult("Done"), false, "Tests passed. Done.\n> make lint"),
		"verb from the previous turn must not complete the new one")
	assert.True(t, c.Pending("s1"))

	// The agent visibly goes back to work, then finishes; the marker is
	// fresh evidence again even on an identical trailing line.
	assert.Nil(t, c.Observe("s1", activity.Result{State: activity.StateProcessing}, false, "⠋ linting"))
	done := c.Observe("s1", completionResult("Done"), false, "Tests passed. Done.")
	require.NotNil(t, done)
	assert.Equal(t, StatusCompleted, done.Status)
}

func TestObserve_MarkerOnNewLineCompletes(t *testing.T) {
	c, _ := newTestCorrelator(t)

	_, err := c.Submit("s1", "run tests")
	require.NoError(t, err)
	require.NotNil(t, c.Observe("s1", completionResult("Done"), false, "Tests passed. Done."))

	// No busy poll in between, but the response ends on a different line.
	_, err = c.Submit("s1", "run tests")
	require.NoError(t, err)
	done := c.Observe("s1", completionResult("Done"), false, "All 7 tests passed. Done.")
	require.NotNil(t, done)
	assert.Equal(t, StatusCompleted, done.Status)
}

func TestObserve_NoPendingTurnIsNoop(t *testing.T) {
	c, _ := newTestCorrelator(t)
	assert.Nil(t, c.Observe("s1", completionResult("Done"), false, "Done."))
}

func TestSweep_AbandonsAfterTwoMisses(t *testing.T) {
	c, sink := newTestCorrelator(t)
	turn, err := c.Submit("s1", "cmd")
	require.NoError(t, err)

	// First miss: still pending.
	assert.Empty(t, c.Sweep(map[string]bool{}))
	assert.True(t, c.Pending("s1"))

	// Reappearing resets the miss counter.
	assert.Empty(t, c.Sweep(map[string]bool{"s1": true}))
	assert.Empty(t, c.Sweep(map[string]bool{}))
	assert.True(t, c.Pending("s1"))

	abandoned := c.Sweep(map[string]bool{})
	require.Len(t, abandoned, 1)
	assert.Equal(t, StatusAbandoned, abandoned[0].Status)
	assert.False(t, c.Pending("s1"))

	// The turn_start entry survives in the log.
	records, err := sink.ReconstructTurns("s1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Start)
	assert.Equal(t, turn.ID, records[0].Start.CorrelationID)
	require.NotNil(t, records[0].Complete)
	assert.False(t, records[0].Complete.Success, "abandonment is recorded as unsuccessful completion")
}

func TestReset_AbandonsAllPending(t *testing.T) {
	c, _ := newTestCorrelator(t)
	_, err := c.Submit("s1", "a")
	require.NoError(t, err)
	_, err = c.Submit("s2", "b")
	require.NoError(t, err)

	abandoned := c.Reset()
	assert.Len(t, abandoned, 2)
	assert.False(t, c.Pending("s1"))
	assert.False(t, c.Pending("s2"))

	// Fresh submits are accepted after reset.
	_, err = c.Submit("s1", "again")
	assert.NoError(t, err)
}

func TestSummarize(t *testing.T) {
	tail := "\x1b[32m✓\x1b[0m compile ok\n\n⠋ cleanup\nAll tests passed\nDone.\n\n"
	s := Summarize(tail)
	lines := strings.Split(s, "\n")
	assert.LessOrEqual(t, len(lines), summaryLines)
	assert.Equal(t, "Done.", lines[len(lines)-1])
	assert.NotContains(t, s, "\x1b", "escape codes stripped")
	assert.NotContains(t, s, "⠋", "spinner runes stripped")

	long := strings.Repeat("x", 500)
	assert.LessOrEqual(t, len([]rune(Summarize(long))), summaryWidth+1)
}

func TestTurnDuration(t *testing.T) {
	turn := &Turn{}
	assert.Zero(t, turn.Duration(), "pending turn has no duration")
}
