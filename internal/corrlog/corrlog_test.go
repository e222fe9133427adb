package corrlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAppender(t *testing.T, retention int) *Appender {
	t.Helper()
	a, err := NewAppender(filepath.Join(t.TempDir(), "correlation.jsonl"), retention, false)
	require.NoError(t, err)
	return a
}

func readLines(t *testing.T, path string) []LogEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*MaxPayloadBytes)
	for scanner.Scan() {
		var e LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestAppend_WritesJSONLines(t *testing.T) {
	a := newTestAppender(t, 2)

	e := NewEntry("s1", "tmux", DirectionOut, EventSend)
	e.CorrelationID = "c1"
	e.Success = true
	e.SetPayload("run tests")
	require.NoError(t, a.Append(e))

	entries := readLines(t, a.Path())
	require.Len(t, entries, 1)
	assert.Equal(t, "s1", entries[0].SessionID)
	assert.Equal(t, EventSend, entries[0].Event)
	assert.Equal(t, "run tests", entries[0].Payload)
	assert.False(t, entries[0].Truncated)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestSetPayload_Truncation(t *testing.T) {
	// The byte cut lands inside the first rune of 日本語.
	big := strings.Repeat("x", MaxPayloadBytes-1) + "日本語"

	e := NewEntry("s1", "tmux", DirectionIn, EventCapture)
	e.SetPayload(big)

	assert.True(t, e.Truncated)
	assert.Equal(t, len(big), e.OriginalSize)
	assert.LessOrEqual(t, len(e.Payload), MaxPayloadBytes+len(truncationMarker))
	assert.True(t, strings.HasSuffix(e.Payload, truncationMarker))
	assert.True(t, utf8.ValidString(e.Payload))
}

func TestSetPayload_SmallPassthrough(t *testing.T) {
	e := NewEntry("s1", "tmux", DirectionIn, EventCapture)
	e.SetPayload("short")
	assert.Equal(t, "short", e.Payload)
	assert.False(t, e.Truncated)
	assert.Zero(t, e.OriginalSize)
}

func TestRotation(t *testing.T) {
	a := newTestAppender(t, 2)

	// A full-size payload makes each line ~10KiB, so ~1000 lines pass the
	// 10MiB threshold within a few seconds of test time.
	payload := strings.Repeat("y", MaxPayloadBytes)
	for i := 0; i < 1100; i++ {
		e := NewEntry("s1", "tmux", DirectionIn, EventCapture)
		e.SetPayload(payload)
		require.NoError(t, a.Append(e))
	}

	_, err := os.Stat(rotatedName(a.Path(), 1))
	require.NoError(t, err, "expected a rotated sibling")
	info, err := os.Stat(a.Path())
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(maxFileBytes))
}

func TestRotation_RetentionDiscardsOldest(t *testing.T) {
	a := newTestAppender(t, 2)

	// Seed fake generations, then force one rotation past capacity.
	require.NoError(t, os.WriteFile(rotatedName(a.Path(), 1), []byte("gen1\n"), 0o644))
	require.NoError(t, os.WriteFile(rotatedName(a.Path(), 2), []byte("gen2\n"), 0o644))
	require.NoError(t, os.WriteFile(a.Path(), []byte("active\n"), 0o644))
	require.NoError(t, a.rotate())

	data, err := os.ReadFile(rotatedName(a.Path(), 1))
	require.NoError(t, err)
	assert.Equal(t, "active\n", string(data))
	data, err = os.ReadFile(rotatedName(a.Path(), 2))
	require.NoError(t, err)
	assert.Equal(t, "gen1\n", string(data), "gen2 is past retention and dropped")
	_, err = os.Stat(a.Path())
	assert.True(t, os.IsNotExist(err), "active file is renamed away")
}

func TestReconstructTurns(t *testing.T) {
	a := newTestAppender(t, 2)
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	appendTurn := func(corrID, sessionID string, startAt time.Time, complete bool) {
		start := NewEntry(sessionID, "tmux", DirectionOut, EventTurnStart)
		start.CorrelationID = corrID
		start.Timestamp = startAt
		start.Success = true
		require.NoError(t, a.Append(start))
		if complete {
			done := NewEntry(sessionID, "tmux", DirectionIn, EventTurnComplete)
			done.CorrelationID = corrID
			done.Timestamp = startAt.Add(30 * time.Second)
			done.Success = true
			require.NoError(t, a.Append(done))
		}
	}

	appendTurn("c1", "s1", base, true)
	appendTurn("c2", "s1", base.Add(time.Minute), false)
	appendTurn("c3", "s2", base.Add(2*time.Minute), true)

	t.Run("all sessions newest first", func(t *testing.T) {
		records, err := a.ReconstructTurns("")
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "c3", records[0].CorrelationID)
		assert.Equal(t, "c2", records[1].CorrelationID)
		assert.Equal(t, "c1", records[2].CorrelationID)
	})

	t.Run("incomplete turn has nil complete", func(t *testing.T) {
		records, err := a.ReconstructTurns("")
		require.NoError(t, err)
		var c2 *TurnRecord
		for _, r := range records {
			if r.CorrelationID == "c2" {
				c2 = r
			}
		}
		require.NotNil(t, c2)
		assert.NotNil(t, c2.Start)
		assert.Nil(t, c2.Complete)
	})

	t.Run("session filter", func(t *testing.T) {
		records, err := a.ReconstructTurns("s2")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "c3", records[0].CorrelationID)
	})
}

func TestReconstructTurns_SpansRotations(t *testing.T) {
	a := newTestAppender(t, 2)

	start := NewEntry("s1", "tmux", DirectionOut, EventTurnStart)
	start.CorrelationID = "c1"
	require.NoError(t, a.Append(start))
	require.NoError(t, a.rotate())

	done := NewEntry("s1", "tmux", DirectionIn, EventTurnComplete)
	done.CorrelationID = "c1"
	require.NoError(t, a.Append(done))

	records, err := a.ReconstructTurns("")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotNil(t, records[0].Start)
	assert.NotNil(t, records[0].Complete)
}

func TestReconstructTurns_SkipsMalformedLines(t *testing.T) {
	a := newTestAppender(t, 0)
	require.NoError(t, os.WriteFile(a.Path(), []byte("not json\n"), 0o644))

	start := NewEntry("s1", "tmux", DirectionOut, EventTurnStart)
	start.CorrelationID = "c1"
	require.NoError(t, a.Append(start))

	records, err := a.ReconstructTurns("")
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestAppend_FailureCounted(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAppender(filepath.Join(dir, "log.jsonl"), 1, false)
	require.NoError(t, err)

	// Make the path unwritable by turning it into a directory.
	require.NoError(t, os.Mkdir(a.Path(), 0o755))
	e := NewEntry("s1", "tmux", DirectionIn, EventCapture)
	assert.Error(t, a.Append(e))
	assert.Equal(t, int64(1), a.Failures())
}
