package notify

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samotage/claude-monitor/internal/activity"
)

func TestShouldNotify(t *testing.T) {
	tests := []struct {
		name string
		prev activity.State
		curr activity.State
		want bool
	}{
		{"input needed", activity.StateProcessing, activity.StateInputNeeded, true},
		{"input needed from unknown", activity.StateUnknown, activity.StateInputNeeded, true},
		{"finished working", activity.StateProcessing, activity.StateIdle, true},
		{"started working", activity.StateIdle, activity.StateProcessing, false},
		{"idle from unknown", activity.StateUnknown, activity.StateIdle, false},
		{"no change", activity.StateIdle, activity.StateIdle, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldNotify(activity.Transition{SessionID: "s1", Previous: tt.prev, Current: tt.curr})
			assert.Equal(t, tt.want, got)
		})
	}
}

func readEvents(t *testing.T, dir string) []Event {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "notifications.jsonl"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	return events
}

func finished(id string) activity.Transition {
	return activity.Transition{SessionID: id, Previous: activity.StateProcessing, Current: activity.StateIdle}
}

func TestObserve_LogsAndDedupes(t *testing.T) {
	dir := t.TempDir()
	n := New(Options{StateDir: dir, DedupeWindow: time.Minute})

	n.Observe([]activity.Transition{finished("s1")}, map[string]string{"s1": "proj"})
	events := readEvents(t, dir)
	require.Len(t, events, 1)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, "proj", events[0].SessionTitle)
	assert.Equal(t, deliverySent, events[0].DeliveryResult)

	// Same transition inside the window is dropped.
	n.Observe([]activity.Transition{finished("s1")}, nil)
	events = readEvents(t, dir)
	require.Len(t, events, 2)
	assert.Equal(t, deliveryDropped, events[1].DeliveryResult)

	// A different transition passes.
	n.Observe([]activity.Transition{{
		SessionID: "s1",
		Previous:  activity.StateIdle,
		Current:   activity.StateInputNeeded,
	}}, nil)
	events = readEvents(t, dir)
	require.Len(t, events, 3)
	assert.Equal(t, deliverySent, events[2].DeliveryResult)
}

func TestObserve_DedupeStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	n := New(Options{StateDir: dir, DedupeWindow: time.Hour})
	n.Observe([]activity.Transition{finished("s1")}, nil)

	n2 := New(Options{StateDir: dir, DedupeWindow: time.Hour})
	n2.Observe([]activity.Transition{finished("s1")}, nil)

	events := readEvents(t, dir)
	require.Len(t, events, 2)
	assert.Equal(t, deliveryDropped, events[1].DeliveryResult)
}

func TestObserve_IgnoredTransitionsLogNothing(t *testing.T) {
	dir := t.TempDir()
	n := New(Options{StateDir: dir, DedupeWindow: time.Minute})
	n.Observe([]activity.Transition{{
		SessionID: "s1",
		Previous:  activity.StateIdle,
		Current:   activity.StateProcessing,
	}}, nil)
	assert.Empty(t, readEvents(t, dir))
}

func TestObserveStalled_LogsOncePerWindow(t *testing.T) {
	dir := t.TempDir()
	n := New(Options{StateDir: dir, DedupeWindow: time.Hour})

	n.ObserveStalled([]string{"s1"}, map[string]string{"s1": "proj"})
	events := readEvents(t, dir)
	require.Len(t, events, 1)
	assert.Equal(t, "stalled", events[0].To)
	assert.Equal(t, string(activity.StateProcessing), events[0].From)
	assert.Equal(t, "proj", events[0].SessionTitle)

	// The same session re-flagged on the next cycle stays quiet.
	n.ObserveStalled([]string{"s1"}, nil)
	assert.Len(t, readEvents(t, dir), 1)
}

func TestDispatch_HookCommand(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "hook-out.json")
	n := New(Options{StateDir: dir, Command: "cat > " + out, DedupeWindow: time.Minute})

	n.Observe([]activity.Transition{finished("s1")}, nil)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var e Event
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, "s1", e.SessionID)

	events := readEvents(t, dir)
	require.Len(t, events, 1)
	assert.Equal(t, deliverySent, events[0].DeliveryResult)
}

func TestDispatch_FailingHookRecorded(t *testing.T) {
	dir := t.TempDir()
	n := New(Options{StateDir: dir, Command: "exit 1", DedupeWindow: time.Minute})
	n.Observe([]activity.Transition{finished("s1")}, nil)

	events := readEvents(t, dir)
	require.Len(t, events, 1)
	assert.Equal(t, deliveryFailed, events[0].DeliveryResult)
}
