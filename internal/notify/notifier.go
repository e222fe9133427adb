// Package notify records activity-state transitions that need a human's
// attention and optionally forwards them to a hook command.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/samotage/claude-monitor/internal/activity"
	"github.com/samotage/claude-monitor/internal/logging"
)

var log = logging.ForComponent(logging.CompNotify)

// Delivery results recorded on each event.
const (
	deliverySent    = "sent"
	deliveryFailed  = "failed"
	deliveryDropped = "dropped"
)

// hookTimeout bounds the notification hook command.
const hookTimeout = 10 * time.Second

// Event is one notified transition, appended to the notification log.
type Event struct {
	SessionID      string    `json:"session_id"`
	SessionTitle   string    `json:"session_title,omitempty"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Timestamp      time.Time `json:"timestamp"`
	DeliveryResult string    `json:"delivery_result,omitempty"`
}

type dedupeRecord struct {
	From string `json:"from"`
	To   string `json:"to"`
	At   int64  `json:"at"`
}

type dedupeState struct {
	Records map[string]dedupeRecord `json:"records"`
}

// Options configures a Notifier.
type Options struct {
	// StateDir holds the dedupe state file and the notification log.
	StateDir string
	// Command, when set, runs per event with the event JSON on stdin.
	Command string
	// DedupeWindow suppresses a repeat of the same transition for the same
	// session inside the window.
	DedupeWindow time.Duration
}

// Notifier deduplicates and records attention-worthy transitions. Dedupe
// state survives restarts via a JSON state file.
type Notifier struct {
	statePath string
	logPath   string
	command   string
	window    time.Duration

	mu    sync.Mutex
	state dedupeState
}

// New creates a notifier rooted at opts.StateDir.
func New(opts Options) *Notifier {
	n := &Notifier{
		statePath: filepath.Join(opts.StateDir, "notify-state.json"),
		logPath:   filepath.Join(opts.StateDir, "notifications.jsonl"),
		command:   opts.Command,
		window:    opts.DedupeWindow,
		state:     dedupeState{Records: map[string]dedupeRecord{}},
	}
	n.loadState()
	return n
}

// ShouldNotify selects the transitions worth interrupting someone for: the
// agent finished working or stopped to ask for input.
func ShouldNotify(t activity.Transition) bool {
	if t.Previous == t.Current {
		return false
	}
	if t.Current == activity.StateInputNeeded {
		return true
	}
	return t.Previous == activity.StateProcessing && t.Current == activity.StateIdle
}

// Observe processes one scan cycle's transitions.
func (n *Notifier) Observe(transitions []activity.Transition, titles map[string]string) {
	for _, t := range transitions {
		if !ShouldNotify(t) {
			continue
		}
		event := Event{
			SessionID:    t.SessionID,
			SessionTitle: titles[t.SessionID],
			From:         string(t.Previous),
			To:           string(t.Current),
			Timestamp:    time.Now(),
		}
		if n.isDuplicate(event) {
			event.DeliveryResult = deliveryDropped
			n.logEvent(event)
			continue
		}
		event.DeliveryResult = n.dispatch(event)
		n.markNotified(event)
		n.logEvent(event)
	}
}

// ObserveStalled records sessions flagged as stuck in processing past the
// stall threshold. The dedupe window keeps a stuck session from re-notifying
// every scan cycle.
func (n *Notifier) ObserveStalled(sessionIDs []string, titles map[string]string) {
	for _, id := range sessionIDs {
		event := Event{
			SessionID:    id,
			SessionTitle: titles[id],
			From:         string(activity.StateProcessing),
			To:           "stalled",
			Timestamp:    time.Now(),
		}
		if n.isDuplicate(event) {
			continue
		}
		event.DeliveryResult = n.dispatch(event)
		n.markNotified(event)
		n.logEvent(event)
	}
}

// dispatch runs the hook command, if any, with the event JSON on stdin.
func (n *Notifier) dispatch(event Event) string {
	if n.command == "" {
		return deliverySent
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return deliveryFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "sh", "-c", n.command)
	cmd.Stdin = bytes.NewReader(payload)
	if err := cmd.Run(); err != nil {
		log.Warn("notify_hook_failed",
			slog.String("session_id", event.SessionID),
			slog.String("error", err.Error()))
		return deliveryFailed
	}
	return deliverySent
}

func (n *Notifier) isDuplicate(event Event) bool {
	if n.window <= 0 {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	record, ok := n.state.Records[event.SessionID]
	if !ok {
		return false
	}
	if record.From != event.From || record.To != event.To {
		return false
	}
	return event.Timestamp.Unix()-record.At <= int64(n.window.Seconds())
}

func (n *Notifier) markNotified(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state.Records == nil {
		n.state.Records = map[string]dedupeRecord{}
	}
	n.state.Records[event.SessionID] = dedupeRecord{
		From: event.From,
		To:   event.To,
		At:   event.Timestamp.Unix(),
	}
	_ = n.saveStateLocked()
}

func (n *Notifier) loadState() {
	data, err := os.ReadFile(n.statePath)
	if err != nil {
		return
	}
	var state dedupeState
	if err := json.Unmarshal(data, &state); err != nil {
		return
	}
	if state.Records == nil {
		state.Records = map[string]dedupeRecord{}
	}
	n.mu.Lock()
	n.state = state
	n.mu.Unlock()
}

func (n *Notifier) saveStateLocked() error {
	if err := os.MkdirAll(filepath.Dir(n.statePath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(n.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := n.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, n.statePath)
}

func (n *Notifier) logEvent(event Event) {
	if err := os.MkdirAll(filepath.Dir(n.logPath), 0o755); err != nil {
		return
	}
	line, err := json.Marshal(event)
	if err != nil {
		return
	}
	f, err := os.OpenFile(n.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(line, '\n'))
}
