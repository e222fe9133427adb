// Package tracker owns all per-session monitoring state: the fingerprint
// cache, sticky activity states, and the pending-turn map. One Tracker is
// shared between the periodic scan loop and the request-handling layer; it
// has an explicit lifecycle (New, Reset, Dispose) instead of package-level
// globals.
package tracker

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/samotage/claude-monitor/internal/activity"
	"github.com/samotage/claude-monitor/internal/backend"
	"github.com/samotage/claude-monitor/internal/corrlog"
	"github.com/samotage/claude-monitor/internal/logging"
	"github.com/samotage/claude-monitor/internal/turns"
)

var log = logging.ForComponent(logging.CompScan)

// captureLines is how much scrollback each poll inspects.
const captureLines = 200

// SessionStatus is one session's view in a scan report.
type SessionStatus struct {
	Session      backend.Session `json:"session"`
	State        activity.State  `json:"state"`
	LastActivity time.Time       `json:"last_activity,omitzero"`
	PendingTurn  bool            `json:"pending_turn"`
}

// ScanReport is the outcome of one scan cycle, fanned out to subscribers.
type ScanReport struct {
	At             time.Time             `json:"at"`
	Sessions       []SessionStatus       `json:"sessions"`
	Transitions    []activity.Transition `json:"transitions,omitempty"`
	CompletedTurns []*turns.Turn         `json:"completed_turns,omitempty"`
	AbandonedTurns []*turns.Turn         `json:"abandoned_turns,omitempty"`
	// Stalled lists sessions stuck in processing past the stall threshold,
	// a hint that the completion vocabulary may be missing a marker.
	Stalled []string `json:"stalled,omitempty"`
}

// Tracker coordinates capture, classification, and turn correlation for all
// sessions of one backend.
type Tracker struct {
	backend    backend.Backend
	classifier *activity.Classifier
	cache      *activity.Cache
	correlator *turns.Correlator
	sink       *corrlog.Appender

	stallThreshold time.Duration

	// generation invalidates in-flight polls across a reset; a poll only
	// writes back results if the generation it started under still holds.
	generation atomic.Uint64

	mu       sync.Mutex
	sessions map[string]backend.Session // latest enumeration snapshot
	disposed bool
}

// Options configures a Tracker.
type Options struct {
	Backend        backend.Backend
	Classifier     *activity.Classifier
	Sink           *corrlog.Appender
	StallThreshold time.Duration
}

// New creates a Tracker. A zero stall threshold disables stall detection.
func New(opts Options) *Tracker {
	return &Tracker{
		backend:        opts.Backend,
		classifier:     opts.Classifier,
		cache:          activity.NewCache(),
		correlator:     turns.NewCorrelator(opts.Sink, opts.Backend.Kind()),
		sink:           opts.Sink,
		stallThreshold: opts.StallThreshold,
	}
}

// Backend exposes the underlying backend for request handlers.
func (t *Tracker) Backend() backend.Backend { return t.backend }

// SetClassifier swaps the classifier, typically after a config reload
// recompiled the detection patterns. In-flight scans keep the old one.
func (t *Tracker) SetClassifier(c *activity.Classifier) {
	t.mu.Lock()
	t.classifier = c
	t.mu.Unlock()
}

func (t *Tracker) currentClassifier() *activity.Classifier {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.classifier
}

// State returns a session's current sticky activity state.
func (t *Tracker) State(sessionID string) activity.State {
	return t.cache.State(sessionID)
}

// Correlator exposes the turn correlator.
func (t *Tracker) Correlator() *turns.Correlator { return t.correlator }

// Sink exposes the correlation log appender for replay queries.
func (t *Tracker) Sink() *corrlog.Appender { return t.sink }

// Scan runs one capture/classify/correlate cycle over every enumerated
// session. Per-session work is strictly sequential; no tracker lock is held
// during backend I/O.
func (t *Tracker) Scan() *ScanReport {
	gen := t.generation.Load()
	classifier := t.currentClassifier()
	report := &ScanReport{At: time.Now().UTC()}

	sessions := t.backend.ListSessions()
	live := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		live[s.ID] = true
	}

	snapshot := make(map[string]backend.Session, len(sessions))
	for _, session := range sessions {
		snapshot[session.ID] = session

		capture, ok := t.backend.Capture(session, backend.CaptureOpts{Lines: captureLines})
		if !ok {
			// A failed capture leaves the previous state standing.
			report.Sessions = append(report.Sessions, t.statusFor(session))
			continue
		}

		unchanged, prev := t.cache.Observe(session.ID, capture.Text)

		// One line per session per poll would drown the log; these batch
		// into periodic summaries instead.
		var result activity.Result
		if unchanged {
			logging.Aggregate(logging.CompScan, "poll_cache_hit")
			result = activity.Result{State: prev}
		} else {
			result = classifier.Classify(capture.Text, capture.Title)
			logging.Aggregate(logging.CompScan, "poll_classified",
				slog.String("state", string(result.State)))
		}
		current := activity.Resolve(prev, result.State)

		// A reset raced this poll; its results describe a dead generation.
		if t.generation.Load() != gen {
			return report
		}

		if !unchanged {
			t.cache.SetState(session.ID, current)
			if prev != current {
				report.Transitions = append(report.Transitions, activity.Transition{
					SessionID: session.ID,
					Previous:  prev,
					Current:   current,
				})
			}
			if done := t.correlator.Observe(session.ID, result, false, activity.Tail(capture.Text, 2000)); done != nil {
				report.CompletedTurns = append(report.CompletedTurns, done)
			}
		}

		report.Sessions = append(report.Sessions, SessionStatus{
			Session:      session,
			State:        current,
			LastActivity: t.cache.LastActivity(session.ID),
			PendingTurn:  t.correlator.Pending(session.ID),
		})
	}

	t.cache.Retain(live)
	report.AbandonedTurns = t.correlator.Sweep(live)
	report.Stalled = t.findStalled(report.Sessions)

	if t.generation.Load() == gen {
		t.mu.Lock()
		if !t.disposed {
			t.sessions = snapshot
		}
		t.mu.Unlock()
	}

	if len(report.Transitions) > 0 || len(report.CompletedTurns) > 0 || len(report.AbandonedTurns) > 0 {
		log.Debug("scan_cycle",
			slog.Int("sessions", len(report.Sessions)),
			slog.Int("transitions", len(report.Transitions)),
			slog.Int("completed", len(report.CompletedTurns)),
			slog.Int("abandoned", len(report.AbandonedTurns)))
	}
	return report
}

func (t *Tracker) statusFor(session backend.Session) SessionStatus {
	return SessionStatus{
		Session:      session,
		State:        t.cache.State(session.ID),
		LastActivity: t.cache.LastActivity(session.ID),
		PendingTurn:  t.correlator.Pending(session.ID),
	}
}

func (t *Tracker) findStalled(statuses []SessionStatus) []string {
	if t.stallThreshold <= 0 {
		return nil
	}
	var stalled []string
	for _, s := range statuses {
		if s.State != activity.StateProcessing || s.LastActivity.IsZero() {
			continue
		}
		if time.Since(s.LastActivity) > t.stallThreshold {
			stalled = append(stalled, s.Session.ID)
		}
	}
	return stalled
}

// Lookup resolves a session id against the latest enumeration snapshot.
func (t *Tracker) Lookup(sessionID string) (backend.Session, bool) {
	t.mu.Lock()
	session, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if ok {
		return session, true
	}
	// Snapshot may be cold (before the first scan); fall back to a list.
	for _, s := range t.backend.ListSessions() {
		if s.ID == sessionID {
			return s, true
		}
	}
	return backend.Session{}, false
}

// SubmitCommand opens a turn and sends the command to the session. The turn
// is rolled back if the send fails; a session with a pending turn rejects
// the submit.
func (t *Tracker) SubmitCommand(sessionID, command string) (*turns.Turn, error) {
	session, ok := t.Lookup(sessionID)
	if !ok {
		return nil, backend.ErrSessionNotFound
	}
	turn, err := t.correlator.Submit(sessionID, command)
	if err != nil {
		return nil, err
	}
	if err := t.backend.Send(session, command, true, turn.ID); err != nil {
		t.correlator.Abandon(sessionID)
		return nil, fmt.Errorf("send command: %w", err)
	}
	return turn, nil
}

// CaptureNow takes an immediate capture outside the scan cycle and returns
// the text with the session's current state. Manual captures are correlated:
// each one appends a direction-in entry to the correlation log, success or
// not.
func (t *Tracker) CaptureNow(sessionID string) (string, activity.State, error) {
	session, ok := t.Lookup(sessionID)
	if !ok {
		return "", activity.StateUnknown, backend.ErrSessionNotFound
	}
	correlationID := uuid.NewString()
	capture, ok := t.backend.Capture(session, backend.CaptureOpts{
		Lines:         captureLines,
		CorrelationID: correlationID,
	})
	if t.sink != nil {
		entry := corrlog.NewEntry(sessionID, t.backend.Kind(), corrlog.DirectionIn, corrlog.EventCapture)
		entry.CorrelationID = correlationID
		entry.Success = ok
		entry.SetPayload(capture.Text)
		_ = t.sink.Append(entry)
	}
	if !ok {
		return "", t.cache.State(sessionID), backend.ErrTransportTimeout
	}
	return capture.Text, t.cache.State(sessionID), nil
}

// Reset atomically clears all per-session tracking state. In-flight polls
// from before the reset observe the generation bump and discard their
// results instead of resurrecting stale state.
func (t *Tracker) Reset() []*turns.Turn {
	t.generation.Add(1)
	abandoned := t.correlator.Reset()
	t.cache.Reset()
	backend.ResetProbes()

	t.mu.Lock()
	t.sessions = nil
	t.mu.Unlock()

	if t.sink != nil {
		entry := corrlog.NewEntry("", t.backend.Kind(), corrlog.DirectionOut, corrlog.EventReset)
		entry.Success = true
		_ = t.sink.Append(entry)
	}
	log.Info("tracking_state_reset", slog.Int("abandoned_turns", len(abandoned)))
	return abandoned
}

// Dispose marks the tracker dead. Scans started after Dispose still run but
// never write back a snapshot.
func (t *Tracker) Dispose() {
	t.generation.Add(1)
	t.mu.Lock()
	t.disposed = true
	t.sessions = nil
	t.mu.Unlock()
}
