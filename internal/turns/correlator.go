// Package turns correlates submitted commands with completed agent
// responses. Each session runs a small state machine: idle, pending(turn),
// back to idle on completion, or abandoned when the session vanishes or is
// reset while pending.
package turns

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samotage/claude-monitor/internal/activity"
	"github.com/samotage/claude-monitor/internal/corrlog"
	"github.com/samotage/claude-monitor/internal/logging"
)

var log = logging.ForComponent(logging.CompTurns)

// ErrTurnPending rejects a submit while the session already has a pending
// turn. The caller waits for completion or abandonment.
var ErrTurnPending = errors.New("turn already pending for session")

// abandonAfterMisses is how many consecutive enumerations a session may be
// absent from before its pending turn is marked abandoned.
const abandonAfterMisses = 2

// Turn statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// Turn is one command-to-response cycle. Created on submit, mutated exactly
// once on completion or abandonment.
type Turn struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	Command         string         `json:"command"`
	SubmittedAt     time.Time      `json:"submitted_at"`
	CompletedAt     time.Time      `json:"completed_at,omitzero"`
	Status          string         `json:"status"`
	ResultState     activity.State `json:"result_state,omitempty"`
	ResponseSummary string         `json:"response_summary,omitempty"`
}

// Duration is the submit-to-completion span, zero while pending.
func (t *Turn) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.SubmittedAt)
}

// Correlator tracks at most one pending turn per session. The lock guards
// only the maps; log appends happen outside it.
type Correlator struct {
	sink        *corrlog.Appender
	backendKind string

	mu       sync.Mutex
	pending  map[string]*Turn
	misses   map[string]int
	consumed map[string]string
}

// NewCorrelator creates a correlator appending turn events to sink.
func NewCorrelator(sink *corrlog.Appender, backendKind string) *Correlator {
	return &Correlator{
		sink:        sink,
		backendKind: backendKind,
		pending:     make(map[string]*Turn),
		misses:      make(map[string]int),
		consumed:    make(map[string]string),
	}
}

// Submit opens a turn for a session. Only valid from idle; a second submit
// while pending is rejected with ErrTurnPending.
func (c *Correlator) Submit(sessionID, command string) (*Turn, error) {
	turn := &Turn{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Command:     command,
		SubmittedAt: time.Now().UTC(),
		Status:      StatusPending,
	}

	c.mu.Lock()
	if _, exists := c.pending[sessionID]; exists {
		c.mu.Unlock()
		return nil, ErrTurnPending
	}
	c.pending[sessionID] = turn
	c.misses[sessionID] = 0
	c.mu.Unlock()

	c.appendStart(turn)
	log.Debug("turn_started",
		slog.String("session_id", sessionID),
		slog.String("turn_id", turn.ID))
	return turn, nil
}

// Observe feeds one poll result for a session. unchanged=true means the
// fingerprint cache saw identical content; completion evidence on unchanged
// content was already acted on and must never re-trigger. A completion verb
// left on screen from the previous turn is stale the same way: the marker is
// keyed to the trailing line it sits on, and while that line is unchanged it
// cannot complete a newly submitted turn. Returns the completed turn, or nil
// when nothing completed.
func (c *Correlator) Observe(sessionID string, result activity.Result, unchanged bool, rawTail string) *Turn {
	if unchanged {
		return nil
	}
	if result.CompletionMarker == "" {
		if result.State == activity.StateProcessing {
			// The session visibly went back to work; whatever marker shows
			// up after this is new output.
			c.mu.Lock()
			delete(c.consumed, sessionID)
			c.mu.Unlock()
		}
		return nil
	}
	evidence := completionEvidence(result.CompletionMarker, rawTail)

	c.mu.Lock()
	turn, ok := c.pending[sessionID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if c.consumed[sessionID] == evidence {
		// Leftover verb from the last completed turn.
		c.mu.Unlock()
		return nil
	}
	delete(c.pending, sessionID)
	delete(c.misses, sessionID)
	c.consumed[sessionID] = evidence

	turn.CompletedAt = time.Now().UTC()
	turn.Status = StatusCompleted
	turn.ResultState = activity.StateIdle
	turn.ResponseSummary = Summarize(rawTail)
	c.mu.Unlock()

	c.appendComplete(turn, result.CompletionMarker)
	log.Debug("turn_completed",
		slog.String("session_id", sessionID),
		slog.String("turn_id", turn.ID),
		slog.Float64("duration_seconds", turn.Duration().Seconds()))
	return turn
}

// completionEvidence keys a marker to the trailing line it appears on. Title
// glyphs and markers outside the tail fall back to the bare marker.
func completionEvidence(marker, rawTail string) string {
	lines := strings.Split(activity.StripANSI(rawTail), "\n")
	lower := strings.ToLower(marker)
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.Contains(strings.ToLower(line), lower) {
			return marker + "\x00" + line
		}
	}
	return marker
}

// Pending reports whether a session has an open turn.
func (c *Correlator) Pending(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[sessionID]
	return ok
}

// Sweep reconciles pending turns against the latest enumeration. A session
// absent from abandonAfterMisses consecutive sweeps has its turn abandoned
// and all tracking for that id purged, so a later session reusing the id
// starts clean. Returns the abandoned turns.
func (c *Correlator) Sweep(live map[string]bool) []*Turn {
	c.mu.Lock()
	for sessionID := range c.consumed {
		if !live[sessionID] {
			delete(c.consumed, sessionID)
		}
	}
	var abandoned []*Turn
	for sessionID, turn := range c.pending {
		if live[sessionID] {
			c.misses[sessionID] = 0
			continue
		}
		c.misses[sessionID]++
		if c.misses[sessionID] < abandonAfterMisses {
			continue
		}
		delete(c.pending, sessionID)
		delete(c.misses, sessionID)
		turn.CompletedAt = time.Now().UTC()
		turn.Status = StatusAbandoned
		turn.ResultState = activity.StateUnknown
		abandoned = append(abandoned, turn)
	}
	c.mu.Unlock()

	for _, turn := range abandoned {
		c.appendComplete(turn, "")
		log.Info("turn_abandoned",
			slog.String("session_id", turn.SessionID),
			slog.String("turn_id", turn.ID))
	}
	return abandoned
}

// Abandon closes the pending turn for one session, if any. Used when the
// send behind a submit fails and the turn can never complete.
func (c *Correlator) Abandon(sessionID string) *Turn {
	c.mu.Lock()
	turn, ok := c.pending[sessionID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.pending, sessionID)
	delete(c.misses, sessionID)
	turn.CompletedAt = time.Now().UTC()
	turn.Status = StatusAbandoned
	turn.ResultState = activity.StateUnknown
	c.mu.Unlock()

	c.appendComplete(turn, "")
	return turn
}

// Reset abandons every pending turn and forgets consumed completion
// evidence. Used by the tracking-state reset.
func (c *Correlator) Reset() []*Turn {
	c.mu.Lock()
	c.consumed = make(map[string]string)
	var abandoned []*Turn
	for sessionID, turn := range c.pending {
		delete(c.pending, sessionID)
		delete(c.misses, sessionID)
		turn.CompletedAt = time.Now().UTC()
		turn.Status = StatusAbandoned
		turn.ResultState = activity.StateUnknown
		abandoned = append(abandoned, turn)
	}
	c.mu.Unlock()

	for _, turn := range abandoned {
		c.appendComplete(turn, "")
	}
	return abandoned
}

func (c *Correlator) appendStart(turn *Turn) {
	if c.sink == nil {
		return
	}
	entry := corrlog.NewEntry(turn.SessionID, c.backendKind, corrlog.DirectionOut, corrlog.EventTurnStart)
	entry.CorrelationID = turn.ID
	entry.Success = true
	payload, _ := json.Marshal(corrlog.StartPayload{
		TurnID:    turn.ID,
		Command:   turn.Command,
		StartedAt: turn.SubmittedAt,
	})
	entry.SetPayload(string(payload))
	_ = c.sink.Append(entry)
}

func (c *Correlator) appendComplete(turn *Turn, marker string) {
	if c.sink == nil {
		return
	}
	entry := corrlog.NewEntry(turn.SessionID, c.backendKind, corrlog.DirectionIn, corrlog.EventTurnComplete)
	entry.CorrelationID = turn.ID
	entry.Success = turn.Status == StatusCompleted
	payload, _ := json.Marshal(corrlog.CompletePayload{
		TurnID:           turn.ID,
		ResultState:      string(turn.ResultState),
		CompletionMarker: marker,
		DurationSeconds:  turn.Duration().Seconds(),
		ResponseSummary:  turn.ResponseSummary,
	})
	entry.SetPayload(string(payload))
	_ = c.sink.Append(entry)
}
