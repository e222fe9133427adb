// Package corrlog is the append-only correlation log: a JSON Lines record of
// backend operations and turn lifecycle events, keyed by correlation id.
package corrlog

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction of an entry relative to the monitored session.
const (
	DirectionIn  = "in"  // output observed from the session
	DirectionOut = "out" // text sent into the session
)

// Event types recorded in the log.
const (
	EventSend         = "send"
	EventCapture      = "capture"
	EventTurnStart    = "turn_start"
	EventTurnComplete = "turn_complete"
	EventReset        = "reset"
)

// MaxPayloadBytes is the payload truncation threshold.
const MaxPayloadBytes = 10 * 1024

// truncationMarker is appended to a payload cut at MaxPayloadBytes.
const truncationMarker = "…[truncated]"

// LogEntry is one immutable record. Ordering on disk is append order, which
// under clock skew is not timestamp order; readers re-sort by Timestamp.
type LogEntry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	SessionID     string    `json:"session_id"`
	Backend       string    `json:"backend"`
	Direction     string    `json:"direction"`
	Event         string    `json:"event"`
	Payload       string    `json:"payload,omitempty"`
	Truncated     bool      `json:"truncated,omitempty"`
	OriginalSize  int       `json:"original_size,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Success       bool      `json:"success"`
}

// StartPayload is the payload of a turn_start entry.
type StartPayload struct {
	TurnID    string    `json:"turn_id"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

// CompletePayload is the payload of a turn_complete entry.
type CompletePayload struct {
	TurnID           string  `json:"turn_id"`
	ResultState      string  `json:"result_state"`
	CompletionMarker string  `json:"completion_marker,omitempty"`
	DurationSeconds  float64 `json:"duration_seconds"`
	ResponseSummary  string  `json:"response_summary,omitempty"`
}

// NewEntry creates an entry with a fresh id and the current timestamp.
func NewEntry(sessionID, backend, direction, event string) *LogEntry {
	return &LogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Backend:   backend,
		Direction: direction,
		Event:     event,
	}
}

// SetPayload stores a payload, truncating at the byte threshold. Content cut
// mid-rune is decoded leniently so the stored payload stays valid UTF-8.
func (e *LogEntry) SetPayload(payload string) {
	if len(payload) <= MaxPayloadBytes {
		e.Payload = payload
		return
	}
	e.OriginalSize = len(payload)
	e.Truncated = true
	e.Payload = strings.ToValidUTF8(payload[:MaxPayloadBytes], "") + truncationMarker
}
