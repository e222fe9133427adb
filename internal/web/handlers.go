package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/samotage/claude-monitor/internal/backend"
	"github.com/samotage/claude-monitor/internal/tracker"
	"github.com/samotage/claude-monitor/internal/turns"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"backend": s.cfg.Tracker.Backend().Kind(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSessions serves the latest scan snapshot. An empty list before the
// first scan completes is valid.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	report := s.latestReport()
	if report == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"sessions": []tracker.SessionStatus{},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"scanned":  report.At,
		"sessions": report.Sessions,
		"stalled":  report.Stalled,
	})
}

// handleSessionByID routes /api/session/{id}/{op} for op in send, capture,
// focus.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/session/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "expected /api/session/{id}/{op}")
		return
	}
	sessionID, op := parts[0], parts[1]

	switch op {
	case "send":
		s.handleSend(w, r, sessionID)
	case "capture":
		s.handleCapture(w, r, sessionID)
	case "focus":
		s.handleFocus(w, r, sessionID)
	default:
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "unknown operation")
	}
}

type sendRequest struct {
	Command string `json:"command"`
}

// handleSend submits a command as a new turn. Every response carries enough
// state for the caller to render it without another query.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.allow() {
		writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "command is required")
		return
	}

	turn, err := s.cfg.Tracker.SubmitCommand(sessionID, req.Command)
	if err != nil {
		switch {
		case errors.Is(err, turns.ErrTurnPending):
			writeAPIError(w, http.StatusConflict, "TURN_PENDING", "session already has a pending turn")
		case errors.Is(err, backend.ErrSessionNotFound):
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		default:
			writeAPIError(w, http.StatusBadGateway, "SEND_FAILED", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"turn_id":      turn.ID,
		"turn_status":  turn.Status,
		"state":        s.cfg.Tracker.State(sessionID),
		"session_id":   sessionID,
		"submitted_at": turn.SubmittedAt,
	})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.allow() {
		writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
		return
	}

	text, state, err := s.cfg.Tracker.CaptureNow(sessionID)
	if err != nil {
		if errors.Is(err, backend.ErrSessionNotFound) {
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
			return
		}
		writeAPIError(w, http.StatusBadGateway, "CAPTURE_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": sessionID,
		"state":      state,
		"text":       text,
	})
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.allow() {
		writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
		return
	}

	session, ok := s.cfg.Tracker.Lookup(sessionID)
	if !ok {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}
	// Focus is best-effort; a failure is reported but not an error status.
	err := s.cfg.Tracker.Backend().FocusWindow(session)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    err == nil,
		"session_id": sessionID,
	})
}

// handleTurns replays the correlation log into paired turn records,
// newest-first. ?session={id} filters to one session.
func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	records, err := s.cfg.Tracker.Sink().ReconstructTurns(r.URL.Query().Get("session"))
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"turns":   records,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.allow() {
		writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
		return
	}
	abandoned := s.cfg.Tracker.Reset()
	s.setReport(nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"abandoned_turns": len(abandoned),
	})
}
