package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/samotage/claude-monitor/internal/corrlog"
)

// captureCacheTTL bounds how stale a cached pane capture may be. Concurrent
// callers within the window share one subprocess via singleflight.
const captureCacheTTL = 500 * time.Millisecond

// Tmux is the multiplexer-backed variant. Session identity is the tmux
// session name, which is stable for the session's lifetime.
type Tmux struct {
	sink *corrlog.Appender

	captureSf singleflight.Group
	cacheMu   sync.RWMutex
	captures  map[string]cachedCapture
}

type cachedCapture struct {
	text string
	at   time.Time
}

// NewTmux creates the tmux backend writing correlated sends to sink.
func NewTmux(sink *corrlog.Appender) *Tmux {
	return &Tmux{sink: sink, captures: make(map[string]cachedCapture)}
}

func (t *Tmux) Kind() string { return KindTmux }

func (t *Tmux) available() bool {
	err := probes.check(KindTmux, func(ctx context.Context) error {
		out, err := exec.CommandContext(ctx, "tmux", "-V").CombinedOutput()
		if err != nil {
			return fmt.Errorf("%w: tmux: %v (output: %s)", ErrBackendUnavailable, err, strings.TrimSpace(string(out)))
		}
		return nil
	})
	return err == nil
}

// ListSessions enumerates every tmux session with a single list-panes call.
// One pane per session is kept (most sessions have exactly one). Backend
// absence yields an empty list, never an error.
func (t *Tmux) ListSessions() []Session {
	if !t.available() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "tmux", "list-panes", "-a", "-F",
		"#{session_name}\t#{pane_title}\t#{pane_pid}\t#{pane_current_path}\t#{session_created}")
	output, err := cmd.Output()
	if err != nil {
		// No server running is the common case, not a fault.
		log.Debug("list_sessions_failed", slog.String("error", err.Error()))
		return nil
	}

	seen := make(map[string]bool)
	var sessions []Session
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 5)
		if len(parts) != 5 {
			continue
		}
		name := parts[0]
		if seen[name] {
			continue
		}
		seen[name] = true

		pid, _ := strconv.Atoi(parts[2])
		var created time.Time
		if epoch, err := strconv.ParseInt(parts[4], 10, 64); err == nil && epoch > 0 {
			created = time.Unix(epoch, 0)
		}
		sessions = append(sessions, Session{
			ID:      sessionID(KindTmux, name),
			Handle:  name,
			Title:   parts[1],
			WorkDir: parts[3],
			PID:     pid,
			Created: created,
		})
	}
	return sessions
}

func (t *Tmux) Exists(session Session) bool {
	if !t.available() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return exec.CommandContext(ctx, "tmux", "has-session", "-t", session.Handle).Run() == nil
}

// Capture snapshots the pane content. A fresh cached capture is returned
// without a subprocess call; concurrent cold captures for the same session
// collapse into one tmux invocation.
func (t *Tmux) Capture(session Session, opts CaptureOpts) (Capture, bool) {
	if !t.available() {
		return Capture{}, false
	}

	key := session.Handle
	if opts.Lines > 0 {
		// History captures bypass the visible-pane cache.
		key = fmt.Sprintf("%s#%d", session.Handle, opts.Lines)
	}

	t.cacheMu.RLock()
	if c, ok := t.captures[key]; ok && time.Since(c.at) < captureCacheTTL {
		t.cacheMu.RUnlock()
		return Capture{Text: c.text, Title: session.Title, FetchedAt: c.at, CorrelationID: opts.CorrelationID}, true
	}
	t.cacheMu.RUnlock()

	v, err, _ := t.captureSf.Do(key, func() (interface{}, error) {
		t.cacheMu.RLock()
		if c, ok := t.captures[key]; ok && time.Since(c.at) < captureCacheTTL {
			t.cacheMu.RUnlock()
			return c.text, nil
		}
		t.cacheMu.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		args := []string{"capture-pane", "-t", session.Handle, "-p", "-J"}
		if opts.Lines > 0 {
			args = append(args, "-S", fmt.Sprintf("-%d", opts.Lines))
		}
		output, err := exec.CommandContext(ctx, "tmux", args...).Output()
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return "", ErrTransportTimeout
			}
			return "", fmt.Errorf("capture pane: %w", err)
		}
		text := string(output)

		t.cacheMu.Lock()
		t.captures[key] = cachedCapture{text: text, at: time.Now()}
		t.cacheMu.Unlock()
		return text, nil
	})
	if err != nil {
		log.Debug("capture_failed",
			slog.String("session", session.Handle),
			slog.String("error", err.Error()))
		return Capture{}, false
	}
	return Capture{Text: v.(string), Title: session.Title, FetchedAt: time.Now(), CorrelationID: opts.CorrelationID}, true
}

// Send delivers literal text to the session, optionally followed by Enter.
// The Enter keypress is a separate tmux call after a short delay: tmux 3.2+
// wraps send-keys -l in bracketed paste, and an Enter in the same PTY buffer
// gets swallowed by async TUI frameworks. When a correlation id is supplied
// exactly one direction-out log entry is appended, success or not.
func (t *Tmux) Send(session Session, text string, autoSubmitEnter bool, correlationID string) error {
	err := t.doSend(session, text, autoSubmitEnter)
	if correlationID != "" && t.sink != nil {
		entry := corrlog.NewEntry(session.ID, KindTmux, corrlog.DirectionOut, corrlog.EventSend)
		entry.CorrelationID = correlationID
		entry.Success = err == nil
		entry.SetPayload(text)
		_ = t.sink.Append(entry)
	}
	return err
}

func (t *Tmux) doSend(session Session, text string, autoSubmitEnter bool) error {
	if !t.available() {
		return ErrBackendUnavailable
	}
	t.invalidateCapture(session.Handle)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	// -l sends literal text so tmux never interprets key names.
	if err := exec.CommandContext(ctx, "tmux", "send-keys", "-l", "-t", session.Handle, "--", text).Run(); err != nil {
		if !t.Exists(session) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("send keys: %w", err)
	}
	if !autoSubmitEnter {
		return nil
	}
	time.Sleep(100 * time.Millisecond)
	return exec.CommandContext(ctx, "tmux", "send-keys", "-t", session.Handle, "Enter").Run()
}

func (t *Tmux) invalidateCapture(handle string) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	for key := range t.captures {
		if key == handle || strings.HasPrefix(key, handle+"#") {
			delete(t.captures, key)
		}
	}
}

// CreateSession starts a detached tmux session.
func (t *Tmux) CreateSession(name, workDir string) (Session, error) {
	if !t.available() {
		return Session{}, ErrBackendUnavailable
	}
	if workDir == "" {
		workDir = os.Getenv("HOME")
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "tmux", "new-session", "-d", "-s", name, "-c", workDir).CombinedOutput()
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return Session{
		ID:      sessionID(KindTmux, name),
		Handle:  name,
		WorkDir: workDir,
		Created: time.Now(),
	}, nil
}

func (t *Tmux) KillSession(session Session) error {
	if !t.available() {
		return ErrBackendUnavailable
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := exec.CommandContext(ctx, "tmux", "kill-session", "-t", session.Handle).Run(); err != nil {
		return ErrSessionNotFound
	}
	t.invalidateCapture(session.Handle)
	return nil
}

// FocusWindow switches the attached client to the session. Best-effort;
// there may be no attached client at all.
func (t *Tmux) FocusWindow(session Session) error {
	if !t.available() {
		return ErrBackendUnavailable
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := exec.CommandContext(ctx, "tmux", "switch-client", "-t", session.Handle).Run(); err != nil {
		log.Debug("focus_failed", slog.String("session", session.Handle), slog.String("error", err.Error()))
		return fmt.Errorf("switch client: %w", err)
	}
	return nil
}
