package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/samotage/claude-monitor/internal/corrlog"
)

// ITerm is the GUI-terminal variant, speaking to iTerm2 through osascript.
// The AppleScript session id is an ephemeral handle: it changes across app
// restarts and gets recycled, so identity is derived from the session's tty
// device and mapped to the current handle through a cache. Losing the
// mapping is always recoverable by re-listing.
type ITerm struct {
	sink *corrlog.Appender

	handleMu sync.Mutex
	handles  map[string]string // session id -> AppleScript session id
}

// NewITerm creates the iTerm2 backend writing correlated sends to sink.
func NewITerm(sink *corrlog.Appender) *ITerm {
	return &ITerm{sink: sink, handles: make(map[string]string)}
}

func (it *ITerm) Kind() string { return KindITerm }

func (it *ITerm) available() bool {
	err := probes.check(KindITerm, func(ctx context.Context) error {
		out, err := exec.CommandContext(ctx, "osascript", "-e",
			`tell application "System Events" to (name of processes) contains "iTerm2"`).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%w: osascript: %v", ErrBackendUnavailable, err)
		}
		if strings.TrimSpace(string(out)) != "true" {
			return fmt.Errorf("%w: iTerm2 not running", ErrBackendUnavailable)
		}
		return nil
	})
	return err == nil
}

func runScript(script string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	output, err := exec.CommandContext(ctx, "osascript", "-e", script).Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrTransportTimeout
		}
		return "", fmt.Errorf("osascript: %w", err)
	}
	return strings.TrimRight(string(output), "\n"), nil
}

const listScript = `tell application "iTerm2"
	set out to ""
	repeat with w in windows
		repeat with t in tabs of w
			repeat with s in sessions of t
				set out to out & (id of s) & tab & (name of s) & tab & (tty of s) & linefeed
			end repeat
		end repeat
	end repeat
	return out
end tell`

// ListSessions enumerates every iTerm2 session in one osascript call and
// refreshes the id-to-handle cache as a side effect. The visible name is
// reported as the title only; identity comes from the tty device, which is
// stable for the session's lifetime even when the title is overwritten.
func (it *ITerm) ListSessions() []Session {
	if !it.available() {
		return nil
	}

	output, err := runScript(listScript)
	if err != nil {
		log.Debug("list_sessions_failed", slog.String("error", err.Error()))
		return nil
	}

	fresh := make(map[string]string)
	var sessions []Session
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		handle, name, tty := parts[0], parts[1], parts[2]
		id := sessionID(KindITerm, tty)
		fresh[id] = handle
		sessions = append(sessions, Session{
			ID:     id,
			Handle: handle,
			Title:  name,
		})
	}

	it.handleMu.Lock()
	it.handles = fresh
	it.handleMu.Unlock()
	return sessions
}

// resolveHandle returns the current AppleScript handle for a session,
// verifying it still refers to a live session. A failed verify drops the
// mapping immediately; handles are recycled and stale reuse would target
// the wrong session.
func (it *ITerm) resolveHandle(session Session) (string, error) {
	it.handleMu.Lock()
	handle, ok := it.handles[session.ID]
	it.handleMu.Unlock()

	if ok && it.verifyHandle(handle) {
		return handle, nil
	}
	if ok {
		it.handleMu.Lock()
		delete(it.handles, session.ID)
		it.handleMu.Unlock()
	}

	// Recover by re-listing.
	it.ListSessions()
	it.handleMu.Lock()
	handle, ok = it.handles[session.ID]
	it.handleMu.Unlock()
	if !ok {
		return "", ErrSessionNotFound
	}
	return handle, nil
}

func (it *ITerm) verifyHandle(handle string) bool {
	out, err := runScript(fmt.Sprintf(`tell application "iTerm2"
	repeat with w in windows
		repeat with t in tabs of w
			repeat with s in sessions of t
				if (id of s) is equal to %q then return "yes"
			end repeat
		end repeat
	end repeat
	return "no"
end tell`, handle))
	return err == nil && out == "yes"
}

func (it *ITerm) Exists(session Session) bool {
	if !it.available() {
		return false
	}
	_, err := it.resolveHandle(session)
	return err == nil
}

// sessionScript wraps a per-session AppleScript body in a lookup by handle.
// Scripts raise when the handle resolves to nothing.
func sessionScript(handle, body string) string {
	return fmt.Sprintf(`tell application "iTerm2"
	repeat with w in windows
		repeat with t in tabs of w
			repeat with s in sessions of t
				if (id of s) is equal to %q then
					%s
				end if
			end repeat
		end repeat
	end repeat
end tell
error "session not found"`, handle, body)
}

func (it *ITerm) Capture(session Session, opts CaptureOpts) (Capture, bool) {
	if !it.available() {
		return Capture{}, false
	}
	handle, err := it.resolveHandle(session)
	if err != nil {
		return Capture{}, false
	}

	// iTerm exposes the full visible contents; line-count trimming happens
	// caller-side via the classifier's tail window.
	text, err := runScript(sessionScript(handle, "return contents of s"))
	if err != nil {
		log.Debug("capture_failed",
			slog.String("session", session.ID),
			slog.String("error", err.Error()))
		return Capture{}, false
	}
	if opts.Lines > 0 {
		text = lastLines(text, opts.Lines)
	}
	return Capture{Text: text, Title: session.Title, FetchedAt: time.Now(), CorrelationID: opts.CorrelationID}, true
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// Send writes literal text into the session. iTerm's write text submits a
// trailing newline unless suppressed, which maps directly onto the
// auto-submit flag. One direction-out log entry per correlated send.
func (it *ITerm) Send(session Session, text string, autoSubmitEnter bool, correlationID string) error {
	err := it.doSend(session, text, autoSubmitEnter)
	if correlationID != "" && it.sink != nil {
		entry := corrlog.NewEntry(session.ID, KindITerm, corrlog.DirectionOut, corrlog.EventSend)
		entry.CorrelationID = correlationID
		entry.Success = err == nil
		entry.SetPayload(text)
		_ = it.sink.Append(entry)
	}
	return err
}

func (it *ITerm) doSend(session Session, text string, autoSubmitEnter bool) error {
	if !it.available() {
		return ErrBackendUnavailable
	}
	handle, err := it.resolveHandle(session)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("write text %s without newline\n\t\t\t\t\treturn \"ok\"", appleScriptString(text))
	if autoSubmitEnter {
		body = fmt.Sprintf("write text %s\n\t\t\t\t\treturn \"ok\"", appleScriptString(text))
	}
	if _, err := runScript(sessionScript(handle, body)); err != nil {
		it.dropHandle(session.ID)
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (it *ITerm) dropHandle(id string) {
	it.handleMu.Lock()
	delete(it.handles, id)
	it.handleMu.Unlock()
}

// CreateSession opens a new iTerm2 window with the default profile.
func (it *ITerm) CreateSession(name, workDir string) (Session, error) {
	if !it.available() {
		return Session{}, ErrBackendUnavailable
	}
	script := fmt.Sprintf(`tell application "iTerm2"
	set w to (create window with default profile)
	tell current session of w
		set name to %s
		write text %s
		return (id of it) & tab & (tty of it)
	end tell
end tell`, appleScriptString(name), appleScriptString("cd "+shellQuote(workDir)))
	out, err := runScript(script)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	parts := strings.SplitN(out, "\t", 2)
	if len(parts) != 2 {
		return Session{}, fmt.Errorf("create session: unexpected output %q", out)
	}
	handle, tty := parts[0], parts[1]
	id := sessionID(KindITerm, tty)
	it.handleMu.Lock()
	it.handles[id] = handle
	it.handleMu.Unlock()
	return Session{ID: id, Handle: handle, Title: name, WorkDir: workDir, Created: time.Now()}, nil
}

func (it *ITerm) KillSession(session Session) error {
	if !it.available() {
		return ErrBackendUnavailable
	}
	handle, err := it.resolveHandle(session)
	if err != nil {
		return err
	}
	if _, err := runScript(sessionScript(handle, "close s\n\t\t\t\t\treturn \"ok\"")); err != nil {
		return fmt.Errorf("kill session: %w", err)
	}
	it.dropHandle(session.ID)
	return nil
}

// FocusWindow brings the session's window to the front. Best-effort.
func (it *ITerm) FocusWindow(session Session) error {
	if !it.available() {
		return ErrBackendUnavailable
	}
	handle, err := it.resolveHandle(session)
	if err != nil {
		return err
	}
	body := "select s\n\t\t\t\t\ttell application \"iTerm2\" to activate\n\t\t\t\t\treturn \"ok\""
	if _, err := runScript(sessionScript(handle, body)); err != nil {
		log.Debug("focus_failed", slog.String("session", session.ID), slog.String("error", err.Error()))
		return fmt.Errorf("focus: %w", err)
	}
	return nil
}

// appleScriptString quotes a Go string as an AppleScript string literal.
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
