// Package backend provides terminal session primitives behind a small
// capability interface. Two variants exist: a tmux-backed implementation
// (session identity is a stable name) and an iTerm2-backed implementation
// (session identity is an ephemeral pane handle behind a lookup cache).
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samotage/claude-monitor/internal/corrlog"
	"github.com/samotage/claude-monitor/internal/logging"
)

var log = logging.ForComponent(logging.CompBackend)

// Backend kinds.
const (
	KindTmux  = "tmux"
	KindITerm = "iterm2"
)

// commandTimeout is the hard upper bound on any backend subprocess call.
const commandTimeout = 10 * time.Second

var (
	// ErrBackendUnavailable means the backend binary or tooling is missing.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrSessionNotFound means the session vanished between enumeration and use.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTransportTimeout means a blocking backend call exceeded its bound.
	ErrTransportTimeout = errors.New("backend call timed out")
)

// Session identifies one monitored terminal session. ID is stable across
// enumerations; Handle is the backend-specific name or pane id.
type Session struct {
	ID      string    `json:"id"`
	Handle  string    `json:"handle"`
	Title   string    `json:"title,omitempty"`
	WorkDir string    `json:"work_dir,omitempty"`
	PID     int       `json:"pid,omitempty"`
	Created time.Time `json:"created,omitempty"`
}

// Capture is a point-in-time snapshot of a session's visible content.
type Capture struct {
	Text          string
	Title         string
	FetchedAt     time.Time
	CorrelationID string
}

// CaptureOpts controls a capture call.
type CaptureOpts struct {
	// Lines captures the last N lines of scrollback instead of just the
	// visible pane. Zero means visible pane only.
	Lines int
	// CorrelationID tags the capture when taken immediately after a send.
	CorrelationID string
}

// Backend is the capability set both variants implement. ListSessions never
// fails hard: a missing backend yields an empty list. Capture reports
// backend absence, session absence, and timeout uniformly as ok=false.
type Backend interface {
	Kind() string
	ListSessions() []Session
	Exists(session Session) bool
	Capture(session Session, opts CaptureOpts) (Capture, bool)
	Send(session Session, text string, autoSubmitEnter bool, correlationID string) error
	CreateSession(name, workDir string) (Session, error)
	KillSession(session Session) error
	FocusWindow(session Session) error
}

// New constructs the backend for a configured kind. The correlation log
// appender receives one direction-out entry per correlated send.
func New(kind string, sink *corrlog.Appender) (Backend, error) {
	switch kind {
	case KindTmux:
		return NewTmux(sink), nil
	case KindITerm:
		return NewITerm(sink), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}
}

// sessionNamespace scopes derived session ids to this program.
var sessionNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("claude-monitor/session"))

// sessionID derives a stable uuid from the backend kind and handle, so the
// same session keeps its id across enumerations and process restarts.
func sessionID(kind, handle string) string {
	return uuid.NewSHA1(sessionNamespace, []byte(kind+"\x00"+handle)).String()
}

// probeCache holds one availability probe result per backend kind for the
// process lifetime. Invalidated only by Reset (configuration change), never
// re-probed on a hot path.
type probeCache struct {
	mu      sync.Mutex
	results map[string]error
}

var probes = &probeCache{results: make(map[string]error)}

// check returns the cached probe result for a kind, running the probe on a
// miss. The probe gets the standard command timeout and runs outside the
// lock; a wedged subprocess must not block unrelated backend calls.
func (p *probeCache) check(kind string, probe func(ctx context.Context) error) error {
	p.mu.Lock()
	if err, ok := p.results[kind]; ok {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	err := probe(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	// Concurrent probes race to the cache; the first result wins.
	if cached, ok := p.results[kind]; ok {
		return cached
	}
	p.results[kind] = err
	return err
}

// ResetProbes clears cached availability results so the next backend call
// re-probes. Called on configuration reload and explicit reset.
func ResetProbes() {
	probes.mu.Lock()
	defer probes.mu.Unlock()
	probes.results = make(map[string]error)
}
