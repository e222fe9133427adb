package backend

import (
	"sync"
	"time"

	"github.com/samotage/claude-monitor/internal/corrlog"
)

// Fake is an in-memory Backend for tests. Sessions, capture text, and
// titles are set directly; Send records calls and logs correlated sends the
// same way the real variants do.
type Fake struct {
	mu       sync.Mutex
	sink     *corrlog.Appender
	sessions map[string]Session
	captures map[string]string
	sendErr  error

	SendCalls []FakeSend
}

// FakeSend records one Send invocation.
type FakeSend struct {
	SessionID     string
	Text          string
	AutoSubmit    bool
	CorrelationID string
}

// NewFake creates an empty fake backend. sink may be nil.
func NewFake(sink *corrlog.Appender) *Fake {
	return &Fake{
		sink:     sink,
		sessions: make(map[string]Session),
		captures: make(map[string]string),
	}
}

// AddSession registers a session and returns it with a derived id.
func (f *Fake) AddSession(handle, title string) Session {
	s := Session{
		ID:      sessionID("fake", handle),
		Handle:  handle,
		Title:   title,
		Created: time.Now(),
	}
	f.mu.Lock()
	f.sessions[s.ID] = s
	f.mu.Unlock()
	return s
}

// RemoveSession drops a session from enumeration.
func (f *Fake) RemoveSession(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	delete(f.captures, id)
}

// SetCapture sets the text the next Capture returns for a session.
func (f *Fake) SetCapture(id, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures[id] = text
}

// SetTitle updates a session's title.
func (f *Fake) SetTitle(id, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.Title = title
		f.sessions[id] = s
	}
}

// FailSends makes subsequent Send calls return err.
func (f *Fake) FailSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *Fake) Kind() string { return "fake" }

func (f *Fake) ListSessions() []Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

func (f *Fake) Exists(session Session) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[session.ID]
	return ok
}

func (f *Fake) Capture(session Session, opts CaptureOpts) (Capture, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[session.ID]
	if !ok {
		return Capture{}, false
	}
	return Capture{
		Text:          f.captures[session.ID],
		Title:         s.Title,
		FetchedAt:     time.Now(),
		CorrelationID: opts.CorrelationID,
	}, true
}

func (f *Fake) Send(session Session, text string, autoSubmitEnter bool, correlationID string) error {
	f.mu.Lock()
	err := f.sendErr
	if _, ok := f.sessions[session.ID]; !ok && err == nil {
		err = ErrSessionNotFound
	}
	f.SendCalls = append(f.SendCalls, FakeSend{
		SessionID:     session.ID,
		Text:          text,
		AutoSubmit:    autoSubmitEnter,
		CorrelationID: correlationID,
	})
	sink := f.sink
	f.mu.Unlock()

	if correlationID != "" && sink != nil {
		entry := corrlog.NewEntry(session.ID, "fake", corrlog.DirectionOut, corrlog.EventSend)
		entry.CorrelationID = correlationID
		entry.Success = err == nil
		entry.SetPayload(text)
		_ = sink.Append(entry)
	}
	return err
}

func (f *Fake) CreateSession(name, workDir string) (Session, error) {
	s := f.AddSession(name, name)
	s.WorkDir = workDir
	f.mu.Lock()
	f.sessions[s.ID] = s
	f.mu.Unlock()
	return s, nil
}

func (f *Fake) KillSession(session Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[session.ID]; !ok {
		return ErrSessionNotFound
	}
	delete(f.sessions, session.ID)
	return nil
}

func (f *Fake) FocusWindow(Session) error { return nil }
