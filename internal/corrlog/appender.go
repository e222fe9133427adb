package corrlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/samotage/claude-monitor/internal/logging"
)

// maxFileBytes triggers rotation when the current log file exceeds it.
const maxFileBytes = 10 * 1024 * 1024

var log = logging.ForComponent(logging.CompCorrlog)

// Appender writes LogEntries to a JSONL file, rotating to .1, .2, ...
// siblings and discarding rotations beyond the retention count. Appends are
// best-effort: a failed write is counted and logged, never retried, so the
// scan loop is never blocked on log I/O.
type Appender struct {
	mu        sync.Mutex
	path      string
	retention int
	debug     bool

	failures atomic.Int64
}

// NewAppender creates an appender writing to path, keeping up to retention
// rotated siblings. A retention of 0 keeps only the active file.
func NewAppender(path string, retention int, debug bool) (*Appender, error) {
	if path == "" {
		return nil, fmt.Errorf("corrlog: empty path")
	}
	if retention < 0 {
		retention = 0
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("corrlog: create log dir: %w", err)
	}
	return &Appender{path: path, retention: retention, debug: debug}, nil
}

// Path returns the active log file path.
func (a *Appender) Path() string {
	return a.path
}

// Failures reports how many appends have failed since creation.
func (a *Appender) Failures() int64 {
	return a.failures.Load()
}

// Append writes one entry. Marshal happens before the lock is taken; only
// the size check, rotation, and file write run under it.
func (a *Appender) Append(entry *LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		a.failures.Add(1)
		log.Warn("append_marshal_failed", slog.String("error", err.Error()))
		return err
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	if info, err := os.Stat(a.path); err == nil && info.Size()+int64(len(line)) > maxFileBytes {
		if err := a.rotate(); err != nil {
			log.Warn("rotate_failed", slog.String("error", err.Error()))
		}
	}

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		a.failures.Add(1)
		log.Warn("append_open_failed", slog.String("error", err.Error()))
		return err
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		a.failures.Add(1)
		log.Warn("append_write_failed", slog.String("error", err.Error()))
		return err
	}

	if a.debug {
		log.Debug("entry_appended",
			slog.String("event", entry.Event),
			slog.String("session_id", entry.SessionID),
			slog.String("correlation_id", entry.CorrelationID))
	}
	return nil
}

// rotate shifts path.N to path.(N+1) for every existing sibling, renames the
// active file to path.1, and deletes anything past the retention count.
// Caller holds a.mu.
func (a *Appender) rotate() error {
	if a.retention == 0 {
		return os.Remove(a.path)
	}
	os.Remove(rotatedName(a.path, a.retention))
	for n := a.retention - 1; n >= 1; n-- {
		src := rotatedName(a.path, n)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, rotatedName(a.path, n+1)); err != nil {
			return err
		}
	}
	return os.Rename(a.path, rotatedName(a.path, 1))
}

func rotatedName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}
