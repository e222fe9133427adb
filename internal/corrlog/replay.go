package corrlog

import (
	"bufio"
	"encoding/json"
	"os"
	"sort"
	"time"
)

// TurnRecord pairs the start and completion entries sharing a correlation
// id. Either side may be nil when the log is incomplete.
type TurnRecord struct {
	CorrelationID string    `json:"correlation_id"`
	SessionID     string    `json:"session_id"`
	Start         *LogEntry `json:"start,omitempty"`
	Complete      *LogEntry `json:"complete,omitempty"`
}

// sortKey orders a record by its completion time, falling back to the start
// time for records with no completion entry.
func (r *TurnRecord) sortKey() time.Time {
	if r.Complete != nil {
		return r.Complete.Timestamp
	}
	if r.Start != nil {
		return r.Start.Timestamp
	}
	return time.Time{}
}

// ReconstructTurns replays the log (all rotated generations plus the active
// file) and groups turn entries by correlation id. sessionID filters to one
// session when non-empty. Records are sorted newest-first. Missing files and
// malformed lines are skipped; the log is a best-effort record.
func (a *Appender) ReconstructTurns(sessionID string) ([]*TurnRecord, error) {
	byID := make(map[string]*TurnRecord)
	for _, path := range a.generations() {
		if err := scanEntries(path, func(entry *LogEntry) {
			if entry.CorrelationID == "" {
				return
			}
			if entry.Event != EventTurnStart && entry.Event != EventTurnComplete {
				return
			}
			if sessionID != "" && entry.SessionID != sessionID {
				return
			}
			rec, ok := byID[entry.CorrelationID]
			if !ok {
				rec = &TurnRecord{CorrelationID: entry.CorrelationID, SessionID: entry.SessionID}
				byID[entry.CorrelationID] = rec
			}
			if entry.Event == EventTurnStart {
				rec.Start = entry
			} else {
				rec.Complete = entry
			}
		}); err != nil {
			return nil, err
		}
	}

	records := make([]*TurnRecord, 0, len(byID))
	for _, rec := range byID {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].sortKey().After(records[j].sortKey())
	})
	return records, nil
}

// generations lists log files oldest-first so newer entries win on replay.
func (a *Appender) generations() []string {
	paths := make([]string, 0, a.retention+1)
	for n := a.retention; n >= 1; n-- {
		paths = append(paths, rotatedName(a.path, n))
	}
	return append(paths, a.path)
}

// scanEntries streams entries from one JSONL file. A missing file is not an
// error. Malformed lines are skipped.
func scanEntries(path string, fn func(*LogEntry)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Payloads run up to the truncation threshold; give lines headroom.
	scanner.Buffer(make([]byte, 0, 64*1024), 2*MaxPayloadBytes)

	for scanner.Scan() {
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		fn(&entry)
	}
	return scanner.Err()
}
