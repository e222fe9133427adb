package activity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Volatile chrome normalized away before hashing. Spinner frames, timers,
// token counters, and progress bars all mutate without any real new output
// and would otherwise defeat the unchanged-content short-circuit.
var (
	// "(45s · 1234 tokens · ctrl+c to interrupt)" style status suffixes
	dynamicStatusPattern = regexp.MustCompile(`\([^)]*\d+s\s*·[^)]*(?:tokens|↑|↓)[^)]*\)`)

	// "[====>   ] 45%", "1.2MB/5.6MB", bare percentages
	progressBarPattern = regexp.MustCompile(`\[=*>?\s*\]\s*\d+%`)
	downloadPattern    = regexp.MustCompile(`\d+\.?\d*[KMGT]?B/\d+\.?\d*[KMGT]?B`)
	percentagePattern  = regexp.MustCompile(`\b\d{1,3}%`)

	// clock readouts that tick every second
	timePattern = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\b`)

	blankLinesPattern = regexp.MustCompile(`\n{3,}`)
)

// Normalize strips escape codes, spinner runes, and volatile counters so the
// fingerprint only changes when the session produced genuinely new output.
func Normalize(content string) string {
	result := StripANSI(content)
	result = stripControlChars(result)
	result = StripSpinnerRunes(result)
	result = dynamicStatusPattern.ReplaceAllString(result, "(STATUS)")
	result = progressBarPattern.ReplaceAllString(result, "[PROGRESS]")
	result = downloadPattern.ReplaceAllString(result, "X.XMB/Y.YMB")
	result = percentagePattern.ReplaceAllString(result, "N%")
	result = timePattern.ReplaceAllString(result, "HH:MM:SS")

	lines := strings.Split(result, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	result = strings.Join(lines, "\n")

	return blankLinesPattern.ReplaceAllString(result, "\n\n")
}

// Fingerprint hashes normalized content.
func Fingerprint(content string) string {
	h := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(h[:])
}

type fingerprintEntry struct {
	hash         string
	lastActivity time.Time
	lastState    State
}

// Cache maps session id to the last-seen content fingerprint and the state
// derived from it. Observe short-circuits re-classification when a capture
// hashes to the same value as last time.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*fingerprintEntry
}

// NewCache creates an empty fingerprint cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*fingerprintEntry)}
}

// Observe records a capture for a session. When the normalized hash matches
// the stored one it returns (true, cachedState) and the caller skips the
// classifier. Otherwise the hash and activity timestamp are updated and the
// caller must classify and store the new state via SetState.
func (c *Cache) Observe(sessionID, captured string) (unchanged bool, cached State) {
	hash := Fingerprint(captured)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[sessionID]
	if ok && entry.hash == hash {
		return true, entry.lastState
	}
	if !ok {
		entry = &fingerprintEntry{lastState: StateUnknown}
		c.entries[sessionID] = entry
	}
	entry.hash = hash
	entry.lastActivity = time.Now()
	return false, entry.lastState
}

// SetState stores the classified state for a session's current fingerprint.
func (c *Cache) SetState(sessionID string, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[sessionID]; ok {
		entry.lastState = state
	} else {
		c.entries[sessionID] = &fingerprintEntry{lastState: state}
	}
}

// State returns the last stored state for a session, StateUnknown if none.
func (c *Cache) State(sessionID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[sessionID]; ok {
		return entry.lastState
	}
	return StateUnknown
}

// LastActivity returns when the session's content last changed.
func (c *Cache) LastActivity(sessionID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[sessionID]; ok {
		return entry.lastActivity
	}
	return time.Time{}
}

// Retain evicts every entry whose session id is not in live. Sessions that
// disappear from enumeration must not leak cache entries across the process
// lifetime, and a later session reusing the id must start clean.
func (c *Cache) Retain(live map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		if !live[id] {
			delete(c.entries, id)
		}
	}
}

// Reset drops all entries.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*fingerprintEntry)
}

// Len reports the number of tracked sessions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
