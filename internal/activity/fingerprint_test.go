package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCache_ObserveUnchanged(t *testing.T) {
	c := NewCache()

	unchanged, _ := c.Observe("s1", "hello world")
	assert.False(t, unchanged, "first observation is always a change")
	c.SetState("s1", StateProcessing)

	unchanged, cached := c.Observe("s1", "hello world")
	assert.True(t, unchanged)
	assert.Equal(t, StateProcessing, cached)

	unchanged, _ = c.Observe("s1", "hello world\nnew output")
	assert.False(t, unchanged)
}

func TestCache_SpinnerFrameIsNotAChange(t *testing.T) {
	c := NewCache()
	_, _ = c.Observe("s1", "⠋ Thinking (3s · 120 tokens)")
	unchanged, _ := c.Observe("s1", "⠙ Thinking (4s · 155 tokens)")
	assert.True(t, unchanged, "spinner frame and token counter churn must hash equal")
}

func TestCache_AnsiColorIsNotAChange(t *testing.T) {
	c := NewCache()
	_, _ = c.Observe("s1", "\x1b[1;32mok\x1b[0m")
	unchanged, _ := c.Observe("s1", "ok")
	assert.True(t, unchanged)
}

func TestCache_RetainEvictsDeadSessions(t *testing.T) {
	c := NewCache()
	_, _ = c.Observe("alive", "a")
	_, _ = c.Observe("dead", "b")
	assert.Equal(t, 2, c.Len())

	c.Retain(map[string]bool{"alive": true})
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, StateUnknown, c.State("dead"))

	// A session reusing the evicted id starts from a clean slate.
	unchanged, _ := c.Observe("dead", "b")
	assert.False(t, unchanged)
}

func TestCache_Reset(t *testing.T) {
	c := NewCache()
	_, _ = c.Observe("s1", "x")
	c.Reset()
	assert.Equal(t, 0, c.Len())
}

func TestNormalize_VolatileChrome(t *testing.T) {
	cases := []struct {
		name string
		a    string
		b    string
	}{
		{"status suffix", "working (45s · 1234 tokens)", "working (46s · 1290 tokens)"},
		{"progress bar", "[====>   ] 45%", "[======> ] 62%"},
		{"download", "fetching 1.2MB/5.6MB", "fetching 3.4MB/5.6MB"},
		{"clock", "at 12:34:56", "at 12:34:57"},
		{"trailing spaces", "line   \nnext", "line\nnext"},
		{"blank line runs", "a\n\n\n\n\nb", "a\n\nb"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, Normalize(tc.a), Normalize(tc.b))
		})
	}
}
