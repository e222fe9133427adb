package logging

import (
	"os"
	"sync"
)

// RingBuffer is a thread-safe circular byte buffer implementing io.Writer.
// Old data is silently overwritten when the buffer fills.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	start   int // oldest byte
	length  int // bytes currently stored
	wrapped bool
}

// NewRingBuffer creates a ring buffer with the given capacity in bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 4 * 1024 * 1024
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write implements io.Writer. Never fails; data wraps around when full.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	cap := len(rb.buf)
	if n >= cap {
		// Larger than the whole buffer: keep only the tail.
		copy(rb.buf, p[n-cap:])
		rb.start = 0
		rb.length = cap
		return n, nil
	}

	writePos := (rb.start + rb.length) % cap
	tail := cap - writePos
	if n <= tail {
		copy(rb.buf[writePos:], p)
	} else {
		copy(rb.buf[writePos:], p[:tail])
		copy(rb.buf, p[tail:])
	}

	rb.length += n
	if rb.length > cap {
		// Overwrote oldest data; advance start past it.
		rb.start = (rb.start + rb.length - cap) % cap
		rb.length = cap
	}
	return n, nil
}

// Bytes returns the stored contents in chronological order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.length)
	tail := len(rb.buf) - rb.start
	if rb.length <= tail {
		copy(out, rb.buf[rb.start:rb.start+rb.length])
	} else {
		copy(out, rb.buf[rb.start:])
		copy(out[tail:], rb.buf[:rb.length-tail])
	}
	return out
}

// DumpToFile writes the buffer contents to a file in chronological order.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
