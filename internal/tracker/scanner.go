package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scanner drives the tracker on a fixed interval and fans scan reports out
// to subscribers. Slow subscribers miss reports rather than stalling the
// loop.
type Scanner struct {
	tracker  *Tracker
	interval time.Duration

	mu   sync.Mutex
	subs map[int]chan *ScanReport
	next int
}

// NewScanner creates a scanner polling at the given interval.
func NewScanner(t *Tracker, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Scanner{
		tracker:  t,
		interval: interval,
		subs:     make(map[int]chan *ScanReport),
	}
}

// Subscribe registers a report channel. The cancel function unregisters it
// and closes the channel.
func (s *Scanner) Subscribe() (<-chan *ScanReport, func()) {
	ch := make(chan *ScanReport, 4)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.mu.Unlock()
	}
}

// Run scans until the context is cancelled. One scan happens immediately so
// subscribers see state without waiting a full interval.
func (s *Scanner) Run(ctx context.Context) {
	log.Info("scanner_started", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.publish(s.tracker.Scan())
	for {
		select {
		case <-ctx.Done():
			log.Info("scanner_stopped")
			return
		case <-ticker.C:
			s.publish(s.tracker.Scan())
		}
	}
}

func (s *Scanner) publish(report *ScanReport) {
	if report == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- report:
		default:
			// Drop rather than block the scan loop.
		}
	}
}
