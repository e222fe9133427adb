package logging

import (
	"log/slog"
	"sync"
	"time"
)

// aggKey identifies one event type for batching.
type aggKey struct {
	component string
	event     string
}

// aggCount tracks a batched event's count and most recent fields.
type aggCount struct {
	count  int64
	fields []slog.Attr
}

// Aggregator batches high-frequency events (one per poll cycle per session
// adds up fast) and emits a periodic summary line instead.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	counts map[aggKey]*aggCount

	done chan struct{}
	wg   sync.WaitGroup
}

// NewAggregator creates an aggregator flushing every intervalSecs seconds.
// A nil logger drops all recorded events.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		counts:   make(map[aggKey]*aggCount),
		done:     make(chan struct{}),
	}
}

// Start begins the background flush goroutine.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.flush()
			case <-a.done:
				return
			}
		}
	}()
}

// Stop halts the flush goroutine and emits any remaining entries.
func (a *Aggregator) Stop() {
	close(a.done)
	a.wg.Wait()
	a.flush()
}

// Record increments the counter for an event type.
// Fields are last-writer-wins context for the summary line.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := aggKey{component: component, event: event}
	c := a.counts[key]
	if c == nil {
		c = &aggCount{}
		a.counts[key] = c
	}
	c.count++
	if len(fields) > 0 {
		c.fields = fields
	}
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	if len(a.counts) == 0 {
		a.mu.Unlock()
		return
	}
	counts := a.counts
	a.counts = make(map[aggKey]*aggCount)
	a.mu.Unlock()

	if a.logger == nil {
		return
	}

	for key, c := range counts {
		attrs := []any{
			slog.String("component", key.component),
			slog.String("event", key.event),
			slog.Int64("count", c.count),
			slog.Int("window_seconds", int(a.interval.Seconds())),
		}
		for _, f := range c.fields {
			attrs = append(attrs, f)
		}
		a.logger.Info("event_summary", attrs...)
	}
}
