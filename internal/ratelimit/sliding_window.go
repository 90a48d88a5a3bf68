package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow is an approximate sliding-window event-rate limiter using a
// provided Clock.
//
// It retains the timestamps of accepted events that fall within the trailing
// window and rejects once the retained count is at capacity. Rejected events
// are not recorded, so a client that keeps sending while over the limit does
// not push its own window forward; it becomes eligible again only once old
// timestamps age out.
//
// The window is approximate, not exact: the goal is abuse mitigation, not
// precise fairness.
type SlidingWindow struct {
	mu sync.Mutex

	clock Clock

	window    time.Duration
	maxEvents int

	events []time.Time
}

// NewSlidingWindow returns a limiter admitting at most maxEvents per trailing
// window. A nil clock falls back to RealClock. maxEvents <= 0 or window <= 0
// disables limiting.
func NewSlidingWindow(clock Clock, window time.Duration, maxEvents int) *SlidingWindow {
	if clock == nil {
		clock = RealClock{}
	}
	capacity := maxEvents
	if capacity < 0 {
		capacity = 0
	}
	return &SlidingWindow{
		clock:     clock,
		window:    window,
		maxEvents: maxEvents,
		events:    make([]time.Time, 0, capacity),
	}
}

// Allow reports whether one more event is admitted now, recording it if so.
func (w *SlidingWindow) Allow() bool {
	if w.maxEvents <= 0 || w.window <= 0 {
		return true
	}

	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	kept := w.events[:0]
	for _, ts := range w.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.events = kept

	if len(w.events) >= w.maxEvents {
		return false
	}
	w.events = append(w.events, now)
	return true
}
