package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSlidingWindow_AdmitsUpToMaxThenRejects(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := NewSlidingWindow(clk, time.Second, 3)

	for i := 0; i < 3; i++ {
		if !w.Allow() {
			t.Fatalf("event %d: expected admit", i)
		}
	}
	if w.Allow() {
		t.Fatalf("expected rejection once window is full")
	}
}

func TestSlidingWindow_RejectionsAreNotRecorded(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := NewSlidingWindow(clk, time.Second, 2)

	if !w.Allow() || !w.Allow() {
		t.Fatalf("expected initial admits")
	}

	// Hammer the limiter while full. None of these may extend the window.
	for i := 0; i < 10; i++ {
		clk.Advance(10 * time.Millisecond)
		if w.Allow() {
			t.Fatalf("attempt %d: expected rejection while window full", i)
		}
	}

	// The two accepted events were at t=0; once the window passes them the
	// limiter admits again even though rejections happened in between.
	clk.Advance(time.Second)
	if !w.Allow() {
		t.Fatalf("expected admit after accepted events aged out")
	}
}

func TestSlidingWindow_EventsExpire(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := NewSlidingWindow(clk, time.Second, 2)

	if !w.Allow() {
		t.Fatalf("expected admit at t=0")
	}
	clk.Advance(600 * time.Millisecond)
	if !w.Allow() {
		t.Fatalf("expected admit at t=600ms")
	}
	if w.Allow() {
		t.Fatalf("expected rejection with both events in window")
	}

	// t=1001ms: the t=0 event is outside the trailing window, the t=600ms
	// event is still inside.
	clk.Advance(401 * time.Millisecond)
	if !w.Allow() {
		t.Fatalf("expected admit after first event expired")
	}
	if w.Allow() {
		t.Fatalf("expected rejection with window full again")
	}
}

func TestSlidingWindow_SteadyPacedTrafficIsNeverRejected(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	w := NewSlidingWindow(clk, time.Second, 30)

	// 25 messages/sec for 5 seconds stays under the 30/sec cap throughout.
	for i := 0; i < 125; i++ {
		if !w.Allow() {
			t.Fatalf("message %d: paced traffic must not be rejected", i)
		}
		clk.Advance(40 * time.Millisecond)
	}
}

func TestSlidingWindow_DisabledLimits(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}

	for _, w := range []*SlidingWindow{
		NewSlidingWindow(clk, 0, 30),
		NewSlidingWindow(clk, time.Second, 0),
	} {
		for i := 0; i < 1000; i++ {
			if !w.Allow() {
				t.Fatalf("disabled limiter must always admit")
			}
		}
	}
}
