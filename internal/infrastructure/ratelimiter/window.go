package ratelimiter

import "time"

type Clock func() time.Time

// Window is the fixed window counter of a single sender. The zero value is
// a window that has never admitted anything.
type Window struct {
	Count int
	Start time.Time
}

// FixedWindow admits at most limit events per window. The window restarts
// on the first event that arrives strictly after window has elapsed since
// the previous restart.
type FixedWindow struct {
	limit  int
	window time.Duration
	now    Clock
}

func NewFixedWindow(limit int, window time.Duration, clock Clock) *FixedWindow {
	if clock == nil {
		clock = time.Now
	}
	return &FixedWindow{
		limit:  limit,
		window: window,
		now:    clock,
	}
}

// Admit counts one event against w and reports whether it is allowed.
// Denied events still count.
func (fw *FixedWindow) Admit(w *Window) bool {
	now := fw.now()
	if w.Start.IsZero() || now.Sub(w.Start) > fw.window {
		w.Count = 1
		w.Start = now
		return true
	}

	w.Count++
	return w.Count <= fw.limit
}

// RetryAfter is the time left until w restarts.
func (fw *FixedWindow) RetryAfter(w *Window) time.Duration {
	left := fw.window - fw.now().Sub(w.Start)
	if left < 0 {
		return 0
	}
	return left
}

func (fw *FixedWindow) Limit() int {
	return fw.limit
}
