package dispatch

import (
	"sync"
	"time"
)

// WindowLimiter caps sends per rolling minute and per rolling hour. It is shared by every
// goroutine in the process; Allow checks and records a send under one lock.
type WindowLimiter struct {
	mu        sync.Mutex
	perMinute int
	perHour   int
	sent      []time.Time // send times within the last hour, oldest first
	now       func() time.Time
}

type LimiterOption func(*WindowLimiter)

func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *WindowLimiter) { l.now = now }
}

// NewWindowLimiter returns a limiter; a cap <= 0 disables that window.
func NewWindowLimiter(perMinute, perHour int, opts ...LimiterOption) *WindowLimiter {
	l := &WindowLimiter{perMinute: perMinute, perHour: perHour, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records a send and returns true when both windows have room. Otherwise it
// returns false and how long until the tighter window frees a slot.
func (l *WindowLimiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	if l.perHour > 0 && len(l.sent) >= l.perHour {
		return false, l.sent[len(l.sent)-l.perHour].Add(time.Hour).Sub(now)
	}
	if l.perMinute > 0 {
		inMinute := l.countSince(now.Add(-time.Minute))
		if inMinute >= l.perMinute {
			oldest := l.sent[len(l.sent)-l.perMinute]
			return false, oldest.Add(time.Minute).Sub(now)
		}
	}

	l.sent = append(l.sent, now)
	return true, 0
}

// Counts reports sends recorded in the current minute and hour windows.
func (l *WindowLimiter) Counts() (minute, hour int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)
	return l.countSince(now.Add(-time.Minute)), len(l.sent)
}

func (l *WindowLimiter) evict(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(l.sent) && !l.sent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.sent = append(l.sent[:0], l.sent[i:]...)
	}
}

func (l *WindowLimiter) countSince(since time.Time) int {
	n := 0
	for j := len(l.sent) - 1; j >= 0 && l.sent[j].After(since); j-- {
		n++
	}
	return n
}
