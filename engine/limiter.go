package engine

import (
	"context"
	"sync"
	"time"

	"github.com/ayu2310/Wflow/errors"
)

// SessionLimiter caps session provisioning at max calls per sliding
// one-minute window, protecting the browser provider from a thundering
// herd after a reconciliation sweep releases a backlog.
type SessionLimiter struct {
	maxPerMinute int
	window       time.Duration
	mu           sync.Mutex
	callTimes    []time.Time
	timeNow      func() time.Time // injectable for tests
}

// NewSessionLimiter creates a limiter with the real clock
func NewSessionLimiter(maxPerMinute int) *SessionLimiter {
	return NewSessionLimiterWithClock(maxPerMinute, time.Now)
}

// NewSessionLimiterWithClock creates a limiter with an injectable clock
func NewSessionLimiterWithClock(maxPerMinute int, timeNow func() time.Time) *SessionLimiter {
	return &SessionLimiter{
		maxPerMinute: maxPerMinute,
		window:       time.Minute,
		callTimes:    make([]time.Time, 0, maxPerMinute),
		timeNow:      timeNow,
	}
}

// Allow records a provisioning call, or errors if the window is full
func (l *SessionLimiter) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	l.removeExpired(now)

	if len(l.callTimes) >= l.maxPerMinute {
		return errors.Newf("session rate limit exceeded: %d per minute", l.maxPerMinute)
	}

	l.callTimes = append(l.callTimes, now)
	return nil
}

// Wait blocks until a provisioning slot opens or the context ends
func (l *SessionLimiter) Wait(ctx context.Context) error {
	for {
		if err := l.Allow(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Stats returns calls in the current window and remaining capacity
func (l *SessionLimiter) Stats() (callsInWindow, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.removeExpired(l.timeNow())
	callsInWindow = len(l.callTimes)
	remaining = l.maxPerMinute - callsInWindow
	if remaining < 0 {
		remaining = 0
	}
	return callsInWindow, remaining
}

// removeExpired drops timestamps outside the window. Lock held.
// Timestamps are appended in order, so expired entries form a prefix.
func (l *SessionLimiter) removeExpired(now time.Time) {
	cutoff := now.Add(-l.window)
	expired := 0
	for _, t := range l.callTimes {
		if !t.After(cutoff) {
			expired++
		} else {
			break
		}
	}
	l.callTimes = l.callTimes[expired:]
}
