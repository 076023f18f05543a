package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewSessionLimiterWithClock(3, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow())
	}
	assert.Error(t, l.Allow(), "fourth call in the window is rejected")

	calls, remaining := l.Stats()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, remaining)
}

func TestLimiterWindowSlides(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewSessionLimiterWithClock(2, func() time.Time { return now })

	require.NoError(t, l.Allow())
	require.NoError(t, l.Allow())
	assert.Error(t, l.Allow())

	// 61 seconds later both earlier calls have left the window
	now = now.Add(61 * time.Second)
	require.NoError(t, l.Allow())

	calls, remaining := l.Stats()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, remaining)
}

func TestLimiterPartialExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewSessionLimiterWithClock(2, func() time.Time { return now })

	require.NoError(t, l.Allow())
	now = now.Add(30 * time.Second)
	require.NoError(t, l.Allow())
	assert.Error(t, l.Allow())

	// first call expires, second is still inside the window
	now = now.Add(31 * time.Second)
	require.NoError(t, l.Allow())
	assert.Error(t, l.Allow())
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewSessionLimiterWithClock(1, func() time.Time { return now })
	require.NoError(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
