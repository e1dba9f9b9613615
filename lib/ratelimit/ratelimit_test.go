package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCeiling(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewWithClock(18, time.Minute, func() time.Time { return now })

	// 18 requests inside one second
	for i := 0; i < 18; i++ {
		require.True(t, l.Allow())
		l.Record()
		now = now.Add(50 * time.Millisecond)
	}

	require.False(t, l.Allow())
	wait := l.NextSlot()
	require.Greater(t, wait, time.Duration(0))
	require.LessOrEqual(t, wait, time.Minute)
}

func TestOldestAgesOut(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewWithClock(2, time.Minute, func() time.Time { return now })

	l.Record()
	now = now.Add(10 * time.Second)
	l.Record()
	require.False(t, l.Allow())

	// Allow flips back exactly when the oldest stamp leaves the window.
	require.Equal(t, 50*time.Second, l.NextSlot())
	now = now.Add(50 * time.Second)
	require.True(t, l.Allow())
	require.Equal(t, 1, l.Len())
}

func TestDeferredNotDropped(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewWithClock(1, time.Minute, func() time.Time { return now })

	l.Record()
	require.False(t, l.Allow())

	now = now.Add(l.NextSlot())
	require.True(t, l.Allow())
	l.Record()
	require.Equal(t, 1, l.Len())
}
