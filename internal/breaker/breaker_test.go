package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreaker_BlocksWhileInProgress(t *testing.T) {
	var b Breaker
	now := time.Now()

	require.True(t, b.Allow(now))
	b.Begin()
	require.False(t, b.Allow(now))
	b.End(now, true)
	require.True(t, b.Allow(now))
}

func TestBreaker_BackoffGrowsAndCapsAt60s(t *testing.T) {
	var b Breaker
	now := time.Now()

	b.Begin()
	b.End(now, false)
	require.False(t, b.Allow(now.Add(500*time.Millisecond)))
	require.True(t, b.Allow(now.Add(2*time.Second)))

	// Drive several more failures; backoff must never exceed maxBackoff.
	for i := 0; i < 10; i++ {
		b.Begin()
		b.End(now, false)
	}
	require.False(t, b.Allow(now.Add(59*time.Second)))
	require.True(t, b.Allow(now.Add(61*time.Second)))
}

func TestBreaker_SuccessResetsBackoff(t *testing.T) {
	var b Breaker
	now := time.Now()

	b.Begin()
	b.End(now, false)
	b.Begin()
	b.End(now, true)

	// After a success, the breaker should allow immediately rather than
	// honoring the previous failure's cool-down.
	require.True(t, b.Allow(now.Add(time.Millisecond)))
}

func TestBreaker_Trip(t *testing.T) {
	var b Breaker
	now := time.Now()

	require.True(t, b.Allow(now))
	b.Trip(now)
	require.False(t, b.Allow(now.Add(time.Millisecond)))
}
