package camera

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCache_GetIsLazyAndStable(t *testing.T) {
	c := NewCache()
	e1 := c.Get("C1")
	e2 := c.Get("C1")
	require.Same(t, e1, e2)
	require.NotNil(t, e1.PollBreaker)
}

func TestEntry_DuePollRespectsInterval(t *testing.T) {
	var e Entry
	now := time.Now()

	require.True(t, e.DuePoll(now, 1000))
	require.False(t, e.DuePoll(now.Add(500*time.Millisecond), 1000))
	require.True(t, e.DuePoll(now.Add(1100*time.Millisecond), 1000))
}

func TestEntry_SecondsSinceStreamStart(t *testing.T) {
	var e Entry
	require.Equal(t, 0, e.SecondsSinceStreamStart(time.Now()))

	start := time.Now()
	e.MarkStreamStarted(start)
	require.Equal(t, 5, e.SecondsSinceStreamStart(start.Add(5*time.Second)))
}
