package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRestartSchedule_Empty(t *testing.T) {
	sched, err := ParseRestartSchedule("")
	require.NoError(t, err)
	require.Nil(t, sched)
}

func TestParseRestartSchedule_Invalid(t *testing.T) {
	_, err := ParseRestartSchedule("25:99x")
	require.Error(t, err)
}

// TestRestartSchedule_S6_CrossesWithinTickWindow matches spec.md's
// scenario S6: a daily 03:00 restart fires exactly once for the tick
// whose (prev, now] window straddles the scheduled minute.
func TestRestartSchedule_S6_CrossesWithinTickWindow(t *testing.T) {
	sched, err := ParseRestartSchedule("03:00")
	require.NoError(t, err)
	require.NotNil(t, sched)

	base := time.Date(2026, 7, 30, 2, 59, 59, 0, time.UTC)
	prev := base
	now := base.Add(2 * time.Second) // crosses 03:00:00

	require.True(t, sched.Crossed(prev, now))
}

func TestRestartSchedule_DoesNotCrossOutsideWindow(t *testing.T) {
	sched, err := ParseRestartSchedule("03:00")
	require.NoError(t, err)

	prev := time.Date(2026, 7, 30, 2, 0, 0, 0, time.UTC)
	now := time.Date(2026, 7, 30, 2, 0, 1, 0, time.UTC)

	require.False(t, sched.Crossed(prev, now))
}

func TestRestartSchedule_NilScheduleNeverCrosses(t *testing.T) {
	var sched *RestartSchedule
	require.False(t, sched.Crossed(time.Now(), time.Now().Add(time.Hour)))
}
