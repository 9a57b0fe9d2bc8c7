package detect

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// RestartSchedule wraps a daily HH:MM crossing, computed with
// robfig/cron so "has the schedule fired between the previous and
// current control-loop tick" is answered by cron's own Next()
// semantics rather than a hand-rolled time-of-day comparison.
type RestartSchedule struct {
	spec cron.Schedule
}

// ParseRestartSchedule parses spec.md's `ml_restart_schedule` format
// (local "HH:MM", or empty to disable) into a daily cron schedule.
func ParseRestartSchedule(hhmm string) (*RestartSchedule, error) {
	if hhmm == "" {
		return nil, nil
	}
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid ml_restart_schedule %q: expected HH:MM", hhmm)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid hour in ml_restart_schedule %q: %w", hhmm, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid minute in ml_restart_schedule %q: %w", hhmm, err)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return nil, fmt.Errorf("building cron schedule from %q: %w", hhmm, err)
	}
	return &RestartSchedule{spec: schedule}, nil
}

// Crossed reports whether the schedule fires strictly after prev and
// at-or-before now — i.e. the control loop's tick interval [prev, now]
// contains (or ends exactly on) a scheduled crossing.
func (r *RestartSchedule) Crossed(prev, now time.Time) bool {
	if r == nil {
		return false
	}
	next := r.spec.Next(prev)
	return !next.After(now)
}
