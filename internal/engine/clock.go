package engine

import (
	"fmt"
	"time"

	"vigil/internal/domain"
)

// TimerSnapshot is the result of one time evaluation.
type TimerSnapshot struct {
	MinutesToDeadline int64
	MinutesOverdue    int64
}

// EvaluateTimer derives minutes-to-deadline and minutes-overdue from the
// deadline, the grace window and now. Inside the grace window both values
// are zero: the deadline has passed but the system is not yet signaled
// overdue. At most one value is ever non-zero.
func EvaluateTimer(deadline time.Time, graceMinutes int, now time.Time) TimerSnapshot {
	delta := deadline.Sub(now)
	if delta >= 0 {
		return TimerSnapshot{MinutesToDeadline: int64(delta / time.Minute)}
	}
	late := -delta
	grace := time.Duration(graceMinutes) * time.Minute
	if late <= grace {
		return TimerSnapshot{}
	}
	return TimerSnapshot{MinutesOverdue: int64((late - grace) / time.Minute)}
}

// evaluateTimerPhase writes the computed snapshot onto the timer block.
// Timestamps are normalized to UTC; a deadline without zone info is read as
// UTC by time.Parse(RFC3339) only when it carries the Z suffix, so the state
// schema requires RFC3339 and this surfaces parse failures as fatal.
func evaluateTimerPhase(st *domain.State, now time.Time) error {
	deadline, err := time.Parse(time.RFC3339, st.Timer.Deadline)
	if err != nil {
		return fmt.Errorf("parse timer.deadline %q: %w", st.Timer.Deadline, err)
	}
	snap := EvaluateTimer(deadline.UTC(), st.Timer.GraceMinutes, now.UTC())
	st.Timer.Now = now.UTC().Format(time.RFC3339)
	st.Timer.MinutesToDeadline = snap.MinutesToDeadline
	st.Timer.MinutesOverdue = snap.MinutesOverdue
	return nil
}
