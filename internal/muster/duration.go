package muster

import (
	"fmt"
	"time"
)

// Elapsed recomputes elapsed seconds from wall-clock state. While running
// the value is accumulated seconds plus whole seconds since the last resume;
// while paused it is frozen at the accumulated value. Recomputing from
// timestamps keeps the counter correct across process suspension and
// restart; any periodic tick is presentation only, never the source of
// truth.
func Elapsed(accumulated int64, lastResume time.Time, paused bool, now time.Time) int64 {
	if paused {
		return accumulated
	}
	delta := now.Sub(lastResume)
	if delta < 0 {
		delta = 0
	}
	return accumulated + int64(delta/time.Second)
}

// FormatDuration renders elapsed seconds as hh:mm:ss for history narratives
// and status output.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
