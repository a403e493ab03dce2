package cooldown

import (
	"log/slog"
	"time"
)

// Tracker is the hysteresis state machine that delays scale-down. It has
// two states: Idle (no excess observed) and Cooling (excess observed, timer
// running). The Cooling timestamp is set when excess first appears and is
// deliberately not refreshed while the excess persists; any non-excess
// observation resets the tracker to Idle.
//
// State is in-memory only and owned by the controller loop; it does not
// persist across restarts.
type Tracker struct {
	waitTime time.Duration
	since    *time.Time
}

func NewTracker(waitTime time.Duration) *Tracker {
	return &Tracker{waitTime: waitTime}
}

// Observe feeds one cycle's ready count into the state machine.
func (t *Tracker) Observe(readyCount, targetPoolSize int, now time.Time) {
	if readyCount <= targetPoolSize {
		if t.since != nil {
			slog.Debug("Excess cleared, cooldown reset", "ready", readyCount, "target", targetPoolSize)
		}
		t.since = nil
		return
	}
	if t.since == nil {
		t.since = &now
		slog.Info("Excess observed, cooldown started",
			"ready", readyCount,
			"target", targetPoolSize,
			"waitTime", t.waitTime)
	}
}

// EligibleForScaleDown reports whether excess has persisted for the full
// wait time.
func (t *Tracker) EligibleForScaleDown(now time.Time) bool {
	if t.since == nil {
		return false
	}
	return now.Sub(*t.since) >= t.waitTime
}

// Cooling reports whether the tracker is currently timing an excess episode.
func (t *Tracker) Cooling() bool {
	return t.since != nil
}
