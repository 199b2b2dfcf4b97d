// Package fleet owns the externally-visible per-unit state, the site-wide
// general muster flag, manual group counters, and the fleet-wide
// aggregation that turns all of it into one muster total and verdict.
package fleet

import (
	"strings"
	"time"

	"github.com/tarcisiodg/musterctl/internal/muster"
)

// UnitState is the last-known-good state of one unit as held in its remote
// document. Writes are full replacements; every device reads it by
// subscription.
type UnitState struct {
	Count              int                 `json:"count"`
	Active             bool                `json:"active"`
	Tags               []muster.ScannedTag `json:"tags"`
	AccumulatedSeconds int64               `json:"accumulated_seconds"`
	LastResume         time.Time           `json:"last_resume"`
	Paused             bool                `json:"paused"`
	LeaderName         string              `json:"leader_name"`
	Exercise           muster.ExerciseType `json:"exercise"`
	Drill              bool                `json:"drill"`
	OperatorName       string              `json:"operator_name"`
	ManualCount        int                 `json:"manual_count"`
	ManualMode         bool                `json:"manual_mode"`
}

// Inactive is the defaulted state for a unit with no remote document.
func Inactive() UnitState {
	return UnitState{Tags: make([]muster.ScannedTag, 0)}
}

// FromSession projects the local session into its remote unit document.
// Each push replaces the document wholesale with post-mutation state. The
// raw accounting pair goes out untouched so every reader recomputes elapsed
// the same way the owner does; folding elapsed into AccumulatedSeconds here
// would double the running interval on the observer side.
func FromSession(s *muster.Session, operator string) UnitState {
	return UnitState{
		Count:              s.Count(),
		Active:             true,
		Tags:               s.Tags,
		AccumulatedSeconds: s.AccumulatedSeconds,
		LastResume:         s.LastResume,
		Paused:             s.Paused,
		LeaderName:         s.LeaderName,
		Exercise:           s.Exercise,
		Drill:              s.Drill,
		OperatorName:       operator,
		ManualCount:        s.ManualCount,
		ManualMode:         s.ManualMode,
	}
}

// Contribution is what this unit adds to the fleet total: the manual count
// when the unit is in manual mode, otherwise the tag count. Inactive units
// contribute nothing.
func (u UnitState) Contribution() int {
	if !u.Active {
		return 0
	}
	if u.ManualMode {
		return u.ManualCount
	}
	return u.Count
}

// Snapshot maps every known unit id to its state. After normalization the
// map is total over the known-unit list, so aggregation never misses a key.
type Snapshot map[string]UnitState

// Normalize returns a snapshot defined for every known unit, defaulting
// absent units to inactive/zero. A partial remote update must pass through
// here before aggregation.
func Normalize(partial map[string]UnitState, units []string) Snapshot {
	out := make(Snapshot, len(units))
	for _, unit := range units {
		unit = strings.TrimSpace(unit)
		if unit == "" {
			continue
		}
		if st, ok := partial[unit]; ok {
			if st.Tags == nil {
				st.Tags = make([]muster.ScannedTag, 0)
			}
			out[unit] = st
		} else {
			out[unit] = Inactive()
		}
	}
	return out
}

// GeneralMusterState is the single site-wide exercise document. At most one
// of Active/Finished is true; both false means fully idle and any stray
// local session is safe to auto-close.
type GeneralMusterState struct {
	Active      bool                `json:"active"`
	Finished    bool                `json:"finished"`
	StartedAt   time.Time           `json:"started_at"`
	Exercise    muster.ExerciseType `json:"exercise"`
	Drill       bool                `json:"drill"`
	Description string              `json:"description"`
}

// Idle reports the fully-idle condition: no exercise running and no
// finished-awaiting-save hold.
func (g GeneralMusterState) Idle() bool {
	return !g.Active && !g.Finished
}
