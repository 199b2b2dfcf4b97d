package service

import (
	"github.com/tarcisiodg/musterctl/internal/fleet"
	"github.com/tarcisiodg/musterctl/internal/muster"
)

// SessionStatus is the read-only view of the local session.
type SessionStatus struct {
	Unit           string              `json:"unit"`
	Mode           string              `json:"mode"`
	Exercise       muster.ExerciseType `json:"exercise"`
	Drill          bool                `json:"drill"`
	LeaderName     string              `json:"leader_name"`
	Paused         bool                `json:"paused"`
	ElapsedSeconds int64               `json:"elapsed_seconds"`
	ElapsedText    string              `json:"elapsed_text"`
	Count          int                 `json:"count"`
	ManualMode     bool                `json:"manual_mode"`
	ManualCount    int                 `json:"manual_count"`
	PendingBerths  []string            `json:"pending_berths"`
	Tags           []muster.ScannedTag `json:"tags"`
}

// Status is the device status served by the admin API.
type Status struct {
	Device        string                   `json:"device"`
	Operator      string                   `json:"operator"`
	Session       *SessionStatus           `json:"session,omitempty"`
	General       fleet.GeneralMusterState `json:"general"`
	Tally         fleet.Tally              `json:"tally"`
	Verdict       string                   `json:"verdict"`
	PendingPushes int                      `json:"pending_pushes"`
}

// Status snapshots current device state for observers and logs.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Status{
		Device:        s.cfg.DeviceName,
		Operator:      s.cfg.Operator,
		General:       s.general,
		Tally:         s.tallyLocked(),
		PendingPushes: s.outbox.Len(),
	}
	out.Verdict = out.Tally.VerdictText()

	if s.session != nil {
		now := s.clock()
		pending := s.session.Pending()
		names := make([]string, 0, len(pending))
		for _, b := range pending {
			names = append(names, b.ID)
		}
		out.Session = &SessionStatus{
			Unit:           s.session.Unit,
			Mode:           s.session.Mode.String(),
			Exercise:       s.session.Exercise,
			Drill:          s.session.Drill,
			LeaderName:     s.session.LeaderName,
			Paused:         s.session.Paused,
			ElapsedSeconds: s.session.Elapsed(now),
			ElapsedText:    muster.FormatDuration(s.session.Elapsed(now)),
			Count:          s.session.Count(),
			ManualMode:     s.session.ManualMode,
			ManualCount:    s.session.ManualCount,
			PendingBerths:  names,
			Tags:           s.session.Tags,
		}
	}
	return out
}

// Tally recomputes the fleet aggregation from the merged snapshot.
func (s *Service) Tally() fleet.Tally {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tallyLocked()
}

// tallyLocked overlays the local owner session onto its unit before
// aggregating, so the device's own view never lags behind its unpushed
// mutations.
func (s *Service) tallyLocked() fleet.Tally {
	snap := make(fleet.Snapshot, len(s.snap))
	for unit, st := range s.snap {
		snap[unit] = st
	}
	if s.session != nil && s.session.Mode == muster.ModeOwner {
		snap[s.session.Unit] = fleet.FromSession(s.session, s.cfg.Operator)
	}
	return fleet.Aggregate(snap, s.counters, s.released, s.dir)
}

// FleetView copies the merged per-unit snapshot.
func (s *Service) FleetView() fleet.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(fleet.Snapshot, len(s.snap))
	for unit, st := range s.snap {
		out[unit] = st
	}
	return out
}

// SessionUnit reports the unit of the open session, if any.
func (s *Service) SessionUnit() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return "", false
	}
	return s.session.Unit, true
}
