package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tarcisiodg/musterctl/internal/fleet"
	"github.com/tarcisiodg/musterctl/internal/muster"
	"github.com/tarcisiodg/musterctl/internal/observability"
	"github.com/tarcisiodg/musterctl/internal/reconcile"
	"github.com/tarcisiodg/musterctl/internal/scanner"
	"github.com/tarcisiodg/musterctl/internal/store"
)

// StartUnit opens an owner session for a unit. The unit must not be active
// on another device; the berth directory is re-fetched so the expected-crew
// snapshot is current.
func (s *Service) StartUnit(ctx context.Context, unit string, leader string, exercise muster.ExerciseType, drill bool) error {
	if err := s.refreshRoster(ctx); err != nil {
		log.Warn().Err(err).Msg("starting with stale berth directory")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return ErrSessionAlready
	}
	if st, ok := s.snap[strings.TrimSpace(unit)]; ok && st.Active {
		return fmt.Errorf("%w: %s", ErrUnitBusy, unit)
	}
	sess, err := muster.Start(unit, leader, exercise, drill, s.dir.ForUnit(unit), s.clock())
	if err != nil {
		return err
	}
	s.session = sess
	s.persistLocked()
	s.enqueuePush(store.UnitKey(sess.Unit))
	log.Info().Str("unit", sess.Unit).Str("exercise", string(exercise)).Bool("drill", drill).Msg("session started")
	return nil
}

// ObserveUnit opens a read-only view of another device's live unit.
func (s *Service) ObserveUnit(ctx context.Context, unit string) error {
	if err := s.refreshRoster(ctx); err != nil {
		log.Warn().Err(err).Msg("observing with stale berth directory")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return ErrSessionAlready
	}
	unit = strings.TrimSpace(unit)
	st, ok := s.snap[unit]
	if !ok || !st.Active {
		return fmt.Errorf("%w: %s", ErrUnitNotLive, unit)
	}
	sess := muster.Observe(unit, s.dir.ForUnit(unit))
	sess.SetObserved(st.Tags, st.Paused, st.AccumulatedSeconds, st.LastResume)
	s.session = sess
	log.Info().Str("unit", unit).Str("operator", st.OperatorName).Msg("observing live session")
	return nil
}

// ApplyScan applies one hardware scan event to the local session. Empty tag
// ids, unmatched tags, duplicates, paused, and observer sessions all leave
// the session unchanged.
func (s *Service) ApplyScan(ev scanner.Event) muster.ScanOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return muster.ScanNoMatch
	}
	at := ev.At
	if at.IsZero() {
		at = s.clock()
	}
	outcome := s.session.Scan(ev.TagID, ev.Payload, at)
	observability.RecordScan(s.cfg.DeviceName, s.session.Unit, outcome.String())
	if outcome == muster.ScanApplied {
		s.persistLocked()
		s.enqueuePush(store.UnitKey(s.session.Unit))
		log.Info().
			Str("unit", s.session.Unit).
			Str("tag", ev.TagID).
			Int("count", s.session.Count()).
			Msg("crew boarded")
	} else {
		log.Debug().Str("tag", ev.TagID).Str("outcome", outcome.String()).Msg("scan ignored")
	}
	return outcome
}

// Pause freezes the session clock.
func (s *Service) Pause() error {
	return s.mutateSession(func(sess *muster.Session) {
		sess.Pause(s.clock())
	})
}

// Resume unfreezes the session clock.
func (s *Service) Resume() error {
	return s.mutateSession(func(sess *muster.Session) {
		sess.Resume(s.clock())
	})
}

// RemoveTag drops one scanned entry by tag id (operator correction).
func (s *Service) RemoveTag(tagID string) error {
	return s.mutateSession(func(sess *muster.Session) {
		if sess.RemoveTag(tagID) {
			log.Info().Str("unit", sess.Unit).Str("tag", tagID).Msg("tag removed")
		}
	})
}

func (s *Service) mutateSession(mutate func(*muster.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ErrNoSession
	}
	if s.session.Mode == muster.ModeObserver {
		return ErrObserverOnly
	}
	mutate(s.session)
	s.persistLocked()
	s.enqueuePush(store.UnitKey(s.session.Unit))
	return nil
}

// Logout clears the local session without writing history or remote state.
func (s *Service) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return
	}
	unit := s.session.Unit
	s.clearSessionLocked()
	log.Info().Str("unit", unit).Msg("logged out, session cleared")
}

// SetManualMode switches the local unit between tag scanning and a
// hand-counted headcount, pushing the updated unit document.
func (s *Service) SetManualMode(enabled bool, count int) error {
	if count < 0 {
		return fmt.Errorf("%w: %d", fleet.ErrNegativeCount, count)
	}
	return s.mutateSession(func(sess *muster.Session) {
		sess.SetManualMode(enabled, count)
		log.Info().Str("unit", sess.Unit).Bool("manual", enabled).Int("count", count).Msg("manual mode updated")
	})
}

// SetManualCounter updates one hand-counted category and pushes the
// counters document.
func (s *Service) SetManualCounter(category string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.counters.Set(category, count); err != nil {
		return err
	}
	s.enqueuePush(store.KeyCounters)
	return nil
}

// Release adds crew to the released exclusion set; the reserved counter
// category follows the set size.
func (s *Service) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.released.Add(id) {
		return
	}
	s.counters.SyncReleased(s.released.Size())
	s.enqueuePush(store.KeyReleased)
	s.enqueuePush(store.KeyCounters)
}

// Unrelease removes crew from the released exclusion set.
func (s *Service) Unrelease(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.released.Remove(id) {
		return
	}
	s.counters.SyncReleased(s.released.Size())
	s.enqueuePush(store.KeyReleased)
	s.enqueuePush(store.KeyCounters)
}

// handleUnitDoc merges one inbound unit snapshot and applies the
// reconciliation policy to the local session.
func (s *Service) handleUnitDoc(key string, raw []byte) {
	unit := store.UnitFromKey(key)
	if unit == "" {
		return
	}

	s.mu.Lock()
	st := fleet.Inactive()
	if raw != nil && !decode(raw, &st) {
		s.mu.Unlock()
		return
	}
	partial := make(map[string]fleet.UnitState, len(s.snap))
	for u, have := range s.snap {
		partial[u] = have
	}
	partial[unit] = st
	s.snap = s.rec.Merge(partial)

	decision := s.rec.Apply(s.snap, s.session, s.clock())
	var closedUnit string
	if decision == reconcile.DecisionForceClose {
		closedUnit = s.session.Unit
		s.clearSessionLocked()
	}
	s.mu.Unlock()

	observability.RecordReconcile(s.cfg.DeviceName, decision.String())
	if closedUnit != "" {
		observability.RecordForcedClose(s.cfg.DeviceName, closedUnit, "unit_deactivated")
		log.Warn().Str("unit", closedUnit).Msg("session force-closed: unit deactivated remotely")
	}
}

// handleGeneralDoc watches the site-wide exercise flag; a fully idle update
// while an owner session is open force-closes it, returning the operator to
// a neutral screen with no history record.
func (s *Service) handleGeneralDoc(raw []byte) {
	var g fleet.GeneralMusterState
	if raw != nil && !decode(raw, &g) {
		return
	}

	s.mu.Lock()
	s.general = g
	var closedUnit string
	if s.rec.GeneralIdleCloses(g, s.session, s.clock()) {
		closedUnit = s.session.Unit
		s.clearSessionLocked()
	}
	s.mu.Unlock()

	if closedUnit != "" {
		observability.RecordForcedClose(s.cfg.DeviceName, closedUnit, "general_muster_ended")
		log.Warn().Str("unit", closedUnit).Msg("session force-closed: general muster ended")
	}
}

func (s *Service) handleCountersDoc(raw []byte) {
	counters := fleet.NewManualCounters(nil)
	if raw != nil && !decode(raw, &counters) {
		return
	}
	s.mu.Lock()
	s.counters = counters
	s.counters.SyncReleased(s.released.Size())
	s.mu.Unlock()
}

func (s *Service) handleReleasedDoc(raw []byte) {
	var released fleet.ReleasedSet
	if raw != nil && !decode(raw, &released) {
		return
	}
	s.mu.Lock()
	s.released = released
	s.counters.SyncReleased(s.released.Size())
	s.mu.Unlock()
}

// clearSessionLocked drops the local session and its persisted snapshot.
func (s *Service) clearSessionLocked() {
	s.session = nil
	if s.local != nil {
		if err := s.local.Clear(); err != nil {
			log.Warn().Err(err).Msg("clear session snapshot failed")
		}
	}
}

// persistLocked snapshots the current session for restart rehydration.
func (s *Service) persistLocked() {
	if s.local == nil || s.session == nil {
		return
	}
	if err := s.local.Save(s.session, s.clock()); err != nil {
		log.Warn().Err(err).Msg("persist session snapshot failed")
	}
}

// Reconcile exposes the reconciler decision path for direct application of
// an already-merged snapshot (tests and the admin API).
func (s *Service) Reconcile(partial map[string]fleet.UnitState) reconcile.Decision {
	s.mu.Lock()
	s.snap = s.rec.Merge(partial)
	decision := s.rec.Apply(s.snap, s.session, s.clock())
	var closedUnit string
	if decision == reconcile.DecisionForceClose {
		closedUnit = s.session.Unit
		s.clearSessionLocked()
	}
	s.mu.Unlock()

	if closedUnit != "" {
		observability.RecordForcedClose(s.cfg.DeviceName, closedUnit, "unit_deactivated")
	}
	return decision
}
