package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tarcisiodg/musterctl/internal/fleet"
	"github.com/tarcisiodg/musterctl/internal/history"
	"github.com/tarcisiodg/musterctl/internal/muster"
	"github.com/tarcisiodg/musterctl/internal/observability"
	"github.com/tarcisiodg/musterctl/internal/store"
)

// FinishUnit closes the owner session for this unit only: one unit-scoped
// history record, the remote unit document reset to inactive/zero, local
// session cleared. The local session clears even when remote writes fail; a
// visible not-saved outcome beats a stuck session. The returned error
// carries every remote failure.
func (s *Service) FinishUnit(ctx context.Context) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoSession
	}
	if s.session.Mode == muster.ModeObserver {
		s.mu.Unlock()
		return ErrObserverOnly
	}
	sess := s.session
	now := s.clock()
	rec := history.Record{
		ID:              history.NewID(),
		RecordedAt:      now,
		Scope:           sess.Unit,
		Exercise:        sess.Exercise,
		Drill:           sess.Drill,
		LeaderName:      sess.LeaderName,
		OperatorName:    s.cfg.Operator,
		CrewCount:       sess.HeadCount(),
		DurationSeconds: sess.Elapsed(now),
		Tags:            sess.Tags,
	}
	s.mu.Unlock()

	// Advisory only; composes the template on any narrator failure and
	// never blocks closure.
	rec.Summary = history.Compose(ctx, s.narrator, sess.Unit, rec.CrewCount, muster.FormatDuration(rec.DurationSeconds))

	var errs []error
	if err := history.Append(ctx, s.store, rec); err != nil {
		errs = append(errs, err)
		log.Error().Err(err).Str("unit", sess.Unit).Msg("history record not saved")
	}
	if err := s.store.SaveDoc(ctx, store.UnitKey(sess.Unit), fleet.Inactive()); err != nil {
		errs = append(errs, fmt.Errorf("reset unit %s: %w", sess.Unit, err))
		log.Error().Err(err).Str("unit", sess.Unit).Msg("remote unit reset not saved")
	}

	s.mu.Lock()
	s.clearSessionLocked()
	s.mu.Unlock()
	log.Info().Str("unit", sess.Unit).Int("count", rec.CrewCount).Msg("session finished")
	return errors.Join(errs...)
}

// FinishAll is the privileged site-wide stand-down: one fleet-scoped
// history record aggregating every unit's tags plus the manual counters,
// then every unit document reset to inactive, counters zeroed, released
// list emptied, the general-muster flag cleared, and the local session
// dropped. Resetting the unit documents is what evicts every other
// operator's live session through their reconcilers.
func (s *Service) FinishAll(ctx context.Context) error {
	s.mu.Lock()
	now := s.clock()
	var tags []muster.ScannedTag
	var count int
	for _, st := range s.snap {
		if !st.Active {
			continue
		}
		tags = append(tags, st.Tags...)
		count += st.Contribution()
	}
	if s.session != nil && s.session.Mode == muster.ModeOwner {
		// The local session is newer than its own remote echo.
		if st, ok := s.snap[s.session.Unit]; !ok || !st.Active {
			tags = append(tags, s.session.Tags...)
			count += s.session.HeadCount()
		}
	}
	s.counters.SyncReleased(s.released.Size())
	manual := make(map[string]int, len(s.counters))
	for c, n := range s.counters {
		manual[c] = n
	}
	count += s.counters.Sum()

	rec := history.Record{
		ID:           history.NewID(),
		RecordedAt:   now,
		Scope:        history.FleetScope,
		Exercise:     s.general.Exercise,
		Drill:        s.general.Drill,
		OperatorName: s.cfg.Operator,
		CrewCount:    count,
		Tags:         tags,
		ManualCounts: manual,
	}
	if s.general.StartedAt.IsZero() {
		rec.DurationSeconds = 0
	} else {
		rec.DurationSeconds = int64(now.Sub(s.general.StartedAt).Seconds())
	}
	units := append([]string(nil), s.cfg.Units...)
	s.mu.Unlock()

	rec.Summary = history.Compose(ctx, s.narrator, "all stations", rec.CrewCount, muster.FormatDuration(rec.DurationSeconds))

	var errs []error
	if err := history.Append(ctx, s.store, rec); err != nil {
		errs = append(errs, err)
		log.Error().Err(err).Msg("fleet history record not saved")
	}
	for _, unit := range units {
		if err := s.store.SaveDoc(ctx, store.UnitKey(unit), fleet.Inactive()); err != nil {
			errs = append(errs, fmt.Errorf("reset unit %s: %w", unit, err))
		}
	}
	if err := s.store.SaveDoc(ctx, store.KeyCounters, fleet.NewManualCounters(nil)); err != nil {
		errs = append(errs, fmt.Errorf("reset counters: %w", err))
	}
	if err := s.store.SaveDoc(ctx, store.KeyReleased, fleet.ReleasedSet{}); err != nil {
		errs = append(errs, fmt.Errorf("reset released list: %w", err))
	}
	if err := s.store.SaveDoc(ctx, store.KeyGeneral, fleet.GeneralMusterState{}); err != nil {
		errs = append(errs, fmt.Errorf("reset general muster: %w", err))
	}

	s.mu.Lock()
	s.counters = fleet.NewManualCounters(nil)
	s.released = fleet.ReleasedSet{}
	s.general = fleet.GeneralMusterState{}
	s.clearSessionLocked()
	s.mu.Unlock()

	observability.RecordForcedClose(s.cfg.DeviceName, "all", "finish_everything")
	log.Info().Int("count", rec.CrewCount).Msg("site-wide muster finished")
	return errors.Join(errs...)
}
