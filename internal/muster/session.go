package muster

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tarcisiodg/musterctl/internal/roster"
)

var (
	ErrInvalidSession  = errors.New("muster: invalid session")
	ErrInvalidExercise = errors.New("muster: invalid exercise type")
)

// ScanOutcome classifies one scan application attempt against the session.
type ScanOutcome int

const (
	// ScanApplied added a new ScannedTag.
	ScanApplied ScanOutcome = iota
	// ScanNoMatch found no berth for the tag; in owner mode the hardware
	// answers with access-denied feedback, the session is unchanged.
	ScanNoMatch
	// ScanDuplicate resolved a berth that already boarded; silent no-op.
	ScanDuplicate
	// ScanEmptyTag rejects blank hardware input.
	ScanEmptyTag
	// ScanPaused drops the scan because the session clock is paused.
	ScanPaused
	// ScanObserver drops the scan because observers never mutate.
	ScanObserver
)

func (o ScanOutcome) String() string {
	switch o {
	case ScanApplied:
		return "applied"
	case ScanNoMatch:
		return "no_match"
	case ScanDuplicate:
		return "duplicate"
	case ScanEmptyTag:
		return "empty_tag"
	case ScanPaused:
		return "paused"
	case ScanObserver:
		return "observer"
	default:
		return "unknown"
	}
}

// Session is the one local muster session a device may hold. Exported fields
// are JSON-serializable so the session can be snapshotted for restart
// rehydration; all mutation goes through methods on the owning service
// goroutine.
type Session struct {
	Unit               string         `json:"unit"`
	LeaderName         string         `json:"leader_name"`
	Exercise           ExerciseType   `json:"exercise"`
	Drill              bool           `json:"drill"`
	Mode               Mode           `json:"mode"`
	Tags               []ScannedTag   `json:"tags"`
	AccumulatedSeconds int64          `json:"accumulated_seconds"`
	LastResume         time.Time      `json:"last_resume"`
	Paused             bool           `json:"paused"`
	ManualMode         bool           `json:"manual_mode"`
	ManualCount        int            `json:"manual_count"`
	Expected           []roster.Berth `json:"expected"`
}

// Start opens an owner session for a unit. The caller is responsible for
// verifying the unit is not already remotely active before starting.
func Start(unit, leader string, exercise ExerciseType, drill bool, expected []roster.Berth, now time.Time) (*Session, error) {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return nil, fmt.Errorf("%w: missing unit", ErrInvalidSession)
	}
	if !exercise.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidExercise, exercise)
	}
	return &Session{
		Unit:       unit,
		LeaderName: strings.TrimSpace(leader),
		Exercise:   exercise,
		Drill:      drill,
		Mode:       ModeOwner,
		Tags:       make([]ScannedTag, 0),
		LastResume: now,
		Expected:   expected,
	}, nil
}

// Observe opens a read-only view of another device's live unit. Every field
// besides the unit and expected-crew snapshot is refreshed from remote
// state by the reconciler.
func Observe(unit string, expected []roster.Berth) *Session {
	return &Session{
		Unit:     strings.TrimSpace(unit),
		Mode:     ModeObserver,
		Tags:     make([]ScannedTag, 0),
		Paused:   false,
		Expected: expected,
	}
}

// Elapsed reports current elapsed seconds via wall-clock recomputation.
func (s *Session) Elapsed(now time.Time) int64 {
	return Elapsed(s.AccumulatedSeconds, s.LastResume, s.Paused, now)
}

// Pause folds the running interval into accumulated seconds and freezes the
// clock. Idempotent; observers cannot pause.
func (s *Session) Pause(now time.Time) {
	if s.Mode == ModeObserver || s.Paused {
		return
	}
	s.AccumulatedSeconds = s.Elapsed(now)
	s.Paused = true
}

// Resume restamps the resume timestamp and unfreezes the clock. Idempotent;
// observers cannot resume.
func (s *Session) Resume(now time.Time) {
	if s.Mode == ModeObserver || !s.Paused {
		return
	}
	s.LastResume = now
	s.Paused = false
}

// Boarded reports whether a berth already carries a scanned tag.
func (s *Session) Boarded(berthID string) bool {
	for _, tag := range s.Tags {
		if tag.BerthID == berthID {
			return true
		}
	}
	return false
}

// Scan applies one hardware scan event. Matching delegates to the roster
// match engine; a successful match prepends a ScannedTag (newest first).
// Paused sessions, observer sessions, unmatched tags, and already-boarded
// berths all leave the tag list unchanged.
func (s *Session) Scan(tagID, payload string, now time.Time) ScanOutcome {
	if s.Mode == ModeObserver {
		return ScanObserver
	}
	if s.Paused {
		return ScanPaused
	}
	berth, result := roster.Match(tagID, s.Expected, s.Boarded)
	switch result {
	case roster.EmptyTag:
		return ScanEmptyTag
	case roster.NoMatch:
		return ScanNoMatch
	case roster.AlreadyBoarded:
		return ScanDuplicate
	}
	entry := ScannedTag{
		TagID:     strings.TrimSpace(tagID),
		Payload:   payload,
		BerthID:   berth.ID,
		Name:      berth.CrewName,
		Role:      berth.Role,
		Company:   berth.Company,
		ScannedAt: now,
	}
	s.Tags = append([]ScannedTag{entry}, s.Tags...)
	return ScanApplied
}

// RemoveTag is an operator correction: drop one entry by tag id. Observers
// cannot mutate; returns whether an entry was removed.
func (s *Session) RemoveTag(tagID string) bool {
	if s.Mode == ModeObserver {
		return false
	}
	for i, tag := range s.Tags {
		if tag.SameTag(tagID) {
			s.Tags = append(s.Tags[:i], s.Tags[i+1:]...)
			return true
		}
	}
	return false
}

// Pending lists expected occupied berths not yet accounted for.
func (s *Session) Pending() []roster.Berth {
	out := make([]roster.Berth, 0)
	for _, b := range s.Expected {
		if !b.Occupied() {
			continue
		}
		if !s.Boarded(b.ID) {
			out = append(out, b)
		}
	}
	return out
}

// Count is the number of crew accounted for by scans.
func (s *Session) Count() int {
	return len(s.Tags)
}

// SetManualMode switches the unit between tag scanning and a hand-counted
// headcount. Scans stay permitted in manual mode; the manual count simply
// takes precedence in totals. Leaving manual mode zeroes the count.
// Observers cannot mutate.
func (s *Session) SetManualMode(enabled bool, count int) {
	if s.Mode == ModeObserver {
		return
	}
	if !enabled {
		count = 0
	}
	s.ManualMode = enabled
	s.ManualCount = count
}

// HeadCount is what the unit reports to the fleet total: the manual count
// in manual mode, otherwise the number of scanned tags.
func (s *Session) HeadCount() int {
	if s.ManualMode {
		return s.ManualCount
	}
	return len(s.Tags)
}

// SetObserved overwrites the mirrored fields of an observer session from
// remote unit state. No-op for owner sessions: local state stays
// authoritative while actively mustering.
func (s *Session) SetObserved(tags []ScannedTag, paused bool, accumulated int64, lastResume time.Time) {
	if s.Mode != ModeObserver {
		return
	}
	if tags == nil {
		tags = make([]ScannedTag, 0)
	}
	s.Tags = tags
	s.Paused = paused
	s.AccumulatedSeconds = accumulated
	s.LastResume = lastResume
}
