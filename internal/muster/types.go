// Package muster owns the local muster session: lifecycle transitions,
// scan application, and wall-clock elapsed-time accounting.
//
// Ownership boundary:
// - the one local MusterSession per device
// - owner/observer session modes
// - pause/resume duration accounting
//
// Remote merge policy lives in internal/reconcile; fleet-wide aggregation
// lives in internal/fleet.
package muster

import (
	"strings"
	"time"
)

// ExerciseType is the muster exercise classification carried into history
// records and the general-muster document.
type ExerciseType string

const (
	ExerciseBoatDrill    ExerciseType = "boat_drill"
	ExerciseEvacuation   ExerciseType = "evacuation"
	ExerciseFire         ExerciseType = "fire"
	ExerciseManOverboard ExerciseType = "man_overboard"
	ExerciseGeneral      ExerciseType = "general_muster"
)

func (e ExerciseType) Valid() bool {
	switch e {
	case ExerciseBoatDrill, ExerciseEvacuation, ExerciseFire, ExerciseManOverboard, ExerciseGeneral:
		return true
	default:
		return false
	}
}

// Mode is the session ownership variant. Exactly one device owns the write
// path for a unit; every other device watching that unit observes.
type Mode int

const (
	// ModeOwner has write authority for the unit: scans, pause/resume,
	// tag removal, and finish all apply locally and push to the store.
	ModeOwner Mode = iota
	// ModeObserver mirrors another device's live session read-only; the
	// remote unit document is the sole source of truth.
	ModeObserver
)

func (m Mode) String() string {
	if m == ModeObserver {
		return "observer"
	}
	return "owner"
}

// ScannedTag is one boarded-crew entry. Immutable once created; at most one
// per berth and one per tag within a session.
type ScannedTag struct {
	TagID     string    `json:"tag_id"`
	Payload   string    `json:"payload"`
	BerthID   string    `json:"berth_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Company   string    `json:"company"`
	ScannedAt time.Time `json:"scanned_at"`
}

// SameTag compares tag ids under scan normalization rules.
func (t ScannedTag) SameTag(tagID string) bool {
	return strings.EqualFold(strings.TrimSpace(t.TagID), strings.TrimSpace(tagID))
}
