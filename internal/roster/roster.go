// Package roster owns the berth directory and tag matching.
//
// Ownership boundary:
// - berth and directory types as stored in the berth document
// - unit filtering and occupancy counting
// - tag-to-berth resolution for scan events
package roster

import (
	"errors"
	"fmt"
	"strings"
)

// MaxTagSlots is the number of tag id slots one berth may carry.
const MaxTagSlots = 3

var ErrTooManyTags = errors.New("roster: berth exceeds tag slot limit")

// Berth is one bunk/crew slot with its expected occupant and tag bindings.
type Berth struct {
	ID            string   `json:"id"`
	TagIDs        []string `json:"tag_ids"`
	CrewName      string   `json:"crew_name"`
	Role          string   `json:"role"`
	Company       string   `json:"company"`
	PrimaryUnit   string   `json:"primary_unit"`
	SecondaryUnit string   `json:"secondary_unit"`
}

// Occupied reports whether the berth has an assigned occupant.
func (b Berth) Occupied() bool {
	return strings.TrimSpace(b.CrewName) != ""
}

// HasTag checks all tag slots for a normalized match.
func (b Berth) HasTag(tagID string) bool {
	want := normalizeTag(tagID)
	if want == "" {
		return false
	}
	for _, slot := range b.TagIDs {
		if normalizeTag(slot) == want {
			return true
		}
	}
	return false
}

// Directory is the full berth list as held in the berth document.
// It is read-only to the session core; edits happen through directory
// management operations outside a running muster.
type Directory struct {
	Berths []Berth `json:"berths"`
}

// ForUnit snapshots the berths whose primary unit matches. The snapshot is
// what a session carries as its expected crew for the whole muster.
func (d Directory) ForUnit(unit string) []Berth {
	unit = strings.TrimSpace(unit)
	out := make([]Berth, 0)
	for _, b := range d.Berths {
		if strings.EqualFold(strings.TrimSpace(b.PrimaryUnit), unit) {
			out = append(out, b)
		}
	}
	return out
}

// OccupiedCount counts berths with an assigned occupant across the directory.
func (d Directory) OccupiedCount() int {
	n := 0
	for _, b := range d.Berths {
		if b.Occupied() {
			n++
		}
	}
	return n
}

// Warning flags a user-correctable directory inconsistency.
type Warning struct {
	BerthID string
	Message string
}

// Validate scans the directory for duplicate tag bindings and slot overflow.
// Problems are warnings for the management surface, never session failures.
func (d Directory) Validate() []Warning {
	var warnings []Warning
	seen := make(map[string]string)
	for _, b := range d.Berths {
		if len(b.TagIDs) > MaxTagSlots {
			warnings = append(warnings, Warning{
				BerthID: b.ID,
				Message: fmt.Sprintf("%v: %d slots", ErrTooManyTags, len(b.TagIDs)),
			})
		}
		for _, slot := range b.TagIDs {
			tag := normalizeTag(slot)
			if tag == "" {
				continue
			}
			if prev, ok := seen[tag]; ok && prev != b.ID {
				warnings = append(warnings, Warning{
					BerthID: b.ID,
					Message: fmt.Sprintf("tag %q already bound to berth %s", tag, prev),
				})
				continue
			}
			seen[tag] = b.ID
		}
	}
	return warnings
}

func normalizeTag(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
