package fleet

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ReleasedCategory is the reserved manual category. Its value is derived
// from the released-crew id set and is never directly editable.
const ReleasedCategory = "released_crew"

// DefaultCategories are the response-team groups counted by hand during a
// general muster, plus the reserved released category.
var DefaultCategories = []string{
	"bridge_team",
	"fire_team",
	"first_aid_team",
	"helideck_team",
	ReleasedCategory,
}

var (
	ErrUnknownCategory  = errors.New("fleet: unknown manual category")
	ErrReservedCategory = errors.New("fleet: released category is derived, not editable")
	ErrNegativeCount    = errors.New("fleet: manual count must be non-negative")
)

// ManualCounters maps fixed category names to hand-counted headcounts.
// Stored as a single remote document, full-replace on change.
type ManualCounters map[string]int

// NewManualCounters builds a zeroed counter set over the given categories
// (DefaultCategories when empty).
func NewManualCounters(categories []string) ManualCounters {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	out := make(ManualCounters, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		out[c] = 0
	}
	out[ReleasedCategory] = 0
	return out
}

// Set updates one hand-counted category. The reserved released category and
// unknown categories are rejected; counts never go negative.
func (m ManualCounters) Set(category string, count int) error {
	category = strings.TrimSpace(category)
	if category == ReleasedCategory {
		return ErrReservedCategory
	}
	if _, ok := m[category]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if count < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeCount, count)
	}
	m[category] = count
	return nil
}

// SyncReleased forces the reserved category to the released-set size. Called
// after every released-list change and before every aggregation, so direct
// edits to the stored document cannot stick.
func (m ManualCounters) SyncReleased(releasedCount int) {
	if releasedCount < 0 {
		releasedCount = 0
	}
	m[ReleasedCategory] = releasedCount
}

// Sum totals every category, released included.
func (m ManualCounters) Sum() int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}

// Categories lists category names in stable order.
func (m ManualCounters) Categories() []string {
	out := make([]string, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ReleasedSet is the released-crew exclusion list as stored remotely: crew
// released from the muster (for example sent to hospital) who must still be
// accounted for in the total.
type ReleasedSet struct {
	IDs []string `json:"ids"`
}

// Add appends an id if absent; returns whether the set changed.
func (r *ReleasedSet) Add(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || r.Contains(id) {
		return false
	}
	r.IDs = append(r.IDs, id)
	return true
}

// Remove drops an id; returns whether the set changed.
func (r *ReleasedSet) Remove(id string) bool {
	for i, have := range r.IDs {
		if have == id {
			r.IDs = append(r.IDs[:i], r.IDs[i+1:]...)
			return true
		}
	}
	return false
}

func (r *ReleasedSet) Contains(id string) bool {
	for _, have := range r.IDs {
		if have == id {
			return true
		}
	}
	return false
}

func (r *ReleasedSet) Size() int {
	return len(r.IDs)
}
