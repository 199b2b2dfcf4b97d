package fleet

import (
	"fmt"

	"github.com/tarcisiodg/musterctl/internal/roster"
)

// VerdictKind classifies the muster total against the occupied berth count.
type VerdictKind int

const (
	// VerdictOK means every occupied berth is accounted for.
	VerdictOK VerdictKind = iota
	// VerdictPending means crew are still missing from the count.
	VerdictPending
	// VerdictExcess means the count exceeds occupied berths.
	VerdictExcess
)

// Tally is one fleet-wide aggregation result.
type Tally struct {
	Total           int            `json:"total"`
	UnitTotals      map[string]int `json:"unit_totals"`
	ManualTotal     int            `json:"manual_total"`
	OccupiedBerths  int            `json:"occupied_berths"`
	TotalBerths     int            `json:"total_berths"`
	Verdict         VerdictKind    `json:"verdict"`
	Outstanding     int            `json:"outstanding"`
	CapacityPercent int            `json:"capacity_percent"`
}

// VerdictText renders the verdict for status output: "ok", "N pending" or
// "N excess".
func (t Tally) VerdictText() string {
	switch t.Verdict {
	case VerdictPending:
		return fmt.Sprintf("%d pending", t.Outstanding)
	case VerdictExcess:
		return fmt.Sprintf("%d excess", t.Outstanding)
	default:
		return "ok"
	}
}

// Aggregate combines active unit contributions, manual category counters,
// and the released set into one muster total and verdict. The released
// category is re-derived from the set before summing, so a tampered
// counters document cannot skew the total. The snapshot must already be
// normalized over all known units.
func Aggregate(snap Snapshot, counters ManualCounters, released ReleasedSet, dir roster.Directory) Tally {
	working := make(ManualCounters, len(counters)+1)
	for c, n := range counters {
		working[c] = n
	}
	working.SyncReleased(released.Size())

	unitTotals := make(map[string]int, len(snap))
	total := 0
	for unit, st := range snap {
		c := st.Contribution()
		unitTotals[unit] = c
		total += c
	}
	manual := working.Sum()
	total += manual

	occupied := dir.OccupiedCount()
	diff := occupied - total

	tally := Tally{
		Total:           total,
		UnitTotals:      unitTotals,
		ManualTotal:     manual,
		OccupiedBerths:  occupied,
		TotalBerths:     len(dir.Berths),
		CapacityPercent: capacityPercent(occupied, len(dir.Berths)),
	}
	switch {
	case diff > 0:
		tally.Verdict = VerdictPending
		tally.Outstanding = diff
	case diff < 0:
		tally.Verdict = VerdictExcess
		tally.Outstanding = -diff
	default:
		tally.Verdict = VerdictOK
	}
	return tally
}

func capacityPercent(occupied, total int) int {
	if total <= 0 {
		return 0
	}
	pct := occupied * 100 / total
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
