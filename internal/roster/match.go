package roster

// MatchResult classifies one scan against the expected crew.
type MatchResult int

const (
	// Matched resolved a berth that has not boarded yet.
	Matched MatchResult = iota
	// NoMatch found no berth bound to the tag.
	NoMatch
	// AlreadyBoarded resolved a berth that is already accounted for.
	AlreadyBoarded
	// EmptyTag rejects blank scan input.
	EmptyTag
)

func (r MatchResult) String() string {
	switch r {
	case Matched:
		return "matched"
	case NoMatch:
		return "no_match"
	case AlreadyBoarded:
		return "already_boarded"
	case EmptyTag:
		return "empty_tag"
	default:
		return "unknown"
	}
}

// Match resolves a scanned tag against the expected crew. Matching is
// case-insensitive and whitespace-trimmed across every tag slot. The boarded
// predicate reports whether a berth already carries a scanned tag this
// session; re-scanning such a berth (same or alternate slot) is classified
// AlreadyBoarded so callers can no-op instead of duplicating entries.
//
// Pure over its inputs; no side effects.
func Match(tagID string, expected []Berth, boarded func(berthID string) bool) (Berth, MatchResult) {
	if normalizeTag(tagID) == "" {
		return Berth{}, EmptyTag
	}
	for _, b := range expected {
		if !b.HasTag(tagID) {
			continue
		}
		if boarded != nil && boarded(b.ID) {
			return Berth{}, AlreadyBoarded
		}
		return b, Matched
	}
	return Berth{}, NoMatch
}
