package store

import "strings"

// Well-known document keys shared by every device on the installation.
const (
	KeyGeneral  = "general"
	KeyCounters = "counters"
	KeyReleased = "released"
	KeyRoster   = "roster"

	PrefixUnits   = "units/"
	PrefixHistory = "history/"
)

// UnitKey is the per-unit document key.
func UnitKey(unit string) string {
	return PrefixUnits + strings.TrimSpace(unit)
}

// UnitFromKey inverts UnitKey; empty when the key is not a unit document.
func UnitFromKey(key string) string {
	if !strings.HasPrefix(key, PrefixUnits) {
		return ""
	}
	return strings.TrimPrefix(key, PrefixUnits)
}

// HistoryKey is the per-record history document key.
func HistoryKey(recordID string) string {
	return PrefixHistory + strings.TrimSpace(recordID)
}
