// Package history owns muster history records and the narrative summary
// attached to them. Records are append-only documents in the shared store,
// deletable by id for corrections.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tarcisiodg/musterctl/internal/muster"
	"github.com/tarcisiodg/musterctl/internal/store"
)

// FleetScope marks a record covering every unit plus manual counters, as
// written by finish-everything.
const FleetScope = "fleet"

// Record is one completed muster.
type Record struct {
	ID              string              `json:"id"`
	RecordedAt      time.Time           `json:"recorded_at"`
	Scope           string              `json:"scope"`
	Exercise        muster.ExerciseType `json:"exercise"`
	Drill           bool                `json:"drill"`
	LeaderName      string              `json:"leader_name"`
	OperatorName    string              `json:"operator_name"`
	CrewCount       int                 `json:"crew_count"`
	DurationSeconds int64               `json:"duration_seconds"`
	Tags            []muster.ScannedTag `json:"tags"`
	ManualCounts    map[string]int      `json:"manual_counts,omitempty"`
	Summary         string              `json:"summary"`
}

// NewID mints a record id.
func NewID() string {
	return uuid.NewString()
}

// Append writes the record under its history key.
func Append(ctx context.Context, st store.Store, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("history: record missing id")
	}
	if err := st.SaveDoc(ctx, store.HistoryKey(rec.ID), rec); err != nil {
		return fmt.Errorf("history: append %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to n records, most recent first.
func Recent(ctx context.Context, st store.Store, n int) ([]Record, error) {
	raws, err := st.ListDocs(ctx, store.PrefixHistory)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	out := make([]Record, 0, len(raws))
	for key, raw := range raws {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("history: decode %s: %w", key, err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Delete removes one record by id, for corrections.
func Delete(ctx context.Context, st store.Store, recordID string) error {
	if err := st.DeleteDoc(ctx, store.HistoryKey(recordID)); err != nil {
		return fmt.Errorf("history: delete %s: %w", recordID, err)
	}
	return nil
}
