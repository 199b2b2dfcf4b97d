// musteradmin prints a read-only muster report over a shared store file:
// the merged fleet snapshot, the aggregated total with its verdict, and
// recent history records.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/tarcisiodg/musterctl/internal/fleet"
	"github.com/tarcisiodg/musterctl/internal/history"
	"github.com/tarcisiodg/musterctl/internal/logging"
	"github.com/tarcisiodg/musterctl/internal/muster"
	"github.com/tarcisiodg/musterctl/internal/roster"
	"github.com/tarcisiodg/musterctl/internal/store"
	"github.com/tarcisiodg/musterctl/internal/store/sqlitestore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "musteradmin: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	storePath := flag.String("store", "muster.db", "path to the shared store file")
	records := flag.Int("n", 10, "history records to show")
	flag.Parse()

	logging.ConfigureRuntime()

	st, err := sqlitestore.Open(*storePath, 0)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return report(ctx, st, os.Stdout, *records)
}

func report(ctx context.Context, st store.Store, out *os.File, recordCount int) error {
	var dir roster.Directory
	if err := st.GetDoc(ctx, store.KeyRoster, &dir); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	counters := fleet.NewManualCounters(nil)
	if err := st.GetDoc(ctx, store.KeyCounters, &counters); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	var released fleet.ReleasedSet
	if err := st.GetDoc(ctx, store.KeyReleased, &released); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	var general fleet.GeneralMusterState
	if err := st.GetDoc(ctx, store.KeyGeneral, &general); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	raws, err := st.ListDocs(ctx, store.PrefixUnits)
	if err != nil {
		return err
	}
	partial := make(map[string]fleet.UnitState, len(raws))
	units := make([]string, 0, len(raws))
	for key, raw := range raws {
		unit := store.UnitFromKey(key)
		var u fleet.UnitState
		if err := json.Unmarshal(raw, &u); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		partial[unit] = u
		units = append(units, unit)
	}
	sort.Strings(units)
	snap := fleet.Normalize(partial, units)
	tally := fleet.Aggregate(snap, counters, released, dir)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "UNIT\tACTIVE\tCOUNT\tPAUSED\tOPERATOR\tLEADER\n")
	for _, unit := range units {
		u := snap[unit]
		fmt.Fprintf(w, "%s\t%v\t%d\t%v\t%s\t%s\n",
			unit, u.Active, u.Contribution(), u.Paused, u.OperatorName, u.LeaderName)
	}
	w.Flush()

	fmt.Fprintf(out, "\ngeneral muster: active=%v finished=%v exercise=%s\n",
		general.Active, general.Finished, general.Exercise)
	fmt.Fprintf(out, "total=%d occupied=%d verdict=%s capacity=%d%%\n",
		tally.Total, tally.OccupiedBerths, tally.VerdictText(), tally.CapacityPercent)

	recs, err := history.Recent(ctx, st, recordCount)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	fmt.Fprintf(out, "\nRECENT MUSTERS\n")
	for _, rec := range recs {
		fmt.Fprintf(out, "%s  %s  scope=%s crew=%d duration=%s\n",
			rec.RecordedAt.Format(time.RFC3339), rec.ID, rec.Scope, rec.CrewCount,
			muster.FormatDuration(rec.DurationSeconds))
	}
	return nil
}
