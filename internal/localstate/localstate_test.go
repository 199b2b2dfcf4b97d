package localstate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tarcisiodg/musterctl/internal/muster"
	"github.com/tarcisiodg/musterctl/internal/roster"
	"github.com/tarcisiodg/musterctl/internal/testutil/testlog"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func openTestFile(t *testing.T) *File {
	t.Helper()
	f, err := Open(filepath.Join(t.TempDir(), "muster.local.db"))
	if err != nil {
		t.Fatalf("open localstate: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	testlog.Start(t)
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for blank path")
	}
}

func TestLoadOnEmptyFile(t *testing.T) {
	testlog.Start(t)
	f := openTestFile(t)

	sess, ok, err := f.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok || sess != nil {
		t.Fatalf("empty file must report no snapshot")
	}
}

func TestSaveLoadPreservesSessionState(t *testing.T) {
	testlog.Start(t)
	f := openTestFile(t)

	expected := []roster.Berth{{ID: "301-A", TagIDs: []string{"TAG-001"}, CrewName: "Nina Berg", PrimaryUnit: "LB-1"}}
	sess, err := muster.Start("LB-1", "Nina Berg", muster.ExerciseBoatDrill, true, expected, t0)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	sess.Scan("TAG-001", "payload", t0.Add(5*time.Second))
	sess.Pause(t0.Add(30 * time.Second))

	if err := f.Save(sess, t0.Add(31*time.Second)); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := f.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("snapshot gone after save")
	}
	if got.Unit != "LB-1" || got.Mode != muster.ModeOwner || !got.Drill {
		t.Fatalf("session identity lost: %+v", got)
	}
	if got.Count() != 1 || got.Tags[0].TagID != "TAG-001" {
		t.Fatalf("scanned tags lost: %+v", got.Tags)
	}
	if !got.Paused || got.AccumulatedSeconds != 30 {
		t.Fatalf("pause accounting lost: paused=%v accumulated=%d", got.Paused, got.AccumulatedSeconds)
	}
	// Elapsed after restart is recomputed, not replayed.
	if e := got.Elapsed(t0.Add(time.Hour)); e != 30 {
		t.Fatalf("paused elapsed must stay frozen, got %d", e)
	}
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	testlog.Start(t)
	f := openTestFile(t)

	first, err := muster.Start("LB-1", "Nina Berg", muster.ExerciseFire, false, nil, t0)
	if err != nil {
		t.Fatalf("start first: %v", err)
	}
	if err := f.Save(first, t0); err != nil {
		t.Fatalf("save first: %v", err)
	}

	second, err := muster.Start("LB-2", "Jon Aas", muster.ExerciseEvacuation, false, nil, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	if err := f.Save(second, t0.Add(time.Minute)); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, ok, err := f.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Unit != "LB-2" || got.Exercise != muster.ExerciseEvacuation {
		t.Fatalf("old snapshot survived overwrite: %+v", got)
	}
}

func TestClearDropsSnapshot(t *testing.T) {
	testlog.Start(t)
	f := openTestFile(t)

	sess, err := muster.Start("LB-1", "Nina Berg", muster.ExerciseBoatDrill, false, nil, t0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.Save(sess, t0); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := f.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, err := f.Load(); err != nil || ok {
		t.Fatalf("snapshot must be gone after clear: ok=%v err=%v", ok, err)
	}
	// Clearing an already-empty file is fine.
	if err := f.Clear(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
}
