package reconcile

import (
	"testing"
	"time"

	"github.com/tarcisiodg/musterctl/internal/fleet"
	"github.com/tarcisiodg/musterctl/internal/muster"
	"github.com/tarcisiodg/musterctl/internal/roster"
	"github.com/tarcisiodg/musterctl/internal/testutil/testlog"
)

var (
	t0    = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	units = []string{"LB-1", "LB-2"}
)

func ownerSession(t *testing.T) *muster.Session {
	t.Helper()
	sess, err := muster.Start("LB-1", "Nina Berg", muster.ExerciseBoatDrill, false,
		[]roster.Berth{{ID: "301-A", TagIDs: []string{"TAG-001"}, CrewName: "Nina Berg", PrimaryUnit: "LB-1"}}, t0)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return sess
}

func TestMergeCompletesAllKnownUnits(t *testing.T) {
	testlog.Start(t)

	r := New(units, "operator-a", time.Minute, t0)
	snap := r.Merge(map[string]fleet.UnitState{"LB-1": {Active: true, Count: 1}})
	if len(snap) != 2 {
		t.Fatalf("expected total map over known units, got %d", len(snap))
	}
	if snap["LB-2"].Active {
		t.Fatalf("missing unit must default inactive")
	}
}

func TestOwnerStateNeverOverwrittenByActiveRemote(t *testing.T) {
	testlog.Start(t)

	r := New(units, "operator-a", time.Minute, t0)
	sess := ownerSession(t)
	sess.Scan("TAG-001", "", t0.Add(time.Second))

	remote := r.Merge(map[string]fleet.UnitState{"LB-1": {
		Active:             true,
		Count:              0,
		Paused:             true,
		AccumulatedSeconds: 999,
		OperatorName:       "operator-a",
	}})
	decision := r.Apply(remote, sess, t0.Add(2*time.Second))
	if decision != DecisionNone {
		t.Fatalf("owner apply decision: %v", decision)
	}
	if sess.Count() != 1 || sess.Paused || sess.AccumulatedSeconds == 999 {
		t.Fatalf("remote snapshot overwrote owner state: %+v", sess)
	}
}

func TestOwnerForceClosedByRemoteDeactivationAfterEcho(t *testing.T) {
	testlog.Start(t)

	r := New(units, "operator-a", time.Minute, t0)
	sess := ownerSession(t)

	// Own echo primes the reconciler.
	echo := r.Merge(map[string]fleet.UnitState{"LB-1": {Active: true, OperatorName: "operator-a"}})
	if got := r.Apply(echo, sess, t0.Add(time.Second)); got != DecisionNone {
		t.Fatalf("echo apply: %v", got)
	}
	if !r.Primed() {
		t.Fatalf("own echo must prime the reconciler")
	}

	// Another device finished everything: unit goes inactive.
	gone := r.Merge(nil)
	if got := r.Apply(gone, sess, t0.Add(2*time.Second)); got != DecisionForceClose {
		t.Fatalf("expected force close, got %v", got)
	}
}

func TestGraceWindowSuppressesEarlyEviction(t *testing.T) {
	testlog.Start(t)

	r := New(units, "operator-a", 10*time.Second, t0)
	sess := ownerSession(t)

	// Startup echo of an empty store must not evict the rehydrated session.
	if got := r.Apply(r.Merge(nil), sess, t0.Add(3*time.Second)); got != DecisionNone {
		t.Fatalf("eviction inside grace window: %v", got)
	}
	// Past the grace ceiling deactivation wins even without an echo.
	if got := r.Apply(r.Merge(nil), sess, t0.Add(11*time.Second)); got != DecisionForceClose {
		t.Fatalf("expected force close after grace, got %v", got)
	}
}

func TestObserverMirrorsRemoteStateVerbatim(t *testing.T) {
	testlog.Start(t)

	r := New(units, "operator-b", time.Minute, t0)
	sess := muster.Observe("LB-1", nil)

	tags := []muster.ScannedTag{{TagID: "TAG-001", BerthID: "301-A", Name: "Nina Berg"}}
	remote := r.Merge(map[string]fleet.UnitState{"LB-1": {
		Active:             true,
		Count:              1,
		Tags:               tags,
		Paused:             true,
		AccumulatedSeconds: 45,
		LastResume:         t0,
	}})
	if got := r.Apply(remote, sess, t0.Add(time.Minute)); got != DecisionObserverRefresh {
		t.Fatalf("observer apply: %v", got)
	}
	if sess.Count() != 1 || !sess.Paused {
		t.Fatalf("observer not refreshed: %+v", sess)
	}
	if got := sess.Elapsed(t0.Add(time.Hour)); got != 45 {
		t.Fatalf("observer elapsed must come from remote accounting, got %d", got)
	}
}

func TestObserverElapsedMatchesRunningOwner(t *testing.T) {
	testlog.Start(t)

	r := New(units, "operator-b", time.Minute, t0)
	obs := muster.Observe("LB-1", nil)

	// Owner started at t0, never paused, pushes its doc 10s in. The raw
	// accounting pair travels as-is.
	owner, err := muster.Start("LB-1", "Nina Berg", muster.ExerciseBoatDrill, false,
		[]roster.Berth{{ID: "301-A", TagIDs: []string{"TAG-001"}, PrimaryUnit: "LB-1"}}, t0)
	if err != nil {
		t.Fatalf("start owner: %v", err)
	}
	pushAt := t0.Add(10 * time.Second)
	remote := r.Merge(map[string]fleet.UnitState{"LB-1": fleet.FromSession(owner, "operator-a")})
	if got := r.Apply(remote, obs, pushAt); got != DecisionObserverRefresh {
		t.Fatalf("observer apply: %v", got)
	}

	// A running clock must read the same on both sides, now and later.
	if got, want := obs.Elapsed(pushAt), owner.Elapsed(pushAt); got != want {
		t.Fatalf("observer elapsed %d, owner elapsed %d", got, want)
	}
	later := t0.Add(25 * time.Second)
	if got, want := obs.Elapsed(later), owner.Elapsed(later); got != want || want != 25 {
		t.Fatalf("observer elapsed %d, owner elapsed %d", got, want)
	}
}

func TestApplyWithoutSessionIsNoop(t *testing.T) {
	testlog.Start(t)

	r := New(units, "operator-a", time.Minute, t0)
	if got := r.Apply(r.Merge(nil), nil, t0); got != DecisionNone {
		t.Fatalf("nil session apply: %v", got)
	}
}

func TestGeneralIdleCloses(t *testing.T) {
	testlog.Start(t)

	r := New(units, "operator-a", 10*time.Second, t0)
	sess := ownerSession(t)

	// Prime via the own-state echo so the startup gate is out of the way.
	r.Apply(r.Merge(map[string]fleet.UnitState{"LB-1": {Active: true, OperatorName: "operator-a"}}), sess, t0.Add(time.Second))

	now := t0.Add(2 * time.Second)
	if !r.GeneralIdleCloses(fleet.GeneralMusterState{}, sess, now) {
		t.Fatalf("fully idle general state must close owner sessions")
	}
	if r.GeneralIdleCloses(fleet.GeneralMusterState{Active: true}, sess, now) {
		t.Fatalf("active exercise must not close sessions")
	}
	if r.GeneralIdleCloses(fleet.GeneralMusterState{Finished: true}, sess, now) {
		t.Fatalf("finished hold state must not close sessions")
	}
	if r.GeneralIdleCloses(fleet.GeneralMusterState{}, muster.Observe("LB-1", nil), now) {
		t.Fatalf("observer sessions are not subject to the general monitor")
	}
	if r.GeneralIdleCloses(fleet.GeneralMusterState{}, nil, now) {
		t.Fatalf("nil session must not close")
	}
}

func TestStaleIdleGeneralDocSuppressedAtStartup(t *testing.T) {
	testlog.Start(t)

	r := New(units, "operator-a", 10*time.Second, t0)
	sess := ownerSession(t)

	// A prior stand-down left an idle general document behind; the
	// subscription replays it moments after restart, before any echo.
	if r.GeneralIdleCloses(fleet.GeneralMusterState{}, sess, t0.Add(time.Second)) {
		t.Fatalf("stale idle general doc evicted a rehydrated session")
	}
	// Past the grace ceiling the idle document wins.
	if !r.GeneralIdleCloses(fleet.GeneralMusterState{}, sess, t0.Add(11*time.Second)) {
		t.Fatalf("idle general doc must close after the grace ceiling")
	}
}
