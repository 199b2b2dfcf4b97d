// Package reconcile applies inbound remote snapshots to the local session.
//
// The merge policy is a single-writer-per-unit ownership scheme standing in
// for distributed consensus: the owning device's local state is
// authoritative while it actively musters, an observer mirrors remote state
// verbatim, and a remote deactivation of the owned unit always wins. The
// whole rule lives here so it stays centrally testable.
package reconcile

import (
	"strings"
	"time"

	"github.com/tarcisiodg/musterctl/internal/fleet"
	"github.com/tarcisiodg/musterctl/internal/muster"
)

// Decision is the outcome of applying one snapshot to the local session.
type Decision int

const (
	// DecisionNone leaves the local session untouched.
	DecisionNone Decision = iota
	// DecisionForceClose evicts the local owner session: the remote store
	// reports its unit inactive, so another device finished or reset it.
	DecisionForceClose
	// DecisionObserverRefresh updated an observer session from remote state.
	DecisionObserverRefresh
)

func (d Decision) String() string {
	switch d {
	case DecisionForceClose:
		return "force_close"
	case DecisionObserverRefresh:
		return "observer_refresh"
	default:
		return "none"
	}
}

// DefaultGrace bounds the startup window during which forced close stays
// suppressed if no own-state echo has arrived yet.
const DefaultGrace = 10 * time.Second

// Reconciler merges per-unit remote state against the local session.
type Reconciler struct {
	units     []string
	operator  string
	grace     time.Duration
	startedAt time.Time
	primed    bool
}

// New builds a reconciler for the known unit list. operator is this
// device's operator name, used to recognize the echo of its own pushes.
func New(units []string, operator string, grace time.Duration, now time.Time) *Reconciler {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Reconciler{
		units:     units,
		operator:  strings.TrimSpace(operator),
		grace:     grace,
		startedAt: now,
	}
}

// Merge completes a partial unit-state map over all known units. Every
// inbound update passes through here before aggregation, so downstream
// consumers never see a missing key.
func (r *Reconciler) Merge(partial map[string]fleet.UnitState) fleet.Snapshot {
	return fleet.Normalize(partial, r.units)
}

// Primed reports whether the device has observed the echo of its own pushed
// state since startup.
func (r *Reconciler) Primed() bool {
	return r.primed
}

// Apply runs the per-unit merge policy for the local session against a
// normalized snapshot.
//
// Owner sessions: remote state never overwrites tags, timer, or pause; the
// one exception is deactivation, which force-closes the session. Forced
// close is suppressed until the device has seen its own state echoed back
// (or a fixed grace elapsed), so a freshly restarted device is not evicted
// by a stale snapshot of its own startup.
//
// Observer sessions: the snapshot is the sole source of truth; tags, pause
// flag, and timer state are rewritten on every update.
func (r *Reconciler) Apply(snap fleet.Snapshot, sess *muster.Session, now time.Time) Decision {
	if sess == nil {
		return DecisionNone
	}
	st, ok := snap[sess.Unit]
	if !ok {
		st = fleet.Inactive()
	}

	if sess.Mode == muster.ModeObserver {
		sess.SetObserved(st.Tags, st.Paused, st.AccumulatedSeconds, st.LastResume)
		return DecisionObserverRefresh
	}

	if st.Active && r.operator != "" && st.OperatorName == r.operator {
		r.primed = true
	}
	if !st.Active {
		if !r.primed && now.Sub(r.startedAt) < r.grace {
			return DecisionNone
		}
		return DecisionForceClose
	}
	return DecisionNone
}

// GeneralIdleCloses reports whether a general-muster update must end the
// local session: the site-wide exercise is fully idle (not active and not
// in the finished hold state) while an owner session is still open. The
// operator is returned to a neutral screen and no history record is
// written.
//
// The same startup suppression as Apply holds here. A stand-down leaves an
// idle general document in the store, and the subscription replays it right
// after restart; without the echo/grace gate that stale snapshot would
// evict every rehydrated session.
func (r *Reconciler) GeneralIdleCloses(g fleet.GeneralMusterState, sess *muster.Session, now time.Time) bool {
	if sess == nil || sess.Mode != muster.ModeOwner || !g.Idle() {
		return false
	}
	if !r.primed && now.Sub(r.startedAt) < r.grace {
		return false
	}
	return true
}
