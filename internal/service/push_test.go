package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/tarcisiodg/musterctl/internal/fleet"
	"github.com/tarcisiodg/musterctl/internal/store"
	"github.com/tarcisiodg/musterctl/internal/store/memstore"
	"github.com/tarcisiodg/musterctl/internal/testutil/testlog"
)

func TestNextPushDelayGrowthAndCap(t *testing.T) {
	testlog.Start(t)

	cfg := PushConfig{InitialDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2.0}
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, w := range want {
		if got := NextPushDelay(cfg, i+1, nil); got != w {
			t.Fatalf("attempt %d: got %v, want %v", i+1, got, w)
		}
	}
}

func TestNextPushDelayJitterBounds(t *testing.T) {
	testlog.Start(t)

	cfg := PushConfig{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	base := 4 * time.Second
	for i := 0; i < 50; i++ {
		got := NextPushDelay(cfg, 3, rng)
		if got < base/2 || got > base+base/2 {
			t.Fatalf("jittered delay %v outside [%v, %v]", got, base/2, base+base/2)
		}
	}
}

func TestOutboxUpsertPreservesBackoffState(t *testing.T) {
	testlog.Start(t)

	o := newPushOutbox()
	t0 := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	o.Upsert(PendingPush{Key: "units/LB-1", QueuedAt: t0})
	if _, ok := o.MarkAttempt("units/LB-1", t0.Add(time.Second), "io timeout"); !ok {
		t.Fatalf("mark attempt on parked key failed")
	}

	// Re-parking the same key must not reset the attempt counter or queue
	// time, or the backoff would never grow.
	o.Upsert(PendingPush{Key: "units/LB-1", QueuedAt: t0.Add(time.Minute)})
	items := o.List()
	if len(items) != 1 {
		t.Fatalf("expected 1 parked key, got %d", len(items))
	}
	if items[0].Attempts != 1 || !items[0].QueuedAt.Equal(t0) {
		t.Fatalf("upsert reset backoff state: %+v", items[0])
	}
	if !items[0].LastAttemptAt.Equal(t0.Add(time.Second)) {
		t.Fatalf("last attempt time lost, sweep would retry immediately: %+v", items[0])
	}
	if items[0].LastError != "io timeout" {
		t.Fatalf("last error lost: %+v", items[0])
	}

	o.Remove("units/LB-1")
	if o.Len() != 0 {
		t.Fatalf("remove left %d items", o.Len())
	}
}

func TestOutboxIgnoresBlankKeys(t *testing.T) {
	testlog.Start(t)

	o := newPushOutbox()
	o.Upsert(PendingPush{Key: "   "})
	if o.Len() != 0 {
		t.Fatalf("blank key parked")
	}
	if _, ok := o.MarkAttempt("missing", time.Now(), ""); ok {
		t.Fatalf("mark attempt on unknown key succeeded")
	}
}

func TestOutboxListIsSorted(t *testing.T) {
	testlog.Start(t)

	o := newPushOutbox()
	for _, key := range []string{"units/LB-3", "counters", "units/LB-1"} {
		o.Upsert(PendingPush{Key: key})
	}
	items := o.List()
	if len(items) != 3 || items[0].Key != "counters" || items[1].Key != "units/LB-1" || items[2].Key != "units/LB-3" {
		t.Fatalf("list not sorted: %+v", items)
	}
}

// failStore wraps a working store and fails writes on demand.
type failStore struct {
	store.Store
	fail bool
}

func (f *failStore) SaveDoc(ctx context.Context, key string, doc any) error {
	if f.fail {
		return errors.New("store offline")
	}
	return f.Store.SaveDoc(ctx, key, doc)
}

func TestPushDocParksOnFailureAndRecovers(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	fs := &failStore{Store: memstore.New(), fail: true}
	svc, err := New(Config{Operator: "operator-a", Units: []string{"LB-1"}}, fs)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	svc.pushDoc(ctx, store.KeyCounters)
	if svc.outbox.Len() != 1 {
		t.Fatalf("failed push not parked, outbox len %d", svc.outbox.Len())
	}
	item := svc.outbox.List()[0]
	if item.Key != store.KeyCounters || item.Attempts != 1 || item.LastError == "" {
		t.Fatalf("parked item malformed: %+v", item)
	}

	fs.fail = false
	svc.pushDoc(ctx, store.KeyCounters)
	if svc.outbox.Len() != 0 {
		t.Fatalf("successful push left key parked")
	}
	var got fleet.ManualCounters
	if err := fs.GetDoc(ctx, store.KeyCounters, &got); err != nil {
		t.Fatalf("counters doc missing after push: %v", err)
	}
}

func TestResolveDocInactiveWithoutOwner(t *testing.T) {
	testlog.Start(t)

	svc, err := New(Config{Operator: "operator-a", Units: []string{"LB-1"}}, memstore.New())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	doc, ok := svc.resolveDoc(store.UnitKey("LB-1"))
	if !ok {
		t.Fatalf("unit doc unresolved")
	}
	st, isState := doc.(fleet.UnitState)
	if !isState || st.Active {
		t.Fatalf("unowned unit must resolve to an inactive doc: %#v", doc)
	}

	if _, ok := svc.resolveDoc("garbage-key"); ok {
		t.Fatalf("unknown key resolved")
	}
}

func TestEnqueuePushParksWhenQueueSaturated(t *testing.T) {
	testlog.Start(t)

	svc, err := New(Config{Operator: "operator-a", Units: []string{"LB-1"}}, memstore.New())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	// No pusher goroutine running: fill the queue to force the park path.
	for i := 0; cap(svc.pushQ) > i; i++ {
		svc.pushQ <- store.KeyGeneral
	}
	svc.enqueuePush(store.KeyCounters)
	if svc.outbox.Len() != 1 {
		t.Fatalf("saturated enqueue not parked, outbox len %d", svc.outbox.Len())
	}
}
