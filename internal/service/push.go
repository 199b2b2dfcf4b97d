package service

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tarcisiodg/musterctl/internal/fleet"
	"github.com/tarcisiodg/musterctl/internal/muster"
	"github.com/tarcisiodg/musterctl/internal/observability"
	"github.com/tarcisiodg/musterctl/internal/store"
)

// PushConfig tunes retry pacing for failed remote pushes.
type PushConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

func (c PushConfig) WithDefaults() PushConfig {
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier < 1.0 {
		c.Multiplier = 2.0
	}
	return c
}

// NextPushDelay returns the retry delay for attempt N (1-based).
func NextPushDelay(cfg PushConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// PendingPush tracks one document key awaiting a successful push. Only the
// key is parked: documents are full replacements, so each retry re-resolves
// the newest state and stale payloads can never win.
type PendingPush struct {
	Key           string
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	LastError     string
}

type pushOutbox struct {
	mu    sync.Mutex
	items map[string]PendingPush
}

func newPushOutbox() *pushOutbox {
	return &pushOutbox{items: make(map[string]PendingPush)}
}

func (o *pushOutbox) Upsert(item PendingPush) {
	key := strings.TrimSpace(item.Key)
	if key == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if have, ok := o.items[key]; ok {
		// Keep the full backoff record: queue time and attempt count pace
		// the retry, and a zeroed LastAttemptAt would make the sweep see an
		// ancient attempt and fire immediately.
		item.QueuedAt = have.QueuedAt
		item.Attempts = have.Attempts
		item.LastAttemptAt = have.LastAttemptAt
		item.LastError = have.LastError
	}
	o.items[key] = item
}

func (o *pushOutbox) MarkAttempt(key string, at time.Time, lastErr string) (PendingPush, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return PendingPush{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.LastError = strings.TrimSpace(lastErr)
	o.items[key] = item
	return item, true
}

func (o *pushOutbox) Remove(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.items, key)
}

func (o *pushOutbox) List() []PendingPush {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PendingPush, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key < out[j].Key
	})
	return out
}

func (o *pushOutbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// enqueuePush schedules a fire-and-forget push of the document at key. The
// pusher goroutine resolves the newest state when it gets to the key, so
// the mutation path never blocks on the store.
func (s *Service) enqueuePush(key string) {
	select {
	case s.pushQ <- key:
	default:
		// Queue saturated; park the key for the tick-driven retry sweep.
		s.outbox.Upsert(PendingPush{Key: key, QueuedAt: s.clock()})
	}
}

// runPusher is the single goroutine that writes documents, preserving
// per-key push order. Failures park the key in the outbox for the sweep.
func (s *Service) runPusher(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-s.pushQ:
			s.pushDoc(ctx, key)
		}
	}
}

func (s *Service) pushDoc(ctx context.Context, key string) {
	doc, ok := s.resolveDoc(key)
	if !ok {
		s.outbox.Remove(key)
		return
	}
	err := s.store.SaveDoc(ctx, key, doc)
	observability.RecordStorePush(s.cfg.DeviceName, key, err)
	if err != nil {
		now := s.clock()
		s.outbox.Upsert(PendingPush{Key: key, QueuedAt: now})
		s.outbox.MarkAttempt(key, now, err.Error())
		log.Warn().Err(err).Str("doc", key).Msg("push failed, parked for retry")
		return
	}
	s.outbox.Remove(key)
}

// resolveDoc builds the newest document value for a key from current local
// state.
func (s *Service) resolveDoc(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch key {
	case store.KeyCounters:
		return s.counters, true
	case store.KeyReleased:
		return s.released, true
	case store.KeyGeneral:
		return s.general, true
	}
	unit := store.UnitFromKey(key)
	if unit == "" {
		return nil, false
	}
	if s.session != nil && s.session.Unit == unit && s.session.Mode == muster.ModeOwner {
		return fleet.FromSession(s.session, s.cfg.Operator), true
	}
	// No owning session for the unit: the document is reset to inactive.
	return fleet.Inactive(), true
}

// sweepOutbox retries parked pushes whose backoff has elapsed. Runs on the
// tick inside the event loop; actual writes go back through the pusher.
func (s *Service) sweepOutbox() {
	now := s.clock()
	for _, item := range s.outbox.List() {
		wait := NextPushDelay(s.cfg.Push, item.Attempts, nil)
		if item.Attempts > 0 && now.Sub(item.LastAttemptAt) < wait {
			continue
		}
		select {
		case s.pushQ <- item.Key:
		default:
			return
		}
	}
}
