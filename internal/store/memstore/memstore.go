// Package memstore is the in-memory document store. It backs tests and
// single-host deployments where every device process shares one hub.
package memstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/tarcisiodg/musterctl/internal/store"
)

type keySub struct {
	id  uint64
	key string
	fn  store.SnapshotFunc
}

type prefixSub struct {
	id     uint64
	prefix string
	fn     store.PrefixSnapshotFunc
}

// Store is an in-memory store.Store with synchronous snapshot fan-out.
type Store struct {
	mu         sync.Mutex
	docs       map[string][]byte
	keySubs    map[uint64]keySub
	prefixSubs map[uint64]prefixSub
	nextSubID  uint64
	closed     bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		docs:       make(map[string][]byte),
		keySubs:    make(map[uint64]keySub),
		prefixSubs: make(map[uint64]prefixSub),
	}
}

func (s *Store) SaveDoc(ctx context.Context, key string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	s.docs[key] = raw
	listeners := s.listenersLocked(key)
	s.mu.Unlock()

	notify(listeners, key, raw)
	return nil
}

func (s *Store) GetDoc(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	raw, ok := s.docs[key]
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return store.ErrClosed
	}
	if !ok {
		return store.ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) DeleteDoc(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	_, existed := s.docs[key]
	delete(s.docs, key)
	listeners := s.listenersLocked(key)
	s.mu.Unlock()

	if existed {
		notify(listeners, key, nil)
	}
	return nil
}

func (s *Store) ListDocs(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	out := make(map[string][]byte)
	for key, raw := range s.docs {
		if strings.HasPrefix(key, prefix) {
			cp := make([]byte, len(raw))
			copy(cp, raw)
			out[key] = cp
		}
	}
	return out, nil
}

func (s *Store) Subscribe(key string, fn store.SnapshotFunc) (store.CancelFunc, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, store.ErrClosed
	}
	s.nextSubID++
	id := s.nextSubID
	s.keySubs[id] = keySub{id: id, key: key, fn: fn}
	raw, exists := s.docs[key]
	s.mu.Unlock()

	if exists {
		fn(raw)
	}
	cancel := func() {
		s.mu.Lock()
		delete(s.keySubs, id)
		s.mu.Unlock()
	}
	return cancel, nil
}

func (s *Store) SubscribePrefix(prefix string, fn store.PrefixSnapshotFunc) (store.CancelFunc, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, store.ErrClosed
	}
	s.nextSubID++
	id := s.nextSubID
	s.prefixSubs[id] = prefixSub{id: id, prefix: prefix, fn: fn}
	existing := make(map[string][]byte)
	for key, raw := range s.docs {
		if strings.HasPrefix(key, prefix) {
			existing[key] = raw
		}
	}
	s.mu.Unlock()

	for key, raw := range existing {
		fn(key, raw)
	}
	cancel := func() {
		s.mu.Lock()
		delete(s.prefixSubs, id)
		s.mu.Unlock()
	}
	return cancel, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.keySubs = make(map[uint64]keySub)
	s.prefixSubs = make(map[uint64]prefixSub)
	return nil
}

type listener struct {
	key func([]byte)
	pfx func(string, []byte)
}

// listenersLocked snapshots the listeners interested in key so callbacks run
// outside the store lock; a callback may re-enter the store.
func (s *Store) listenersLocked(key string) []listener {
	var out []listener
	for _, sub := range s.keySubs {
		if sub.key == key {
			out = append(out, listener{key: sub.fn})
		}
	}
	for _, sub := range s.prefixSubs {
		if strings.HasPrefix(key, sub.prefix) {
			out = append(out, listener{pfx: sub.fn})
		}
	}
	return out
}

func notify(listeners []listener, key string, raw []byte) {
	for _, l := range listeners {
		if l.key != nil {
			l.key(raw)
		}
		if l.pfx != nil {
			l.pfx(key, raw)
		}
	}
}
