// Package sqlitestore is the SQLite-backed document store. A shared database
// file is the hub every device process reads and writes; subscriptions are
// served by a change-feed poller over a monotonic revision column.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tarcisiodg/musterctl/internal/store"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	key TEXT PRIMARY KEY,
	doc BLOB,
	rev INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_rev ON documents(rev);
CREATE TABLE IF NOT EXISTS revseq (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	rev INTEGER NOT NULL
);
INSERT OR IGNORE INTO revseq (id, rev) VALUES (1, 0);
`

// DefaultPollInterval paces the subscription change feed.
const DefaultPollInterval = 250 * time.Millisecond

type keySub struct {
	key string
	fn  store.SnapshotFunc
}

type prefixSub struct {
	prefix string
	fn     store.PrefixSnapshotFunc
}

// Store is a store.Store over one SQLite file.
type Store struct {
	db   *sql.DB
	poll time.Duration

	mu         sync.Mutex
	keySubs    map[uint64]keySub
	prefixSubs map[uint64]prefixSub
	nextSubID  uint64
	lastRev    int64
	closed     bool

	stopPoll context.CancelFunc
	pollDone chan struct{}
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the store at path and starts the change
// feed. pollInterval <= 0 uses DefaultPollInterval.
func Open(path string, pollInterval time.Duration) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlitestore: missing database path")
	}
	db, err := openDB("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: bootstrap schema: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	s := &Store{
		db:         db,
		poll:       pollInterval,
		keySubs:    make(map[uint64]keySub),
		prefixSubs: make(map[uint64]prefixSub),
		pollDone:   make(chan struct{}),
	}
	if err := s.db.QueryRow(`SELECT rev FROM revseq WHERE id = 1`).Scan(&s.lastRev); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: read revision: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopPoll = cancel
	go s.pollLoop(ctx)
	return s, nil
}

func (s *Store) SaveDoc(ctx context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.write(ctx, key, raw)
}

func (s *Store) DeleteDoc(ctx context.Context, key string) error {
	// Tombstone row: doc NULL keeps the deletion visible to the change feed.
	return s.write(ctx, key, nil)
}

func (s *Store) write(ctx context.Context, key string, raw []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer tx.Rollback()

	var rev int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE revseq SET rev = rev + 1 WHERE id = 1 RETURNING rev`,
	).Scan(&rev); err != nil {
		return fmt.Errorf("sqlitestore: next revision: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (key, doc, rev) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET doc = excluded.doc, rev = excluded.rev`,
		key, raw, rev,
	); err != nil {
		return fmt.Errorf("sqlitestore: write %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *Store) GetDoc(ctx context.Context, key string, out any) error {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE key = ?`, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlitestore: get %s: %w", key, err)
	}
	if raw == nil {
		return store.ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (s *Store) ListDocs(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, doc FROM documents WHERE key LIKE ? || '%' AND doc IS NOT NULL`,
		prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan row: %w", err)
		}
		out[key] = raw
	}
	return out, rows.Err()
}

func (s *Store) Subscribe(key string, fn store.SnapshotFunc) (store.CancelFunc, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, store.ErrClosed
	}
	s.nextSubID++
	id := s.nextSubID
	s.keySubs[id] = keySub{key: key, fn: fn}
	s.mu.Unlock()

	var raw json.RawMessage
	if err := s.GetDoc(context.Background(), key, &raw); err == nil {
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
	s.prefixSubs[id] = prefixSub{prefix: prefix, fn: fn}
	s.mu.Unlock()

	existing, err := s.ListDocs(context.Background(), prefix)
	if err == nil {
		for key, raw := range existing {
			fn(key, raw)
		}
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
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.keySubs = make(map[uint64]keySub)
	s.prefixSubs = make(map[uint64]prefixSub)
	s.mu.Unlock()

	s.stopPoll()
	<-s.pollDone
	return s.db.Close()
}

func (s *Store) pollLoop(ctx context.Context) {
	defer close(s.pollDone)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchChanges(ctx)
		}
	}
}

type change struct {
	key string
	raw []byte
	rev int64
}

func (s *Store) dispatchChanges(ctx context.Context) {
	s.mu.Lock()
	since := s.lastRev
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, doc, rev FROM documents WHERE rev > ? ORDER BY rev`, since,
	)
	if err != nil {
		return
	}
	var changes []change
	for rows.Next() {
		var c change
		if err := rows.Scan(&c.key, &c.raw, &c.rev); err != nil {
			break
		}
		changes = append(changes, c)
	}
	rows.Close()
	if len(changes) == 0 {
		return
	}

	s.mu.Lock()
	s.lastRev = changes[len(changes)-1].rev
	type target struct {
		key func([]byte)
		pfx func(string, []byte)
	}
	targets := make(map[int][]target, len(changes))
	for i, c := range changes {
		for _, sub := range s.keySubs {
			if sub.key == c.key {
				targets[i] = append(targets[i], target{key: sub.fn})
			}
		}
		for _, sub := range s.prefixSubs {
			if strings.HasPrefix(c.key, sub.prefix) {
				targets[i] = append(targets[i], target{pfx: sub.fn})
			}
		}
	}
	s.mu.Unlock()

	for i, c := range changes {
		for _, tgt := range targets[i] {
			if tgt.key != nil {
				tgt.key(c.raw)
			}
			if tgt.pfx != nil {
				tgt.pfx(c.key, c.raw)
			}
		}
	}
}
