// Package store defines the document-store contract the muster core
// delegates all persistence to. Documents are JSON values written by full
// replacement and read either as point gets or snapshot subscriptions that
// deliver the complete current value on every change.
//
// The core never persists anything itself; implementations live in the
// memstore and sqlitestore subpackages.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("store: document not found")
	ErrClosed   = errors.New("store: closed")
)

// SnapshotFunc receives the full current document on every change. A nil
// raw value reports deletion.
type SnapshotFunc func(raw []byte)

// PrefixSnapshotFunc receives per-key snapshots for a key-prefix
// subscription.
type PrefixSnapshotFunc func(key string, raw []byte)

// CancelFunc releases one subscription. Safe to call more than once; must
// be called on teardown so no callback fires after its owner is gone.
type CancelFunc func()

// Store is the remote document store surface.
type Store interface {
	// SaveDoc marshals doc and replaces the document at key wholesale.
	SaveDoc(ctx context.Context, key string, doc any) error
	// GetDoc unmarshals the document at key into out; ErrNotFound when
	// absent.
	GetDoc(ctx context.Context, key string, out any) error
	// DeleteDoc removes the document at key; absent keys are a no-op.
	DeleteDoc(ctx context.Context, key string) error
	// ListDocs returns raw documents whose keys start with prefix.
	ListDocs(ctx context.Context, prefix string) (map[string][]byte, error)
	// Subscribe registers a snapshot listener for one key. If the document
	// exists the current value is delivered immediately.
	Subscribe(key string, fn SnapshotFunc) (CancelFunc, error)
	// SubscribePrefix registers a snapshot listener over a key prefix,
	// delivering existing documents immediately.
	SubscribePrefix(prefix string, fn PrefixSnapshotFunc) (CancelFunc, error)
	// Close releases the store and cancels every subscription.
	Close() error
}
