// Package db defines the backend contract that the rest of the module is
// built against. The concrete key-value storage engine is
// an external collaborator: callers may plug in anything satisfying
// KeyValueStore (and, for revert/fork support, PersistentBackend). This
// package also ships two concrete implementations, an in-memory map and a
// goleveldb-backed store, so the rest of the module is exercisable without
// any caller-supplied backend.
package db

import "errors"

// Namespace identifies one of the three logical keyspaces a backend exposes.
type Namespace int

const (
	// Trie holds interior node encodings keyed by path prefix.
	Trie Namespace = iota
	// Flat holds leaf values keyed by key-length-prefixed key bytes.
	Flat
	// TrieLog holds change records keyed by commit id + subkey.
	TrieLog
)

func (n Namespace) String() string {
	switch n {
	case Trie:
		return "trie"
	case Flat:
		return "flat"
	case TrieLog:
		return "trie_log"
	default:
		return "unknown"
	}
}

// ErrForeignBatch is returned by WriteBatch when handed a Batch that was
// not produced by this store's CreateBatch.
var ErrForeignBatch = errors.New("db: batch belongs to a different store")

// ErrForeignTransaction is returned by Merge when handed a transactional
// view that was not produced by this store's Transaction.
var ErrForeignTransaction = errors.New("db: transaction belongs to a different store")

// KV is a single namespaced key/value pair, returned by prefix scans.
type KV struct {
	Key   []byte
	Value []byte
}

// Batch accumulates writes across namespaces for atomic application via
// KeyValueStore.WriteBatch.
type Batch interface {
	Insert(ns Namespace, key, value []byte)
	Remove(ns Namespace, key []byte)
	Len() int
}

// KeyValueStore is the untyped byte key/value contract every trie backend
// must satisfy.
type KeyValueStore interface {
	// Get returns the current value for key, or ok=false if absent.
	Get(ns Namespace, key []byte) (value []byte, ok bool, err error)
	// Contains reports whether key is present.
	Contains(ns Namespace, key []byte) (bool, error)
	// GetByPrefix returns every (key, value) pair whose key starts with
	// prefix, in unspecified order.
	GetByPrefix(ns Namespace, prefix []byte) ([]KV, error)
	// Insert writes key=value, returning the previous value if any. If
	// batch is non-nil the write is deferred into it instead of applied
	// immediately.
	Insert(ns Namespace, key, value []byte, batch Batch) (previous []byte, err error)
	// Remove deletes key, returning the previous value if any. If batch
	// is non-nil the delete is deferred into it instead of applied
	// immediately.
	Remove(ns Namespace, key []byte, batch Batch) (previous []byte, err error)
	// RemoveByPrefix deletes every key starting with prefix.
	RemoveByPrefix(ns Namespace, prefix []byte) error
	// CreateBatch returns a new, empty Batch bound to this store.
	CreateBatch() Batch
	// WriteBatch applies every operation in b atomically.
	WriteBatch(b Batch) error
}

// PersistentBackend is a KeyValueStore that additionally supports
// point-in-time snapshots and isolated transactional views.
type PersistentBackend interface {
	KeyValueStore

	// Snapshot captures a point-in-time read view tagged with id.
	// Retention is up to the implementation: LevelDBBackend evicts the
	// oldest once the bound configured at construction time is exceeded;
	// MemoryBackend keeps every snapshot.
	Snapshot(id uint64) error

	// Transaction returns an isolated, writable view of the store rooted
	// at the nearest snapshot at or before id, along with that snapshot's
	// own id, or ok=false if no such snapshot exists.
	Transaction(id uint64) (txn KeyValueStore, snapshotID uint64, ok bool)

	// Merge commits a transactional view's writes back into this store.
	Merge(txn KeyValueStore) error
}
