// Package trielog implements the key-value facade between the trie engine
// and a db.KeyValueStore: it routes trie-node and leaf bytes into the
// store, owns the change-log ring that makes revert and transactional
// forks possible, and creates backend snapshots at a configurable
// interval. Every touched key's previous value is tracked alongside the
// write itself; the resulting (old, new) logs are what revert and fork
// replay against.
package trielog

import (
	"fmt"
	"sync"

	"github.com/feltstate/bonsai-trie/db"
)

// KeyValueDB is the key-value facade. It satisfies the
// narrow trie.Backend interface the trie engine is written against, so a
// Trie never talks to a db.KeyValueStore directly.
type KeyValueDB struct {
	mu      sync.Mutex
	backend db.KeyValueStore
	cfg     Config

	batch   db.Batch
	pending map[string]*record

	// logIDs is the ascending ring of commit ids whose change logs are
	// still retained in the backend.
	logIDs []uint64

	// prunedThrough is the newest commit id whose change log has been
	// pruned past the retention bound; hasPruned reports whether any
	// pruning has happened at all. GetTransaction consults the watermark
	// to refuse replays that would silently skip a dropped log.
	prunedThrough uint64
	hasPruned     bool
}

// New wraps backend with a key-value facade. If backend implements
// db.PersistentBackend, an initial genesis snapshot is taken at id 0 so
// that GetTransaction can always replay forward from an empty base,
// regardless of the configured snapshot interval.
func New(backend db.KeyValueStore, cfg Config) *KeyValueDB {
	k := &KeyValueDB{
		backend: backend,
		cfg:     cfg.normalized(),
		batch:   backend.CreateBatch(),
		pending: make(map[string]*record),
	}
	if pb, ok := backend.(db.PersistentBackend); ok {
		_ = pb.Snapshot(0)
	}
	return k
}

// Backend exposes the wrapped store, e.g. for callers that need the raw
// PersistentBackend feature set.
func (k *KeyValueDB) Backend() db.KeyValueStore { return k.backend }

// --- trie.Backend ------------------------------------------------------

// GetTrieNode implements trie.Backend.
func (k *KeyValueDB) GetTrieNode(key []byte) ([]byte, bool, error) {
	return k.backend.Get(db.Trie, key)
}

// GetFlat implements trie.Backend.
func (k *KeyValueDB) GetFlat(key []byte) ([]byte, bool, error) {
	return k.backend.Get(db.Flat, key)
}

// InsertTrieNode implements trie.Backend.
func (k *KeyValueDB) InsertTrieNode(key, value []byte) error {
	return k.track(db.Trie, key, value, false)
}

// RemoveTrieNode implements trie.Backend.
func (k *KeyValueDB) RemoveTrieNode(key []byte) error {
	return k.track(db.Trie, key, nil, true)
}

// InsertFlat implements trie.Backend.
func (k *KeyValueDB) InsertFlat(key, value []byte) error {
	return k.track(db.Flat, key, value, false)
}

// RemoveFlat implements trie.Backend.
func (k *KeyValueDB) RemoveFlat(key []byte) error {
	return k.track(db.Flat, key, nil, true)
}

func (k *KeyValueDB) track(ns db.Namespace, key, value []byte, remove bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	old, hadOld, err := k.backend.Get(ns, key)
	if err != nil {
		return err
	}
	groupKey := string(append([]byte{byte(ns)}, key...))
	rec, ok := k.pending[groupKey]
	if !ok {
		rec = &record{ns: ns, key: append([]byte(nil), key...)}
		k.pending[groupKey] = rec
	}
	if remove {
		if _, err := k.backend.Remove(ns, key, k.batch); err != nil {
			return err
		}
		rec.merge(old, nil, hadOld, false)
		return nil
	}
	if _, err := k.backend.Insert(ns, key, value, k.batch); err != nil {
		return err
	}
	rec.merge(old, value, hadOld, true)
	return nil
}

// --- commit / snapshot / log retention ----------------------------------

// Commit drains the pending change batch, serializes it into the TrieLog
// namespace (unless logging is disabled), writes everything in one backend
// batch, and prunes the oldest retained log once the retention bound would
// otherwise be exceeded.
func (k *KeyValueDB) Commit(id uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	maxLogs := *k.cfg.MaxSavedTrieLogs
	if maxLogs != 0 {
		for _, rec := range k.pending {
			for _, kv := range rec.entries(id) {
				k.batch.Insert(db.TrieLog, kv.Key, kv.Value)
			}
		}
	}
	if err := k.backend.WriteBatch(k.batch); err != nil {
		return err
	}
	k.batch = k.backend.CreateBatch()
	k.pending = make(map[string]*record)

	if maxLogs == 0 {
		return nil
	}
	k.logIDs = append(k.logIDs, id)
	if len(k.logIDs) > maxLogs {
		oldest := k.logIDs[0]
		k.logIDs = k.logIDs[1:]
		if err := k.backend.RemoveByPrefix(db.TrieLog, logPrefix(oldest)); err != nil {
			return err
		}
		k.prunedThrough, k.hasPruned = oldest, true
	}
	return nil
}

// CreateSnapshot takes a backend snapshot tagged id if id falls on the
// configured snapshot interval and the backend supports snapshots.
func (k *KeyValueDB) CreateSnapshot(id uint64) error {
	if id%k.cfg.SnapshotInterval != 0 {
		return nil
	}
	pb, ok := k.backend.(db.PersistentBackend)
	if !ok {
		return nil
	}
	return pb.Snapshot(id)
}

// LogIDs returns the ascending ring of commit ids whose logs are retained.
func (k *KeyValueDB) LogIDs() []uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]uint64, len(k.logIDs))
	copy(out, k.logIDs)
	return out
}

// Changes recovers the per-key old/new pairs touched by commit id. It
// fails ErrLogPruned if id's log is no longer retained.
func (k *KeyValueDB) Changes(id uint64) (map[string]*ChangeRecord, error) {
	k.mu.Lock()
	retained := false
	for _, lid := range k.logIDs {
		if lid == id {
			retained = true
			break
		}
	}
	k.mu.Unlock()
	if !retained {
		return nil, fmt.Errorf("%w: commit %d", ErrLogPruned, id)
	}
	kvs, err := k.backend.GetByPrefix(db.TrieLog, logPrefix(id))
	if err != nil {
		return nil, err
	}
	return decodeLog(id, kvs), nil
}

// --- transactional forks -------------------------------------------------

// GetTransaction builds a new key-value facade wrapping an isolated backend
// view reconstructed as of id: the nearest retained snapshot at or before
// id, forward-replayed with the NEW value of every retained log strictly
// after the snapshot and up to and including id. The returned facade is
// configured with cfg. It returns ok=false if no snapshot covers id, and
// ErrTransaction if retention has already pruned a log newer than the
// snapshot, leaving a hole in the replay range. Replaying new values
// forward from the snapshot is equivalent to undoing the tip's changes
// backward, but only moves the handful of commits between the snapshot
// and the target.
func (k *KeyValueDB) GetTransaction(id uint64, cfg Config) (*KeyValueDB, bool, error) {
	if *k.cfg.MaxSavedTrieLogs == 0 {
		return nil, false, fmt.Errorf("%w: change logging disabled", ErrTransaction)
	}
	pb, ok := k.backend.(db.PersistentBackend)
	if !ok {
		return nil, false, ErrNoPersistentBackend
	}
	txnStore, snapID, ok := pb.Transaction(id)
	if !ok {
		return nil, false, nil
	}

	k.mu.Lock()
	if k.hasPruned && k.prunedThrough > snapID {
		k.mu.Unlock()
		return nil, false, fmt.Errorf("%w: logs through commit %d pruned, snapshot at %d", ErrTransaction, k.prunedThrough, snapID)
	}
	logIDs := make([]uint64, len(k.logIDs))
	copy(logIDs, k.logIDs)
	k.mu.Unlock()

	for _, logID := range logIDs {
		if logID <= snapID || logID > id {
			continue
		}
		kvs, err := k.backend.GetByPrefix(db.TrieLog, logPrefix(logID))
		if err != nil {
			return nil, false, err
		}
		for _, rec := range decodeLog(logID, kvs) {
			if rec.HasNew {
				if _, err := txnStore.Insert(rec.Namespace, rec.Key, rec.New, nil); err != nil {
					return nil, false, err
				}
			} else {
				if _, err := txnStore.Remove(rec.Namespace, rec.Key, nil); err != nil {
					return nil, false, err
				}
			}
		}
	}
	return New(txnStore, cfg), true, nil
}

// RevertTo undoes every retained commit strictly after target, applying
// each touched key's old value (or deleting it, if it had none) directly
// against the wrapped backend, then truncates the log ring at target. It
// fails ErrGoTo if target is not a retained commit id (or 0, the implicit
// genesis).
func (k *KeyValueDB) RevertTo(target uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	found := target == 0
	idx := -1
	for i, id := range k.logIDs {
		if id == target {
			found, idx = true, i
		}
	}
	if !found {
		return fmt.Errorf("%w: commit %d", ErrGoTo, target)
	}

	// Uncommitted writes are discarded wholesale: both the deferred batch
	// and the (old, new) records that were tracking it.
	k.batch = k.backend.CreateBatch()
	k.pending = make(map[string]*record)

	// Undo newest-first so a key touched by several commits ends up with
	// the oldest recorded value among them.
	for i := len(k.logIDs) - 1; i >= 0; i-- {
		id := k.logIDs[i]
		if id <= target {
			break
		}
		kvs, err := k.backend.GetByPrefix(db.TrieLog, logPrefix(id))
		if err != nil {
			return err
		}
		for _, rec := range decodeLog(id, kvs) {
			if rec.HasOld {
				if _, err := k.backend.Insert(rec.Namespace, rec.Key, rec.Old, nil); err != nil {
					return err
				}
			} else {
				if _, err := k.backend.Remove(rec.Namespace, rec.Key, nil); err != nil {
					return err
				}
			}
		}
		if err := k.backend.RemoveByPrefix(db.TrieLog, logPrefix(id)); err != nil {
			return err
		}
	}
	if idx >= 0 {
		k.logIDs = k.logIDs[:idx+1]
	} else {
		k.logIDs = nil
	}
	return nil
}
