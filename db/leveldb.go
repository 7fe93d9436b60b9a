package db

import (
	"bytes"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// nsPrefix tags a logical key with its namespace so all three keyspaces can
// share one physical goleveldb database.
func nsPrefix(ns Namespace, key []byte) []byte {
	out := make([]byte, len(key)+1)
	out[0] = byte(ns)
	copy(out[1:], key)
	return out
}

// LevelDBBackend is a persistent PersistentBackend implementation over
// goleveldb, the embedded engine used throughout the pack (vechain-thor,
// sonhv0212-ronin, ethereum-go-ethereum all carry it). Unlike MemoryBackend
// it enforces the configured snapshot retention bound.
type LevelDBBackend struct {
	mu  sync.RWMutex
	ldb *leveldb.DB

	maxSnapshots int
	snaps        *lru.Cache[uint64, *leveldb.Snapshot]
}

// NewLevelDBBackend opens (or creates) a goleveldb database at dir and wraps
// it as a PersistentBackend. maxSnapshots <= 0 means unbounded.
func NewLevelDBBackend(dir string, maxSnapshots int) (*LevelDBBackend, error) {
	ldb, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	bound := maxSnapshots
	if bound <= 0 {
		bound = 1 << 30
	}
	cache, err := lru.NewWithEvict[uint64, *leveldb.Snapshot](bound, func(_ uint64, snap *leveldb.Snapshot) {
		snap.Release()
	})
	if err != nil {
		ldb.Close()
		return nil, err
	}
	return &LevelDBBackend{ldb: ldb, maxSnapshots: maxSnapshots, snaps: cache}, nil
}

// Close releases the underlying goleveldb handle and all retained snapshots.
func (l *LevelDBBackend) Close() error {
	for _, id := range l.snaps.Keys() {
		if snap, ok := l.snaps.Peek(id); ok {
			snap.Release()
		}
	}
	return l.ldb.Close()
}

func (l *LevelDBBackend) Get(ns Namespace, key []byte) ([]byte, bool, error) {
	v, err := l.ldb.Get(nsPrefix(ns, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (l *LevelDBBackend) Contains(ns Namespace, key []byte) (bool, error) {
	return l.ldb.Has(nsPrefix(ns, key), nil)
}

func (l *LevelDBBackend) GetByPrefix(ns Namespace, prefix []byte) ([]KV, error) {
	full := nsPrefix(ns, prefix)
	iter := l.ldb.NewIterator(util.BytesPrefix(full), nil)
	defer iter.Release()
	var out []KV
	for iter.Next() {
		key := append([]byte(nil), iter.Key()[1:]...)
		val := append([]byte(nil), iter.Value()...)
		out = append(out, KV{Key: key, Value: val})
	}
	return out, iter.Error()
}

func (l *LevelDBBackend) Insert(ns Namespace, key, value []byte, batch Batch) ([]byte, error) {
	prev, _, err := l.Get(ns, key)
	if err != nil {
		return nil, err
	}
	if batch != nil {
		batch.Insert(ns, key, value)
		return prev, nil
	}
	if err := l.ldb.Put(nsPrefix(ns, key), value, nil); err != nil {
		return nil, err
	}
	return prev, nil
}

func (l *LevelDBBackend) Remove(ns Namespace, key []byte, batch Batch) ([]byte, error) {
	prev, _, err := l.Get(ns, key)
	if err != nil {
		return nil, err
	}
	if batch != nil {
		batch.Remove(ns, key)
		return prev, nil
	}
	if err := l.ldb.Delete(nsPrefix(ns, key), nil); err != nil {
		return nil, err
	}
	return prev, nil
}

func (l *LevelDBBackend) RemoveByPrefix(ns Namespace, prefix []byte) error {
	full := nsPrefix(ns, prefix)
	iter := l.ldb.NewIterator(util.BytesPrefix(full), nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return l.ldb.Write(batch, nil)
}

func (l *LevelDBBackend) CreateBatch() Batch {
	return &levelBatch{}
}

func (l *LevelDBBackend) WriteBatch(b Batch) error {
	lb, ok := b.(*levelBatch)
	if !ok {
		return ErrForeignBatch
	}
	native := new(leveldb.Batch)
	for _, op := range lb.ops {
		if op.remove {
			native.Delete(nsPrefix(op.ns, op.key))
			continue
		}
		native.Put(nsPrefix(op.ns, op.key), op.value)
	}
	return l.ldb.Write(native, nil)
}

// Snapshot captures a goleveldb read snapshot under id. When the
// configured bound is exceeded the oldest entry in the LRU ring is evicted
// and released; snapshots are read-only and looked up only while
// constructing transactional forks, never on a hot path, so recency
// eviction is as good as strict insertion-order eviction here. The bound
// never evicts the snapshot just taken.
func (l *LevelDBBackend) Snapshot(id uint64) error {
	snap, err := l.ldb.GetSnapshot()
	if err != nil {
		return err
	}
	l.snaps.Add(id, snap)
	return nil
}

// Transaction returns an isolated overlay store seeded from the nearest
// retained snapshot at or before id.
func (l *LevelDBBackend) Transaction(id uint64) (KeyValueStore, uint64, bool) {
	var best uint64
	found := false
	for _, sid := range l.snaps.Keys() {
		if sid <= id && (!found || sid > best) {
			best, found = sid, true
		}
	}
	if !found {
		return nil, 0, false
	}
	snap, ok := l.snaps.Peek(best)
	if !ok {
		return nil, 0, false
	}
	return newOverlay(snap), best, true
}

// Merge applies an overlay's writes back into the persistent store.
func (l *LevelDBBackend) Merge(txn KeyValueStore) error {
	ov, ok := txn.(*overlayStore)
	if !ok {
		return ErrForeignTransaction
	}
	native := new(leveldb.Batch)
	ov.mu.RLock()
	defer ov.mu.RUnlock()
	for ns := range ov.writes {
		for k, v := range ov.writes[ns] {
			if v == nil {
				native.Delete(nsPrefix(Namespace(ns), []byte(k)))
				continue
			}
			native.Put(nsPrefix(Namespace(ns), []byte(k)), v)
		}
	}
	return l.ldb.Write(native, nil)
}

type levelOp struct {
	ns     Namespace
	key    []byte
	value  []byte
	remove bool
}

type levelBatch struct {
	ops []levelOp
}

func (b *levelBatch) Insert(ns Namespace, key, value []byte) {
	b.ops = append(b.ops, levelOp{ns: ns, key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *levelBatch) Remove(ns Namespace, key []byte) {
	b.ops = append(b.ops, levelOp{ns: ns, key: append([]byte(nil), key...), remove: true})
}

func (b *levelBatch) Len() int { return len(b.ops) }

// overlayStore is a writable view over a read-only goleveldb snapshot: reads
// check the in-memory overlay first and fall back to the snapshot; writes
// only ever touch the overlay. It satisfies KeyValueStore so it can stand in
// for a transactional fork's backend.
type overlayStore struct {
	mu     sync.RWMutex
	base   *leveldb.Snapshot
	writes [3]map[string][]byte // nil value means tombstone
}

func newOverlay(base *leveldb.Snapshot) *overlayStore {
	return &overlayStore{base: base, writes: [3]map[string][]byte{{}, {}, {}}}
}

func (o *overlayStore) Get(ns Namespace, key []byte) ([]byte, bool, error) {
	o.mu.RLock()
	v, tombstoned := o.writes[ns][string(key)]
	o.mu.RUnlock()
	if tombstoned {
		if v == nil {
			return nil, false, nil
		}
		return v, true, nil
	}
	raw, err := o.base.Get(nsPrefix(ns, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (o *overlayStore) Contains(ns Namespace, key []byte) (bool, error) {
	_, ok, err := o.Get(ns, key)
	return ok, err
}

func (o *overlayStore) GetByPrefix(ns Namespace, prefix []byte) ([]KV, error) {
	full := nsPrefix(ns, prefix)
	iter := o.base.NewIterator(util.BytesPrefix(full), nil)
	defer iter.Release()
	seen := make(map[string]bool)
	var out []KV
	for iter.Next() {
		key := append([]byte(nil), iter.Key()[1:]...)
		seen[string(key)] = true
		o.mu.RLock()
		v, overridden := o.writes[ns][string(key)]
		o.mu.RUnlock()
		if overridden {
			if v != nil {
				out = append(out, KV{Key: key, Value: append([]byte(nil), v...)})
			}
			continue
		}
		out = append(out, KV{Key: key, Value: append([]byte(nil), iter.Value()...)})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	o.mu.RLock()
	for k, v := range o.writes[ns] {
		if bytes.HasPrefix([]byte(k), prefix) && !seen[k] && v != nil {
			out = append(out, KV{Key: []byte(k), Value: append([]byte(nil), v...)})
		}
	}
	o.mu.RUnlock()
	return out, nil
}

func (o *overlayStore) Insert(ns Namespace, key, value []byte, batch Batch) ([]byte, error) {
	prev, had, _ := o.Get(ns, key)
	if batch != nil {
		batch.Insert(ns, key, value)
	} else {
		o.mu.Lock()
		o.writes[ns][string(key)] = append([]byte(nil), value...)
		o.mu.Unlock()
	}
	if !had {
		return nil, nil
	}
	return prev, nil
}

func (o *overlayStore) Remove(ns Namespace, key []byte, batch Batch) ([]byte, error) {
	prev, had, _ := o.Get(ns, key)
	if batch != nil {
		batch.Remove(ns, key)
	} else {
		o.mu.Lock()
		o.writes[ns][string(key)] = nil
		o.mu.Unlock()
	}
	if !had {
		return nil, nil
	}
	return prev, nil
}

func (o *overlayStore) RemoveByPrefix(ns Namespace, prefix []byte) error {
	kvs, err := o.GetByPrefix(ns, prefix)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, kv := range kvs {
		o.writes[ns][string(kv.Key)] = nil
	}
	return nil
}

func (o *overlayStore) CreateBatch() Batch { return &memoryBatch{} }

func (o *overlayStore) WriteBatch(b Batch) error {
	mb, ok := b.(*memoryBatch)
	if !ok {
		return ErrForeignBatch
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, op := range mb.ops {
		if op.remove {
			o.writes[op.ns][op.key] = nil
			continue
		}
		o.writes[op.ns][op.key] = op.value
	}
	return nil
}
