package db

import (
	"bytes"
	"sort"
	"sync"
)

// MemoryBackend is an ephemeral, in-process KeyValueStore. Snapshots are
// implemented as full deep clones of the three namespaces and no bound is
// enforced on how many are retained; callers that need bounded retention
// should use LevelDBBackend instead.
type MemoryBackend struct {
	mu    sync.RWMutex
	data  [3]map[string][]byte
	snaps map[uint64][3]map[string][]byte

	// touched records every key written (inserted or removed) since this
	// instance was constructed. It lets Merge tell "never written" apart
	// from "written, then removed" for a transactional fork, whose data
	// map alone can't distinguish the two.
	touched [3]map[string]bool
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:    [3]map[string][]byte{{}, {}, {}},
		snaps:   make(map[uint64][3]map[string][]byte),
		touched: [3]map[string]bool{{}, {}, {}},
	}
}

func (m *MemoryBackend) Get(ns Namespace, key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[ns][string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryBackend) Contains(ns Namespace, key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[ns][string(key)]
	return ok, nil
}

func (m *MemoryBackend) GetByPrefix(ns Namespace, prefix []byte) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []KV
	for k, v := range m.data[ns] {
		if bytes.HasPrefix([]byte(k), prefix) {
			val := make([]byte, len(v))
			copy(val, v)
			out = append(out, KV{Key: []byte(k), Value: val})
		}
	}
	return out, nil
}

func (m *MemoryBackend) Insert(ns Namespace, key, value []byte, batch Batch) ([]byte, error) {
	if batch != nil {
		prev, _, _ := m.Get(ns, key)
		batch.Insert(ns, key, value)
		return prev, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, had := m.data[ns][string(key)]
	val := make([]byte, len(value))
	copy(val, value)
	m.data[ns][string(key)] = val
	m.touched[ns][string(key)] = true
	if !had {
		return nil, nil
	}
	return prev, nil
}

func (m *MemoryBackend) Remove(ns Namespace, key []byte, batch Batch) ([]byte, error) {
	if batch != nil {
		prev, _, _ := m.Get(ns, key)
		batch.Remove(ns, key)
		return prev, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, had := m.data[ns][string(key)]
	delete(m.data[ns], string(key))
	m.touched[ns][string(key)] = true
	if !had {
		return nil, nil
	}
	return prev, nil
}

func (m *MemoryBackend) RemoveByPrefix(ns Namespace, prefix []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data[ns] {
		if bytes.HasPrefix([]byte(k), prefix) {
			delete(m.data[ns], k)
			m.touched[ns][k] = true
		}
	}
	return nil
}

func (m *MemoryBackend) CreateBatch() Batch {
	return &memoryBatch{}
}

func (m *MemoryBackend) WriteBatch(b Batch) error {
	mb, ok := b.(*memoryBatch)
	if !ok {
		return ErrForeignBatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range mb.ops {
		m.touched[op.ns][op.key] = true
		if op.remove {
			delete(m.data[op.ns], op.key)
			continue
		}
		m.data[op.ns][op.key] = op.value
	}
	return nil
}

// Snapshot deep-clones all three namespaces under id. See the type doc:
// unlike LevelDBBackend this never evicts.
func (m *MemoryBackend) Snapshot(id uint64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var clone [3]map[string][]byte
	for i, ns := range m.data {
		c := make(map[string][]byte, len(ns))
		for k, v := range ns {
			cv := make([]byte, len(v))
			copy(cv, v)
			c[k] = cv
		}
		clone[i] = c
	}
	m.snaps[id] = clone
	return nil
}

// Transaction returns a writable MemoryBackend seeded from the nearest
// snapshot at or before id.
func (m *MemoryBackend) Transaction(id uint64) (KeyValueStore, uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best uint64
	found := false
	for sid := range m.snaps {
		if sid <= id && (!found || sid > best) {
			best, found = sid, true
		}
	}
	if !found {
		return nil, 0, false
	}
	clone := m.snaps[best]
	txn := &MemoryBackend{
		snaps:   make(map[uint64][3]map[string][]byte),
		touched: [3]map[string]bool{{}, {}, {}},
	}
	var data [3]map[string][]byte
	for i, ns := range clone {
		c := make(map[string][]byte, len(ns))
		for k, v := range ns {
			cv := make([]byte, len(v))
			copy(cv, v)
			c[k] = cv
		}
		data[i] = c
	}
	txn.data = data
	return txn, best, true
}

// Merge applies a transactional MemoryBackend's writes on top of m. It
// consults txn.touched rather than just txn.data so that a key the
// transaction removed (and so no longer appears in txn.data) is deleted
// from m too, instead of silently surviving the merge.
func (m *MemoryBackend) Merge(txn KeyValueStore) error {
	other, ok := txn.(*MemoryBackend)
	if !ok {
		return ErrForeignTransaction
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	for ns := range other.touched {
		for k := range other.touched[ns] {
			v, had := other.data[ns][k]
			if !had {
				delete(m.data[ns], k)
				continue
			}
			val := make([]byte, len(v))
			copy(val, v)
			m.data[ns][k] = val
		}
	}
	return nil
}

type memoryOp struct {
	ns     Namespace
	key    string
	value  []byte
	remove bool
}

type memoryBatch struct {
	ops []memoryOp
}

func (b *memoryBatch) Insert(ns Namespace, key, value []byte) {
	val := make([]byte, len(value))
	copy(val, value)
	b.ops = append(b.ops, memoryOp{ns: ns, key: string(key), value: val})
}

func (b *memoryBatch) Remove(ns Namespace, key []byte) {
	b.ops = append(b.ops, memoryOp{ns: ns, key: string(key), remove: true})
}

func (b *memoryBatch) Len() int { return len(b.ops) }

// sortedKeys is a small helper used by tests that want deterministic
// iteration over a prefix scan.
func sortedKeys(kvs []KV) []KV {
	sort.Slice(kvs, func(i, j int) bool { return bytes.Compare(kvs[i].Key, kvs[j].Key) < 0 })
	return kvs
}
