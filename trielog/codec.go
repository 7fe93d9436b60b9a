package trielog

import (
	"encoding/binary"

	"github.com/feltstate/bonsai-trie/db"
)

// Tag bytes for the TrieLog namespace encoding.
const (
	newTag byte = 0x00
	oldTag byte = 0x01

	kindTrie byte = 0x01
	kindFlat byte = 0x02
)

func kindForNamespace(ns db.Namespace) byte {
	if ns == db.Trie {
		return kindTrie
	}
	return kindFlat
}

func namespaceForKind(k byte) db.Namespace {
	if k == kindTrie {
		return db.Trie
	}
	return db.Flat
}

// idBytes encodes a commit id as a fixed 8-byte big-endian value.
func idBytes(id uint64) [8]byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], id)
	return out
}

func idFromBytes(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// logKey builds the TrieLog namespace key: id_bytes || 0x00 || subkey ||
// kind_tag || value_tag.
func logKey(id uint64, ns db.Namespace, subkey []byte, tag byte) []byte {
	idb := idBytes(id)
	out := make([]byte, 0, 8+1+len(subkey)+2)
	out = append(out, idb[:]...)
	out = append(out, 0x00)
	out = append(out, subkey...)
	out = append(out, kindForNamespace(ns), tag)
	return out
}

// logPrefix returns the prefix that covers every entry belonging to id,
// used both to scan (Changes) and to prune (RemoveByPrefix) a commit's log.
func logPrefix(id uint64) []byte {
	idb := idBytes(id)
	return append(idb[:], 0x00)
}

// record is the (old, new) pair tracked per touched backend key while a
// commit is in flight.
type record struct {
	ns       db.Namespace
	key      []byte
	old, new []byte
	hasOld   bool
	hasNew   bool
}

// merge folds another observation of the same key into the record, keeping
// the earliest old value and the latest new value.
func (r *record) merge(old, new []byte, hasOld, hasNew bool) {
	if !r.hasOld && hasOld {
		r.old, r.hasOld = old, true
	}
	r.new, r.hasNew = new, hasNew
}

// entries renders the record into its 0, 1 or 2 TrieLog key/value writes:
// nothing if old==new, otherwise one write per side that is present.
func (r *record) entries(id uint64) []db.KV {
	if r.hasOld && r.hasNew && bytesEqual(r.old, r.new) {
		return nil
	}
	var out []db.KV
	if r.hasOld {
		out = append(out, db.KV{Key: logKey(id, r.ns, r.key, oldTag), Value: r.old})
	}
	if r.hasNew {
		out = append(out, db.KV{Key: logKey(id, r.ns, r.key, newTag), Value: r.new})
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ChangeRecord is the old/new pair for one backend key as recovered from a
// retained commit's log.
type ChangeRecord struct {
	Namespace db.Namespace
	Key       []byte
	Old       []byte
	HasOld    bool
	New       []byte
	HasNew    bool
}

// decodeLog groups the raw TrieLog entries for one commit id back into
// per-key ChangeRecords.
func decodeLog(id uint64, kvs []db.KV) map[string]*ChangeRecord {
	out := make(map[string]*ChangeRecord)
	for _, kv := range kvs {
		if len(kv.Key) < 10 {
			continue
		}
		tag := kv.Key[len(kv.Key)-1]
		kind := kv.Key[len(kv.Key)-2]
		subkey := kv.Key[9 : len(kv.Key)-2]
		ns := namespaceForKind(kind)
		groupKey := string(append([]byte{byte(ns)}, subkey...))
		rec, ok := out[groupKey]
		if !ok {
			rec = &ChangeRecord{Namespace: ns, Key: append([]byte(nil), subkey...)}
			out[groupKey] = rec
		}
		if tag == oldTag {
			rec.Old, rec.HasOld = append([]byte(nil), kv.Value...), true
		} else {
			rec.New, rec.HasNew = append([]byte(nil), kv.Value...), true
		}
	}
	return out
}
