// Package bonsai implements the forest facade: a per-identifier
// collection of tries sharing one key-value facade, with parallel commit,
// revert, transactional forks and multiproof delegation. Tries are
// materialized lazily on first touch and all flushed into a single
// backend batch per commit.
package bonsai

import (
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/feltstate/bonsai-trie/db"
	"github.com/feltstate/bonsai-trie/felt"
	"github.com/feltstate/bonsai-trie/proof"
	"github.com/feltstate/bonsai-trie/trie"
	"github.com/feltstate/bonsai-trie/trielog"
)

// Storage is the forest facade. The zero value is not usable; construct
// with New or GetTransactionalState.
type Storage struct {
	mu    sync.Mutex
	kv    *trielog.KeyValueDB
	cfg   Config
	trees map[string]*trie.Trie

	tip       uint64
	createdAt uint64
}

// New constructs a forest over backend with the given config.
func New(backend db.KeyValueStore, cfg Config) *Storage {
	cfg = cfg.normalized()
	return &Storage{
		kv:    trielog.New(backend, cfg.Config),
		cfg:   cfg,
		trees: make(map[string]*trie.Trie),
	}
}

func (s *Storage) treeFor(id []byte) *trie.Trie {
	key := string(id)
	t, ok := s.trees[key]
	if !ok {
		t = trie.New(id, s.kv, s.cfg.Hasher, s.cfg.MaxHeight)
		s.trees[key] = t
	}
	return t
}

// Insert sets key to value in the trie identified by id, creating the trie
// on first touch. value == 0 behaves as Remove.
func (s *Storage) Insert(id []byte, key trie.Path, value felt.Felt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.treeFor(id).Set(key, value)
}

// Remove deletes key from the trie identified by id.
func (s *Storage) Remove(id []byte, key trie.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.treeFor(id).DeleteLeaf(key)
}

// Get returns the value at key in the trie identified by id.
func (s *Storage) Get(id []byte, key trie.Path) (felt.Felt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.treeFor(id).Get(key)
}

// Contains reports whether key has a value in the trie identified by id.
func (s *Storage) Contains(id []byte, key trie.Path) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.treeFor(id).Contains(key)
}

// RootHash returns the current root hash of the trie identified by id (0
// if it is empty or untouched).
func (s *Storage) RootHash(id []byte) (felt.Felt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.treeFor(id).RootHash()
}

// Commit hashes and persists every modified trie in parallel, records a
// change-log entry tagged commitID via the key-value facade, writes the
// batch, and takes a backend snapshot if the interval is due.
func (s *Storage) Commit(commitID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.trees))
	for k := range s.trees {
		ids = append(ids, k)
	}
	sort.Strings(ids)

	var g errgroup.Group
	for _, k := range ids {
		t := s.trees[k]
		g.Go(func() error { return t.Commit() })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.kv.Commit(commitID); err != nil {
		return err
	}
	if err := s.kv.CreateSnapshot(commitID); err != nil {
		return err
	}
	s.tip = commitID
	return nil
}

// RevertTo discards uncommitted in-memory changes and rolls the backend
// back to the state as of commitID by undoing every retained log newer
// than it. Forces every trie to reload on next access.
func (s *Storage) RevertTo(commitID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.RevertTo(commitID); err != nil {
		return err
	}
	s.trees = make(map[string]*trie.Trie)
	s.tip = commitID
	return nil
}

// GetTransactionalState builds an isolated forest rooted at commitID,
// reconstructed from the nearest backend snapshot plus change-log replay.
// ok is false if no snapshot covers commitID.
func (s *Storage) GetTransactionalState(commitID uint64, cfg Config) (*Storage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := cfg.normalized()
	merged.MaxHeight = s.cfg.MaxHeight
	if merged.Hasher == nil {
		merged.Hasher = s.cfg.Hasher
	}
	txnKV, ok, err := s.kv.GetTransaction(commitID, merged.Config)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &Storage{
		kv:        txnKV,
		cfg:       merged,
		trees:     make(map[string]*trie.Trie),
		createdAt: commitID,
		tip:       commitID,
	}, true, nil
}

// Merge commits txn's writes back into s. It fails ErrMerge if txn was
// forked from a commit older than s's current tip, which would make the
// merge a write-write conflict.
func (s *Storage) Merge(txn *Storage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if txn.createdAt < s.tip {
		return ErrMerge
	}
	pb, ok := s.kv.Backend().(db.PersistentBackend)
	if !ok {
		return trielog.ErrNoPersistentBackend
	}
	if err := pb.Merge(txn.kv.Backend()); err != nil {
		return err
	}
	s.trees = make(map[string]*trie.Trie)
	return nil
}

// Changes recovers the per-key backend diffs recorded for commitID.
func (s *Storage) Changes(commitID uint64) (map[string]*trielog.ChangeRecord, error) {
	return s.kv.Changes(commitID)
}

// GetProof builds a single-key multiproof for id's trie.
func (s *Storage) GetProof(id []byte, key trie.Path) (proof.Proof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return proof.Build(s.treeFor(id), []trie.Path{key})
}

// GetMultiProof builds a multiproof covering every key in keys for id's
// trie.
func (s *Storage) GetMultiProof(id []byte, keys []trie.Path) (proof.Proof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return proof.Build(s.treeFor(id), keys)
}

// VerifyProof verifies keys against root and p, returning one result per
// key.
func (s *Storage) VerifyProof(root felt.Felt, keys []trie.Path, p proof.Proof) []proof.Result {
	return proof.VerifyMultiProof(s.cfg.Hasher, root, p, s.cfg.MaxHeight, keys)
}
