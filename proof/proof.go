// Package proof implements multiproof build and verification: a
// hash-addressed, deduplicated set of proof nodes covering a batch of
// keys. Absence is proven by an edge-path mismatch and yields the zero
// felt; overshoot and key-length mismatch are distinct failure kinds.
package proof

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/feltstate/bonsai-trie/felt"
	"github.com/feltstate/bonsai-trie/hash"
	"github.com/feltstate/bonsai-trie/trie"
)

// ProofNode is either Binary{left, right} or Edge{child, path}, the two
// shapes a verifier can recompute a hash from.
type ProofNode struct {
	IsEdge bool

	// Binary case.
	Left, Right felt.Felt

	// Edge case.
	Path  trie.Path
	Child felt.Felt
}

// Proof is the hash-addressed, deduplicated proof node set.
type Proof map[[32]byte]ProofNode

func feltKey(f felt.Felt) [32]byte { return f.Bytes32() }

// Build traverses t with the iterator once per key (sorted first so
// neighboring keys reuse the cached path), registering every node entered
// into the returned Proof.
func Build(t *trie.Trie, keys []trie.Path) (Proof, error) {
	sorted := make([]trie.Path, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Pack(), sorted[j].Pack()) < 0
	})

	proof := make(Proof)
	it := trie.NewIterator(t)
	it.Visit = func(height int, n trie.Node) error {
		selfHash, err := t.NodeHash(n)
		if err != nil {
			return err
		}
		switch x := n.(type) {
		case *trie.BinaryNode:
			leftHash, err := t.HandleHash(x.Left)
			if err != nil {
				return err
			}
			rightHash, err := t.HandleHash(x.Right)
			if err != nil {
				return err
			}
			proof[feltKey(selfHash)] = ProofNode{Left: leftHash, Right: rightHash}
		case *trie.EdgeNode:
			childHash, err := t.HandleHash(x.Child)
			if err != nil {
				return err
			}
			proof[feltKey(selfHash)] = ProofNode{IsEdge: true, Path: x.Path, Child: childHash}
		default:
			return fmt.Errorf("proof: unknown node type")
		}
		return nil
	}
	for _, k := range sorted {
		if err := it.SeekTo(k); err != nil {
			return nil, err
		}
	}
	return proof, nil
}

// Verify kinds.
var (
	ErrMissingNode       = errors.New("proof: missing node")
	ErrOvershot          = errors.New("proof: traversal exceeded tree height")
	ErrHashMismatch      = errors.New("proof: node hash mismatch")
	ErrKeyLengthMismatch = errors.New("proof: key length mismatch")
)

// VerifyKey verifies a single key against root using proof, caching
// verified node hashes in seen across calls from the same batch.
func VerifyKey(hasher hash.Hasher, root felt.Felt, p Proof, height int, key trie.Path, seen map[[32]byte]bool) (felt.Felt, error) {
	if key.Len() != height {
		return felt.Felt{}, ErrKeyLengthMismatch
	}
	if root.IsZero() {
		return felt.Zero(), nil
	}

	current := root
	depth := 0
	for {
		node, ok := p[feltKey(current)]
		if !ok {
			return felt.Felt{}, fmt.Errorf("%w: at depth %d", ErrMissingNode, depth)
		}
		if !seen[feltKey(current)] {
			computed := nodeHash(hasher, node)
			if !computed.Equal(current) {
				return felt.Felt{}, fmt.Errorf("%w: at depth %d", ErrHashMismatch, depth)
			}
			seen[feltKey(current)] = true
		}

		if node.IsEdge {
			segLen := node.Path.Len()
			if depth+segLen > height {
				return felt.Felt{}, fmt.Errorf("%w: at depth %d", ErrOvershot, depth)
			}
			seg := key.Slice(depth, depth+segLen)
			if !seg.Equal(node.Path) {
				return felt.Zero(), nil
			}
			depth += segLen
			current = node.Child
		} else {
			if depth >= height {
				return felt.Felt{}, fmt.Errorf("%w: at depth %d", ErrOvershot, depth)
			}
			if key.At(depth) {
				current = node.Right
			} else {
				current = node.Left
			}
			depth++
		}

		if depth == height {
			return current, nil
		}
		if depth > height {
			return felt.Felt{}, fmt.Errorf("%w: at depth %d", ErrOvershot, depth)
		}
	}
}

// VerifyMultiProof verifies every key in keys against root and p, returning
// one (value, error) pair per key in the same order.
func VerifyMultiProof(hasher hash.Hasher, root felt.Felt, p Proof, height int, keys []trie.Path) []Result {
	seen := make(map[[32]byte]bool)
	out := make([]Result, len(keys))
	for i, k := range keys {
		v, err := VerifyKey(hasher, root, p, height, k, seen)
		out[i] = Result{Value: v, Err: err}
	}
	return out
}

// Result is one key's verification outcome.
type Result struct {
	Value felt.Felt
	Err   error
}

func nodeHash(hasher hash.Hasher, n ProofNode) felt.Felt {
	if n.IsEdge {
		packed := n.Path.Pack()
		data := packed[1:]
		var buf [32]byte
		copy(buf[32-len(data):], data)
		pathFelt, _ := felt.FromBytes(buf[:])
		lengthFelt := felt.SetLastByte(byte(n.Path.Len()))
		return hasher.Hash(n.Child, pathFelt).Add(lengthFelt)
	}
	return hasher.Hash(n.Left, n.Right)
}
