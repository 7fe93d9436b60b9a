package trie

import "github.com/feltstate/bonsai-trie/felt"

// ArenaKey is a stable, opaque, generational index into a Trie's node
// arena. It is never persisted: on commit every
// handle is rewritten to a Hash before it reaches the backend.
type ArenaKey struct {
	index uint32
	gen   uint32
}

// Handle is the tagged child-handle union: an unresolved hash or a live
// arena key.
type Handle struct {
	isMem bool
	hash  felt.Felt
	key   ArenaKey
}

// HashHandle wraps an unresolved reference: either a not-yet-loaded
// subtree's root hash, or (at height == H) a leaf value.
func HashHandle(f felt.Felt) Handle { return Handle{hash: f} }

// MemHandle wraps a live arena key.
func MemHandle(k ArenaKey) Handle { return Handle{isMem: true, key: k} }

// IsMem reports whether the handle refers to a live in-memory node.
func (h Handle) IsMem() bool { return h.isMem }

// Key returns the arena key; only valid when IsMem() is true.
func (h Handle) Key() ArenaKey { return h.key }

// FeltValue returns the wrapped hash/leaf value; only valid when IsMem() is
// false.
func (h Handle) FeltValue() felt.Felt { return h.hash }

// Node is the interior-node sum type: Binary | Edge. Leaves are never
// node objects; a Handle that resolves to a felt at height H is the
// leaf.
type Node interface {
	isNode()
	cachedHash() (felt.Felt, bool)
	clearHash()
}

// BinaryNode has two children and an optional cached hash.
type BinaryNode struct {
	Left, Right Handle
	hash        *felt.Felt
}

func (*BinaryNode) isNode() {}

func (n *BinaryNode) cachedHash() (felt.Felt, bool) {
	if n.hash == nil {
		return felt.Felt{}, false
	}
	return *n.hash, true
}

func (n *BinaryNode) clearHash() { n.hash = nil }

// EdgeNode carries a non-empty path segment down to a single child. Edges
// are maximal: an EdgeNode's Child is never another EdgeNode; this is
// enforced by the mutation logic in trie.go, not by the type system.
type EdgeNode struct {
	Path  Path
	Child Handle
	hash  *felt.Felt
}

func (*EdgeNode) isNode() {}

func (n *EdgeNode) cachedHash() (felt.Felt, bool) {
	if n.hash == nil {
		return felt.Felt{}, false
	}
	return *n.hash, true
}

func (n *EdgeNode) clearHash() { n.hash = nil }
