// Package trie implements an in-memory sparse binary Merkle-Patricia
// trie: Binary/Edge nodes, a generational node arena, lazy loading from a
// Backend, insert/delete with edge splitting and merging, and bottom-up
// commit. The node shapes follow go-ethereum's fullNode/shortNode split,
// narrowed from nibble-indexed to bit-indexed children.
package trie

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/feltstate/bonsai-trie/felt"
	"github.com/feltstate/bonsai-trie/hash"
)

// DefaultMaxHeight is H, the fixed bit-path length of every key.
const DefaultMaxHeight = 251

type rootState int

const (
	rootNone rootState = iota
	rootEmpty
	rootLoaded
)

type leafEntry struct {
	value  felt.Felt
	remove bool
}

// Trie is one authenticated key-value mapping: the root handle, the node
// arena, the pending deletion set and leaf cache, plus the identifier that
// disambiguates it from siblings sharing one Backend.
type Trie struct {
	id        []byte
	backend   Backend
	hasher    hash.Hasher
	maxHeight int

	root    rootState
	rootKey ArenaKey

	arena     *arena
	deathRow  map[string]struct{}
	leafCache map[string]leafEntry
}

// New constructs a Trie over backend, identified by id, with the given
// tree height and hasher. Its root starts unloaded (None) and is fetched
// from the backend on first touch.
func New(id []byte, backend Backend, hasher hash.Hasher, maxHeight int) *Trie {
	return &Trie{
		id:        append([]byte(nil), id...),
		backend:   backend,
		hasher:    hasher,
		maxHeight: maxHeight,
		root:      rootNone,
		arena:     newArena(),
		deathRow:  make(map[string]struct{}),
		leafCache: make(map[string]leafEntry),
	}
}

// MaxHeight returns H.
func (t *Trie) MaxHeight() int { return t.maxHeight }

func idPrefix(id []byte) []byte {
	out := make([]byte, 0, 1+len(id))
	out = append(out, byte(len(id)))
	out = append(out, id...)
	return out
}

func (t *Trie) nodeBackendKey(path Path) []byte {
	return append(idPrefix(t.id), trieKey(path)...)
}

func (t *Trie) flatBackendKey(path Path) []byte {
	return append(idPrefix(t.id), flatKey(path)...)
}

func (t *Trie) scheduleDeleteNode(path Path) {
	t.deathRow[string(t.nodeBackendKey(path))] = struct{}{}
}

func (t *Trie) loadRoot() error {
	raw, ok, err := t.backend.GetTrieNode(t.nodeBackendKey(Path{}))
	if err != nil {
		return err
	}
	if !ok {
		t.root = rootEmpty
		return nil
	}
	n, err := decodeNode(raw)
	if err != nil {
		return err
	}
	t.rootKey = t.arena.Insert(n)
	t.root = rootLoaded
	return nil
}

func (t *Trie) resolve(path Path) (ArenaKey, error) {
	raw, ok, err := t.backend.GetTrieNode(t.nodeBackendKey(path))
	if err != nil {
		return ArenaKey{}, err
	}
	if !ok {
		return ArenaKey{}, fmt.Errorf("%w: missing trie node at height %d", ErrStructure, path.Len())
	}
	n, err := decodeNode(raw)
	if err != nil {
		return ArenaKey{}, err
	}
	return t.arena.Insert(n), nil
}

// Get returns the value stored at key, reading the pending leaf cache
// first and falling back to the backend's Flat namespace.
func (t *Trie) Get(key Path) (felt.Felt, bool, error) {
	if key.Len() != t.maxHeight {
		return felt.Felt{}, false, ErrKeyLength
	}
	fk := string(t.flatBackendKey(key))
	if entry, ok := t.leafCache[fk]; ok {
		if entry.remove {
			return felt.Felt{}, false, nil
		}
		return entry.value, true, nil
	}
	raw, ok, err := t.backend.GetFlat(t.flatBackendKey(key))
	if err != nil || !ok {
		return felt.Felt{}, ok, err
	}
	v, err := felt.FromBytes(raw)
	if err != nil {
		return felt.Felt{}, false, err
	}
	return v, true, nil
}

// Contains reports whether key currently has a value.
func (t *Trie) Contains(key Path) (bool, error) {
	_, ok, err := t.Get(key)
	return ok, err
}

// Set stores value at key. value == 0 is treated as delete.
func (t *Trie) Set(key Path, value felt.Felt) error {
	if key.Len() != t.maxHeight {
		return ErrKeyLength
	}
	if value.IsZero() {
		return t.DeleteLeaf(key)
	}

	fk := string(t.flatBackendKey(key))
	if entry, ok := t.leafCache[fk]; ok {
		if !entry.remove && entry.value.Equal(value) {
			return nil
		}
	} else {
		raw, ok, err := t.backend.GetFlat(t.flatBackendKey(key))
		if err != nil {
			return err
		}
		if ok {
			if existing, err := felt.FromBytes(raw); err == nil && existing.Equal(value) {
				return nil
			}
		}
	}

	it := NewIterator(t)
	if err := it.SeekTo(key); err != nil {
		return err
	}
	stack := it.Stack()
	if len(stack) == 0 {
		edge := &EdgeNode{Path: key, Child: HashHandle(value)}
		t.rootKey = t.arena.Insert(edge)
		t.root = rootLoaded
		t.leafCache[fk] = leafEntry{value: value}
		return nil
	}

	deepest := stack[len(stack)-1]
	node, ok := t.arena.Get(deepest.key)
	if !ok {
		return ErrStructure
	}
	// Every branch below mutates the deepest node or replaces it, which
	// stales the cached hash of everything on the path above it.
	t.clearStackHashes(stack)

	switch n := node.(type) {
	case *BinaryNode:
		bit := key.At(deepest.height)
		if bit {
			n.Right = HashHandle(value)
		} else {
			n.Left = HashHandle(value)
		}
		n.clearHash()
		t.leafCache[fk] = leafEntry{value: value}
		return nil

	case *EdgeNode:
		segStart := deepest.height
		segLen := n.Path.Len()
		targetSeg := key.Slice(segStart, segStart+segLen)
		common := targetSeg.CommonPrefixLen(n.Path)

		if common == segLen {
			// Exact-match overwrite: the edge is fully consumed and its
			// child sits exactly at H.
			n.Child = HashHandle(value)
			n.clearHash()
			t.leafCache[fk] = leafEntry{value: value}
			return nil
		}

		branchHeight := segStart + common
		keyRemain := key.Slice(branchHeight+1, key.Len())
		existingRemain := n.Path.Slice(common+1, segLen)

		var keySideChild Handle = HashHandle(value)
		if keyRemain.Len() > 0 {
			keySideChild = MemHandle(t.arena.Insert(&EdgeNode{Path: keyRemain, Child: HashHandle(value)}))
		}
		var existingSideChild Handle = n.Child
		if existingRemain.Len() > 0 {
			existingSideChild = MemHandle(t.arena.Insert(&EdgeNode{Path: existingRemain, Child: n.Child}))
		}

		bin := &BinaryNode{}
		if key.At(branchHeight) {
			bin.Right, bin.Left = keySideChild, existingSideChild
		} else {
			bin.Left, bin.Right = keySideChild, existingSideChild
		}
		binKey := t.arena.Insert(bin)

		var topKey ArenaKey
		if common > 0 {
			prefix := targetSeg.Slice(0, common)
			topKey = t.arena.Insert(&EdgeNode{Path: prefix, Child: MemHandle(binKey)})
		} else {
			topKey = binKey
		}

		t.spliceChild(stack, len(stack)-1, key, topKey)
		t.arena.Remove(deepest.key)
		t.scheduleDeleteNode(key.Slice(0, segStart))
		t.leafCache[fk] = leafEntry{value: value}
		return nil

	default:
		return ErrStructure
	}
}

// clearStackHashes drops the cached hash of every node on the seek path.
// A mutation at the deepest node stales exactly these caches: its own
// ancestors. Descendants and off-path subtrees are untouched, so their
// caches stay valid.
func (t *Trie) clearStackHashes(stack []frame) {
	for _, f := range stack {
		if n, ok := t.arena.Get(f.key); ok {
			n.clearHash()
		}
	}
}

// spliceChild rewrites the handle that points at stack[idx] (either the
// parent node one level up in stack, or the trie root) to newKey.
func (t *Trie) spliceChild(stack []frame, idx int, key Path, newKey ArenaKey) {
	if idx == 0 {
		t.rootKey = newKey
		t.root = rootLoaded
		return
	}
	parent := stack[idx-1]
	parentNode, _ := t.arena.Get(parent.key)
	switch pn := parentNode.(type) {
	case *BinaryNode:
		if key.At(parent.height) {
			pn.Right = MemHandle(newKey)
		} else {
			pn.Left = MemHandle(newKey)
		}
		pn.clearHash()
	case *EdgeNode:
		pn.Child = MemHandle(newKey)
		pn.clearHash()
	}
}

// DeleteLeaf removes key's leaf, collapsing the structure around it: the
// parent binary becomes an edge toward the surviving sibling, and adjacent
// edges are merged to keep edges maximal.
func (t *Trie) DeleteLeaf(key Path) error {
	if key.Len() != t.maxHeight {
		return ErrKeyLength
	}
	fk := string(t.flatBackendKey(key))
	if entry, ok := t.leafCache[fk]; ok {
		if entry.remove {
			return nil
		}
	} else {
		_, ok, err := t.backend.GetFlat(t.flatBackendKey(key))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	t.leafCache[fk] = leafEntry{remove: true}

	it := NewIterator(t)
	if err := it.SeekTo(key); err != nil {
		return err
	}
	stack := it.Stack()
	if len(stack) == 0 {
		return nil
	}
	t.clearStackHashes(stack)

	top := stack[len(stack)-1]
	topNode, ok := t.arena.Get(top.key)
	if !ok {
		return ErrStructure
	}

	collapseIdx := len(stack) - 1
	if _, isEdge := topNode.(*EdgeNode); isEdge {
		t.arena.Remove(top.key)
		t.scheduleDeleteNode(key.Slice(0, top.height))
		if len(stack) < 2 {
			t.root = rootEmpty
			t.scheduleDeleteNode(Path{})
			return nil
		}
		collapseIdx = len(stack) - 2
	}

	collapseFrame := stack[collapseIdx]
	bn, ok := t.arena.Get(collapseFrame.key)
	if !ok {
		return ErrStructure
	}
	binary, isBinary := bn.(*BinaryNode)
	if !isBinary {
		return ErrStructure
	}

	bit := key.At(collapseFrame.height)
	var sibling Handle
	if bit {
		sibling = binary.Left
	} else {
		sibling = binary.Right
	}
	oppositeBit := NewPath([]bool{!bit})
	siblingPath := key.Slice(0, collapseFrame.height).Concat(oppositeBit)

	t.arena.Remove(collapseFrame.key)
	t.scheduleDeleteNode(key.Slice(0, collapseFrame.height))

	mergedSeg, mergedChild, err := t.collapseEdgeChild(siblingPath, oppositeBit, sibling)
	if err != nil {
		return err
	}

	if collapseIdx == 0 {
		t.rootKey = t.arena.Insert(&EdgeNode{Path: mergedSeg, Child: mergedChild})
		t.root = rootLoaded
		return nil
	}

	grandFrame := stack[collapseIdx-1]
	grandNode, ok := t.arena.Get(grandFrame.key)
	if !ok {
		return ErrStructure
	}
	switch gn := grandNode.(type) {
	case *EdgeNode:
		gn.Path = gn.Path.Concat(mergedSeg)
		gn.Child = mergedChild
		gn.clearHash()
	case *BinaryNode:
		newKey := t.arena.Insert(&EdgeNode{Path: mergedSeg, Child: mergedChild})
		if key.At(grandFrame.height) {
			gn.Right = MemHandle(newKey)
		} else {
			gn.Left = MemHandle(newKey)
		}
		gn.clearHash()
	default:
		return ErrStructure
	}
	return nil
}

// collapseEdgeChild resolves child, loading it from the backend if
// necessary, to check whether it is itself an Edge node, and if so folds
// it into the segment being built, repeating until child is no longer a
// live Edge. This is the same fixup go-ethereum's trie.go delete performs
// before splicing a collapsed binary's surviving child into its parent
// ("resolve it just for this check" to avoid producing a
// shortNode{...shortNode{...}}): without it, splicing a sibling that
// already happens to be a live Edge node (e.g. touched by an earlier Set
// in the same uncommitted transaction) would break edge maximality.
//
// absPath is the absolute path from the trie root to child; seg is the
// single-bit segment accumulated so far for the new edge being built
// around child.
func (t *Trie) collapseEdgeChild(absPath, seg Path, child Handle) (Path, Handle, error) {
	for {
		var key ArenaKey
		if child.IsMem() {
			key = child.Key()
		} else {
			if absPath.Len() >= t.maxHeight {
				return seg, child, nil
			}
			resolved, err := t.resolve(absPath)
			if err != nil {
				return Path{}, Handle{}, err
			}
			key = resolved
			child = MemHandle(key)
		}
		n, ok := t.arena.Get(key)
		if !ok {
			return Path{}, Handle{}, ErrStructure
		}
		edge, isEdge := n.(*EdgeNode)
		if !isEdge {
			return seg, child, nil
		}
		t.scheduleDeleteNode(absPath)
		t.arena.Remove(key)
		absPath = absPath.Concat(edge.Path)
		seg = seg.Concat(edge.Path)
		child = edge.Child
	}
}

// handleHash resolves h to a field element: a hash handle is already its
// own digest (a leaf hashes to its value, an unresolved subtree to its
// root hash); a live arena node is hashed recursively.
func (t *Trie) handleHash(h Handle) (felt.Felt, error) {
	if !h.IsMem() {
		return h.FeltValue(), nil
	}
	n, ok := t.arena.Get(h.Key())
	if !ok {
		return felt.Felt{}, ErrStructure
	}
	return t.nodeHash(n)
}

// HandleHash is the exported form of handleHash, used by the proof
// package to recompute node hashes while building/verifying proofs.
func (t *Trie) HandleHash(h Handle) (felt.Felt, error) { return t.handleHash(h) }

// NodeHash is the exported form of nodeHash.
func (t *Trie) NodeHash(n Node) (felt.Felt, error) { return t.nodeHash(n) }

func (t *Trie) nodeHash(n Node) (felt.Felt, error) {
	if cached, ok := n.cachedHash(); ok {
		return cached, nil
	}
	switch x := n.(type) {
	case *BinaryNode:
		var left, right felt.Felt
		if x.Left.IsMem() && x.Right.IsMem() {
			var g errgroup.Group
			g.Go(func() error {
				v, err := t.handleHash(x.Left)
				left = v
				return err
			})
			g.Go(func() error {
				v, err := t.handleHash(x.Right)
				right = v
				return err
			})
			if err := g.Wait(); err != nil {
				return felt.Felt{}, err
			}
		} else {
			var err error
			left, err = t.handleHash(x.Left)
			if err != nil {
				return felt.Felt{}, err
			}
			right, err = t.handleHash(x.Right)
			if err != nil {
				return felt.Felt{}, err
			}
		}
		hv := t.hasher.Hash(left, right)
		x.hash = &hv
		return hv, nil

	case *EdgeNode:
		childHash, err := t.handleHash(x.Child)
		if err != nil {
			return felt.Felt{}, err
		}
		pathFelt := edgePathFelt(x.Path)
		lengthFelt := felt.SetLastByte(byte(x.Path.Len()))
		hv := t.hasher.Hash(childHash, pathFelt).Add(lengthFelt)
		x.hash = &hv
		return hv, nil

	default:
		return felt.Felt{}, ErrStructure
	}
}

// edgePathFelt packs an edge's bit path, MSB-first, right-aligned into a
// 32-byte field element, the path term of the edge hash formula.
func edgePathFelt(p Path) felt.Felt {
	packed := p.Pack()
	data := packed[1:]
	var buf [32]byte
	copy(buf[32-len(data):], data)
	v, _ := felt.FromBytes(buf[:])
	return v
}

// RootHandle returns a handle to the root node, loading it from the
// backend if necessary. ok is false for an empty trie.
func (t *Trie) RootHandle() (Handle, bool, error) {
	if t.root == rootNone {
		if err := t.loadRoot(); err != nil {
			return Handle{}, false, err
		}
	}
	if t.root == rootEmpty {
		return Handle{}, false, nil
	}
	return MemHandle(t.rootKey), true, nil
}

// NodeAt dereferences a live handle into its node.
func (t *Trie) NodeAt(h Handle) (Node, bool) {
	if !h.IsMem() {
		return nil, false
	}
	return t.arena.Get(h.Key())
}

// RootHash computes the current root hash (0 for an empty trie).
func (t *Trie) RootHash() (felt.Felt, error) {
	h, ok, err := t.RootHandle()
	if err != nil {
		return felt.Felt{}, err
	}
	if !ok {
		return felt.Zero(), nil
	}
	return t.handleHash(h)
}

// ArenaLen reports the number of live in-memory nodes.
func (t *Trie) ArenaLen() int { return t.arena.Len() }

// Commit persists the trie: it drains the scheduled deletions, emits
// hashed node encodings bottom-up, drains the leaf cache, and forces the
// root to reload from the backend on next access.
func (t *Trie) Commit() error {
	if t.root == rootLoaded {
		if _, err := t.RootHash(); err != nil {
			return err
		}
	}

	for dk := range t.deathRow {
		if err := t.backend.RemoveTrieNode([]byte(dk)); err != nil {
			return err
		}
	}
	t.deathRow = make(map[string]struct{})

	if t.root == rootLoaded {
		if err := t.emitNode(Path{}, t.rootKey); err != nil {
			return err
		}
	}

	for fk, entry := range t.leafCache {
		key := []byte(fk)
		if entry.remove {
			if err := t.backend.RemoveFlat(key); err != nil {
				return err
			}
			continue
		}
		if err := t.backend.InsertFlat(key, entry.value.Bytes()); err != nil {
			return err
		}
	}
	t.leafCache = make(map[string]leafEntry)
	t.arena.reset()
	t.root = rootNone
	t.rootKey = ArenaKey{}
	return nil
}

func (t *Trie) emitNode(pathFromRoot Path, k ArenaKey) error {
	n, ok := t.arena.Get(k)
	if !ok {
		return ErrStructure
	}
	switch x := n.(type) {
	case *BinaryNode:
		leftHash, err := t.handleHash(x.Left)
		if err != nil {
			return err
		}
		rightHash, err := t.handleHash(x.Right)
		if err != nil {
			return err
		}
		if x.Left.IsMem() {
			if err := t.emitNode(pathFromRoot.Concat(NewPath([]bool{false})), x.Left.Key()); err != nil {
				return err
			}
		}
		if x.Right.IsMem() {
			if err := t.emitNode(pathFromRoot.Concat(NewPath([]bool{true})), x.Right.Key()); err != nil {
				return err
			}
		}
		return t.backend.InsertTrieNode(t.nodeBackendKey(pathFromRoot), encodeBinary(leftHash, rightHash))

	case *EdgeNode:
		childHash, err := t.handleHash(x.Child)
		if err != nil {
			return err
		}
		if x.Child.IsMem() {
			if err := t.emitNode(pathFromRoot.Concat(x.Path), x.Child.Key()); err != nil {
				return err
			}
		}
		return t.backend.InsertTrieNode(t.nodeBackendKey(pathFromRoot), encodeEdge(x.Path, childHash))

	default:
		return ErrStructure
	}
}
