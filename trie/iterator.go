package trie

import "fmt"

// frame is one entry of the iterator's current_nodes_heights stack
//: the arena key of a visited node and the height (depth
// from the trie root) at which it sits.
type frame struct {
	key    ArenaKey
	height int
}

// VisitFunc is invoked once per node entered during a seek; the
// multiproof builder uses it to register every traversed node.
type VisitFunc func(height int, node Node) error

// Iterator is a staged cursor over a Trie: it caches the current path and
// the stack of visited nodes so a later SeekTo to a nearby key can resume
// from the longest shared prefix instead of re-walking from the root.
type Iterator struct {
	t           *Trie
	currentPath Path
	stack       []frame
	leaf        *Handle

	// Visit, if set, is called for every node entered.
	Visit VisitFunc
}

// NewIterator returns a fresh iterator positioned at the root (no seek
// performed yet).
func NewIterator(t *Trie) *Iterator {
	return &Iterator{t: t}
}

// CurrentPath returns the path accumulated by the most recent SeekTo.
func (it *Iterator) CurrentPath() Path { return it.currentPath }

// Leaf returns the field-element handle at CurrentPath, iff the path's
// length equals the tree height and it terminates exactly at a leaf.
func (it *Iterator) Leaf() (Handle, bool) {
	if it.leaf == nil {
		return Handle{}, false
	}
	return *it.leaf, true
}

// Stack exposes the (node, height) pairs from root to the deepest node
// reached by the last SeekTo.
func (it *Iterator) Stack() []frame {
	return it.stack
}

// SeekTo positions the iterator at target: it keeps the stack frames
// entered strictly above the prefix shared with the previous seek, then
// resumes the descent by re-entering the deepest surviving frame (or the
// root).
func (it *Iterator) SeekTo(target Path) error {
	shared := it.currentPath.CommonPrefixLen(target)

	i := len(it.stack)
	for i > 0 && it.stack[i-1].height >= shared {
		i--
	}
	it.stack = it.stack[:i]
	it.leaf = nil

	if target.IsEmpty() {
		it.currentPath = Path{}
		it.stack = it.stack[:0]
		return nil
	}

	// The loop below re-enters the node it starts from (pushing its frame
	// and re-appending its outgoing bits), so the resume point is popped
	// off the stack and currentPath rewound to its entry height.
	var curKey ArenaKey
	var curHeight int
	if len(it.stack) > 0 {
		top := it.stack[len(it.stack)-1]
		it.stack = it.stack[:len(it.stack)-1]
		curKey, curHeight = top.key, top.height
		it.currentPath = it.currentPath.Slice(0, top.height)
	} else {
		it.currentPath = Path{}
		if it.t.root == rootNone {
			if err := it.t.loadRoot(); err != nil {
				return err
			}
		}
		if it.t.root == rootEmpty {
			return nil
		}
		curKey, curHeight = it.t.rootKey, 0
	}

	for {
		node, ok := it.t.arena.Get(curKey)
		if !ok {
			return fmt.Errorf("%w: dangling arena key at height %d", ErrStructure, curHeight)
		}
		if it.Visit != nil {
			if err := it.Visit(curHeight, node); err != nil {
				return err
			}
		}
		switch n := node.(type) {
		case *BinaryNode:
			it.stack = append(it.stack, frame{key: curKey, height: curHeight})
			if curHeight >= target.Len() {
				return nil
			}
			bit := target.At(curHeight)
			it.currentPath = it.currentPath.Concat(NewPath([]bool{bit}))
			child := n.Left
			if bit {
				child = n.Right
			}
			nextHeight := curHeight + 1
			if !child.IsMem() {
				if nextHeight == it.t.maxHeight {
					v := child
					it.leaf = &v
					return nil
				}
				resolved, err := it.t.resolve(it.currentPath)
				if err != nil {
					return err
				}
				if bit {
					n.Right = MemHandle(resolved)
				} else {
					n.Left = MemHandle(resolved)
				}
				curKey, curHeight = resolved, nextHeight
				continue
			}
			curKey, curHeight = child.Key(), nextHeight

		case *EdgeNode:
			it.stack = append(it.stack, frame{key: curKey, height: curHeight})
			segLen := n.Path.Len()
			if curHeight+segLen > target.Len() {
				return nil
			}
			targetSeg := target.Slice(curHeight, curHeight+segLen)
			if !targetSeg.Equal(n.Path) {
				return nil
			}
			it.currentPath = it.currentPath.Concat(n.Path)
			nextHeight := curHeight + segLen
			if !n.Child.IsMem() {
				if nextHeight == it.t.maxHeight {
					v := n.Child
					it.leaf = &v
					return nil
				}
				resolved, err := it.t.resolve(it.currentPath)
				if err != nil {
					return err
				}
				n.Child = MemHandle(resolved)
				curKey, curHeight = resolved, nextHeight
				continue
			}
			curKey, curHeight = n.Child.Key(), nextHeight

		default:
			return fmt.Errorf("%w: unknown node type", ErrStructure)
		}
	}
}
