package trie

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/feltstate/bonsai-trie/felt"
	"github.com/feltstate/bonsai-trie/hash"
)

func TestIteratorVisitHookFiresPerNode(t *testing.T) {
	const height = 8
	tr := New(nil, newMemBackend(), hash.Default, height)
	keys := []uint64{0b00010000, 0b00010001, 0b01000000}
	for i, k := range keys {
		require.NoError(t, tr.Set(NewPath(bitsFromUint(k, height)), felt.FromUint64(uint64(i+1))))
	}

	visited := 0
	it := NewIterator(tr)
	it.Visit = func(height int, n Node) error {
		visited++
		return nil
	}
	require.NoError(t, it.SeekTo(NewPath(bitsFromUint(keys[0], height))))
	// Path to keys[0]: edge "0", binary at 1, edge "01000", binary at 7.
	require.Equal(t, 4, visited)

	leaf, ok := it.Leaf()
	require.True(t, ok)
	require.True(t, leaf.FeltValue().Equal(felt.FromUint64(1)))
}

// TestIteratorStagedReseek drives one iterator through a sequence of
// seeks, mixing shared-prefix neighbors, a jump to a distant subtree, an
// absent key and a return to an earlier key. Each seek after the first
// resumes from the cached stack rather than the root, so this covers the
// truncate-and-resume path that multiproof building leans on.
func TestIteratorStagedReseek(t *testing.T) {
	const height = 8
	tr := New(nil, newMemBackend(), hash.Default, height)
	entries := map[uint64]uint64{
		0b00010000: 1,
		0b00010001: 2,
		0b01000000: 3,
		0b11111111: 4,
	}
	for k, v := range entries {
		require.NoError(t, tr.Set(NewPath(bitsFromUint(k, height)), felt.FromUint64(v)))
	}

	it := NewIterator(tr)
	seeks := []struct {
		key  uint64
		want uint64 // 0 means absent
	}{
		{0b00010000, 1},
		{0b00010001, 2}, // shares 7 bits with the previous seek
		{0b11111111, 4}, // no shared prefix, resumes from the root
		{0b01000001, 0}, // absent, diverges inside an edge
		{0b01000000, 3},
		{0b00010000, 1}, // all the way back
	}
	for _, s := range seeks {
		require.NoError(t, it.SeekTo(NewPath(bitsFromUint(s.key, height))))
		leaf, ok := it.Leaf()
		if s.want == 0 {
			require.False(t, ok, "key %#b must not resolve to a leaf", s.key)
			continue
		}
		require.True(t, ok, "key %#b must resolve to a leaf", s.key)
		require.True(t, leaf.FeltValue().Equal(felt.FromUint64(s.want)), "key %#b", s.key)
	}
}

// TestIteratorReseekAfterCommitLazyLoads runs the same staged seeks against
// a freshly constructed trie whose nodes live only in the backend, so every
// descent exercises the load-on-touch handle rewriting.
func TestIteratorReseekAfterCommitLazyLoads(t *testing.T) {
	const height = 8
	backend := newMemBackend()
	tr := New(nil, backend, hash.Default, height)
	keys := []uint64{0b00010000, 0b00010001, 0b01000000}
	for i, k := range keys {
		require.NoError(t, tr.Set(NewPath(bitsFromUint(k, height)), felt.FromUint64(uint64(i+1))))
	}
	require.NoError(t, tr.Commit())

	fresh := New(nil, backend, hash.Default, height)
	it := NewIterator(fresh)
	for i, k := range keys {
		require.NoError(t, it.SeekTo(NewPath(bitsFromUint(k, height))))
		leaf, ok := it.Leaf()
		require.True(t, ok, "key %#b", k)
		require.True(t, leaf.FeltValue().Equal(felt.FromUint64(uint64(i+1))))
	}
}

func TestIteratorSeekAbsentKeyYieldsNoLeaf(t *testing.T) {
	const height = 8
	tr := New(nil, newMemBackend(), hash.Default, height)
	require.NoError(t, tr.Set(NewPath(bitsFromUint(0b00010000, height)), felt.FromUint64(1)))

	it := NewIterator(tr)
	require.NoError(t, it.SeekTo(NewPath(bitsFromUint(0b11111111, height))))
	_, ok := it.Leaf()
	require.False(t, ok)
}
