package trie

import "errors"

// Error kinds of the trie engine.

// ErrStructure reports a structural invariant violation such as a
// dangling arena key or a missing in-memory node. Fatal for the current
// operation; the caller should discard the trie or reload it from the
// backend.
var ErrStructure = errors.New("trie: structural invariant violation")

// ErrKeyLength reports a key path whose length is not exactly MaxHeight.
var ErrKeyLength = errors.New("trie: key path length must equal tree height")

// ErrNodeDecode reports a backend-returned byte string that fails to
// decode as a node encoding.
var ErrNodeDecode = errors.New("trie: node decode failure")
