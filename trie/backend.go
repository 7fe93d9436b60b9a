package trie

// Backend is the narrow storage contract the trie engine is written
// against: the Trie and Flat namespaces only. The change log belongs to
// the key-value facade, which the trie engine never sees. It is satisfied
// structurally by *trielog.KeyValueDB, so this package never imports
// trielog; the trie reads through a narrow interface, not the concrete
// store.
type Backend interface {
	GetTrieNode(key []byte) ([]byte, bool, error)
	GetFlat(key []byte) ([]byte, bool, error)
	InsertTrieNode(key, value []byte) error
	RemoveTrieNode(key []byte) error
	InsertFlat(key, value []byte) error
	RemoveFlat(key []byte) error
}
