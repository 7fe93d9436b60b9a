package bonsai

import (
	"github.com/feltstate/bonsai-trie/hash"
	"github.com/feltstate/bonsai-trie/trie"
	"github.com/feltstate/bonsai-trie/trielog"
)

// Config carries the key-value facade's retention knobs plus the tree
// height and hash function every trie in the forest shares.
type Config struct {
	trielog.Config

	// MaxHeight is H, the fixed bit-path length of every key. Default:
	// trie.DefaultMaxHeight (251).
	MaxHeight int
	// Hasher is the pluggable 2-ary hash. Default: hash.Default.
	Hasher hash.Hasher
}

func (c Config) normalized() Config {
	out := c
	if out.MaxHeight == 0 {
		out.MaxHeight = trie.DefaultMaxHeight
	}
	if out.Hasher == nil {
		out.Hasher = hash.Default
	}
	return out
}
