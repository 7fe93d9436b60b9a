// Package hash defines the pluggable 2-ary hash primitive used to compute
// Merkle roots over the trie. The concrete cryptographic
// hash function is, like field arithmetic, an external collaborator; this
// package ships a default so the trie is usable and testable standalone.
package hash

import (
	"golang.org/x/crypto/blake2b"

	"github.com/feltstate/bonsai-trie/felt"
)

// Hasher combines two field elements into one. Implementations must be
// deterministic and are invoked bottom-up over the trie;
// binary-node hashing is embarrassingly parallel across the two children
//, so implementations should be safe for concurrent use.
type Hasher interface {
	Hash(a, b felt.Felt) felt.Felt
}

// Blake2bHasher is the default Hasher: it feeds the big-endian encodings of
// both operands through blake2b-256 and reduces the digest into the field.
// It stands in for a production 2-ary hash such as Pedersen or Poseidon,
// which callers supply through the Hasher interface.
type Blake2bHasher struct{}

// Hash implements Hasher.
func (Blake2bHasher) Hash(a, b felt.Felt) felt.Felt {
	ab := a.Bytes32()
	bb := b.Bytes32()
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // blake2b.New256 with a nil key never errors
	}
	h.Write(ab[:])
	h.Write(bb[:])
	sum := h.Sum(nil)
	var arr [32]byte
	copy(arr[:], sum)
	return felt.FromBytes32(arr)
}

// Default is the Hasher used when a trie or forest is constructed without
// an explicit one.
var Default Hasher = Blake2bHasher{}
