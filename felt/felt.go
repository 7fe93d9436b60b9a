// Package felt provides the 252-bit prime field element type that values
// and path-derived quantities in the trie are expressed in. Only the small
// surface the trie needs is implemented: equality, zero, field addition
// and the fixed-width big-endian byte codec.
package felt

import (
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"
)

// modulus is the Stark field prime: 2**251 + 17*2**192 + 1.
var modulus = uint256.MustFromHex("0x800000000000011000000000000000000000000000000000000000000000001")

// Felt is an element of the 252-bit prime field. The zero value is the
// additive identity.
type Felt struct {
	v uint256.Int
}

// Zero returns the additive identity.
func Zero() Felt { return Felt{} }

// One returns the multiplicative identity.
func One() Felt {
	var f Felt
	f.v.SetOne()
	return f
}

// FromUint64 lifts a machine integer into the field.
func FromUint64(x uint64) Felt {
	var f Felt
	f.v.SetUint64(x)
	return f
}

// FromBytes32 decodes a 32-byte big-endian encoding, reducing modulo the
// field prime if the raw value happens to exceed it.
func FromBytes32(b [32]byte) Felt {
	var f Felt
	f.v.SetBytes(b[:])
	if f.v.Cmp(modulus) >= 0 {
		f.v.Mod(&f.v, modulus)
	}
	return f
}

// FromBytes decodes a big-endian byte slice of length <= 32.
func FromBytes(b []byte) (Felt, error) {
	if len(b) > 32 {
		return Felt{}, fmt.Errorf("felt: %d bytes exceeds 32-byte width", len(b))
	}
	var arr [32]byte
	copy(arr[32-len(b):], b)
	return FromBytes32(arr), nil
}

// Bytes32 encodes the element as a fixed-width 32-byte big-endian value.
func (f Felt) Bytes32() [32]byte {
	return f.v.Bytes32()
}

// Bytes encodes the element as a 32-byte big-endian slice.
func (f Felt) Bytes() []byte {
	b := f.v.Bytes32()
	return b[:]
}

// IsZero reports whether f is the additive identity.
func (f Felt) IsZero() bool {
	return f.v.IsZero()
}

// Equal reports whether f and o represent the same field element.
func (f Felt) Equal(o Felt) bool {
	return f.v.Eq(&o.v)
}

// Add returns f + o reduced modulo the field prime.
func (f Felt) Add(o Felt) Felt {
	var sum uint256.Int
	sum.AddMod(&f.v, &o.v, modulus)
	return Felt{v: sum}
}

// SetLastByte returns the field element whose 32-byte encoding is zero
// everywhere except the last byte, which is b; used to build the
// path-length term of the edge hash formula.
func SetLastByte(b byte) Felt {
	var f Felt
	f.v.SetUint64(uint64(b))
	return f
}

// String renders the element as a 0x-prefixed hex string.
func (f Felt) String() string {
	b := f.v.Bytes32()
	return "0x" + hex.EncodeToString(b[:])
}
