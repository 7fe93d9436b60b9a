package trie

// Path is an MSB-first bit path of length at most the tree height. An
// empty path denotes the root position.
type Path struct {
	bits []bool
}

// NewPath builds a Path from an explicit bit sequence.
func NewPath(bits []bool) Path {
	out := make([]bool, len(bits))
	copy(out, bits)
	return Path{bits: out}
}

// PathFromBytes unpacks height bits, MSB-first, out of raw (as produced
// by the Flat/Trie namespace key formats).
func PathFromBytes(raw []byte, height int) Path {
	bits := make([]bool, height)
	for i := 0; i < height; i++ {
		byteIdx := i / 8
		bitIdx := 7 - uint(i%8)
		bits[i] = (raw[byteIdx]>>bitIdx)&1 == 1
	}
	return Path{bits: bits}
}

// Len returns the number of bits in the path.
func (p Path) Len() int { return len(p.bits) }

// IsEmpty reports whether the path has zero bits (the root position).
func (p Path) IsEmpty() bool { return len(p.bits) == 0 }

// At returns the bit at index i.
func (p Path) At(i int) bool { return p.bits[i] }

// Slice returns the sub-path [from:to).
func (p Path) Slice(from, to int) Path {
	out := make([]bool, to-from)
	copy(out, p.bits[from:to])
	return Path{bits: out}
}

// Concat returns p followed by other.
func (p Path) Concat(other Path) Path {
	out := make([]bool, 0, len(p.bits)+len(other.bits))
	out = append(out, p.bits...)
	out = append(out, other.bits...)
	return Path{bits: out}
}

// CommonPrefixLen returns how many leading bits p and other share.
func (p Path) CommonPrefixLen(other Path) int {
	n := len(p.bits)
	if len(other.bits) < n {
		n = len(other.bits)
	}
	for i := 0; i < n; i++ {
		if p.bits[i] != other.bits[i] {
			return i
		}
	}
	return n
}

// HasPrefix reports whether other is a prefix of p.
func (p Path) HasPrefix(other Path) bool {
	if len(other.bits) > len(p.bits) {
		return false
	}
	return p.CommonPrefixLen(other) == len(other.bits)
}

// Equal reports bitwise equality.
func (p Path) Equal(other Path) bool {
	if len(p.bits) != len(other.bits) {
		return false
	}
	return p.CommonPrefixLen(other) == len(p.bits)
}

// Pack encodes the path as one length byte, then ceil(length/8) bytes,
// MSB-first, zero-padded in the trailing byte.
func (p Path) Pack() []byte {
	n := len(p.bits)
	out := make([]byte, 1+(n+7)/8)
	out[0] = byte(n)
	for i, bit := range p.bits {
		if !bit {
			continue
		}
		byteIdx := 1 + i/8
		bitIdx := 7 - uint(i%8)
		out[byteIdx] |= 1 << bitIdx
	}
	return out
}

// UnpackPath is the inverse of Pack, reading the length-prefixed wire form.
func UnpackPath(raw []byte) (Path, int) {
	n := int(raw[0])
	bits := make([]bool, n)
	for i := 0; i < n; i++ {
		byteIdx := 1 + i/8
		bitIdx := 7 - uint(i%8)
		bits[i] = (raw[byteIdx]>>bitIdx)&1 == 1
	}
	return Path{bits: bits}, 1 + (n+7)/8
}

// trieKey renders the backend Trie-namespace key for an interior node whose
// path (from the trie root) is p: 0x00 for the root,
// otherwise len(p) || packed(p).
func trieKey(p Path) []byte {
	if p.IsEmpty() {
		return []byte{0x00}
	}
	return p.Pack()
}

// flatKey renders the backend Flat-namespace key for a full-height key path
//: len(key) || packed(key).
func flatKey(p Path) []byte {
	return p.Pack()
}
