package trie

import (
	"fmt"

	"github.com/feltstate/bonsai-trie/felt"
)

// Variant tags of the persisted node encoding.
const (
	tagBinary byte = 0x00
	tagEdge   byte = 0x01
)

// encodeBinary renders a Binary node for backend storage: tag, then the
// two child references, always as field-element hashes (persisted handles
// are never arena keys).
func encodeBinary(left, right felt.Felt) []byte {
	out := make([]byte, 0, 1+32+32)
	out = append(out, tagBinary)
	lb := left.Bytes32()
	rb := right.Bytes32()
	out = append(out, lb[:]...)
	out = append(out, rb[:]...)
	return out
}

// encodeEdge renders an Edge node: tag, length-prefixed packed path, then
// the child reference as a field-element hash.
func encodeEdge(path Path, child felt.Felt) []byte {
	packed := path.Pack()
	out := make([]byte, 0, 1+len(packed)+32)
	out = append(out, tagEdge)
	out = append(out, packed...)
	cb := child.Bytes32()
	out = append(out, cb[:]...)
	return out
}

// decodeNode parses a backend-stored node encoding back into a Node whose
// handles are all Hash handles (they are resolved lazily on next touch).
func decodeNode(raw []byte) (Node, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("%w: empty node encoding", ErrNodeDecode)
	}
	switch raw[0] {
	case tagBinary:
		if len(raw) != 1+32+32 {
			return nil, fmt.Errorf("%w: bad binary node length %d", ErrNodeDecode, len(raw))
		}
		left, err := felt.FromBytes(raw[1:33])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNodeDecode, err)
		}
		right, err := felt.FromBytes(raw[33:65])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNodeDecode, err)
		}
		return &BinaryNode{Left: HashHandle(left), Right: HashHandle(right)}, nil
	case tagEdge:
		body := raw[1:]
		if len(body) < 1 {
			return nil, fmt.Errorf("%w: missing edge path", ErrNodeDecode)
		}
		path, consumed := UnpackPath(body)
		rest := body[consumed:]
		if len(rest) != 32 {
			return nil, fmt.Errorf("%w: bad edge child length %d", ErrNodeDecode, len(rest))
		}
		child, err := felt.FromBytes(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNodeDecode, err)
		}
		return &EdgeNode{Path: path, Child: HashHandle(child)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %#x", ErrNodeDecode, raw[0])
	}
}
