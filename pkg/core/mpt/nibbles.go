package mpt

import (
	"errors"
	"fmt"
)

// ErrInvalidOperation is returned on trie API misuse (odd nibble paths,
// oversized keys and values).
var ErrInvalidOperation = errors.New("invalid MPT operation")

// ToNibbles mangles a path by splitting every byte into 2 nibbles with the
// high half first.
func ToNibbles(path []byte) []byte {
	result := make([]byte, len(path)*2)
	for i := range path {
		result[i*2] = path[i] >> 4
		result[i*2+1] = path[i] & 0x0F
	}
	return result
}

// FromNibbles performs an operation opposite to ToNibbles and returns an
// error if the path has an odd number of nibbles.
func FromNibbles(path []byte) ([]byte, error) {
	if len(path)%2 != 0 {
		return nil, fmt.Errorf("%w: odd nibble path length %d", ErrInvalidOperation, len(path))
	}
	result := make([]byte, len(path)/2)
	for i := range result {
		result[i] = path[2*i]<<4 + path[2*i+1]
	}
	return result, nil
}

// CommonPrefixLength returns the length of the longest common prefix of a and b.
func CommonPrefixLength(a, b []byte) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return len(a)
}

// concat returns a fresh slice holding a followed by b.
func concat(a, b []byte) []byte {
	res := make([]byte, 0, len(a)+len(b))
	res = append(res, a...)
	return append(res, b...)
}

// isPrefixCompatible checks whether one of path and prefix is a prefix of the
// other, i.e. whether the subtree at path can hold keys starting with prefix.
func isPrefixCompatible(path, prefix []byte) bool {
	n := CommonPrefixLength(path, prefix)
	return n == len(path) || n == len(prefix)
}
