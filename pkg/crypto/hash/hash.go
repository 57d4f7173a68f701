/*
Package hash contains the hash functions used to address MPT nodes and state
roots.
*/
package hash

import (
	"crypto/sha256"

	"github.com/nspcc-dev/neo-mpt/pkg/util"
)

// Sha256 hashes the incoming byte slice
// using the sha256 algorithm.
func Sha256(data []byte) util.Uint256 {
	hash := sha256.Sum256(data)
	return hash
}

// DoubleSha256 performs sha256 twice on the given data.
func DoubleSha256(data []byte) util.Uint256 {
	h1 := Sha256(data)
	hash := Sha256(h1[:])
	return hash
}
