package mpt

import (
	"bytes"

	"github.com/nspcc-dev/neo-mpt/pkg/core/storage"
	"github.com/nspcc-dev/neo-mpt/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-mpt/pkg/util"
	"github.com/nspcc-dev/neo-mpt/pkg/util/slice"
)

// GetProof returns a proof that the key belongs to t.
// The proof consists of serialized nodes occurring on the path from the root to the leaf of key.
// ErrNotFound is returned for missing keys, nodes that can't be resolved
// make it fail with ErrMissingNode or ErrCorruptedNode.
func (t *Trie) GetProof(key []byte) ([][]byte, error) {
	var proof [][]byte
	if len(key) > MaxKeyLength {
		return nil, ErrNotFound
	}
	path := ToNibbles(key)
	err := t.getProof(t.root, path, &proof)
	if err != nil {
		return nil, err
	}
	return proof, nil
}

func (t *Trie) getProof(curr Node, path []byte, proofs *[][]byte) error {
	switch n := curr.(type) {
	case EmptyNode:
	case *LeafNode:
		if bytes.Equal(path, n.key) {
			*proofs = append(*proofs, slice.Copy(n.Bytes()))
			return nil
		}
	case *BranchNode:
		*proofs = append(*proofs, slice.Copy(n.Bytes()))
		if len(path) == 0 {
			if n.value != nil {
				return nil
			}
			break
		}
		return t.getProof(n.Children[path[0]], path[1:], proofs)
	case *ExtensionNode:
		if bytes.HasPrefix(path, n.key) {
			*proofs = append(*proofs, slice.Copy(n.Bytes()))
			return t.getProof(n.next, path[len(n.key):], proofs)
		}
	case *HashNode:
		r, err := t.resolve(n)
		if err != nil {
			return err
		}
		return t.getProof(r, path, proofs)
	default:
		panic("invalid MPT node type")
	}
	return ErrNotFound
}

// VerifyProof verifies that path indeed belongs to an MPT with the specified root hash.
// It also returns the value for the key.
func VerifyProof(rh util.Uint256, key []byte, proofs [][]byte) ([]byte, bool) {
	store := storage.NewMemCachedStore(storage.NewMemoryStore())
	for i := range proofs {
		h := hash.DoubleSha256(proofs[i])
		store.Put(makeStorageKey(h), proofs[i])
	}
	tr := NewTrie(NewHashNode(rh), ModeAll, store)
	v, err := tr.Get(key)
	return v, err == nil
}
