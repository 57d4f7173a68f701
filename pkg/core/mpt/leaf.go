package mpt

import (
	"encoding/hex"

	"github.com/nspcc-dev/neo-mpt/pkg/core/storage"
	"github.com/nspcc-dev/neo-mpt/pkg/io"
	"github.com/nspcc-dev/neo-mpt/pkg/util"
)

// MaxValueLength is the max length of a leaf node value.
const MaxValueLength = 3 + storage.MaxStorageValueLen + 1

// LeafNode represents an MPT's leaf node. Its key is the nibble path suffix
// left after reaching the node, the value is never nil.
type LeafNode struct {
	BaseNode
	key   []byte
	value []byte
}

var _ Node = (*LeafNode)(nil)

// NewLeafNode returns a leaf node with the specified key suffix and value.
// Note: since it is a part of a Trie, the key must be mangled, i.e. must
// contain only bytes with high half = 0.
func NewLeafNode(key, value []byte) *LeafNode {
	if value == nil {
		value = []byte{}
	}
	return &LeafNode{key: key, value: value}
}

// Type implements Node interface.
func (n LeafNode) Type() NodeType { return LeafT }

// Hash implements BaseNode interface.
func (n *LeafNode) Hash() util.Uint256 {
	return n.getHash(n)
}

// Bytes implements BaseNode interface.
func (n *LeafNode) Bytes() []byte {
	return n.getBytes(n)
}

// DecodeBinary implements io.Serializable.
func (n *LeafNode) DecodeBinary(r *io.BinReader) {
	n.key = r.ReadVarBytes(maxPathLength)
	n.value = r.ReadVarBytes(MaxValueLength)
	if r.Err == nil {
		r.Err = checkNibbles(n.key)
	}
}

// EncodeBinary implements io.Serializable.
func (n LeafNode) EncodeBinary(w *io.BinWriter) {
	w.WriteVarBytes(n.key)
	w.WriteVarBytes(n.value)
}

// MarshalJSON implements json.Marshaler.
func (n *LeafNode) MarshalJSON() ([]byte, error) {
	return []byte(`{"key":"` + hex.EncodeToString(n.key) + `","value":"` + hex.EncodeToString(n.value) + `"}`), nil
}
