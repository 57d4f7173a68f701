package mpt

import (
	"encoding/hex"
	"encoding/json"

	"github.com/nspcc-dev/neo-mpt/pkg/io"
	"github.com/nspcc-dev/neo-mpt/pkg/util"
)

// BranchChildren is the number of children of a branch node.
const BranchChildren = 16

// BranchNode represents an MPT's branch node. A nil value means the branch
// carries no value of its own.
type BranchNode struct {
	BaseNode
	Children [BranchChildren]Node
	value    []byte
}

var _ Node = (*BranchNode)(nil)

// NewBranchNode returns a new branch node with empty children and no value.
func NewBranchNode() *BranchNode {
	b := new(BranchNode)
	for i := 0; i < BranchChildren; i++ {
		b.Children[i] = EmptyNode{}
	}
	return b
}

// clone returns an unlinked copy of b sharing its children.
func (b *BranchNode) clone() *BranchNode {
	return &BranchNode{
		Children: b.Children,
		value:    b.value,
	}
}

// Type implements Node interface.
func (b *BranchNode) Type() NodeType { return BranchT }

// Hash implements BaseNode interface.
func (b *BranchNode) Hash() util.Uint256 {
	return b.getHash(b)
}

// Bytes implements BaseNode interface.
func (b *BranchNode) Bytes() []byte {
	return b.getBytes(b)
}

// EncodeBinary implements io.Serializable.
func (b *BranchNode) EncodeBinary(w *io.BinWriter) {
	for i := 0; i < BranchChildren; i++ {
		encodeBinaryAsChild(b.Children[i], w)
	}
	w.WriteBool(b.value != nil)
	if b.value != nil {
		w.WriteVarBytes(b.value)
	}
}

// DecodeBinary implements io.Serializable.
func (b *BranchNode) DecodeBinary(r *io.BinReader) {
	for i := 0; i < BranchChildren; i++ {
		b.Children[i] = decodeBinaryAsChild(r)
	}
	if r.ReadBool() {
		b.value = r.ReadVarBytes(MaxValueLength)
	}
}

// MarshalJSON implements json.Marshaler. Branch is represented as an array
// of its children followed by an optional {"value": ...} element.
func (b *BranchNode) MarshalJSON() ([]byte, error) {
	items := make([]interface{}, 0, BranchChildren+1)
	for i := range b.Children {
		items = append(items, b.Children[i])
	}
	if b.value != nil {
		items = append(items, map[string]string{"value": hex.EncodeToString(b.value)})
	}
	return json.Marshal(items)
}
