package mpt

import (
	"encoding/json"
	"fmt"

	"github.com/nspcc-dev/neo-mpt/pkg/io"
	"github.com/nspcc-dev/neo-mpt/pkg/util"
)

// NodeType represents a node type.
type NodeType byte

// Node types definitions.
const (
	BranchT    NodeType = 0x00
	ExtensionT NodeType = 0x01
	HashT      NodeType = 0x02
	LeafT      NodeType = 0x03
	EmptyT     NodeType = 0x04
)

// String implements fmt.Stringer.
func (t NodeType) String() string {
	switch t {
	case BranchT:
		return "branch"
	case ExtensionT:
		return "extension"
	case HashT:
		return "hash"
	case LeafT:
		return "leaf"
	case EmptyT:
		return "empty"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// NodeObject represents a Node together with its type.
// It is used for serialization/deserialization where type info
// is also expected.
type NodeObject struct {
	Node
}

// Node represents a common interface of all MPT nodes.
type Node interface {
	io.Serializable
	json.Marshaler
	BaseNodeIface
}

// EncodeBinary implements io.Serializable.
func (n NodeObject) EncodeBinary(w *io.BinWriter) {
	encodeNodeWithType(n.Node, w)
}

// DecodeBinary implements io.Serializable.
func (n *NodeObject) DecodeBinary(r *io.BinReader) {
	n.Node = DecodeNodeWithType(r)
}

// DecodeNodeWithType decodes a node together with its type.
func DecodeNodeWithType(r *io.BinReader) Node {
	if r.Err != nil {
		return nil
	}
	var n Node
	switch typ := NodeType(r.ReadB()); typ {
	case BranchT:
		n = new(BranchNode)
	case ExtensionT:
		n = new(ExtensionNode)
	case HashT:
		n = &HashNode{
			BaseNode: BaseNode{
				hashValid: true,
			},
		}
	case LeafT:
		n = new(LeafNode)
	case EmptyT:
		n = EmptyNode{}
	default:
		if r.Err == nil {
			r.Err = fmt.Errorf("invalid node type: %x", typ)
		}
		return nil
	}
	n.DecodeBinary(r)
	if r.Err != nil {
		return nil
	}
	return n
}

// encodeNodeWithType encodes a node together with its type.
func encodeNodeWithType(n Node, w *io.BinWriter) {
	w.WriteB(byte(n.Type()))
	n.EncodeBinary(w)
}

// encodeBinaryAsChild encodes a reference to a child node, children are
// always referenced by hash.
func encodeBinaryAsChild(n Node, w *io.BinWriter) {
	if isEmpty(n) {
		w.WriteB(byte(EmptyT))
		return
	}
	h := n.Hash()
	w.WriteB(byte(HashT))
	w.WriteBytes(h[:])
}

// decodeBinaryAsChild decodes a child reference written by encodeBinaryAsChild.
func decodeBinaryAsChild(r *io.BinReader) Node {
	switch typ := NodeType(r.ReadB()); typ {
	case EmptyT:
		return EmptyNode{}
	case HashT:
		var h util.Uint256
		h.DecodeBinary(r)
		return NewHashNode(h)
	default:
		if r.Err == nil {
			r.Err = fmt.Errorf("invalid child node type: %x", typ)
		}
		return nil
	}
}

func isEmpty(n Node) bool {
	_, ok := n.(EmptyNode)
	return ok
}
