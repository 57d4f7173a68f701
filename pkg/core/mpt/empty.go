package mpt

import (
	"github.com/nspcc-dev/neo-mpt/pkg/io"
	"github.com/nspcc-dev/neo-mpt/pkg/util"
)

// EmptyNode represents an empty node.
type EmptyNode struct{}

// DecodeBinary implements the io.Serializable interface.
func (e EmptyNode) DecodeBinary(*io.BinReader) {
}

// EncodeBinary implements the io.Serializable interface.
func (e EmptyNode) EncodeBinary(*io.BinWriter) {
}

// MarshalJSON implements the json.Marshaler interface.
func (e EmptyNode) MarshalJSON() ([]byte, error) {
	return []byte(`{}`), nil
}

// Hash implements the Node interface.
func (e EmptyNode) Hash() util.Uint256 {
	panic("can't get hash of an EmptyNode")
}

// Type implements the Node interface.
func (e EmptyNode) Type() NodeType {
	return EmptyT
}

// Bytes implements the Node interface.
func (e EmptyNode) Bytes() []byte {
	return []byte{byte(EmptyT)}
}
