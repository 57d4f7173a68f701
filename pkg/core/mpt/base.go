package mpt

import (
	"github.com/nspcc-dev/neo-mpt/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-mpt/pkg/io"
	"github.com/nspcc-dev/neo-mpt/pkg/util"
)

// BaseNode implements basic things every node needs like caching hash and
// serialized representation. It's a basic node building block intended to be
// included into all node types. Nodes are never changed after creation, so
// once computed both representations stay valid.
type BaseNode struct {
	hash       util.Uint256
	bytes      []byte
	hashValid  bool
	bytesValid bool

	// linked is set for nodes accounted in the reference counters, that is
	// nodes loaded from the storage or attached to a trie root.
	linked bool
}

// BaseNodeIface abstracts away basic Node functions.
type BaseNodeIface interface {
	Hash() util.Uint256
	Type() NodeType
	Bytes() []byte
}

type linkedNode interface {
	setCache([]byte, util.Uint256)
	isLinked() bool
	setLinked()
}

func (b *BaseNode) setCache(bs []byte, h util.Uint256) {
	b.bytes = bs
	b.hash = h
	b.bytesValid = true
	b.hashValid = true
	b.linked = true
}

// getHash returns the hash of this BaseNode.
func (b *BaseNode) getHash(n Node) util.Uint256 {
	if !b.hashValid {
		b.updateHash(n)
	}
	return b.hash
}

// getBytes returns a slice of bytes representing this node.
func (b *BaseNode) getBytes(n Node) []byte {
	if !b.bytesValid {
		b.updateBytes(n)
	}
	return b.bytes
}

// updateHash updates the hash field for this BaseNode.
func (b *BaseNode) updateHash(n Node) {
	if n.Type() == HashT || n.Type() == EmptyT {
		panic("can't update hash for hash or empty node")
	}
	b.hash = hash.DoubleSha256(b.getBytes(n))
	b.hashValid = true
}

// updateBytes updates the bytes field for this BaseNode.
func (b *BaseNode) updateBytes(n Node) {
	buf := io.NewBufBinWriter()
	encodeNodeWithType(n, buf.BinWriter)
	b.bytes = buf.Bytes()
	b.bytesValid = true
}

func (b *BaseNode) isLinked() bool {
	return b.linked
}

func (b *BaseNode) setLinked() {
	b.linked = true
}
