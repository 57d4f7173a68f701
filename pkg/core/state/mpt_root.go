package state

import (
	"github.com/nspcc-dev/neo-mpt/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-mpt/pkg/io"
	"github.com/nspcc-dev/neo-mpt/pkg/util"
)

// MPTRoot represents the state root of the trie at some height.
type MPTRoot struct {
	Version byte         `json:"version"`
	Index   uint32       `json:"index"`
	Root    util.Uint256 `json:"roothash"`
}

// Bytes returns the serialized form of s.
func (s *MPTRoot) Bytes() []byte {
	buf := io.NewBufBinWriter()
	s.EncodeBinary(buf.BinWriter)
	return buf.Bytes()
}

// Hash returns hash of s.
func (s *MPTRoot) Hash() util.Uint256 {
	return hash.DoubleSha256(s.Bytes())
}

// DecodeBinary implements io.Serializable.
func (s *MPTRoot) DecodeBinary(r *io.BinReader) {
	s.Version = r.ReadB()
	s.Index = r.ReadU32LE()
	s.Root.DecodeBinary(r)
}

// EncodeBinary implements io.Serializable.
func (s *MPTRoot) EncodeBinary(w *io.BinWriter) {
	w.WriteB(s.Version)
	w.WriteU32LE(s.Index)
	s.Root.EncodeBinary(w)
}
