package stateroot

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nspcc-dev/neo-mpt/pkg/core/state"
	"github.com/nspcc-dev/neo-mpt/pkg/core/storage"
	"github.com/nspcc-dev/neo-mpt/pkg/io"
	"go.uber.org/zap"
)

var (
	// ErrStateMismatch means that the local state root doesn't match the one
	// provided externally.
	ErrStateMismatch = errors.New("stateroot mismatch")
)

const (
	prefixMode      = 0x01
	prefixLocal     = 0x02
	prefixValidated = 0x03
)

func (s *Module) addLocalStateRoot(store *storage.MemCachedStore, sr *state.MPTRoot) {
	key := makeStateRootKey(sr.Index)
	putStateRoot(store, key, sr)

	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, sr.Index)
	store.Put([]byte{byte(storage.DataMPTAux), prefixLocal}, data)
}

func putStateRoot(store *storage.MemCachedStore, key []byte, sr *state.MPTRoot) {
	w := io.NewBufBinWriter()
	sr.EncodeBinary(w.BinWriter)
	store.Put(key, w.Bytes())
}

func (s *Module) getStateRoot(key []byte) (*state.MPTRoot, error) {
	data, err := s.Store.Get(key)
	if err != nil {
		return nil, err
	}

	sr := &state.MPTRoot{}
	r := io.NewBinReaderFromBuf(data)
	sr.DecodeBinary(r)
	return sr, r.Err
}

func (s *Module) getHeight(prefix byte) (uint32, bool) {
	data, err := s.Store.Get([]byte{byte(storage.DataMPTAux), prefix})
	if err != nil || len(data) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data), true
}

func makeStateRootKey(index uint32) []byte {
	key := make([]byte, 5)
	key[0] = byte(storage.DataMPTAux)
	binary.BigEndian.PutUint32(key[1:], index)
	return key
}

// AddStateRoot checks the state root provided externally against the local
// one for the same height and marks the height as validated if they match.
func (s *Module) AddStateRoot(sr *state.MPTRoot) error {
	key := makeStateRootKey(sr.Index)
	local, err := s.getStateRoot(key)
	if err != nil {
		return fmt.Errorf("no local state root at %d: %w", sr.Index, err)
	}
	if !local.Root.Equals(sr.Root) {
		return fmt.Errorf("%w at height %d: %s vs %s", ErrStateMismatch, sr.Index, local.Root.StringLE(), sr.Root.StringLE())
	}
	if sr.Index <= s.validatedHeight.Load() && s.validatedHeight.Load() != 0 {
		return nil
	}

	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, sr.Index)
	s.Store.Put([]byte{byte(storage.DataMPTAux), prefixValidated}, data)
	if _, err := s.Store.Persist(); err != nil {
		return fmt.Errorf("failed to persist validated height: %w", err)
	}
	s.validatedHeight.Store(sr.Index)
	s.log.Debug("state root validated", zap.Uint32("index", sr.Index))
	return nil
}
