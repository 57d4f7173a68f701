package stateroot

import (
	"fmt"
	"sync"

	"github.com/nspcc-dev/neo-mpt/pkg/config"
	"github.com/nspcc-dev/neo-mpt/pkg/core/mpt"
	"github.com/nspcc-dev/neo-mpt/pkg/core/state"
	"github.com/nspcc-dev/neo-mpt/pkg/core/storage"
	"github.com/nspcc-dev/neo-mpt/pkg/util"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type (
	// Module represents module for local processing of state roots.
	Module struct {
		Store *storage.MemCachedStore
		cfg   config.StateRoot
		log   *zap.Logger

		// mtx protects mpt.
		mtx sync.RWMutex
		mpt *mpt.Trie

		currentLocal    atomic.Value
		localHeight     atomic.Uint32
		validatedHeight atomic.Uint32
	}
)

// NewModule returns new instance of stateroot module.
func NewModule(cfg config.StateRoot, log *zap.Logger, s *storage.MemCachedStore) *Module {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Module{
		Store: s,
		cfg:   cfg,
		log:   log,
	}
	m.currentLocal.Store(util.Uint256{})
	return m
}

func (s *Module) mode() mpt.TrieMode {
	if s.cfg.KeepOnlyLatestState {
		return mpt.ModeLatest
	}
	return mpt.ModeAll
}

// newTrie creates a trie with the specified root over store, zero root means
// an empty trie.
func (s *Module) newTrie(root util.Uint256, store *storage.MemCachedStore) *mpt.Trie {
	var node mpt.Node
	if root != (util.Uint256{}) {
		node = mpt.NewHashNode(root)
	}
	return mpt.New(node, s.mode(), store, mpt.Options{
		CacheSize: s.cfg.CacheSize,
		Logger:    s.log,
	})
}

// stateTrie returns a read-only view of the state with the specified root.
// The current state is read via a snapshot of the module trie reusing its
// resolved nodes.
func (s *Module) stateTrie(root util.Uint256) *mpt.Trie {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	if s.mpt != nil && s.mpt.StateRoot() == root {
		return s.mpt.Snapshot()
	}
	return s.newTrie(root, storage.NewMemCachedStore(s.Store))
}

// GetState returns the value for the key in the state with the specified root.
func (s *Module) GetState(root util.Uint256, key []byte) ([]byte, error) {
	return s.stateTrie(root).Get(key)
}

// FindStates returns all key-value pairs with the specified prefix in the
// state with the specified root ordered by key.
func (s *Module) FindStates(root util.Uint256, prefix []byte) ([]storage.KeyValue, error) {
	return s.stateTrie(root).Find(prefix)
}

// GetStateProof returns proof of having key in the MPT with the specified root.
func (s *Module) GetStateProof(root util.Uint256, key []byte) ([][]byte, error) {
	return s.stateTrie(root).GetProof(key)
}

// VerifyStateProof checks the proof of key against the specified root and
// returns the value proven.
func (s *Module) VerifyStateProof(root util.Uint256, key []byte, proof [][]byte) ([]byte, bool) {
	return mpt.VerifyProof(root, key, proof)
}

// GetStateRoot returns state root for a given height.
func (s *Module) GetStateRoot(height uint32) (*state.MPTRoot, error) {
	return s.getStateRoot(makeStateRootKey(height))
}

// CurrentLocalStateRoot returns hash of the local state root.
func (s *Module) CurrentLocalStateRoot() util.Uint256 {
	return s.currentLocal.Load().(util.Uint256)
}

// CurrentLocalHeight returns height of the local state root.
func (s *Module) CurrentLocalHeight() uint32 {
	return s.localHeight.Load()
}

// CurrentValidatedHeight returns the latest height confirmed by AddStateRoot.
func (s *Module) CurrentValidatedHeight() uint32 {
	return s.validatedHeight.Load()
}

// Init initializes state root module at the given height. Height 0 starts
// from an empty state, otherwise the state root stored for height is used.
func (s *Module) Init(height uint32) error {
	if h, ok := s.getHeight(prefixValidated); ok {
		s.validatedHeight.Store(h)
	}

	var modeKey = []byte{byte(storage.DataMPTAux), prefixMode}
	if height == 0 {
		var val byte
		if s.cfg.KeepOnlyLatestState {
			val = 1
		}
		s.Store.Put(modeKey, []byte{val})
		sr := &state.MPTRoot{}
		s.addLocalStateRoot(s.Store, sr)
		if _, err := s.Store.Persist(); err != nil {
			return fmt.Errorf("failed to persist initial state: %w", err)
		}
		s.setLocal(sr)
		return nil
	}
	var keepLatest bool
	if v, err := s.Store.Get(modeKey); err == nil && len(v) > 0 {
		keepLatest = v[0] != 0
	}
	if keepLatest != s.cfg.KeepOnlyLatestState {
		return fmt.Errorf("KeepOnlyLatestState setting mismatch: old=%v, new=%v", keepLatest, s.cfg.KeepOnlyLatestState)
	}
	r, err := s.GetStateRoot(height)
	if err != nil {
		return fmt.Errorf("can't get state root at %d: %w", height, err)
	}
	s.setLocal(r)
	s.log.Info("state root module initialized",
		zap.Uint32("height", r.Index),
		zap.Stringer("root", r.Root),
		zap.Stringer("mode", s.mode()))
	return nil
}

// InitLatest initializes the module at the last locally stored height or
// at 0 if there is no state yet.
func (s *Module) InitLatest() error {
	h, ok := s.getHeight(prefixLocal)
	if !ok {
		return s.Init(0)
	}
	return s.Init(h)
}

func (s *Module) setLocal(sr *state.MPTRoot) {
	s.mtx.Lock()
	s.mpt = s.newTrie(sr.Root, s.Store)
	s.mtx.Unlock()
	s.currentLocal.Store(sr.Root)
	s.localHeight.Store(sr.Index)
	updateStateHeightMetric(sr.Index)
}

// AddMPTBatch applies b to the current state, commits the trie and records
// the resulting state root for index. If b can't be applied or committed
// no state root is recorded and the trie is reset to the previous state
// root. If only persisting fails the new state is current already and stays
// in s.Store until the next successful Persist.
func (s *Module) AddMPTBatch(index uint32, b mpt.Batch) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.mpt == nil {
		return fmt.Errorf("state root module is not initialized")
	}
	prev := s.CurrentLocalStateRoot()
	if _, err := s.mpt.PutBatch(b); err != nil {
		s.mpt = s.newTrie(prev, s.Store)
		return fmt.Errorf("failed to apply batch at %d: %w", index, err)
	}
	n := s.mpt.Uncommitted()
	if err := s.mpt.Commit(); err != nil {
		s.mpt = s.newTrie(prev, s.Store)
		return fmt.Errorf("failed to commit trie at %d: %w", index, err)
	}
	sr := &state.MPTRoot{
		Index: index,
		Root:  s.mpt.StateRoot(),
	}
	s.addLocalStateRoot(s.Store, sr)
	addCommittedNodesMetric(n)
	s.currentLocal.Store(sr.Root)
	s.localHeight.Store(index)
	updateStateHeightMetric(index)
	if _, err := s.Store.Persist(); err != nil {
		return fmt.Errorf("failed to persist state at %d: %w", index, err)
	}
	s.log.Debug("persisted state root",
		zap.Uint32("index", index),
		zap.Stringer("root", sr.Root),
		zap.Int("changes", b.Len()))
	return nil
}
