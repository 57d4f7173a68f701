package mpt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nspcc-dev/neo-mpt/pkg/core/storage"
	"github.com/nspcc-dev/neo-mpt/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-mpt/pkg/io"
	"github.com/nspcc-dev/neo-mpt/pkg/util"
	"github.com/nspcc-dev/neo-mpt/pkg/util/slice"
	"go.uber.org/zap"
)

// TrieMode is the storage mode of a trie.
type TrieMode byte

const (
	// ModeAll is used to store everything, every node ever committed stays
	// in the storage (full archival state).
	ModeAll TrieMode = 0
	// ModeLatest is used to store only the latest state. Every stored node
	// carries a reference counter and is removed on commit once nothing
	// references it anymore.
	ModeLatest TrieMode = 1
)

// refcountSize is the size of the reference counter appended to stored
// nodes in ModeLatest.
const refcountSize = 4

// String implements fmt.Stringer.
func (m TrieMode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeLatest:
		return "latest"
	default:
		return fmt.Sprintf("unknown(%d)", byte(m))
	}
}

// Options are optional Trie parameters.
type Options struct {
	// CacheSize is the number of resolved nodes kept in memory,
	// DefaultCacheSize is used if not set.
	CacheSize int
	// Logger is used to report degraded reads, nop logger is used if not set.
	Logger *zap.Logger
}

// Trie is an MPT trie storing all key-value pairs.
type Trie struct {
	Store *storage.MemCachedStore

	root  Node
	mode  TrieMode
	cache *Cache
	log   *zap.Logger
	// readOnly forbids commits of ModeLatest snapshots, their reference
	// counters are shared with the parent trie.
	readOnly bool

	// unlinked contains nodes replaced by the current operation, their
	// references are dropped only if the operation succeeds.
	unlinked []Node
}

var (
	// ErrNotFound is returned when the requested trie item is missing.
	ErrNotFound = errors.New("item not found")
	// ErrMissingNode is returned when a node referenced by hash can't be
	// found in the cache or storage.
	ErrMissingNode = errors.New("missing MPT node")
	// ErrCorruptedNode is returned when stored node data can't be decoded
	// or doesn't match the requested hash.
	ErrCorruptedNode = errors.New("corrupted MPT node")
)

// NewTrie returns a new MPT trie. It accepts a MemCachedStore to decouple storage errors from logic errors,
// so that all storage errors are processed during `store.Persist()` at the caller.
// Another benefit is that every `Put` can be considered an atomic operation.
func NewTrie(root Node, mode TrieMode, store *storage.MemCachedStore) *Trie {
	return New(root, mode, store, Options{})
}

// New returns a new MPT trie with the specified options. nil root means an
// empty trie, nil store means a private in-memory one. A trie over a known
// state can be created with a HashNode root.
func New(root Node, mode TrieMode, store *storage.MemCachedStore, opts Options) *Trie {
	if root == nil {
		root = EmptyNode{}
	}
	if store == nil {
		store = storage.NewMemCachedStore(storage.NewMemoryStore())
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	t := &Trie{
		Store: store,
		mode:  mode,
		cache: NewCache(opts.CacheSize),
		log:   log,
	}
	t.setRoot(root)
	return t
}

// Mode returns the storage mode of t.
func (t *Trie) Mode() TrieMode {
	return t.mode
}

// Full returns true if t keeps every committed state.
func (t *Trie) Full() bool {
	return t.mode == ModeAll
}

// Get returns the value for the provided key in t. ErrNotFound is returned
// for absent keys as well as for keys located in subtrees that can't be
// resolved. Storage errors other than missing keys are returned as is.
func (t *Trie) Get(key []byte) ([]byte, error) {
	if len(key) > MaxKeyLength {
		return nil, ErrNotFound
	}
	path := ToNibbles(key)
	return t.getWithPath(t.root, path)
}

// getWithPath returns the value at the provided path in a subtrie rooting in curr.
func (t *Trie) getWithPath(curr Node, path []byte) ([]byte, error) {
	switch n := curr.(type) {
	case EmptyNode:
	case *LeafNode:
		if bytes.Equal(path, n.key) {
			return slice.Copy(n.value), nil
		}
	case *ExtensionNode:
		if bytes.HasPrefix(path, n.key) {
			return t.getWithPath(n.next, path[len(n.key):])
		}
	case *BranchNode:
		if len(path) == 0 {
			if n.value != nil {
				return slice.Copy(n.value), nil
			}
			break
		}
		return t.getWithPath(n.Children[path[0]], path[1:])
	case *HashNode:
		r, err := t.resolve(n)
		if err != nil {
			if isUnavailable(err) {
				t.log.Warn("can't resolve MPT node on read", zap.Stringer("hash", n.Hash()), zap.Error(err))
				return nil, ErrNotFound
			}
			return nil, err
		}
		return t.getWithPath(r, path)
	default:
		panic("invalid MPT node type")
	}
	return nil, ErrNotFound
}

// Put puts a key-value pair in t. nil value is stored as an empty one.
// If some node on the path can't be resolved, an error is returned and t is
// left unchanged.
func (t *Trie) Put(key, value []byte) error {
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key is too big", ErrInvalidOperation)
	} else if len(value) > MaxValueLength {
		return fmt.Errorf("%w: value is too big", ErrInvalidOperation)
	}
	path := ToNibbles(key)
	v := slice.Copy(value)
	if v == nil {
		v = []byte{}
	}
	r, err := t.putIntoNode(t.root, path, v)
	if err != nil {
		t.unlinked = t.unlinked[:0]
		return err
	}
	t.setRoot(r)
	return nil
}

func (t *Trie) putIntoNode(curr Node, path []byte, value []byte) (Node, error) {
	switch n := curr.(type) {
	case EmptyNode:
		return NewLeafNode(path, value), nil
	case *LeafNode:
		return t.putIntoLeaf(n, path, value), nil
	case *BranchNode:
		return t.putIntoBranch(n, path, value)
	case *ExtensionNode:
		return t.putIntoExtension(n, path, value)
	case *HashNode:
		r, err := t.resolve(n)
		if err != nil {
			return nil, err
		}
		return t.putIntoNode(r, path, value)
	default:
		panic("invalid MPT node type")
	}
}

// putIntoLeaf puts value to trie if the current node is a Leaf.
// It returns the Node replacing curr.
func (t *Trie) putIntoLeaf(curr *LeafNode, path []byte, value []byte) Node {
	t.unlink(curr)
	if bytes.Equal(curr.key, path) {
		return NewLeafNode(curr.key, value)
	}

	c := CommonPrefixLength(curr.key, path)
	b := NewBranchNode()
	if c < len(curr.key) {
		b.Children[curr.key[c]] = NewLeafNode(curr.key[c+1:], curr.value)
	} else {
		b.value = curr.value
	}
	if c < len(path) {
		b.Children[path[c]] = NewLeafNode(path[c+1:], value)
	} else {
		b.value = value
	}
	return t.newExtension(path[:c], b)
}

// putIntoBranch puts value to trie if the current node is a Branch.
// It returns the Node replacing curr and an error if any.
func (t *Trie) putIntoBranch(curr *BranchNode, path []byte, value []byte) (Node, error) {
	b := curr.clone()
	if len(path) == 0 {
		b.value = value
	} else {
		r, err := t.putIntoNode(curr.Children[path[0]], path[1:], value)
		if err != nil {
			return nil, err
		}
		b.Children[path[0]] = r
	}
	t.unlink(curr)
	return b, nil
}

// putIntoExtension puts value to trie if the current node is an Extension.
// It returns the Node replacing curr and an error if any.
func (t *Trie) putIntoExtension(curr *ExtensionNode, path []byte, value []byte) (Node, error) {
	if bytes.HasPrefix(path, curr.key) {
		r, err := t.putIntoNode(curr.next, path[len(curr.key):], value)
		if err != nil {
			return nil, err
		}
		t.unlink(curr)
		return t.newExtension(curr.key, r), nil
	}

	c := CommonPrefixLength(curr.key, path)
	b := NewBranchNode()
	// Extension always points to a branch, so the tail needs no resolving.
	b.Children[curr.key[c]] = t.newExtension(curr.key[c+1:], curr.next)
	if c < len(path) {
		b.Children[path[c]] = NewLeafNode(path[c+1:], value)
	} else {
		b.value = value
	}
	t.unlink(curr)
	return t.newExtension(path[:c], b), nil
}

// Delete removes the key from the trie. Deleting a missing key is not an
// error, t stays unchanged then. If some node needed for the deletion can't
// be resolved, an error is returned and t is left unchanged.
func (t *Trie) Delete(key []byte) error {
	if len(key) > MaxKeyLength {
		return nil
	}
	path := ToNibbles(key)
	r, changed, err := t.deleteFromNode(t.root, path)
	if err != nil || !changed {
		t.unlinked = t.unlinked[:0]
		return err
	}
	t.setRoot(r)
	return nil
}

// deleteFromNode removes the value at path from the subtrie rooting in curr.
// It returns the node replacing curr and whether anything was deleted.
func (t *Trie) deleteFromNode(curr Node, path []byte) (Node, bool, error) {
	switch n := curr.(type) {
	case EmptyNode:
		return n, false, nil
	case *LeafNode:
		if !bytes.Equal(path, n.key) {
			return n, false, nil
		}
		t.unlink(n)
		return EmptyNode{}, true, nil
	case *ExtensionNode:
		if !bytes.HasPrefix(path, n.key) {
			return n, false, nil
		}
		r, changed, err := t.deleteFromNode(n.next, path[len(n.key):])
		if err != nil || !changed {
			return n, false, err
		}
		t.unlink(n)
		return t.newExtension(n.key, r), true, nil
	case *BranchNode:
		return t.deleteFromBranch(n, path)
	case *HashNode:
		r, err := t.resolve(n)
		if err != nil {
			return nil, false, err
		}
		return t.deleteFromNode(r, path)
	default:
		panic("invalid MPT node type")
	}
}

func (t *Trie) deleteFromBranch(curr *BranchNode, path []byte) (Node, bool, error) {
	b := curr.clone()
	if len(path) == 0 {
		if curr.value == nil {
			return curr, false, nil
		}
		b.value = nil
	} else {
		r, changed, err := t.deleteFromNode(curr.Children[path[0]], path[1:])
		if err != nil || !changed {
			return curr, false, err
		}
		b.Children[path[0]] = r
	}
	t.unlink(curr)
	res, err := t.normalizeBranch(b)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// normalizeBranch contracts a branch left with too few items: an empty
// branch is removed, a branch with a value only becomes a leaf and a branch
// with a single child is merged into it.
func (t *Trie) normalizeBranch(b *BranchNode) (Node, error) {
	var count, index int
	for i := range b.Children {
		if !isEmpty(b.Children[i]) {
			index = i
			count++
		}
	}
	switch {
	case count == 0 && b.value == nil:
		return EmptyNode{}, nil
	case count == 0:
		return NewLeafNode([]byte{}, b.value), nil
	case count == 1 && b.value == nil:
		c := b.Children[index]
		if h, ok := c.(*HashNode); ok {
			r, err := t.resolve(h)
			if err != nil {
				return nil, err
			}
			c = r
		}
		return t.newExtension([]byte{byte(index)}, c), nil
	default:
		return b, nil
	}
}

// newExtension returns a node for the key prefix followed by next. Empty
// prefix gives next itself, extensions and leaves are merged with the
// prefix. next must be resolved unless it's known to be a branch.
func (t *Trie) newExtension(key []byte, next Node) Node {
	if len(key) == 0 {
		return next
	}
	switch n := next.(type) {
	case EmptyNode:
		return n
	case *ExtensionNode:
		t.unlink(n)
		return NewExtensionNode(concat(key, n.key), n.next)
	case *LeafNode:
		t.unlink(n)
		return NewLeafNode(concat(key, n.key), n.value)
	default:
		return NewExtensionNode(key, next)
	}
}

// setRoot finalizes a successful operation: references of the replaced
// nodes are dropped and the new nodes reachable from root are accounted.
func (t *Trie) setRoot(root Node) {
	for _, n := range t.unlinked {
		t.cache.removeRef(n)
	}
	t.unlinked = t.unlinked[:0]
	t.link(root)
	t.root = root
}

// link adds a reference for every node not yet linked reachable from n.
func (t *Trie) link(n Node) {
	ln, ok := n.(linkedNode)
	if !ok || ln.isLinked() {
		return
	}
	ln.setLinked()
	t.cache.addRef(n)
	switch n := n.(type) {
	case *BranchNode:
		for i := range n.Children {
			t.link(n.Children[i])
		}
	case *ExtensionNode:
		t.link(n.next)
	}
}

// unlink marks n as replaced by the current operation. Nodes created by the
// same operation were never accounted, so they're skipped.
func (t *Trie) unlink(n Node) {
	if ln, ok := n.(linkedNode); ok && ln.isLinked() {
		t.unlinked = append(t.unlinked, n)
	}
}

// StateRoot returns the root hash of t, zero hash for an empty trie.
func (t *Trie) StateRoot() util.Uint256 {
	if isEmpty(t.root) {
		return util.Uint256{}
	}
	return t.root.Hash()
}

func makeStorageKey(mptKey util.Uint256) []byte {
	return append([]byte{byte(storage.DataMPT)}, mptKey[:]...)
}

// Commit puts every node changed since the previous commit into the
// storage. In ModeAll new nodes are stored, in ModeLatest the stored
// reference counters are updated and unreferenced nodes are removed. Nodes
// are flushed into t.Store only, it should be persisted by the caller.
func (t *Trie) Commit() error {
	if t.readOnly {
		return fmt.Errorf("%w: ModeLatest snapshot can't be committed", ErrInvalidOperation)
	}
	puts := make(map[string][]byte, len(t.cache.dirty))
	committed := make([]Node, 0, len(t.cache.dirty))
	for h, d := range t.cache.dirty {
		if d.refcount == 0 && t.mode == ModeLatest {
			continue
		}
		key := makeStorageKey(h)
		switch t.mode {
		case ModeAll:
			if d.refcount > 0 && d.node.Type() != HashT {
				puts[string(key)] = slice.Copy(d.node.Bytes())
				committed = append(committed, d.node)
			}
		case ModeLatest:
			var (
				cnt  int32
				data []byte
			)
			stored, err := t.Store.Get(key)
			switch {
			case err == nil:
				if len(stored) < refcountSize {
					return fmt.Errorf("%w: no reference counter for %s", ErrCorruptedNode, h.StringLE())
				}
				data = stored[:len(stored)-refcountSize]
				cnt = int32(binary.LittleEndian.Uint32(stored[len(stored)-refcountSize:]))
			case errors.Is(err, storage.ErrKeyNotFound):
			default:
				return fmt.Errorf("failed to get MPT node %s: %w", h.StringLE(), err)
			}
			cnt += d.refcount
			switch {
			case cnt < 0:
				return fmt.Errorf("%w: negative reference counter %d for %s", ErrCorruptedNode, cnt, h.StringLE())
			case cnt == 0:
				puts[string(key)] = nil
			default:
				if d.node.Type() != HashT {
					data = d.node.Bytes()
					committed = append(committed, d.node)
				} else if data == nil {
					return fmt.Errorf("%w: %s", ErrMissingNode, h.StringLE())
				}
				v := make([]byte, len(data)+refcountSize)
				copy(v, data)
				binary.LittleEndian.PutUint32(v[len(data):], uint32(cnt))
				puts[string(key)] = v
			}
		}
	}
	if err := t.Store.PutChangeSet(puts); err != nil {
		return fmt.Errorf("failed to commit MPT nodes: %w", err)
	}
	for k, v := range puts {
		if v == nil {
			h, _ := util.Uint256DecodeBytesBE([]byte(k[1:]))
			t.cache.Remove(h)
		}
	}
	for _, n := range committed {
		t.cache.Add(n)
	}
	t.cache.resetDirty()
	return nil
}

// Uncommitted returns the number of nodes changed since the last commit.
func (t *Trie) Uncommitted() int {
	return t.cache.DirtyLen()
}

// resolve returns the node with the hash of h. It looks into the cache
// first and then into the storage checking that stored data matches the
// hash. ErrMissingNode and ErrCorruptedNode are returned for unavailable
// nodes, other storage errors are returned as is.
func (t *Trie) resolve(h *HashNode) (Node, error) {
	hv := h.Hash()
	if n, ok := t.cache.Get(hv); ok {
		return n, nil
	}
	data, err := t.Store.Get(makeStorageKey(hv))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMissingNode, hv.StringLE())
		}
		return nil, fmt.Errorf("failed to get MPT node %s: %w", hv.StringLE(), err)
	}
	if t.mode == ModeLatest {
		if len(data) < refcountSize {
			return nil, fmt.Errorf("%w: no reference counter for %s", ErrCorruptedNode, hv.StringLE())
		}
		data = data[:len(data)-refcountSize]
	}
	data = slice.Copy(data)
	if actual := hash.DoubleSha256(data); !actual.Equals(hv) {
		return nil, fmt.Errorf("%w: hash mismatch for %s (got %s)", ErrCorruptedNode, hv.StringLE(), actual.StringLE())
	}
	r := io.NewBinReaderFromBuf(data)
	n := DecodeNodeWithType(r)
	if r.Err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptedNode, hv.StringLE(), r.Err)
	}
	ln, ok := n.(linkedNode)
	if !ok || n.Type() == HashT {
		return nil, fmt.Errorf("%w: %s: unexpected %s node", ErrCorruptedNode, hv.StringLE(), n.Type())
	}
	ln.setCache(data, hv)
	t.cache.Add(n)
	return n, nil
}

func isUnavailable(err error) bool {
	return errors.Is(err, ErrMissingNode) || errors.Is(err, ErrCorruptedNode)
}

// Collapse compresses all nodes at the specified depth to hash nodes.
// Note: this function does not perform any kind of storage flushing, so
// Commit should be called before the collapsed nodes are evicted from
// memory.
func (t *Trie) Collapse(depth int) {
	if depth < 0 {
		panic("negative depth")
	}
	t.root = collapse(depth, t.root)
}

func collapse(depth int, node Node) Node {
	switch node.(type) {
	case EmptyNode, *HashNode:
		return node
	}
	if depth == 0 {
		return NewHashNode(node.Hash())
	}

	switch n := node.(type) {
	case *BranchNode:
		res := *n
		for i := range res.Children {
			res.Children[i] = collapse(depth-1, n.Children[i])
		}
		return &res
	case *ExtensionNode:
		res := *n
		res.next = collapse(depth-1, n.next)
		return &res
	case *LeafNode:
		return n
	default:
		panic("invalid MPT node type")
	}
}

// Snapshot returns a trie over the same root and store sharing resolved
// nodes with t. Changes made via the snapshot are not seen by t, changes
// t has not committed yet are carried into the snapshot. A ModeLatest
// snapshot can be changed in memory, but its Commit fails since stored
// reference counters belong to t; it can be read until t commits.
func (t *Trie) Snapshot() *Trie {
	return &Trie{
		Store:    t.Store,
		root:     t.root,
		mode:     t.mode,
		cache:    t.cache.share(),
		log:      t.log,
		readOnly: t.mode == ModeLatest,
	}
}
