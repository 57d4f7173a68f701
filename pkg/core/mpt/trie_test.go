package mpt

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/nspcc-dev/neo-mpt/internal/random"
	"github.com/nspcc-dev/neo-mpt/pkg/core/storage"
	"github.com/nspcc-dev/neo-mpt/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-mpt/pkg/util"
	"github.com/stretchr/testify/require"
)

func newTestStore() *storage.MemCachedStore {
	return storage.NewMemCachedStore(storage.NewMemoryStore())
}

func (tr *Trie) testHas(t *testing.T, key, value []byte) {
	v, err := tr.Get(key)
	if value == nil {
		require.ErrorIs(t, err, ErrNotFound)
		return
	}
	require.NoError(t, err)
	require.Equal(t, value, v)
}

// isValid checks that the in-memory part of the trie has the canonical shape.
func isValid(curr Node) bool {
	switch n := curr.(type) {
	case *BranchNode:
		var count int
		for i := range n.Children {
			if !isEmpty(n.Children[i]) {
				if !isValid(n.Children[i]) {
					return false
				}
				count++
			}
		}
		if n.value != nil {
			count++
		}
		return count > 1
	case *ExtensionNode:
		switch n.next.(type) {
		case *BranchNode, *HashNode:
		default:
			return false
		}
		return len(n.key) != 0 && isValid(n.next)
	default:
		return true
	}
}

func newFilledTrie(t *testing.T, mode TrieMode, kv map[string]string) *Trie {
	tr := NewTrie(nil, mode, newTestStore())
	for k, v := range kv {
		require.NoError(t, tr.Put([]byte(k), []byte(v)))
	}
	return tr
}

func TestTrie_Empty(t *testing.T) {
	tr := NewTrie(nil, ModeAll, nil)
	require.Equal(t, util.Uint256{}, tr.StateRoot())
	tr.testHas(t, []byte("key"), nil)
	require.NoError(t, tr.Delete([]byte("key")))

	res, err := tr.Find(nil)
	require.NoError(t, err)
	require.Equal(t, 0, len(res))

	_, err = tr.GetProof([]byte("key"))
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, tr.Commit())
	require.True(t, tr.Full())
	require.Equal(t, ModeAll, tr.Mode())
}

func TestTrie_PutGet(t *testing.T) {
	tr := NewTrie(nil, ModeAll, newTestStore())
	kv := make(map[string][]byte)
	for i := 0; i < 100; i++ {
		k := random.Bytes(random.Int(1, 10))
		v := random.Bytes(random.Int(1, 20))
		kv[string(k)] = v
		require.NoError(t, tr.Put(k, v))
	}
	for k, v := range kv {
		tr.testHas(t, []byte(k), v)
	}
	require.True(t, isValid(tr.root))

	t.Run("Overwrite", func(t *testing.T) {
		for k := range kv {
			v := random.Bytes(5)
			kv[k] = v
			require.NoError(t, tr.Put([]byte(k), v))
		}
		for k, v := range kv {
			tr.testHas(t, []byte(k), v)
		}
		res, err := tr.Find(nil)
		require.NoError(t, err)
		require.Equal(t, len(kv), len(res))
	})
}

func TestTrie_PutEdgeValues(t *testing.T) {
	tr := NewTrie(nil, ModeAll, newTestStore())

	t.Run("EmptyKey", func(t *testing.T) {
		require.NoError(t, tr.Put([]byte{}, []byte("root value")))
		tr.testHas(t, []byte{}, []byte("root value"))
		require.NoError(t, tr.Put([]byte{0x12}, []byte("other")))
		tr.testHas(t, []byte{}, []byte("root value"))
		tr.testHas(t, []byte{0x12}, []byte("other"))
		require.True(t, isValid(tr.root))
	})
	t.Run("EmptyValue", func(t *testing.T) {
		require.NoError(t, tr.Put([]byte{0x34}, []byte{}))
		tr.testHas(t, []byte{0x34}, []byte{})
		require.NoError(t, tr.Put([]byte{0x35}, nil))
		tr.testHas(t, []byte{0x35}, []byte{})
	})
	t.Run("ValueAtBranch", func(t *testing.T) {
		require.NoError(t, tr.Put([]byte{0x56, 0x78}, []byte{1}))
		require.NoError(t, tr.Put([]byte{0x56, 0x79}, []byte{2}))
		require.NoError(t, tr.Put([]byte{0x56}, []byte{3}))
		tr.testHas(t, []byte{0x56}, []byte{3})
		tr.testHas(t, []byte{0x56, 0x78}, []byte{1})
		tr.testHas(t, []byte{0x56, 0x79}, []byte{2})
		require.True(t, isValid(tr.root))
	})
	t.Run("Limits", func(t *testing.T) {
		root := tr.StateRoot()
		err := tr.Put(make([]byte, MaxKeyLength+1), []byte{1})
		require.ErrorIs(t, err, ErrInvalidOperation)
		err = tr.Put([]byte{1}, make([]byte, MaxValueLength+1))
		require.ErrorIs(t, err, ErrInvalidOperation)
		require.Equal(t, root, tr.StateRoot())

		require.NoError(t, tr.Put(make([]byte, MaxKeyLength), make([]byte, MaxValueLength)))
		tr.testHas(t, make([]byte, MaxKeyLength), make([]byte, MaxValueLength))
		tr.testHas(t, make([]byte, MaxKeyLength+1), nil)
	})
}

func TestTrie_Scenario(t *testing.T) {
	pairs := [][2]string{
		{"a", "value_a"},
		{"ab", "value_ab"},
		{"abc", "value_abc"},
		{"abd", "value_abd"},
		{"b", "value_b"},
		{"bc", "value_bc"},
	}
	tr := NewTrie(nil, ModeAll, newTestStore())
	for _, p := range pairs {
		require.NoError(t, tr.Put([]byte(p[0]), []byte(p[1])))
	}
	for _, p := range pairs {
		tr.testHas(t, []byte(p[0]), []byte(p[1]))
	}

	require.NoError(t, tr.Delete([]byte("abc")))
	require.True(t, isValid(tr.root))
	tr.testHas(t, []byte("abc"), nil)
	for _, p := range pairs {
		if p[0] != "abc" {
			tr.testHas(t, []byte(p[0]), []byte(p[1]))
		}
	}

	// Same shape as the trie built without "abc" at all.
	expected := NewTrie(nil, ModeAll, newTestStore())
	for _, p := range pairs {
		if p[0] != "abc" {
			require.NoError(t, expected.Put([]byte(p[0]), []byte(p[1])))
		}
	}
	require.Equal(t, expected.StateRoot(), tr.StateRoot())
}

func TestTrie_Delete(t *testing.T) {
	t.Run("Absent", func(t *testing.T) {
		tr := newFilledTrie(t, ModeAll, map[string]string{"key1": "v1", "key2": "v2"})
		root := tr.StateRoot()
		require.NoError(t, tr.Delete([]byte("key3")))
		require.NoError(t, tr.Delete([]byte("key")))
		require.NoError(t, tr.Delete([]byte("key11")))
		require.NoError(t, tr.Delete([]byte("other")))
		require.NoError(t, tr.Delete(make([]byte, MaxKeyLength+1)))
		require.Equal(t, root, tr.StateRoot())
		tr.testHas(t, []byte("key1"), []byte("v1"))
		tr.testHas(t, []byte("key2"), []byte("v2"))
	})
	t.Run("Idempotent", func(t *testing.T) {
		tr := newFilledTrie(t, ModeAll, map[string]string{"key1": "v1", "key2": "v2"})
		require.NoError(t, tr.Delete([]byte("key1")))
		root := tr.StateRoot()
		require.NoError(t, tr.Delete([]byte("key1")))
		require.Equal(t, root, tr.StateRoot())
		require.NoError(t, tr.Delete([]byte("key1")))
		require.Equal(t, root, tr.StateRoot())
		tr.testHas(t, []byte("key1"), nil)
		tr.testHas(t, []byte("key2"), []byte("v2"))
	})
	t.Run("All", func(t *testing.T) {
		kv := make(map[string]string)
		for i := 0; i < 50; i++ {
			kv[string(random.Bytes(random.Int(1, 6)))] = random.String(4)
		}
		tr := newFilledTrie(t, ModeAll, kv)
		for k := range kv {
			require.NoError(t, tr.Delete([]byte(k)))
			tr.testHas(t, []byte(k), nil)
			require.True(t, isValid(tr.root))
		}
		require.Equal(t, util.Uint256{}, tr.StateRoot())
		require.Equal(t, EmptyNode{}, tr.root)
	})
	t.Run("BranchValue", func(t *testing.T) {
		tr := newFilledTrie(t, ModeAll, map[string]string{"a": "1", "ab": "2", "ac": "3"})
		require.NoError(t, tr.Delete([]byte("a")))
		tr.testHas(t, []byte("a"), nil)
		tr.testHas(t, []byte("ab"), []byte("2"))
		require.True(t, isValid(tr.root))

		require.NoError(t, tr.Delete([]byte("ab")))
		require.Equal(t, newFilledTrie(t, ModeAll, map[string]string{"ac": "3"}).StateRoot(), tr.StateRoot())
		_, ok := tr.root.(*LeafNode)
		require.True(t, ok)
	})
	t.Run("ValueOnlyBranch", func(t *testing.T) {
		tr := newFilledTrie(t, ModeAll, map[string]string{"a": "1", "ab": "2"})
		require.NoError(t, tr.Delete([]byte("ab")))
		require.Equal(t, newFilledTrie(t, ModeAll, map[string]string{"a": "1"}).StateRoot(), tr.StateRoot())
		tr.testHas(t, []byte("a"), []byte("1"))
	})
}

func TestTrie_OrderIndependence(t *testing.T) {
	kv := make(map[string][]byte)
	for i := 0; i < 200; i++ {
		kv[string(random.Bytes(random.Int(1, 8)))] = random.Bytes(random.Int(1, 10))
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	build := func(keys []string) *Trie {
		tr := NewTrie(nil, ModeAll, newTestStore())
		for _, k := range keys {
			require.NoError(t, tr.Put([]byte(k), kv[k]))
		}
		return tr
	}
	expected := build(keys).StateRoot()
	for i := 0; i < 5; i++ {
		shuffled := append([]string{}, keys...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.Equal(t, expected, build(shuffled).StateRoot())
	}

	t.Run("WithDeletions", func(t *testing.T) {
		tr := build(keys)
		extra := make(map[string]bool)
		for i := 0; i < 50; i++ {
			k := string(random.Bytes(random.Int(1, 8)))
			if _, ok := kv[k]; !ok {
				extra[k] = true
				require.NoError(t, tr.Put([]byte(k), random.Bytes(3)))
			}
		}
		for k := range extra {
			require.NoError(t, tr.Delete([]byte(k)))
			require.True(t, isValid(tr.root))
		}
		require.Equal(t, expected, tr.StateRoot())
	})
}

func TestTrie_Find(t *testing.T) {
	tr := newFilledTrie(t, ModeAll, map[string]string{
		"prefix_key1": "value1",
		"prefix_key2": "value2",
		"prefix_key3": "value3",
		"other_key":   "value4",
	})

	res, err := tr.Find([]byte("prefix"))
	require.NoError(t, err)
	require.Equal(t, []storage.KeyValue{
		{Key: []byte("prefix_key1"), Value: []byte("value1")},
		{Key: []byte("prefix_key2"), Value: []byte("value2")},
		{Key: []byte("prefix_key3"), Value: []byte("value3")},
	}, res)

	res, err = tr.Find([]byte("nomatch"))
	require.NoError(t, err)
	require.Equal(t, 0, len(res))

	res, err = tr.Find([]byte("prefix_key2"))
	require.NoError(t, err)
	require.Equal(t, 1, len(res))

	res, err = tr.Find(nil)
	require.NoError(t, err)
	require.Equal(t, 4, len(res))
	require.Equal(t, []byte("other_key"), res[0].Key)

	t.Run("BranchValue", func(t *testing.T) {
		tr := newFilledTrie(t, ModeAll, map[string]string{"a": "1", "ab": "2", "abc": "3", "b": "4"})
		res, err := tr.Find([]byte("a"))
		require.NoError(t, err)
		require.Equal(t, []storage.KeyValue{
			{Key: []byte("a"), Value: []byte("1")},
			{Key: []byte("ab"), Value: []byte("2")},
			{Key: []byte("abc"), Value: []byte("3")},
		}, res)
	})

	t.Run("Sorted", func(t *testing.T) {
		kv := make(map[string]string)
		for i := 0; i < 100; i++ {
			kv[string(random.Bytes(random.Int(1, 5)))] = random.String(3)
		}
		tr := newFilledTrie(t, ModeAll, kv)
		res, err := tr.Find(nil)
		require.NoError(t, err)
		require.Equal(t, len(kv), len(res))
		require.True(t, sort.SliceIsSorted(res, func(i, j int) bool {
			return string(res[i].Key) < string(res[j].Key)
		}))
		for _, r := range res {
			require.Equal(t, kv[string(r.Key)], string(r.Value))
		}
	})

	t.Run("WalkStop", func(t *testing.T) {
		var count int
		require.NoError(t, tr.Walk([]byte("prefix"), func(k, v []byte) bool {
			count++
			return count < 2
		}))
		require.Equal(t, 2, count)
	})
}

func TestTrie_Snapshot(t *testing.T) {
	t.Run("Isolated", func(t *testing.T) {
		tr := newFilledTrie(t, ModeAll, map[string]string{"key1": "v1", "key2": "v2"})
		require.NoError(t, tr.Commit())
		s := tr.Snapshot()
		require.Equal(t, tr.StateRoot(), s.StateRoot())

		require.NoError(t, s.Put([]byte("key3"), []byte("v3")))
		require.NoError(t, s.Delete([]byte("key1")))
		s.testHas(t, []byte("key3"), []byte("v3"))
		s.testHas(t, []byte("key1"), nil)
		tr.testHas(t, []byte("key3"), nil)
		tr.testHas(t, []byte("key1"), []byte("v1"))
		require.NotEqual(t, tr.StateRoot(), s.StateRoot())
	})

	t.Run("UncommittedParent", func(t *testing.T) {
		tr := newFilledTrie(t, ModeAll, map[string]string{"key1": "v1", "key2": "v2"})
		require.NotZero(t, tr.Uncommitted())
		s := tr.Snapshot()
		require.Equal(t, tr.Uncommitted(), s.Uncommitted())
		require.NoError(t, s.Put([]byte("key3"), []byte("v3")))
		require.NoError(t, s.Commit())

		restored := NewTrie(NewHashNode(s.StateRoot()), ModeAll, tr.Store)
		restored.testHas(t, []byte("key1"), []byte("v1"))
		restored.testHas(t, []byte("key2"), []byte("v2"))
		restored.testHas(t, []byte("key3"), []byte("v3"))

		// Parent's pending changes are still its own.
		require.NotZero(t, tr.Uncommitted())
		require.NoError(t, tr.Commit())
		restored = NewTrie(NewHashNode(tr.StateRoot()), ModeAll, tr.Store)
		restored.testHas(t, []byte("key1"), []byte("v1"))
		restored.testHas(t, []byte("key3"), nil)
	})

	t.Run("LatestReadOnly", func(t *testing.T) {
		tr := newFilledTrie(t, ModeLatest, map[string]string{"key1": "v1", "key2": "v2"})
		require.NoError(t, tr.Commit())
		root := tr.StateRoot()

		s := tr.Snapshot()
		require.NoError(t, s.Delete([]byte("key1")))
		s.testHas(t, []byte("key1"), nil)
		require.ErrorIs(t, s.Commit(), ErrInvalidOperation)
		checkStoredRefs(t, tr)

		restored := NewTrie(NewHashNode(root), ModeLatest, tr.Store)
		restored.testHas(t, []byte("key1"), []byte("v1"))
		restored.testHas(t, []byte("key2"), []byte("v2"))

		tr.Collapse(0)
		require.NoError(t, tr.Put([]byte("key3"), []byte("v3")))
		require.NoError(t, tr.Commit())
		tr.testHas(t, []byte("key1"), []byte("v1"))
		tr.testHas(t, []byte("key3"), []byte("v3"))
		checkStoredRefs(t, tr)
	})
}

func TestTrie_CommitAndReload(t *testing.T) {
	lower := storage.NewMemoryStore()
	store := storage.NewMemCachedStore(lower)
	kv := make(map[string]string)
	for i := 0; i < 50; i++ {
		kv[string(random.Bytes(random.Int(1, 6)))] = random.String(5)
	}
	tr := NewTrie(nil, ModeAll, store)
	for k, v := range kv {
		require.NoError(t, tr.Put([]byte(k), []byte(v)))
	}
	require.NotEqual(t, 0, tr.Uncommitted())
	require.NoError(t, tr.Commit())
	require.Equal(t, 0, tr.Uncommitted())
	_, err := store.Persist()
	require.NoError(t, err)

	tr2 := NewTrie(NewHashNode(tr.StateRoot()), ModeAll, storage.NewMemCachedStore(lower))
	require.Equal(t, tr.StateRoot(), tr2.StateRoot())
	for k, v := range kv {
		tr2.testHas(t, []byte(k), []byte(v))
	}

	// Mutating reloaded trie gives the same result as the original.
	for k := range kv {
		require.NoError(t, tr.Delete([]byte(k)))
		require.NoError(t, tr2.Delete([]byte(k)))
		require.Equal(t, tr.StateRoot(), tr2.StateRoot())
		break
	}
	require.NoError(t, tr.Put([]byte("new"), []byte("value")))
	require.NoError(t, tr2.Put([]byte("new"), []byte("value")))
	require.Equal(t, tr.StateRoot(), tr2.StateRoot())
}

func TestTrie_Collapse(t *testing.T) {
	kv := map[string]string{"a": "1", "ab": "2", "abc": "3", "b": "4", "bcd": "5"}

	t.Run("PanicNegative", func(t *testing.T) {
		tr := newFilledTrie(t, ModeAll, kv)
		require.Panics(t, func() { tr.Collapse(-1) })
	})
	t.Run("Depth", func(t *testing.T) {
		for depth := 0; depth < 4; depth++ {
			tr := newFilledTrie(t, ModeAll, kv)
			root := tr.StateRoot()
			require.NoError(t, tr.Commit())
			tr.Collapse(depth)
			if depth == 0 {
				_, ok := tr.root.(*HashNode)
				require.True(t, ok)
			}
			require.Equal(t, root, tr.StateRoot())
			for k, v := range kv {
				tr.testHas(t, []byte(k), []byte(v))
			}
			require.NoError(t, tr.Put([]byte("abd"), []byte("6")))
			tr.testHas(t, []byte("abd"), []byte("6"))
		}
	})
	t.Run("Uncommitted", func(t *testing.T) {
		tr := newFilledTrie(t, ModeLatest, kv)
		tr.Collapse(0)
		for k, v := range kv {
			tr.testHas(t, []byte(k), []byte(v))
		}
		require.NoError(t, tr.Delete([]byte("ab")))
		tr.testHas(t, []byte("ab"), nil)
		require.NoError(t, tr.Commit())
		checkStoredRefs(t, tr)
	})
	t.Run("EmptyAndLeaf", func(t *testing.T) {
		tr := NewTrie(nil, ModeAll, nil)
		tr.Collapse(0)
		require.Equal(t, EmptyNode{}, tr.root)

		tr = newFilledTrie(t, ModeAll, map[string]string{"a": "1"})
		tr.Collapse(1)
		_, ok := tr.root.(*LeafNode)
		require.True(t, ok)
	})
}

func TestTrie_MissingNode(t *testing.T) {
	tr := newFilledTrie(t, ModeAll, map[string]string{"key1": "v1", "key2": "v2", "other": "v3"})
	require.NoError(t, tr.Commit())
	root := tr.StateRoot()

	// The store is empty, so nothing can be resolved.
	tr2 := NewTrie(NewHashNode(root), ModeAll, newTestStore())

	t.Run("Get", func(t *testing.T) {
		tr2.testHas(t, []byte("key1"), nil)
	})
	t.Run("Find", func(t *testing.T) {
		res, err := tr2.Find(nil)
		require.NoError(t, err)
		require.Equal(t, 0, len(res))
	})
	t.Run("GetProof", func(t *testing.T) {
		_, err := tr2.GetProof([]byte("key1"))
		require.ErrorIs(t, err, ErrMissingNode)
	})
	t.Run("Put", func(t *testing.T) {
		require.ErrorIs(t, tr2.Put([]byte("key3"), []byte("v")), ErrMissingNode)
		require.Equal(t, root, tr2.StateRoot())
		require.Equal(t, 0, tr2.Uncommitted())
	})
	t.Run("Delete", func(t *testing.T) {
		require.ErrorIs(t, tr2.Delete([]byte("key1")), ErrMissingNode)
		require.ErrorIs(t, tr2.Delete([]byte("absent")), ErrMissingNode)
		require.Equal(t, root, tr2.StateRoot())
	})

	t.Run("Partial", func(t *testing.T) {
		// Only the node of "key2" leaf is missing.
		store := newTestStore()
		tr := NewTrie(nil, ModeAll, store)
		require.NoError(t, tr.Put([]byte{0x10}, []byte("v1")))
		require.NoError(t, tr.Put([]byte{0x20}, []byte("v2")))
		require.NoError(t, tr.Put([]byte{0x30}, []byte("v3")))
		require.NoError(t, tr.Commit())
		missing := NewLeafNode([]byte{0}, []byte("v2")).Hash()
		store.Delete(makeStorageKey(missing))

		tr2 := NewTrie(NewHashNode(tr.StateRoot()), ModeAll, store)
		tr2.testHas(t, []byte{0x10}, []byte("v1"))
		tr2.testHas(t, []byte{0x20}, nil)
		res, err := tr2.Find(nil)
		require.NoError(t, err)
		require.Equal(t, 2, len(res))

		root := tr2.StateRoot()
		require.ErrorIs(t, tr2.Put([]byte{0x20}, []byte("new")), ErrMissingNode)
		require.NoError(t, tr2.Put([]byte{0x41}, []byte("new")))
		require.NotEqual(t, root, tr2.StateRoot())
		require.NoError(t, tr2.Delete([]byte{0x41}))
		require.Equal(t, root, tr2.StateRoot())

		// Branch contraction needs to resolve the last remaining child.
		require.NoError(t, tr2.Delete([]byte{0x10}))
		root = tr2.StateRoot()
		err = tr2.Delete([]byte{0x30})
		require.ErrorIs(t, err, ErrMissingNode)
		require.Equal(t, root, tr2.StateRoot())
		tr2.testHas(t, []byte{0x30}, []byte("v3"))
	})
}

func TestTrie_CorruptedNode(t *testing.T) {
	store := newTestStore()
	tr := NewTrie(nil, ModeAll, store)
	require.NoError(t, tr.Put([]byte("a"), []byte("value_a")))
	require.NoError(t, tr.Put([]byte("b"), []byte("value_b")))
	require.NoError(t, tr.Commit())

	leaf := NewLeafNode([]byte{}, []byte("value_a"))
	bad := append([]byte{}, leaf.Bytes()...)
	bad[len(bad)-1] ^= 0xFF
	store.Put(makeStorageKey(leaf.Hash()), bad)

	tr2 := NewTrie(NewHashNode(tr.StateRoot()), ModeAll, store)
	tr2.testHas(t, []byte("a"), nil)
	tr2.testHas(t, []byte("b"), []byte("value_b"))

	_, err := tr2.GetProof([]byte("a"))
	require.ErrorIs(t, err, ErrCorruptedNode)

	root := tr2.StateRoot()
	require.ErrorIs(t, tr2.Put([]byte("a"), []byte("new")), ErrCorruptedNode)
	require.ErrorIs(t, tr2.Delete([]byte("a")), ErrCorruptedNode)
	require.Equal(t, root, tr2.StateRoot())

	t.Run("Undecodable", func(t *testing.T) {
		garbage := []byte{0xFF, 0x01}
		h := hash.DoubleSha256(garbage)
		store.Put(makeStorageKey(h), garbage)
		tr := NewTrie(NewHashNode(h), ModeAll, store)
		tr.testHas(t, []byte("a"), nil)
		require.ErrorIs(t, tr.Put([]byte("a"), []byte{1}), ErrCorruptedNode)
	})
	t.Run("HashNodeData", func(t *testing.T) {
		data := NewHashNode(random.Uint256()).Bytes()
		h := hash.DoubleSha256(data)
		store.Put(makeStorageKey(h), data)
		tr := NewTrie(NewHashNode(h), ModeAll, store)
		_, err := tr.GetProof([]byte("a"))
		require.ErrorIs(t, err, ErrCorruptedNode)
	})
}

type failingStore struct {
	storage.Store
	err error
}

func (s failingStore) Get([]byte) ([]byte, error) { return nil, s.err }

func TestTrie_StorageError(t *testing.T) {
	ioErr := errors.New("disk is on fire")
	store := storage.NewMemCachedStore(failingStore{Store: storage.NewMemoryStore(), err: ioErr})
	tr := NewTrie(NewHashNode(random.Uint256()), ModeAll, store)

	_, err := tr.Get([]byte("a"))
	require.ErrorIs(t, err, ioErr)
	_, err = tr.Find(nil)
	require.ErrorIs(t, err, ioErr)
	require.ErrorIs(t, tr.Put([]byte("a"), []byte{1}), ioErr)
}

// collectRefs counts the number of references to every node reachable from n.
func collectRefs(t *testing.T, tr *Trie, n Node, refs map[util.Uint256]int32) {
	switch nd := n.(type) {
	case EmptyNode:
		return
	case *HashNode:
		r, err := tr.resolve(nd)
		require.NoError(t, err)
		n = r
	}
	refs[n.Hash()]++
	switch nd := n.(type) {
	case *BranchNode:
		for i := range nd.Children {
			collectRefs(t, tr, nd.Children[i], refs)
		}
	case *ExtensionNode:
		collectRefs(t, tr, nd.next, refs)
	}
}

// checkStoredRefs checks that exactly the nodes of the current trie are
// stored with the right reference counters.
func checkStoredRefs(t *testing.T, tr *Trie) {
	expected := make(map[util.Uint256]int32)
	collectRefs(t, tr, tr.root, expected)

	actual := make(map[util.Uint256]int32)
	tr.Store.Seek(storage.SeekRange{Prefix: storage.DataMPT.Bytes()}, func(k, v []byte) bool {
		h, err := util.Uint256DecodeBytesBE(k[1:])
		require.NoError(t, err)
		actual[h] = int32(binary.LittleEndian.Uint32(v[len(v)-refcountSize:]))
		return true
	})
	require.Equal(t, expected, actual)
}

func TestTrie_Refcount(t *testing.T) {
	check := func(t *testing.T, key1, key2 []byte) {
		tr := NewTrie(nil, ModeLatest, newTestStore())
		require.False(t, tr.Full())
		require.NoError(t, tr.Put(key1, []byte{1}))
		require.NoError(t, tr.Commit())
		require.NoError(t, tr.Put(key2, []byte{1}))
		require.NoError(t, tr.Commit())
		tr.testHas(t, key1, []byte{1})
		tr.testHas(t, key2, []byte{1})
		checkStoredRefs(t, tr)

		// remove first, keep second
		require.NoError(t, tr.Delete(key1))
		require.NoError(t, tr.Commit())
		tr.testHas(t, key1, nil)
		tr.testHas(t, key2, []byte{1})
		checkStoredRefs(t, tr)

		// no-op
		require.NoError(t, tr.Put(key1, []byte{1}))
		require.NoError(t, tr.Delete(key1))
		require.NoError(t, tr.Commit())
		tr.testHas(t, key1, nil)
		tr.testHas(t, key2, []byte{1})
		checkStoredRefs(t, tr)

		// delete non-existent, refcount should not be updated
		require.NoError(t, tr.Delete(key1))
		require.NoError(t, tr.Commit())
		checkStoredRefs(t, tr)

		require.NoError(t, tr.Delete(key2))
		require.NoError(t, tr.Commit())
		checkStoredRefs(t, tr)
	}

	t.Run("Leaf", func(t *testing.T) {
		check(t, []byte{0x11}, []byte{0x12})
	})
	t.Run("Extension", func(t *testing.T) {
		check(t, []byte{0x10, 11}, []byte{0x11, 12})
	})
	t.Run("Prefix", func(t *testing.T) {
		check(t, []byte{0x10}, []byte{0x10, 0x20})
	})

	t.Run("Random", func(t *testing.T) {
		tr := NewTrie(nil, ModeLatest, newTestStore())
		keys := make([][]byte, 0, 100)
		for i := 0; i < 100; i++ {
			k := random.Bytes(random.Int(1, 4))
			keys = append(keys, k)
			require.NoError(t, tr.Put(k, random.Bytes(2)))
			if i%10 == 9 {
				require.NoError(t, tr.Commit())
				checkStoredRefs(t, tr)
			}
		}
		// Duplicate values under different keys give equal leaves.
		require.NoError(t, tr.Put([]byte{0xAA, 0x01}, []byte("same")))
		require.NoError(t, tr.Put([]byte{0xBB, 0x01}, []byte("same")))
		require.NoError(t, tr.Commit())
		checkStoredRefs(t, tr)

		for i, k := range keys {
			require.NoError(t, tr.Delete(k))
			if i%10 == 9 {
				require.NoError(t, tr.Commit())
				checkStoredRefs(t, tr)
			}
		}
		require.NoError(t, tr.Delete([]byte{0xAA, 0x01}))
		require.NoError(t, tr.Delete([]byte{0xBB, 0x01}))
		require.NoError(t, tr.Commit())
		checkStoredRefs(t, tr)

		var count int
		tr.Store.Seek(storage.SeekRange{Prefix: storage.DataMPT.Bytes()}, func(k, v []byte) bool {
			count++
			return true
		})
		require.Equal(t, 0, count)
	})

	t.Run("Reload", func(t *testing.T) {
		tr := newFilledTrie(t, ModeLatest, map[string]string{"a": "1", "ab": "2", "b": "3"})
		require.NoError(t, tr.Commit())

		tr2 := NewTrie(NewHashNode(tr.StateRoot()), ModeLatest, tr.Store)
		tr2.testHas(t, []byte("ab"), []byte("2"))
		require.NoError(t, tr2.Delete([]byte("ab")))
		require.NoError(t, tr2.Put([]byte("c"), []byte("4")))
		require.NoError(t, tr2.Commit())
		checkStoredRefs(t, tr2)
	})

	t.Run("NegativeCounter", func(t *testing.T) {
		store := newTestStore()
		tr := NewTrie(nil, ModeLatest, store)
		require.NoError(t, tr.Put([]byte("a"), []byte("1")))
		require.NoError(t, tr.Commit())

		tr2 := NewTrie(NewHashNode(tr.StateRoot()), ModeLatest, store)
		tr3 := NewTrie(NewHashNode(tr.StateRoot()), ModeLatest, store)
		tr3.testHas(t, []byte("a"), []byte("1"))
		require.NoError(t, tr2.Delete([]byte("a")))
		require.NoError(t, tr2.Commit())
		require.NoError(t, tr3.Put([]byte("a"), []byte("2")))
		require.ErrorIs(t, tr3.Commit(), ErrCorruptedNode)
	})
}

func TestTrie_ModeAllKeepsHistory(t *testing.T) {
	store := newTestStore()
	tr := NewTrie(nil, ModeAll, store)
	require.NoError(t, tr.Put([]byte("a"), []byte("1")))
	require.NoError(t, tr.Put([]byte("b"), []byte("2")))
	require.NoError(t, tr.Commit())
	old := tr.StateRoot()

	require.NoError(t, tr.Delete([]byte("a")))
	require.NoError(t, tr.Put([]byte("b"), []byte("3")))
	require.NoError(t, tr.Commit())

	oldTrie := NewTrie(NewHashNode(old), ModeAll, store)
	oldTrie.testHas(t, []byte("a"), []byte("1"))
	oldTrie.testHas(t, []byte("b"), []byte("2"))
	tr.testHas(t, []byte("a"), nil)
	tr.testHas(t, []byte("b"), []byte("3"))
}

func TestTrie_HandBuiltRoot(t *testing.T) {
	b := NewBranchNode()
	b.Children[0] = NewLeafNode([]byte{1}, []byte{0xAB, 0xCD})
	b.Children[9] = NewLeafNode([]byte{9}, []byte{0x22, 0x22})
	e := NewExtensionNode(ToNibbles([]byte{0xAC}), b)

	tr := NewTrie(e, ModeAll, newTestStore())
	tr.testHas(t, []byte{0xAC, 0x01}, []byte{0xAB, 0xCD})
	tr.testHas(t, []byte{0xAC, 0x99}, []byte{0x22, 0x22})
	tr.testHas(t, []byte{0xAC}, nil)
	require.Equal(t, e.Hash(), tr.StateRoot())

	require.NoError(t, tr.Commit())
	tr2 := NewTrie(NewHashNode(e.Hash()), ModeAll, tr.Store)
	tr2.testHas(t, []byte{0xAC, 0x01}, []byte{0xAB, 0xCD})
}
