package mpt

import (
	"bytes"

	"github.com/nspcc-dev/neo-mpt/pkg/core/storage"
	"github.com/nspcc-dev/neo-mpt/pkg/util/slice"
	"go.uber.org/zap"
)

// Find returns all key-value pairs with keys starting with prefix. Pairs are
// ordered by key. Subtrees that can't be resolved are skipped.
func (t *Trie) Find(prefix []byte) ([]storage.KeyValue, error) {
	var res []storage.KeyValue
	err := t.Walk(prefix, func(k, v []byte) bool {
		res = append(res, storage.KeyValue{Key: k, Value: v})
		return true
	})
	return res, err
}

// Walk calls f for every key-value pair with the key starting with prefix
// in ascending key order until f returns false. Subtrees that can't be
// resolved are skipped, only storage failures are returned as errors.
func (t *Trie) Walk(prefix []byte, f func(k, v []byte) bool) error {
	path := make([]byte, 0, maxPathLength)
	_, err := t.walk(t.root, path, ToNibbles(prefix), f)
	return err
}

// walk traverses the subtrie rooting in curr located at path. It returns
// false if the iteration was stopped.
func (t *Trie) walk(curr Node, path, prefix []byte, f func(k, v []byte) bool) (bool, error) {
	switch n := curr.(type) {
	case EmptyNode:
	case *LeafNode:
		full := concat(path, n.key)
		if bytes.HasPrefix(full, prefix) {
			return t.emit(full, n.value, f), nil
		}
	case *ExtensionNode:
		full := append(path, n.key...)
		if isPrefixCompatible(full, prefix) {
			return t.walk(n.next, full, prefix, f)
		}
	case *BranchNode:
		if n.value != nil && bytes.HasPrefix(path, prefix) {
			if !t.emit(path, n.value, f) {
				return false, nil
			}
		}
		for i := range n.Children {
			if isEmpty(n.Children[i]) {
				continue
			}
			p := append(path, byte(i))
			if !isPrefixCompatible(p, prefix) {
				continue
			}
			ok, err := t.walk(n.Children[i], p, prefix, f)
			if err != nil || !ok {
				return ok, err
			}
		}
	case *HashNode:
		r, err := t.resolve(n)
		if err != nil {
			if isUnavailable(err) {
				t.log.Warn("skipping unavailable MPT subtree", zap.Stringer("hash", n.Hash()), zap.Error(err))
				return true, nil
			}
			return false, err
		}
		return t.walk(r, path, prefix, f)
	default:
		panic("invalid MPT node type")
	}
	return true, nil
}

func (t *Trie) emit(path, value []byte, f func(k, v []byte) bool) bool {
	key, err := FromNibbles(path)
	if err != nil {
		t.log.Warn("skipping MPT value with odd path", zap.Int("length", len(path)))
		return true
	}
	return f(key, slice.Copy(value))
}
