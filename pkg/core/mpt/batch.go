package mpt

import (
	"bytes"
	"sort"
)

// Batch is a batch of storage changes to apply to a trie. nil value means
// deletion.
type Batch struct {
	kv []keyValue
}

type keyValue struct {
	key   []byte
	value []byte
}

// MapToMPTBatch makes a Batch from an unordered set of storage changes.
func MapToMPTBatch(m map[string][]byte) Batch {
	var b Batch

	b.kv = make([]keyValue, 0, len(m))
	for k, v := range m {
		b.kv = append(b.kv, keyValue{key: []byte(k), value: v})
	}
	sort.Slice(b.kv, func(i, j int) bool {
		return bytes.Compare(b.kv[i].key, b.kv[j].key) < 0
	})
	return b
}

// Add adds a change to the batch, later changes of the same key win.
func (b *Batch) Add(key, value []byte) {
	b.kv = append(b.kv, keyValue{key: key, value: value})
}

// Len returns the number of changes in the batch.
func (b Batch) Len() int {
	return len(b.kv)
}

// PutBatch applies the batch to t in key order. It returns the number of
// applied changes, on error t contains exactly the changes applied before
// the failed one.
func (t *Trie) PutBatch(b Batch) (int, error) {
	kv := make([]keyValue, len(b.kv))
	copy(kv, b.kv)
	sort.SliceStable(kv, func(i, j int) bool {
		return bytes.Compare(kv[i].key, kv[j].key) < 0
	})
	for i := range kv {
		var err error
		if kv[i].value == nil {
			err = t.Delete(kv[i].key)
		} else {
			err = t.Put(kv[i].key, kv[i].value)
		}
		if err != nil {
			return i, err
		}
	}
	return len(kv), nil
}
