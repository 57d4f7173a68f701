package storage

import (
	"bytes"

	"github.com/nspcc-dev/neo-mpt/pkg/util/slice"
)

// MemCachedStore is a wrapper around persistent store that caches all changes
// being made for them to be later flushed in one batch.
type MemCachedStore struct {
	MemoryStore

	// Persistent Store.
	ps Store
}

// NewMemCachedStore creates a new MemCachedStore object.
func NewMemCachedStore(lower Store) *MemCachedStore {
	return &MemCachedStore{
		MemoryStore: *NewMemoryStore(),
		ps:          lower,
	}
}

// Get implements the Store interface.
func (s *MemCachedStore) Get(key []byte) ([]byte, error) {
	s.mut.RLock()
	if val, ok := s.mem[string(key)]; ok {
		s.mut.RUnlock()
		if val == nil {
			return nil, ErrKeyNotFound
		}
		return val, nil
	}
	s.mut.RUnlock()
	return s.ps.Get(key)
}

// Put puts new KV pair into the store.
func (s *MemCachedStore) Put(key, value []byte) {
	newKey := string(key)
	vcopy := make([]byte, len(value))
	copy(vcopy, value)
	s.mut.Lock()
	s.mem[newKey] = vcopy
	s.mut.Unlock()
}

// Delete drops KV pair from the store. Never returns an error.
func (s *MemCachedStore) Delete(key []byte) {
	newKey := string(key)
	s.mut.Lock()
	s.mem[newKey] = nil
	s.mut.Unlock()
}

// PutChangeSet implements the Store interface. Changes are kept in memory
// until Persist is called.
func (s *MemCachedStore) PutChangeSet(puts map[string][]byte) error {
	s.mut.Lock()
	for k := range puts {
		s.mem[k] = puts[k]
	}
	s.mut.Unlock()
	return nil
}

// Seek implements the Store interface. It merges cached changes with the
// contents of the lower store.
func (s *MemCachedStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	s.mut.RLock()
	mem := s.collect(rng, false)
	s.mut.RUnlock()

	var (
		i     int
		res   = make([]KeyValue, 0, len(mem))
		less  = func(a, b []byte) bool {
			c := bytes.Compare(a, b)
			if rng.Backwards {
				return c > 0
			}
			return c < 0
		}
		flush = func(k []byte) bool {
			for ; i < len(mem) && (k == nil || less(mem[i].Key, k)); i++ {
				if mem[i].Value != nil {
					res = append(res, mem[i])
				}
			}
			return i < len(mem) && k != nil && bytes.Equal(mem[i].Key, k)
		}
	)
	s.ps.Seek(rng, func(k, v []byte) bool {
		if flush(k) {
			// Overridden by cached value (or deleted).
			if mem[i].Value != nil {
				res = append(res, mem[i])
			}
			i++
			return true
		}
		res = append(res, KeyValue{
			Key:   slice.Copy(k),
			Value: slice.Copy(v),
		})
		return true
	})
	flush(nil)
	for _, kv := range res {
		if !f(kv.Key, kv.Value) {
			break
		}
	}
}

// Persist flushes all the MemoryStore contents into the (supposedly) persistent
// store ps. It returns the number of flushed items.
func (s *MemCachedStore) Persist() (int, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	keys := len(s.mem)
	if keys == 0 {
		return 0, nil
	}
	err := s.ps.PutChangeSet(s.mem)
	if err != nil {
		return 0, err
	}
	s.mem = make(map[string][]byte)
	return keys, nil
}

// Close implements Store interface, clears up memory and closes the lower layer
// Store.
func (s *MemCachedStore) Close() error {
	// It's always successful.
	_ = s.MemoryStore.Close()
	return s.ps.Close()
}
