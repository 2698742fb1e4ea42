package containers

import "sort"

// OrderedIndex is a sorted, generic key-value index over comparable,
// ordered keys. It gives the same "ordered walk + O(log n) lookup" shape
// as a B+ tree leaf level without the internal node machinery, which is
// more than the in-process cache in this codebase needs: the chunk store's
// hash -> chunk path cache just needs fast point lookups over a working set
// that fits comfortably in memory.
type OrderedIndex[K ~string, V any] struct {
	keys   []K
	values []V
}

func NewOrderedIndex[K ~string, V any]() *OrderedIndex[K, V] {
	return &OrderedIndex[K, V]{}
}

func (idx *OrderedIndex[K, V]) search(key K) (int, bool) {
	i := sort.Search(len(idx.keys), func(i int) bool { return idx.keys[i] >= key })
	if i < len(idx.keys) && idx.keys[i] == key {
		return i, true
	}
	return i, false
}

// Put inserts or replaces the value for key.
func (idx *OrderedIndex[K, V]) Put(key K, value V) {
	i, found := idx.search(key)
	if found {
		idx.values[i] = value
		return
	}
	idx.keys = append(idx.keys, key)
	copy(idx.keys[i+1:], idx.keys[i:])
	idx.keys[i] = key

	var zero V
	idx.values = append(idx.values, zero)
	copy(idx.values[i+1:], idx.values[i:])
	idx.values[i] = value
}

// Get returns the value for key, if present.
func (idx *OrderedIndex[K, V]) Get(key K) (V, bool) {
	i, found := idx.search(key)
	if !found {
		var zero V
		return zero, false
	}
	return idx.values[i], true
}

// Len reports the number of entries in the index.
func (idx *OrderedIndex[K, V]) Len() int {
	return len(idx.keys)
}

// Each walks the index in ascending key order, stopping early if fn
// returns false.
func (idx *OrderedIndex[K, V]) Each(fn func(K, V) bool) {
	for i, k := range idx.keys {
		if !fn(k, idx.values[i]) {
			return
		}
	}
}
