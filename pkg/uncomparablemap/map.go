// Package uncomparablemap implements a small hash map keyed by values that
// may not be Go-comparable (slices, maps, documents), bucketed by a
// [domain.Hasher] and disambiguated within a bucket by a [domain.Comparer].
package uncomparablemap

import (
	"iter"
	"slices"

	"satchel/domain"
)

// Map is a hash map over uncomparable keys.
type Map[T any] struct {
	buckets  [][]kv[T]
	hasher   domain.Hasher
	comparer domain.Comparer
}

type kv[T any] struct {
	key   any
	value T
}

// New returns an empty [Map].
func New[T any](hasher domain.Hasher, comparer domain.Comparer) *Map[T] {
	return &Map[T]{
		buckets:  make([][]kv[T], 8),
		hasher:   hasher,
		comparer: comparer,
	}
}

func (m *Map[T]) bucketIndex(key any) (uint64, error) {
	h, err := m.hasher.Hash(key)
	if err != nil {
		return 0, err
	}
	return h % uint64(len(m.buckets)), nil
}

// Get returns the value stored under key, if any.
func (m *Map[T]) Get(key any) (T, bool, error) {
	idx, err := m.bucketIndex(key)
	if err != nil {
		return *new(T), false, err
	}
	for _, v := range m.buckets[idx] {
		if m.comparer.Equal(key, v.key) {
			return v.value, true, nil
		}
	}
	return *new(T), false, nil
}

// Set stores value under key, overwriting any existing entry.
func (m *Map[T]) Set(key any, value T) error {
	idx, err := m.bucketIndex(key)
	if err != nil {
		return err
	}
	bucket := m.buckets[idx]
	for n, v := range bucket {
		if m.comparer.Equal(key, v.key) {
			bucket[n] = kv[T]{key: key, value: value}
			return nil
		}
	}
	m.buckets[idx] = append(bucket, kv[T]{key: key, value: value})
	return nil
}

// Delete removes key, if present.
func (m *Map[T]) Delete(key any) error {
	idx, err := m.bucketIndex(key)
	if err != nil {
		return err
	}
	bucket := m.buckets[idx]
	for n, v := range bucket {
		if m.comparer.Equal(key, v.key) {
			m.buckets[idx] = slices.Delete(bucket, n, n+1)
			return nil
		}
	}
	return nil
}

// Keys returns every key currently stored.
func (m *Map[T]) Keys() iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, bucket := range m.buckets {
			for _, v := range bucket {
				if !yield(v.key) {
					return
				}
			}
		}
	}
}
