// Package safemap provides a generic concurrent map on top of sync.Map with the
// atomic insert and conditional delete primitives the client registry relies on.
package safemap

import "sync"

// SafeMap is a concurrent map that is safe for use by multiple goroutines.
// Keys must be comparable; values may be any type. The zero value is ready
// for use and must not be copied after first use.
type SafeMap[K comparable, V any] struct {
	m sync.Map
}

// NewSafeMap returns an empty SafeMap.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for k, replacing any existing value.
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// Load returns the value stored for k and whether it was present.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value for k, or the zero value of V if absent
//   - true if k was present
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	v, found := m.m.Load(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// LoadOrStore stores v under k only if k is absent. The check and the store
// happen as one atomic step, so two goroutines racing on the same key cannot
// both win.
//
// Parameters:
//   - k: The key to claim
//   - v: The value to store if k is free
//
// Returns:
//   - The value now associated with k (v if stored, the existing value otherwise)
//   - true if k was already present and v was not stored
func (m *SafeMap[K, V]) LoadOrStore(k K, v V) (V, bool) {
	actual, loaded := m.m.LoadOrStore(k, v)
	return actual.(V), loaded
}

// CompareAndDelete deletes the entry for k only if it currently holds old.
// V's dynamic values must be comparable (pointers are).
//
// Parameters:
//   - k: The key to delete
//   - old: The value k must still map to
//
// Returns:
//   - true if the entry was deleted
func (m *SafeMap[K, V]) CompareAndDelete(k K, old V) bool {
	return m.m.CompareAndDelete(k, old)
}

// Delete removes the entry for k. Deleting a missing key is a no-op.
func (m *SafeMap[K, V]) Delete(k K) {
	m.m.Delete(k)
}

// Has reports whether k is present.
func (m *SafeMap[K, V]) Has(k K) bool {
	_, found := m.m.Load(k)
	return found
}

// Range calls f for each entry until f returns false. Each call observes a
// whole entry; entries added or removed concurrently may or may not be seen.
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Keys returns a snapshot of the keys currently in the map, in no particular order.
func (m *SafeMap[K, V]) Keys() []K {
	keys := make([]K, 0)
	m.Range(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})

	return keys
}

// Values returns a snapshot of the values currently in the map, in no particular order.
func (m *SafeMap[K, V]) Values() []V {
	values := make([]V, 0)
	m.Range(func(_ K, v V) bool {
		values = append(values, v)
		return true
	})

	return values
}

// Len returns the number of entries. It walks the whole map.
func (m *SafeMap[K, V]) Len() int {
	length := 0
	m.Range(func(K, V) bool {
		length++
		return true
	})

	return length
}
