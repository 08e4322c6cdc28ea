// Package kv provides a generic key/value map (iteration order is not
// defined). In this module it backs vectorstore.MemoryRecord.Payload
// (KSVA); tags and pipeline metadata use their own types.
package kv

// KV is a generic key-value map with comparable keys and any type of values.
type KV[K comparable, V any] map[K]V

// KSVA is a KV map keyed by string with values of any type.
type KSVA = KV[string, any]

// New creates an empty KV map with an optional initial capacity.
func New[K comparable, V any](lens ...int) KV[K, V] {
	l := 0
	if len(lens) > 0 {
		l = lens[0]
	}
	return make(KV[K, V], l)
}

// NewKSVA creates an empty KSVA map with an optional initial capacity.
func NewKSVA(lens ...int) KSVA {
	return New[string, any](lens...)
}

// Of copies all entries from kv into a new map.
func Of[K comparable, V any](m KV[K, V]) KV[K, V] {
	return New[K, V](m.Size()).PutAll(m)
}

// Size returns the number of key-value pairs in the map.
func (m KV[K, V]) Size() int {
	return len(m)
}

// IsEmpty reports whether the map has no entries.
func (m KV[K, V]) IsEmpty() bool {
	return m.Size() == 0
}

// Value returns the value for k and whether k was present.
func (m KV[K, V]) Value(k K) (V, bool) {
	v, ok := m[k]
	return v, ok
}

// Get returns the value for k, or the zero value if absent.
func (m KV[K, V]) Get(k K) V {
	return m[k]
}

// GetOrDefault returns the value for k, or def if absent.
func (m KV[K, V]) GetOrDefault(k K, def V) V {
	if v, ok := m.Value(k); ok {
		return v
	}
	return def
}

// Put inserts or updates a key-value pair and returns the map.
func (m KV[K, V]) Put(k K, v V) KV[K, V] {
	m[k] = v
	return m
}

// PutAll copies every entry of p into m and returns m.
func (m KV[K, V]) PutAll(p KV[K, V]) KV[K, V] {
	for k, v := range p {
		m.Put(k, v)
	}
	return m
}

// PutIfAbsent inserts k/v only if k is not already present.
func (m KV[K, V]) PutIfAbsent(k K, v V) KV[K, V] {
	if !m.ContainsKey(k) {
		m.Put(k, v)
	}
	return m
}

// Remove deletes k and returns the value it held.
func (m KV[K, V]) Remove(k K) V {
	v := m.Get(k)
	delete(m, k)
	return v
}

// ContainsKey reports whether k is present in the map.
func (m KV[K, V]) ContainsKey(k K) bool {
	_, ok := m[k]
	return ok
}

// Keys returns every key in the map, in no particular order.
func (m KV[K, V]) Keys() []K {
	rv := make([]K, 0, len(m))
	for k := range m {
		rv = append(rv, k)
	}
	return rv
}

// Clone returns a shallow copy of the map.
func (m KV[K, V]) Clone() KV[K, V] {
	return New[K, V](m.Size()).PutAll(m)
}

// ForEach applies f to every key-value pair in the map.
func (m KV[K, V]) ForEach(f func(k K, v V)) {
	for k, v := range m {
		f(k, v)
	}
}
