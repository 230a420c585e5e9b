package syncmap

import "sync"

// Map is a generic map guarded by a read-write mutex. Writers serialize,
// readers may proceed concurrently.
type Map[K comparable, V any] struct {
	mut  sync.RWMutex
	data map[K]V
}

func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{data: make(map[K]V)}
}

func (m *Map[K, V]) Put(key K, val V) {
	m.mut.Lock()
	m.data[key] = val
	m.mut.Unlock()
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mut.RLock()
	val, exists := m.data[key]
	m.mut.RUnlock()

	return val, exists
}

// GetOrPut returns the value stored under key, inserting mk() first if the
// key is absent. loaded reports whether the value already existed.
func (m *Map[K, V]) GetOrPut(key K, mk func() V) (val V, loaded bool) {
	m.mut.RLock()
	val, loaded = m.data[key]
	m.mut.RUnlock()
	if loaded {
		return val, true
	}

	m.mut.Lock()
	defer m.mut.Unlock()

	if val, loaded = m.data[key]; loaded {
		return val, true
	}
	val = mk()
	m.data[key] = val
	return val, false
}

func (m *Map[K, V]) Delete(keys ...K) {
	m.mut.Lock()
	for _, key := range keys {
		delete(m.data, key)
	}
	m.mut.Unlock()
}

func (m *Map[K, V]) Len() int {
	m.mut.RLock()
	defer m.mut.RUnlock()

	return len(m.data)
}

// Range calls fn for every entry until fn returns false. The lock is held
// for the duration; fn must not call back into the map.
func (m *Map[K, V]) Range(fn func(key K, val V) bool) {
	m.mut.RLock()
	defer m.mut.RUnlock()

	for k, v := range m.data {
		if !fn(k, v) {
			return
		}
	}
}
