// Package fastmap provides a fast hash map for integer keys.
// Uses fibonacci hashing for better distribution of sequential keys.
package fastmap

// Map is a fast hash map from uint32 to V.
// Uses open addressing with linear probing and fibonacci hashing.
// Deletion uses backward shifting, so no tombstones are left behind.
type Map[V any] struct {
	buckets []bucket[V]
	count   int
	mask    uint32
}

type bucket[V any] struct {
	key   uint32
	value V
	used  bool // Needed because key=0 might be valid
}

// Fibonacci hash constant: 2^32 / golden ratio
const fibHash32 = 2654435769

// New returns a map sized for at least hint entries.
func New[V any](hint int) *Map[V] {
	m := &Map[V]{}
	if hint > 0 {
		size := 16
		for size*3/4 < hint {
			size *= 2
		}
		m.buckets = make([]bucket[V], size)
		m.mask = uint32(size - 1)
	}
	return m
}

func (m *Map[V]) home(key uint32) uint32 {
	return (key * fibHash32) & m.mask
}

// Get returns the value for the given key.
func (m *Map[V]) Get(key uint32) (V, bool) {
	var zero V
	if len(m.buckets) == 0 {
		return zero, false
	}
	idx := m.home(key)
	for {
		b := &m.buckets[idx]
		if !b.used {
			return zero, false
		}
		if b.key == key {
			return b.value, true
		}
		idx = (idx + 1) & m.mask
	}
}

// Set stores a key-value pair.
func (m *Map[V]) Set(key uint32, value V) {
	if len(m.buckets) == 0 {
		m.buckets = make([]bucket[V], 16)
		m.mask = 15
	} else if m.count >= len(m.buckets)*3/4 {
		m.grow()
	}

	idx := m.home(key)
	for {
		b := &m.buckets[idx]
		if !b.used {
			b.key = key
			b.value = value
			b.used = true
			m.count++
			return
		}
		if b.key == key {
			b.value = value
			return
		}
		idx = (idx + 1) & m.mask
	}
}

// Delete removes key from the map and reports whether it was present.
func (m *Map[V]) Delete(key uint32) bool {
	if len(m.buckets) == 0 {
		return false
	}
	i := m.home(key)
	for {
		b := &m.buckets[i]
		if !b.used {
			return false
		}
		if b.key == key {
			break
		}
		i = (i + 1) & m.mask
	}

	// Shift later members of the probe chain back into the hole.
	j := i
	for {
		j = (j + 1) & m.mask
		if !m.buckets[j].used {
			break
		}
		k := m.home(m.buckets[j].key)
		if i <= j {
			if i < k && k <= j {
				continue
			}
		} else if i < k || k <= j {
			continue
		}
		m.buckets[i] = m.buckets[j]
		i = j
	}
	m.buckets[i] = bucket[V]{}
	m.count--
	return true
}

// grow doubles the hash table size
func (m *Map[V]) grow() {
	oldBuckets := m.buckets
	newSize := len(oldBuckets) * 2
	m.buckets = make([]bucket[V], newSize)
	m.mask = uint32(newSize - 1)
	m.count = 0

	for i := range oldBuckets {
		if oldBuckets[i].used {
			m.Set(oldBuckets[i].key, oldBuckets[i].value)
		}
	}
}

// ForEach iterates over all key-value pairs.
// fn must not modify the map.
func (m *Map[V]) ForEach(fn func(uint32, V)) {
	for i := range m.buckets {
		if m.buckets[i].used {
			fn(m.buckets[i].key, m.buckets[i].value)
		}
	}
}

// Clear removes all entries but keeps the backing array.
func (m *Map[V]) Clear() {
	clear(m.buckets)
	m.count = 0
}

// Len returns the number of entries.
func (m *Map[V]) Len() int {
	return m.count
}
