package fastmap

import (
	"math/rand"
	"testing"
)

// Test basic functionality
func TestMap(t *testing.T) {
	m := &Map[string]{}

	// Test empty map
	if _, ok := m.Get(1); ok {
		t.Error("Expected miss for empty map")
	}

	m.Set(1, "one")
	m.Set(2, "two")

	if v, ok := m.Get(1); !ok || v != "one" {
		t.Errorf("Get(1) = %q, %v", v, ok)
	}
	if v, ok := m.Get(2); !ok || v != "two" {
		t.Errorf("Get(2) = %q, %v", v, ok)
	}
	if _, ok := m.Get(3); ok {
		t.Error("Get(3) should miss")
	}

	// Test update
	m.Set(1, "uno")
	if v, _ := m.Get(1); v != "uno" {
		t.Error("Update failed")
	}

	if m.Len() != 2 {
		t.Errorf("Expected len=2, got %d", m.Len())
	}

	m.Clear()
	if m.Len() != 0 {
		t.Error("Clear failed")
	}
	if _, ok := m.Get(1); ok {
		t.Error("Get after clear should miss")
	}
}

// Test with many entries to trigger growth
func TestMapGrowth(t *testing.T) {
	m := New[int](0)

	n := 10000
	for i := 0; i < n; i++ {
		m.Set(uint32(i), i*10)
	}

	if m.Len() != n {
		t.Errorf("Expected len=%d, got %d", n, m.Len())
	}

	for i := 0; i < n; i++ {
		v, ok := m.Get(uint32(i))
		if !ok || v != i*10 {
			t.Fatalf("Get(%d) = %d, %v", i, v, ok)
		}
	}
}

func TestMapDelete(t *testing.T) {
	m := New[int](64)

	for i := 0; i < 1000; i++ {
		m.Set(uint32(i), i)
	}
	for i := 0; i < 1000; i += 2 {
		if !m.Delete(uint32(i)) {
			t.Fatalf("Delete(%d) reported missing", i)
		}
	}
	if m.Delete(0) {
		t.Fatal("second Delete(0) should report missing")
	}
	if m.Len() != 500 {
		t.Fatalf("Expected len=500, got %d", m.Len())
	}
	for i := 0; i < 1000; i++ {
		_, ok := m.Get(uint32(i))
		if ok != (i%2 == 1) {
			t.Fatalf("Get(%d) presence = %v", i, ok)
		}
	}
}

// Random inserts and deletes checked against a builtin map.
func TestMapRandomAgainstBuiltin(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m := &Map[uint32]{}
	ref := make(map[uint32]uint32)

	for i := 0; i < 50000; i++ {
		k := uint32(rng.Intn(2048))
		if rng.Intn(3) == 0 {
			_, want := ref[k]
			if got := m.Delete(k); got != want {
				t.Fatalf("Delete(%d) = %v, want %v", k, got, want)
			}
			delete(ref, k)
			continue
		}
		v := rng.Uint32()
		m.Set(k, v)
		ref[k] = v
	}

	if m.Len() != len(ref) {
		t.Fatalf("len = %d, want %d", m.Len(), len(ref))
	}
	for k, want := range ref {
		got, ok := m.Get(k)
		if !ok || got != want {
			t.Fatalf("Get(%d) = %d, %v; want %d", k, got, ok, want)
		}
	}
	seen := 0
	m.ForEach(func(k uint32, v uint32) {
		if ref[k] != v {
			t.Errorf("ForEach(%d) = %d, want %d", k, v, ref[k])
		}
		seen++
	})
	if seen != len(ref) {
		t.Fatalf("ForEach visited %d, want %d", seen, len(ref))
	}
}

func BenchmarkMapGet(b *testing.B) {
	m := New[int](1000)
	for i := 0; i < 1000; i++ {
		m.Set(uint32(i), i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = m.Get(uint32(i % 1000))
	}
}

func BenchmarkBuiltinMapGet(b *testing.B) {
	m := make(map[uint32]int, 1000)
	for i := 0; i < 1000; i++ {
		m[uint32(i)] = i
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m[uint32(i%1000)]
	}
}
