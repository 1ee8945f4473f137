//go:build unix

package mmap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func createSized(t *testing.T, size int64) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "blobs.dat"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	if err := f.Truncate(size); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestWritableRoundTrip(t *testing.T) {
	f := createSized(t, 4096)

	m, err := New(int(f.Fd()), 4096, true)
	if err != nil {
		t.Fatal(err)
	}
	copy(m.Data(), []byte("record"))
	if err := m.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("record")) {
		t.Errorf("expected written data, got %q", data[:16])
	}
}

func TestRemapKeepsData(t *testing.T) {
	f := createSized(t, 4096)

	m, err := New(int(f.Fd()), 4096, true)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	copy(m.Data(), []byte("first"))

	if err := f.Truncate(16384); err != nil {
		t.Fatal(err)
	}
	if err := m.Remap(16384); err != nil {
		t.Fatal(err)
	}
	if m.Size() != 16384 {
		t.Errorf("size after remap: got %d, want 16384", m.Size())
	}
	if !bytes.HasPrefix(m.Data(), []byte("first")) {
		t.Error("data lost across remap")
	}

	copy(m.Data()[12000:], []byte("tail"))
	if err := m.SyncRange(12000, 4); err != nil {
		t.Fatal(err)
	}
}

func TestInvalidArguments(t *testing.T) {
	f := createSized(t, 4096)

	if _, err := New(int(f.Fd()), 0, true); err != ErrInvalidSize {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}

	m, err := New(int(f.Fd()), 4096, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SyncRange(4000, 200); err != ErrInvalidRange {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
	m.Close()
	if err := m.Sync(); err != ErrNotMapped {
		t.Errorf("expected ErrNotMapped after close, got %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
