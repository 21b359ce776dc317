package btree

import (
	"fmt"
	"path/filepath"
	"testing"
)

func newTestTree(t *testing.T) *BTree {
	t.Helper()
	dir := t.TempDir()
	bt, err := Open(filepath.Join(dir, "t.bt"), 32)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { bt.Close() })
	return bt
}

func valueFor(k int64) []byte {
	return []byte(fmt.Sprintf("value-%d", k))
}

func TestInsertAndGetSweep(t *testing.T) {
	bt := newTestTree(t)
	const n = 600 // large enough to force several splits at order 200
	for k := int64(0); k < n; k++ {
		if err := bt.Insert(k, valueFor(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	for k := int64(0); k < n; k++ {
		got, err := bt.Get(k)
		if err != nil {
			t.Fatalf("Get(%d): %v", k, err)
		}
		if string(got) != string(valueFor(k)) {
			t.Fatalf("Get(%d) = %q, want %q", k, got, valueFor(k))
		}
	}
}

func TestGetAbsentKeyReturnsNilNoError(t *testing.T) {
	bt := newTestTree(t)
	if err := bt.Insert(1, valueFor(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, err := bt.Get(999)
	if err != nil {
		t.Fatalf("Get(absent): %v", err)
	}
	if v != nil {
		t.Fatalf("Get(absent) = %v, want nil", v)
	}
}

func TestInsertOverwritesValue(t *testing.T) {
	bt := newTestTree(t)
	if err := bt.Insert(7, []byte("first")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := bt.Insert(7, []byte("second")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := bt.Get(7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("Get(7) = %q, want %q", got, "second")
	}
}

func TestDeleteThenRebalanceKeepsRemainingKeysFindable(t *testing.T) {
	bt := newTestTree(t)
	const n = 600
	for k := int64(0); k < n; k++ {
		if err := bt.Insert(k, valueFor(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}

	deleted := make(map[int64]bool)
	for k := int64(0); k < n; k += 3 {
		if err := bt.Delete(k); err != nil {
			t.Fatalf("Delete(%d): %v", k, err)
		}
		deleted[k] = true
	}

	for k := int64(0); k < n; k++ {
		got, err := bt.Get(k)
		if err != nil {
			t.Fatalf("Get(%d): %v", k, err)
		}
		if deleted[k] {
			if got != nil {
				t.Fatalf("Get(%d) after delete = %q, want nil", k, got)
			}
			continue
		}
		if string(got) != string(valueFor(k)) {
			t.Fatalf("Get(%d) = %q, want %q", k, got, valueFor(k))
		}
	}
}

func TestDeleteAbsentKeySucceeds(t *testing.T) {
	bt := newTestTree(t)
	if err := bt.Insert(1, valueFor(1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := bt.Delete(42); err != nil {
		t.Fatalf("Delete(absent) = %v, want nil", err)
	}
}

func TestRootPointerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t.bt")

	bt1, err := Open(path, 32)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	const n = 600
	for k := int64(0); k < n; k++ {
		if err := bt1.Insert(k, valueFor(k)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	if err := bt1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	bt2, err := Open(path, 32)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer bt2.Close()
	for _, k := range []int64{0, n / 2, n - 1} {
		got, err := bt2.Get(k)
		if err != nil {
			t.Fatalf("Get(%d) after reopen: %v", k, err)
		}
		if string(got) != string(valueFor(k)) {
			t.Fatalf("Get(%d) after reopen = %q, want %q", k, got, valueFor(k))
		}
	}
}
