package bptree

import (
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dbsys/bptreekv/engine/pager"
)

func newTestTree(t *testing.T, overrideMaxKeyCount int) *Tree[uint64, uint64] {
	t.Helper()
	dir := t.TempDir()
	tr, err := Open[uint64, uint64](Options[uint64, uint64]{
		Path:                filepath.Join(dir, "t.db"),
		KeyCodec:            uint64Codec(),
		ValueCodec:          uint64Codec(),
		OverrideMaxKeyCount: overrideMaxKeyCount,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

// S1 — insert and lookup.
func TestInsertAndLookupSweep(t *testing.T) {
	tr := newTestTree(t, 5)
	for i := uint64(1); i <= 60; i++ {
		if err := tr.Set(i, i*10); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	for i := uint64(1); i <= 60; i++ {
		v, err := tr.Get(i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if v != i*10 {
			t.Fatalf("Get(%d) = %d, want %d", i, v, i*10)
		}
	}
}

// S2 — overwrite.
func TestOverwrite(t *testing.T) {
	tr := newTestTree(t, 5)
	if err := tr.Set(7, 70); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tr.Set(7, 700); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := tr.Get(7)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 700 {
		t.Fatalf("Get(7) = %d, want 700", v)
	}
}

// S3 — delete with rebalance.
func TestDeleteWithRebalance(t *testing.T) {
	tr := newTestTree(t, 5)
	for i := uint64(1); i <= 60; i++ {
		if err := tr.Set(i, i*10); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}

	deleted := make(map[uint64]bool)
	for i := uint64(1); i <= 14; i++ {
		key := 3 * i
		if err := tr.Remove(key); err != nil {
			t.Fatalf("Remove(%d): %v", key, err)
		}
		deleted[key] = true
	}

	for j := uint64(1); j <= 60; j++ {
		v, err := tr.Get(j)
		if deleted[j] {
			if !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("Get(%d) after delete: err = %v, want ErrKeyNotFound", j, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Get(%d): %v", j, err)
		}
		if v != j*10 {
			t.Fatalf("Get(%d) = %d, want %d", j, v, j*10)
		}
	}
}

// S4 — empty remove.
func TestEmptyRemove(t *testing.T) {
	tr := newTestTree(t, 5)
	if err := tr.Remove(5); !errors.Is(err, ErrRootIsNull) {
		t.Fatalf("Remove on empty tree: err = %v, want ErrRootIsNull", err)
	}
	if _, err := tr.Get(5); !errors.Is(err, ErrRootIsNull) {
		t.Fatalf("Get on empty tree: err = %v, want ErrRootIsNull", err)
	}
}

// S5 — root collapse.
func TestRootCollapseToSingleLeaf(t *testing.T) {
	tr := newTestTree(t, 5)
	for i := uint64(1); i <= 60; i++ {
		if err := tr.Set(i, i*10); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	for i := uint64(2); i <= 60; i++ {
		if err := tr.Remove(i); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
	}

	n, err := tr.load(*tr.root)
	if err != nil {
		t.Fatalf("load root: %v", err)
	}
	if n.kind != kindLeaf {
		t.Fatalf("expected a leaf root after collapsing to a single key, got kind %v", n.kind)
	}
	v, err := tr.Get(1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if v != 10 {
		t.Fatalf("Get(1) = %d, want 10", v)
	}
}

// S6 — leaf chain integrity.
func TestLeafChainIntegrity(t *testing.T) {
	tr := newTestTree(t, 5)
	for i := uint64(1); i <= 60; i++ {
		if err := tr.Set(i, i*10); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}

	ptr := leftmostLeaf(t, tr)
	var seen []uint64
	for {
		n, err := tr.load(ptr)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		seen = append(seen, n.leaf.keys...)
		if !n.leaf.hasNext {
			break
		}
		ptr = n.leaf.next
	}

	if len(seen) != 60 {
		t.Fatalf("walked %d keys, want 60", len(seen))
	}
	for i, k := range seen {
		if k != uint64(i+1) {
			t.Fatalf("keys out of order at position %d: got %d, want %d", i, k, i+1)
		}
	}
}

func leftmostLeaf(t *testing.T, tr *Tree[uint64, uint64]) pager.PagePtr {
	t.Helper()
	ptr := *tr.root
	for {
		n, err := tr.load(ptr)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if n.kind == kindLeaf {
			return ptr
		}
		ptr = n.inner.children[0]
	}
}

func TestDeleteAbsentKeyOnNonEmptyTreeSucceeds(t *testing.T) {
	tr := newTestTree(t, 5)
	if err := tr.Set(1, 10); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tr.Remove(999); err != nil {
		t.Fatalf("Remove(absent) = %v, want nil", err)
	}
}

func TestInnerNodeChildCountInvariant(t *testing.T) {
	tr := newTestTree(t, 5)
	for i := uint64(1); i <= 200; i++ {
		if err := tr.Set(i, i); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}
	walkInner(t, tr, *tr.root, func(in *innerNode[uint64]) {
		if len(in.children) != len(in.keys)+1 {
			t.Fatalf("page %d: children count %d != keys+1 (%d)", in.ptr, len(in.children), len(in.keys)+1)
		}
	})
}

func walkInner(t *testing.T, tr *Tree[uint64, uint64], ptr pager.PagePtr, visit func(*innerNode[uint64])) {
	t.Helper()
	n, err := tr.load(ptr)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n.kind != kindInner {
		return
	}
	visit(n.inner)
	for _, child := range n.inner.children {
		walkInner(t, tr, child, visit)
	}
}

// Pins rebalanceInner's left-borrow separator handling: the grandparent's
// old separator must be pulled down into the transplanted child before the
// grandparent is overwritten with the borrowed key, not the other way
// round (see DESIGN.md's note on the divergence from the original Rust
// InnerNode::remove_page). Getting this backwards misroutes every key in
// the transplanted child's subtree to the wrong place.
func TestInnerBorrowLeftPreservesRouting(t *testing.T) {
	tr := newTestTree(t, 5)
	for i := uint64(1); i <= 400; i++ {
		if err := tr.Set(i, i*10); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}

	// Thin out the right half of the keyspace enough to force inner nodes
	// there below minimum occupancy, triggering a left-borrow across an
	// inner boundary rather than a leaf-only rebalance.
	deleted := make(map[uint64]bool)
	for i := uint64(210); i <= 400; i += 2 {
		if err := tr.Remove(i); err != nil {
			t.Fatalf("Remove(%d): %v", i, err)
		}
		deleted[i] = true
	}

	for i := uint64(1); i <= 400; i++ {
		v, err := tr.Get(i)
		if deleted[i] {
			if !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("Get(%d) after delete: err = %v, want ErrKeyNotFound", i, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Get(%d): %v (key misrouted after inner rebalance)", i, err)
		}
		if v != i*10 {
			t.Fatalf("Get(%d) = %d, want %d (key misrouted after inner rebalance)", i, v, i*10)
		}
	}
}
