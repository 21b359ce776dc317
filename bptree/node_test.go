package bptree

import (
	"encoding/binary"
	"testing"

	"github.com/dbsys/bptreekv/engine/pager"
)

func uint64Codec() Codec[uint64] {
	return Codec[uint64]{
		Size: 8,
		Encode: func(v uint64) []byte {
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, v)
			return b
		},
		Decode: func(b []byte) uint64 {
			return binary.BigEndian.Uint64(b)
		},
	}
}

func TestLeafEncodeDecodeRoundTrip(t *testing.T) {
	kc, vc := uint64Codec(), uint64Codec()
	leaf := &leafNode[uint64, uint64]{
		ptr:     7,
		keys:    []uint64{1, 2, 3},
		values:  []uint64{10, 20, 30},
		hasNext: true,
		next:    9,
	}

	pg, err := encodeLeaf(leaf, kc, vc)
	if err != nil {
		t.Fatalf("encodeLeaf: %v", err)
	}
	got, err := decodeLeaf(pg, kc, vc)
	if err != nil {
		t.Fatalf("decodeLeaf: %v", err)
	}

	if got.ptr != leaf.ptr || got.hasNext != leaf.hasNext || got.next != leaf.next {
		t.Fatalf("header mismatch: got %+v, want %+v", got, leaf)
	}
	if len(got.keys) != len(leaf.keys) {
		t.Fatalf("key count mismatch: got %d, want %d", len(got.keys), len(leaf.keys))
	}
	for i := range leaf.keys {
		if got.keys[i] != leaf.keys[i] || got.values[i] != leaf.values[i] {
			t.Fatalf("entry %d mismatch: got (%d,%d), want (%d,%d)", i, got.keys[i], got.values[i], leaf.keys[i], leaf.values[i])
		}
	}
}

func TestLeafWithoutNextRoundTrips(t *testing.T) {
	kc, vc := uint64Codec(), uint64Codec()
	leaf := &leafNode[uint64, uint64]{ptr: 1, keys: []uint64{5}, values: []uint64{50}}

	pg, err := encodeLeaf(leaf, kc, vc)
	if err != nil {
		t.Fatalf("encodeLeaf: %v", err)
	}
	got, err := decodeLeaf(pg, kc, vc)
	if err != nil {
		t.Fatalf("decodeLeaf: %v", err)
	}
	if got.hasNext {
		t.Fatalf("expected hasNext=false, got true")
	}
}

func TestInnerEncodeDecodeRoundTrip(t *testing.T) {
	kc := uint64Codec()
	in := &innerNode[uint64]{
		ptr:      3,
		keys:     []uint64{10, 20},
		children: []pager.PagePtr{1, 2, 4},
	}

	pg, err := encodeInner(in, kc)
	if err != nil {
		t.Fatalf("encodeInner: %v", err)
	}
	got, err := decodeInner(pg, kc)
	if err != nil {
		t.Fatalf("decodeInner: %v", err)
	}

	if got.ptr != in.ptr {
		t.Fatalf("ptr mismatch: got %d, want %d", got.ptr, in.ptr)
	}
	if len(got.children) != len(got.keys)+1 {
		t.Fatalf("children count %d does not satisfy keys+1 (%d)", len(got.children), len(got.keys)+1)
	}
	for i := range in.keys {
		if got.keys[i] != in.keys[i] {
			t.Fatalf("key %d mismatch: got %d, want %d", i, got.keys[i], in.keys[i])
		}
	}
	for i := range in.children {
		if got.children[i] != in.children[i] {
			t.Fatalf("child %d mismatch: got %d, want %d", i, got.children[i], in.children[i])
		}
	}
}

func TestDecodeNodeDispatchesOnKind(t *testing.T) {
	kc, vc := uint64Codec(), uint64Codec()

	leafPg, err := encodeLeaf(&leafNode[uint64, uint64]{ptr: 0, keys: []uint64{1}, values: []uint64{1}}, kc, vc)
	if err != nil {
		t.Fatalf("encodeLeaf: %v", err)
	}
	n, err := decodeNode(leafPg, kc, vc)
	if err != nil {
		t.Fatalf("decodeNode(leaf): %v", err)
	}
	if n.kind != kindLeaf || n.leaf == nil {
		t.Fatalf("expected a decoded leaf node")
	}

	innerPg, err := encodeInner(&innerNode[uint64]{ptr: 1, keys: []uint64{1}, children: []pager.PagePtr{0, 2}}, kc)
	if err != nil {
		t.Fatalf("encodeInner: %v", err)
	}
	n, err = decodeNode(innerPg, kc, vc)
	if err != nil {
		t.Fatalf("decodeNode(inner): %v", err)
	}
	if n.kind != kindInner || n.inner == nil {
		t.Fatalf("expected a decoded inner node")
	}
}

func TestDecodeNodeRejectsUnknownKind(t *testing.T) {
	kc, vc := uint64Codec(), uint64Codec()
	var pg pager.Page
	pg[offNodeKind] = 0xFF
	if _, err := decodeNode(&pg, kc, vc); err == nil {
		t.Fatalf("expected an error for an unknown node-kind byte")
	}
}
