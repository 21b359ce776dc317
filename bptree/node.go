package bptree

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/dbsys/bptreekv/engine/pager"
)

// nodeKind is the one-byte discriminant stored at offset 8 of every page.
type nodeKind uint8

const (
	kindLeaf  nodeKind = 0
	kindInner nodeKind = 1
)

const (
	offPagePtr  = 0
	offNodeKind = 8
	offHasNext  = 9
	offNextPtr  = 10
	offKeysLen  = 18
	offValsLen  = 26
	offBlobs    = 34
)

// leafNode is an ordered sequence of (key, value) pairs plus an optional
// pointer to the next leaf in key order. Inner nodes do not carry values;
// leaves do not carry child pointers — each variant owns exactly the fields
// it needs, per the tagged-variant layout the source recommends.
type leafNode[K any, V any] struct {
	ptr     pager.PagePtr
	keys    []K
	values  []V
	hasNext bool
	next    pager.PagePtr
}

// innerNode is an ordered sequence of keys and a parallel sequence of
// len(keys)+1 child pointers.
type innerNode[K any] struct {
	ptr      pager.PagePtr
	keys     []K
	children []pager.PagePtr
}

// node is a decoded page: exactly one of leaf/inner is non-nil, selected by
// kind.
type node[K any, V any] struct {
	kind  nodeKind
	leaf  *leafNode[K, V]
	inner *innerNode[K]
}

func (n *node[K, V]) ptr() pager.PagePtr {
	if n.kind == kindLeaf {
		return n.leaf.ptr
	}
	return n.inner.ptr
}

func encodeLeaf[K any, V any](n *leafNode[K, V], kc Codec[K], vc Codec[V]) (*pager.Page, error) {
	keysBlob, err := encodeSeq(kc, n.keys)
	if err != nil {
		return nil, errors.Wrap(err, "bptree: encode leaf keys")
	}
	valsBlob, err := encodeSeq(vc, n.values)
	if err != nil {
		return nil, errors.Wrap(err, "bptree: encode leaf values")
	}
	if offBlobs+len(keysBlob)+len(valsBlob) > pager.PageSize {
		return nil, errors.Wrapf(ErrPageSizeNotEnough, "leaf page %d: %d blob bytes exceed page", n.ptr, len(keysBlob)+len(valsBlob))
	}

	var pg pager.Page
	binary.BigEndian.PutUint64(pg[offPagePtr:offPagePtr+8], uint64(n.ptr))
	pg[offNodeKind] = byte(kindLeaf)
	if n.hasNext {
		pg[offHasNext] = 1
		binary.BigEndian.PutUint64(pg[offNextPtr:offNextPtr+8], uint64(n.next))
	}
	binary.BigEndian.PutUint64(pg[offKeysLen:offKeysLen+8], uint64(len(keysBlob)))
	binary.BigEndian.PutUint64(pg[offValsLen:offValsLen+8], uint64(len(valsBlob)))
	copy(pg[offBlobs:], keysBlob)
	copy(pg[offBlobs+len(keysBlob):], valsBlob)
	return &pg, nil
}

func decodeLeaf[K any, V any](pg *pager.Page, kc Codec[K], vc Codec[V]) (*leafNode[K, V], error) {
	ptr := pager.PagePtr(binary.BigEndian.Uint64(pg[offPagePtr : offPagePtr+8]))
	hasNext := pg[offHasNext] == 1
	next := pager.PagePtr(binary.BigEndian.Uint64(pg[offNextPtr : offNextPtr+8]))
	keysLen := binary.BigEndian.Uint64(pg[offKeysLen : offKeysLen+8])
	valsLen := binary.BigEndian.Uint64(pg[offValsLen : offValsLen+8])

	keysBlob := pg[offBlobs : offBlobs+keysLen]
	valsBlob := pg[offBlobs+keysLen : offBlobs+keysLen+valsLen]

	keys, err := decodeSeq(kc, keysBlob)
	if err != nil {
		return nil, errors.Wrapf(err, "bptree: decode leaf keys, page %d", ptr)
	}
	values, err := decodeSeq(vc, valsBlob)
	if err != nil {
		return nil, errors.Wrapf(err, "bptree: decode leaf values, page %d", ptr)
	}
	return &leafNode[K, V]{ptr: ptr, keys: keys, values: values, hasNext: hasNext, next: next}, nil
}

func encodeInner[K any](n *innerNode[K], kc Codec[K]) (*pager.Page, error) {
	keysBlob, err := encodeSeq(kc, n.keys)
	if err != nil {
		return nil, errors.Wrap(err, "bptree: encode inner keys")
	}
	childBlob, err := encodeSeq(pagePtrCodec, n.children)
	if err != nil {
		return nil, errors.Wrap(err, "bptree: encode inner children")
	}
	if offBlobs+len(keysBlob)+len(childBlob) > pager.PageSize {
		return nil, errors.Wrapf(ErrPageSizeNotEnough, "inner page %d: %d blob bytes exceed page", n.ptr, len(keysBlob)+len(childBlob))
	}

	var pg pager.Page
	binary.BigEndian.PutUint64(pg[offPagePtr:offPagePtr+8], uint64(n.ptr))
	pg[offNodeKind] = byte(kindInner)
	binary.BigEndian.PutUint64(pg[offKeysLen:offKeysLen+8], uint64(len(keysBlob)))
	binary.BigEndian.PutUint64(pg[offValsLen:offValsLen+8], uint64(len(childBlob)))
	copy(pg[offBlobs:], keysBlob)
	copy(pg[offBlobs+len(keysBlob):], childBlob)
	return &pg, nil
}

func decodeInner[K any](pg *pager.Page, kc Codec[K]) (*innerNode[K], error) {
	ptr := pager.PagePtr(binary.BigEndian.Uint64(pg[offPagePtr : offPagePtr+8]))
	keysLen := binary.BigEndian.Uint64(pg[offKeysLen : offKeysLen+8])
	childLen := binary.BigEndian.Uint64(pg[offValsLen : offValsLen+8])

	keysBlob := pg[offBlobs : offBlobs+keysLen]
	childBlob := pg[offBlobs+keysLen : offBlobs+keysLen+childLen]

	keys, err := decodeSeq(kc, keysBlob)
	if err != nil {
		return nil, errors.Wrapf(err, "bptree: decode inner keys, page %d", ptr)
	}
	children, err := decodeSeq(pagePtrCodec, childBlob)
	if err != nil {
		return nil, errors.Wrapf(err, "bptree: decode inner children, page %d", ptr)
	}
	return &innerNode[K]{ptr: ptr, keys: keys, children: children}, nil
}

// encodeNode dispatches on n.kind to the matching leaf/inner encoder.
func encodeNode[K any, V any](n *node[K, V], kc Codec[K], vc Codec[V]) (*pager.Page, error) {
	switch n.kind {
	case kindLeaf:
		return encodeLeaf(n.leaf, kc, vc)
	case kindInner:
		return encodeInner(n.inner, kc)
	default:
		return nil, errors.Wrapf(ErrUnknownNodeType, "kind %d", n.kind)
	}
}

// decodeNode reads the discriminant byte at offset 8 and dispatches to the
// matching leaf/inner decoder.
func decodeNode[K any, V any](pg *pager.Page, kc Codec[K], vc Codec[V]) (*node[K, V], error) {
	switch nodeKind(pg[offNodeKind]) {
	case kindLeaf:
		l, err := decodeLeaf(pg, kc, vc)
		if err != nil {
			return nil, err
		}
		return &node[K, V]{kind: kindLeaf, leaf: l}, nil
	case kindInner:
		i, err := decodeInner(pg, kc)
		if err != nil {
			return nil, err
		}
		return &node[K, V]{kind: kindInner, inner: i}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownNodeType, "byte %d", pg[offNodeKind])
	}
}
