// Package btree implements the repository's in-tree comparison baseline:
// a disk-paged order-200 search tree with values stored only at the leaf
// level, a value heap on the side, and no leaf chain or range scans. It is
// algorithmically independent of bptree — cmd/benchkv runs both against
// the same workload so the B+-tree engine under test has something to be
// measured against besides cockroachdb/pebble.
package btree

import (
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/dbsys/bptreekv/dbms/pager"
)

// order bounds fan-out so a node's slot array plus its fixed header fits
// in one 4 KB page: 11-byte header + 199*20-byte slots = 3991 bytes.
const (
	order   = 200
	maxKeys = order - 1
	minKeys = (order - 1) / 2

	nodeTypeInner = byte(0)
	nodeTypeLeaf  = byte(1)

	hdrType       = 0
	hdrNumKeys    = 1
	hdrFirstChild = 3
	hdrSlotsStart = 11
	slotSize      = 20
	slotValOffset = 8
	slotValLen    = 16
)

// valueRef points into the value heap file: a byte offset and length.
type valueRef struct {
	offset int64
	length uint32
}

// node is the decoded, in-memory form of one page. Internal nodes carry
// len(keys)+1 children (children[0] is the page's firstChild slot); leaf
// nodes carry one valueRef per key and no children.
type node struct {
	id       uint64
	leaf     bool
	keys     []int64
	values   []valueRef // leaf only
	children []uint64   // internal only
}

func decodeNode(id uint64, pg *pager.Page) *node {
	n := int(binary.LittleEndian.Uint16(pg[hdrNumKeys : hdrNumKeys+2]))
	nd := &node{id: id, leaf: pg[hdrType] == nodeTypeLeaf, keys: make([]int64, n)}

	if nd.leaf {
		nd.values = make([]valueRef, n)
		for i := 0; i < n; i++ {
			off := hdrSlotsStart + i*slotSize
			nd.keys[i] = int64(binary.LittleEndian.Uint64(pg[off : off+8]))
			nd.values[i] = valueRef{
				offset: int64(binary.LittleEndian.Uint64(pg[off+slotValOffset : off+slotValOffset+8])),
				length: binary.LittleEndian.Uint32(pg[off+slotValLen : off+slotValLen+4]),
			}
		}
		return nd
	}

	nd.children = make([]uint64, n+1)
	nd.children[0] = binary.LittleEndian.Uint64(pg[hdrFirstChild : hdrFirstChild+8])
	for i := 0; i < n; i++ {
		off := hdrSlotsStart + i*slotSize
		nd.keys[i] = int64(binary.LittleEndian.Uint64(pg[off : off+8]))
		nd.children[i+1] = binary.LittleEndian.Uint64(pg[off+slotValOffset : off+slotValOffset+8])
	}
	return nd
}

func encodeNode(nd *node) *pager.Page {
	pg := new(pager.Page)
	binary.LittleEndian.PutUint16(pg[hdrNumKeys:hdrNumKeys+2], uint16(len(nd.keys)))

	if nd.leaf {
		pg[hdrType] = nodeTypeLeaf
		for i, k := range nd.keys {
			off := hdrSlotsStart + i*slotSize
			binary.LittleEndian.PutUint64(pg[off:], uint64(k))
			binary.LittleEndian.PutUint64(pg[off+slotValOffset:], uint64(nd.values[i].offset))
			binary.LittleEndian.PutUint32(pg[off+slotValLen:], nd.values[i].length)
		}
		return pg
	}

	pg[hdrType] = nodeTypeInner
	binary.LittleEndian.PutUint64(pg[hdrFirstChild:], nd.children[0])
	for i, k := range nd.keys {
		off := hdrSlotsStart + i*slotSize
		binary.LittleEndian.PutUint64(pg[off:], uint64(k))
		binary.LittleEndian.PutUint64(pg[off+slotValOffset:], nd.children[i+1])
	}
	return pg
}

// locate returns the position of the first key >= target (a lower bound)
// and whether that key equals target exactly.
func locate(keys []int64, target int64) (idx int, exact bool) {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < len(keys) && keys[lo] == target
}

func insertAt[T any](s *[]T, idx int, v T) {
	var zero T
	*s = append(*s, zero)
	copy((*s)[idx+1:], (*s)[idx:len(*s)-1])
	(*s)[idx] = v
}

func removeAt[T any](s *[]T, idx int) T {
	v := (*s)[idx]
	*s = append((*s)[:idx], (*s)[idx+1:]...)
	return v
}

// BTree is a single open tree, with its own page file and value heap file.
type BTree struct {
	pg      *pager.Pager
	heap    *os.File
	heapLen int64
	rootID  uint64
}

// Open opens (or creates) a tree rooted in the file at path, with an
// accompanying "<path>.bv" value heap, and caches up to cachePages pages.
func Open(path string, cachePages int) (*BTree, error) {
	pg, err := pager.Open(path, cachePages)
	if err != nil {
		return nil, errors.Wrap(err, "btree: open page file")
	}
	heap, err := os.OpenFile(path+".bv", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "btree: open value heap")
	}

	t := &BTree{pg: pg, heap: heap}
	info, err := heap.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "btree: stat value heap")
	}
	t.heapLen = info.Size()

	// Page 0 belongs to pager (its own page-count header). Page 1 is this
	// tree's root-pointer header; page 2 is the initial root leaf.
	if pg.PageCount() <= 2 {
		if _, err := pg.Allocate(); err != nil { // page 1: header
			return nil, err
		}
		rootID, err := pg.Allocate() // page 2: root leaf
		if err != nil {
			return nil, err
		}
		t.rootID = rootID
		if err := t.persist(&node{id: rootID, leaf: true}); err != nil {
			return nil, err
		}
		if err := t.writeHeader(); err != nil {
			return nil, err
		}
	} else {
		rootID, err := t.readHeader()
		if err != nil {
			return nil, err
		}
		t.rootID = rootID
	}
	return t, nil
}

// Close flushes the root pointer and closes both underlying files.
func (t *BTree) Close() error {
	if err := t.writeHeader(); err != nil {
		return err
	}
	if err := t.heap.Close(); err != nil {
		return err
	}
	return t.pg.Close()
}

// Insert writes key -> value, overwriting any existing value for key.
func (t *BTree) Insert(key int64, value []byte) error {
	ref, err := t.appendValue(value)
	if err != nil {
		return err
	}
	sepKey, rightID, split, err := t.insert(t.rootID, key, ref)
	if err != nil {
		return err
	}
	if !split {
		return nil
	}
	newRootID, err := t.pg.Allocate()
	if err != nil {
		return err
	}
	newRoot := &node{id: newRootID, keys: []int64{sepKey}, children: []uint64{t.rootID, rightID}}
	if err := t.persist(newRoot); err != nil {
		return err
	}
	t.rootID = newRootID
	return t.writeHeader()
}

func (t *BTree) insert(id uint64, key int64, ref valueRef) (sepKey int64, rightID uint64, split bool, err error) {
	pg, err := t.pg.Read(id)
	if err != nil {
		return 0, 0, false, err
	}
	nd := decodeNode(id, pg)

	if nd.leaf {
		idx, exact := locate(nd.keys, key)
		if exact {
			nd.values[idx] = ref
			return 0, 0, false, t.persist(nd)
		}
		insertAt(&nd.keys, idx, key)
		insertAt(&nd.values, idx, ref)
		if len(nd.keys) <= maxKeys {
			return 0, 0, false, t.persist(nd)
		}
		return t.splitLeaf(nd)
	}

	idx, exact := locate(nd.keys, key)
	if exact {
		idx++ // a key equal to a separator lives in its right subtree
	}
	childSep, childRightID, childSplit, err := t.insert(nd.children[idx], key, ref)
	if err != nil || !childSplit {
		return 0, 0, false, err
	}
	insertAt(&nd.keys, idx, childSep)
	insertAt(&nd.children, idx+1, childRightID)
	if len(nd.keys) <= maxKeys {
		return 0, 0, false, t.persist(nd)
	}
	return t.splitInternal(nd)
}

func (t *BTree) splitLeaf(nd *node) (int64, uint64, bool, error) {
	mid := len(nd.keys) / 2
	rightID, err := t.pg.Allocate()
	if err != nil {
		return 0, 0, false, err
	}
	right := &node{
		id:     rightID,
		leaf:   true,
		keys:   append([]int64(nil), nd.keys[mid:]...),
		values: append([]valueRef(nil), nd.values[mid:]...),
	}
	nd.keys, nd.values = nd.keys[:mid], nd.values[:mid]

	if err := t.persist(nd); err != nil {
		return 0, 0, false, err
	}
	if err := t.persist(right); err != nil {
		return 0, 0, false, err
	}
	return right.keys[0], rightID, true, nil
}

func (t *BTree) splitInternal(nd *node) (int64, uint64, bool, error) {
	mid := len(nd.keys) / 2
	midKey := nd.keys[mid]
	rightID, err := t.pg.Allocate()
	if err != nil {
		return 0, 0, false, err
	}
	right := &node{
		id:       rightID,
		keys:     append([]int64(nil), nd.keys[mid+1:]...),
		children: append([]uint64(nil), nd.children[mid+1:]...),
	}
	nd.keys, nd.children = nd.keys[:mid], nd.children[:mid+1]

	if err := t.persist(nd); err != nil {
		return 0, 0, false, err
	}
	if err := t.persist(right); err != nil {
		return 0, 0, false, err
	}
	return midKey, rightID, true, nil
}

// Get returns the value stored for key, or (nil, nil) if key is absent.
func (t *BTree) Get(key int64) ([]byte, error) {
	id := t.rootID
	for {
		pg, err := t.pg.Read(id)
		if err != nil {
			return nil, err
		}
		nd := decodeNode(id, pg)
		if nd.leaf {
			idx, exact := locate(nd.keys, key)
			if !exact {
				return nil, nil
			}
			return t.readValue(nd.values[idx])
		}
		idx, exact := locate(nd.keys, key)
		if exact {
			idx++
		}
		id = nd.children[idx]
	}
}

// frame records a step taken while descending to a leaf, so Delete can
// walk back up and rebalance without re-reading pages from the root.
type frame struct {
	node     *node
	childIdx int
}

func (t *BTree) descend(key int64) ([]frame, *node, error) {
	var stack []frame
	id := t.rootID
	for {
		pg, err := t.pg.Read(id)
		if err != nil {
			return nil, nil, err
		}
		nd := decodeNode(id, pg)
		if nd.leaf {
			return stack, nd, nil
		}
		idx, exact := locate(nd.keys, key)
		if exact {
			idx++
		}
		stack = append(stack, frame{node: nd, childIdx: idx})
		id = nd.children[idx]
	}
}

// Delete removes key, silently succeeding if key is absent.
func (t *BTree) Delete(key int64) error {
	stack, leaf, err := t.descend(key)
	if err != nil {
		return err
	}
	idx, exact := locate(leaf.keys, key)
	if !exact {
		return nil
	}
	removeAt(&leaf.keys, idx)
	removeAt(&leaf.values, idx)

	if len(stack) == 0 || len(leaf.keys) >= minKeys {
		return t.persist(leaf)
	}
	return t.rebalanceLeaf(leaf, stack)
}

func (t *BTree) rebalanceLeaf(leaf *node, stack []frame) error {
	parent := stack[len(stack)-1].node
	ci := stack[len(stack)-1].childIdx

	if ci > 0 {
		left, err := t.readNode(parent.children[ci-1])
		if err != nil {
			return err
		}
		if len(left.keys) > minKeys {
			k := removeAt(&left.keys, len(left.keys)-1)
			v := removeAt(&left.values, len(left.values)-1)
			insertAt(&leaf.keys, 0, k)
			insertAt(&leaf.values, 0, v)
			parent.keys[ci-1] = k
			return t.persistAll(left, leaf, parent)
		}
	}
	if ci < len(parent.children)-1 {
		right, err := t.readNode(parent.children[ci+1])
		if err != nil {
			return err
		}
		if len(right.keys) > minKeys {
			k := removeAt(&right.keys, 0)
			v := removeAt(&right.values, 0)
			leaf.keys = append(leaf.keys, k)
			leaf.values = append(leaf.values, v)
			parent.keys[ci] = right.keys[0]
			return t.persistAll(leaf, right, parent)
		}
	}

	// Neither sibling can spare a key: merge into one node.
	if ci > 0 {
		left, err := t.readNode(parent.children[ci-1])
		if err != nil {
			return err
		}
		left.keys = append(left.keys, leaf.keys...)
		left.values = append(left.values, leaf.values...)
		if err := t.persist(left); err != nil {
			return err
		}
		removeAt(&parent.children, ci)
		removeAt(&parent.keys, ci-1)
	} else {
		right, err := t.readNode(parent.children[ci+1])
		if err != nil {
			return err
		}
		leaf.keys = append(leaf.keys, right.keys...)
		leaf.values = append(leaf.values, right.values...)
		if err := t.persist(leaf); err != nil {
			return err
		}
		removeAt(&parent.children, ci+1)
		removeAt(&parent.keys, ci)
	}
	return t.rebalanceInner(stack[:len(stack)-1], parent)
}

// rebalanceInner restores the minimum-occupancy invariant for self after
// one of its children was merged away, borrowing a key from a sibling
// through the grandparent or merging self with a sibling in turn.
func (t *BTree) rebalanceInner(stack []frame, self *node) error {
	if len(stack) == 0 {
		if len(self.keys) == 0 && len(self.children) == 1 {
			t.rootID = self.children[0]
			return t.writeHeader()
		}
		return t.persist(self)
	}
	if len(self.keys) >= minKeys {
		return t.persist(self)
	}

	parent := stack[len(stack)-1].node
	ci := stack[len(stack)-1].childIdx

	if ci > 0 {
		left, err := t.readNode(parent.children[ci-1])
		if err != nil {
			return err
		}
		if len(left.keys) > minKeys {
			sep := parent.keys[ci-1]
			borrowedChild := removeAt(&left.children, len(left.children)-1)
			borrowedKey := removeAt(&left.keys, len(left.keys)-1)
			insertAt(&self.keys, 0, sep)
			insertAt(&self.children, 0, borrowedChild)
			parent.keys[ci-1] = borrowedKey
			return t.persistAll(left, self, parent)
		}
	}
	if ci < len(parent.children)-1 {
		right, err := t.readNode(parent.children[ci+1])
		if err != nil {
			return err
		}
		if len(right.keys) > minKeys {
			sep := parent.keys[ci]
			borrowedChild := removeAt(&right.children, 0)
			borrowedKey := removeAt(&right.keys, 0)
			self.keys = append(self.keys, sep)
			self.children = append(self.children, borrowedChild)
			parent.keys[ci] = borrowedKey
			return t.persistAll(self, right, parent)
		}
	}

	if ci > 0 {
		left, err := t.readNode(parent.children[ci-1])
		if err != nil {
			return err
		}
		left.keys = append(left.keys, parent.keys[ci-1])
		left.keys = append(left.keys, self.keys...)
		left.children = append(left.children, self.children...)
		if err := t.persist(left); err != nil {
			return err
		}
		removeAt(&parent.children, ci)
		removeAt(&parent.keys, ci-1)
	} else {
		right, err := t.readNode(parent.children[ci+1])
		if err != nil {
			return err
		}
		self.keys = append(self.keys, parent.keys[ci])
		self.keys = append(self.keys, right.keys...)
		self.children = append(self.children, right.children...)
		if err := t.persist(self); err != nil {
			return err
		}
		removeAt(&parent.children, ci+1)
		removeAt(&parent.keys, ci)
	}
	return t.rebalanceInner(stack[:len(stack)-1], parent)
}

func (t *BTree) readNode(id uint64) (*node, error) {
	pg, err := t.pg.Read(id)
	if err != nil {
		return nil, err
	}
	return decodeNode(id, pg), nil
}

func (t *BTree) persist(nd *node) error {
	return t.pg.Write(nd.id, encodeNode(nd))
}

func (t *BTree) persistAll(nodes ...*node) error {
	for _, nd := range nodes {
		if err := t.persist(nd); err != nil {
			return err
		}
	}
	return nil
}

// --- value heap: an append-only file of fixed-length-known blobs, kept ---
// --- separate from the page file so values don't churn the page cache. ---

func (t *BTree) appendValue(value []byte) (valueRef, error) {
	offset := t.heapLen
	if _, err := t.heap.WriteAt(value, offset); err != nil {
		return valueRef{}, errors.Wrap(err, "btree: append value")
	}
	t.heapLen += int64(len(value))
	return valueRef{offset: offset, length: uint32(len(value))}, nil
}

func (t *BTree) readValue(ref valueRef) ([]byte, error) {
	buf := make([]byte, ref.length)
	if _, err := t.heap.ReadAt(buf, ref.offset); err != nil {
		return nil, errors.Wrap(err, "btree: read value")
	}
	return buf, nil
}

// --- root pointer header, stored in page 1 (page 0 belongs to pager) ---

func (t *BTree) writeHeader() error {
	var pg pager.Page
	binary.LittleEndian.PutUint64(pg[:8], t.rootID)
	return t.pg.Write(1, &pg)
}

func (t *BTree) readHeader() (uint64, error) {
	pg, err := t.pg.Read(1)
	if err != nil {
		return 0, errors.Wrap(err, "btree: read root header")
	}
	return binary.LittleEndian.Uint64(pg[:8]), nil
}
