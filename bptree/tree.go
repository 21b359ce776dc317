package bptree

import (
	"cmp"

	"github.com/cockroachdb/errors"
	"github.com/dbsys/bptreekv/engine/pager"
)

// Options configures the construction of a Tree.
type Options[K cmp.Ordered, V any] struct {
	// Path is the filesystem path to the backing file.
	Path string
	// KeyCodec and ValueCodec declare how keys and values are serialized
	// and their fixed encoded widths.
	KeyCodec   Codec[K]
	ValueCodec Codec[V]
	// OverrideMaxKeyCount forces the per-node fan-out instead of deriving it
	// from the codec sizes. Intended for tests that want to exercise
	// split/merge behavior without thousands of keys per node.
	OverrideMaxKeyCount int
}

// Tree is a persistent, disk-backed B+-tree mapping keys of type K to values
// of type V. A Tree owns its Pager exclusively and is not safe for
// concurrent use — wrap it in an external mutex if multiple goroutines need
// access.
type Tree[K cmp.Ordered, V any] struct {
	pager *pager.Pager
	kc    Codec[K]
	vc    Codec[V]

	root      *pager.PagePtr
	pageCount uint64

	maxKeyCount int
	splitAt     int

	freed   []pager.PagePtr
	metrics MetricsRecorder
}

// MetricsRecorder receives page-level events as the engine runs, so callers
// can wire in observability without this package depending on any
// particular metrics backend. See package metrics for a Prometheus-backed
// implementation.
type MetricsRecorder interface {
	PageLoaded()
	PagePersisted()
	PageAllocated()
	PageFreed()
}

// WithMetrics attaches a MetricsRecorder to the tree; nil detaches it. It
// returns t so it can be chained onto Open's result.
func (t *Tree[K, V]) WithMetrics(m MetricsRecorder) *Tree[K, V] {
	t.metrics = m
	return t
}

// nodeHeaderSize is the fixed portion of every encoded page (offBlobs from
// node.go), shared by leaf and inner layouts alike.
const nodeHeaderSize = offBlobs

// Open creates the backing file at opts.Path (truncating any existing
// contents — see pager.Open) and returns an empty Tree
// ready for use.
func Open[K cmp.Ordered, V any](opts Options[K, V]) (*Tree[K, V], error) {
	p, err := pager.Open(opts.Path)
	if err != nil {
		return nil, errors.Wrap(err, "bptree: open")
	}

	maxKeyCount := opts.OverrideMaxKeyCount
	if maxKeyCount <= 0 {
		k, v := opts.KeyCodec.Size, opts.ValueCodec.Size
		maxKeyCount = (pager.PageSize - v - nodeHeaderSize) / (k + v)
	}
	if maxKeyCount < 2 {
		return nil, errors.Newf("bptree: computed max_key_count %d is too small for the configured page size", maxKeyCount)
	}

	return &Tree[K, V]{
		pager:       p,
		kc:          opts.KeyCodec,
		vc:          opts.ValueCodec,
		maxKeyCount: maxKeyCount,
		splitAt:     ceilDiv(maxKeyCount, 2),
	}, nil
}

// Close closes the backing file.
func (t *Tree[K, V]) Close() error {
	return t.pager.Close()
}

// MaxKeyCount returns the per-node fan-out this tree was constructed with.
func (t *Tree[K, V]) MaxKeyCount() int { return t.maxKeyCount }

// SplitAt returns the minimum key count every non-root node must hold.
func (t *Tree[K, V]) SplitAt() int { return t.splitAt }

// FreedPages returns the in-memory list of page indices logically freed by
// merges and root collapses so far. They are never reused within the
// process lifetime and are not persisted (see the free-list design note).
func (t *Tree[K, V]) FreedPages() []pager.PagePtr {
	return append([]pager.PagePtr(nil), t.freed...)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// allocate reserves the next PagePtr. The caller must persist a node there
// before allocating again, so that file append order stays dense and in
// step with the PagePtr sequence.
func (t *Tree[K, V]) allocate() pager.PagePtr {
	ptr := pager.PagePtr(t.pageCount)
	t.pageCount++
	if t.metrics != nil {
		t.metrics.PageAllocated()
	}
	return ptr
}

func (t *Tree[K, V]) free(ptr pager.PagePtr) {
	t.freed = append(t.freed, ptr)
	if t.metrics != nil {
		t.metrics.PageFreed()
	}
}

func (t *Tree[K, V]) load(ptr pager.PagePtr) (*node[K, V], error) {
	pg, err := t.pager.Load(ptr)
	if err != nil {
		return nil, errors.Wrapf(err, "bptree: load page %d", ptr)
	}
	if t.metrics != nil {
		t.metrics.PageLoaded()
	}
	return decodeNode(pg, t.kc, t.vc)
}

// persist re-encodes n and writes it through the pager, appending when the
// page does not yet exist on disk. A PageNotFound from Insert is exactly the
// pager's documented signal that a freshly allocated PagePtr needs Append
// instead of Insert — it is recovered here, never surfaced to the caller.
func (t *Tree[K, V]) persist(n *node[K, V]) error {
	pg, err := encodeNode(n, t.kc, t.vc)
	if err != nil {
		return err
	}
	if err := t.pager.Insert(n.ptr(), pg); err != nil {
		if errors.Is(err, pager.ErrPageNotFound) {
			if err := t.pager.Append(pg); err != nil {
				return err
			}
			if t.metrics != nil {
				t.metrics.PagePersisted()
			}
			return nil
		}
		return errors.Wrapf(err, "bptree: persist page %d", n.ptr())
	}
	if t.metrics != nil {
		t.metrics.PagePersisted()
	}
	return nil
}

// locate returns the lower-bound index i: the smallest index with
// keys[i] >= target, or len(keys) if target exceeds every key. exact
// reports whether keys[i] == target.
func locate[K cmp.Ordered](keys []K, target K) (i int, exact bool) {
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

// frame records one step of a descent through an inner node: which child was
// followed, and the sibling/parent index bookkeeping needed to rebalance the
// chosen child on the way back up. The lparent/rparent naming follows the
// source: rparent is the separator key touched when borrowing from the left
// sibling, lparent the one touched when borrowing from the right sibling —
// counter to what the names suggest geometrically, but consistent with how
// the source's own borrow routines index into the parent.
type frame[K cmp.Ordered] struct {
	node     *innerNode[K]
	childIdx int

	lparent, rparent       int
	hasLParent, hasRParent bool

	lsibling, rsibling       pager.PagePtr
	hasLSibling, hasRSibling bool
}

// childInfo computes which child of in to follow for key, plus the frame
// describing that child's position among its siblings, per the routing rule
// and the exact-match/ordinary index formulas.
func childInfo[K cmp.Ordered](in *innerNode[K], key K) (childIdx int, f frame[K]) {
	i, exact := locate(in.keys, key)
	f.node = in

	if exact {
		childIdx = i + 1
		f.rparent, f.hasRParent = i, true
		if i+1 < len(in.keys) {
			f.lparent, f.hasLParent = i+1, true
		}
		f.lsibling, f.hasLSibling = in.children[i], true
		if i+2 < len(in.children) {
			f.rsibling, f.hasRSibling = in.children[i+2], true
		}
	} else {
		childIdx = i
		if i < len(in.keys) {
			f.lparent, f.hasLParent = i, true
		}
		if i-1 >= 0 {
			f.rparent, f.hasRParent = i-1, true
			f.lsibling, f.hasLSibling = in.children[i-1], true
		}
		if i+1 < len(in.children) {
			f.rsibling, f.hasRSibling = in.children[i+1], true
		}
	}
	f.childIdx = childIdx
	return childIdx, f
}

// descend walks from the root to the leaf that would hold key, building the
// stack of inner-node frames visited along the way (root first).
func (t *Tree[K, V]) descend(key K) (*leafNode[K, V], []frame[K], error) {
	if t.root == nil {
		return nil, nil, ErrRootIsNull
	}
	var stack []frame[K]
	ptr := *t.root
	for {
		n, err := t.load(ptr)
		if err != nil {
			return nil, nil, err
		}
		if n.kind == kindLeaf {
			return n.leaf, stack, nil
		}
		childIdx, f := childInfo(n.inner, key)
		stack = append(stack, f)
		ptr = n.inner.children[childIdx]
	}
}

// Get returns the value stored for key. It fails with ErrRootIsNull on an
// empty tree and ErrKeyNotFound when the key is absent.
func (t *Tree[K, V]) Get(key K) (V, error) {
	var zero V
	leaf, _, err := t.descend(key)
	if err != nil {
		return zero, err
	}
	idx, exact := locate(leaf.keys, key)
	if !exact {
		return zero, ErrKeyNotFound
	}
	return leaf.values[idx], nil
}

// Set inserts key/value, or overwrites the value if key is already present.
func (t *Tree[K, V]) Set(key K, value V) error {
	if t.root == nil {
		ptr := t.allocate()
		leaf := &leafNode[K, V]{ptr: ptr, keys: []K{key}, values: []V{value}}
		if err := t.persist(&node[K, V]{kind: kindLeaf, leaf: leaf}); err != nil {
			return err
		}
		t.root = &ptr
		return nil
	}

	leaf, stack, err := t.descend(key)
	if err != nil {
		return err
	}

	idx, exact := locate(leaf.keys, key)
	if exact {
		leaf.values[idx] = value
		return t.persist(&node[K, V]{kind: kindLeaf, leaf: leaf})
	}

	insertAt(&leaf.keys, idx, key)
	insertAt(&leaf.values, idx, value)

	if len(leaf.keys) <= t.maxKeyCount {
		return t.persist(&node[K, V]{kind: kindLeaf, leaf: leaf})
	}
	return t.splitLeafAndPropagate(leaf, stack)
}

// splitLeafAndPropagate splits an overflowing leaf (already holding
// max_key_count+1 keys, inserted before the overflow check) at split_at, and
// propagates the new (split_key, right_ptr) pair up through stack.
func (t *Tree[K, V]) splitLeafAndPropagate(leaf *leafNode[K, V], stack []frame[K]) error {
	splitAt := t.splitAt
	rightPtr := t.allocate()

	right := &leafNode[K, V]{
		ptr:     rightPtr,
		keys:    append([]K(nil), leaf.keys[splitAt:]...),
		values:  append([]V(nil), leaf.values[splitAt:]...),
		hasNext: leaf.hasNext,
		next:    leaf.next,
	}
	leaf.keys = leaf.keys[:splitAt]
	leaf.values = leaf.values[:splitAt]
	leaf.hasNext = true
	leaf.next = rightPtr

	if err := t.persist(&node[K, V]{kind: kindLeaf, leaf: right}); err != nil {
		return err
	}
	if err := t.persist(&node[K, V]{kind: kindLeaf, leaf: leaf}); err != nil {
		return err
	}
	return t.propagateSplit(stack, right.keys[0], rightPtr)
}

// propagateSplit inserts (sepKey, rightPtr) into the innermost frame on
// stack, splitting that inner node again if it overflows, and continuing
// upward until an insertion fits or the stack is exhausted — in which case a
// new root is allocated.
func (t *Tree[K, V]) propagateSplit(stack []frame[K], sepKey K, rightPtr pager.PagePtr) error {
	for i := len(stack) - 1; i >= 0; i-- {
		parent := stack[i].node
		childIdx := stack[i].childIdx

		insertAt(&parent.keys, childIdx, sepKey)
		insertAt(&parent.children, childIdx+1, rightPtr)

		if len(parent.keys) <= t.maxKeyCount {
			return t.persist(&node[K, V]{kind: kindInner, inner: parent})
		}

		// parent overflowed: the separator at split_at is moved up (not
		// copied) into the caller, per the "moved up" semantics fixed by
		// the source's design notes.
		splitAt := t.splitAt
		movedUp := parent.keys[splitAt]
		rightPtr2 := t.allocate()
		rightInner := &innerNode[K]{
			ptr:      rightPtr2,
			keys:     append([]K(nil), parent.keys[splitAt+1:]...),
			children: append([]pager.PagePtr(nil), parent.children[splitAt+1:]...),
		}
		parent.keys = parent.keys[:splitAt]
		parent.children = parent.children[:splitAt+1]

		if err := t.persist(&node[K, V]{kind: kindInner, inner: rightInner}); err != nil {
			return err
		}
		if err := t.persist(&node[K, V]{kind: kindInner, inner: parent}); err != nil {
			return err
		}

		sepKey = movedUp
		rightPtr = rightPtr2
	}

	// The split reached the root. The old root's page is unchanged (left
	// halves always keep their original PagePtr), so it becomes the new
	// root's left child.
	newRootPtr := t.allocate()
	newRoot := &innerNode[K]{
		ptr:      newRootPtr,
		keys:     []K{sepKey},
		children: []pager.PagePtr{*t.root, rightPtr},
	}
	if err := t.persist(&node[K, V]{kind: kindInner, inner: newRoot}); err != nil {
		return err
	}
	t.root = &newRootPtr
	return nil
}

// Remove deletes key. It fails with ErrRootIsNull on an empty tree; removing
// an absent key from a non-empty tree silently succeeds, matching the
// source's observed (if perhaps unintended) behavior.
func (t *Tree[K, V]) Remove(key K) error {
	leaf, stack, err := t.descend(key)
	if err != nil {
		return err
	}

	idx, exact := locate(leaf.keys, key)
	if !exact {
		return nil
	}
	removeAt(&leaf.keys, idx)
	removeAt(&leaf.values, idx)

	if len(stack) == 0 || len(leaf.keys) >= t.splitAt {
		// Either the leaf is the root (no minimum applies) or it is still
		// within bounds.
		return t.persist(&node[K, V]{kind: kindLeaf, leaf: leaf})
	}
	return t.rebalanceLeaf(leaf, stack)
}

// rebalanceLeaf restores the invariant for an under-full leaf via, in order,
// borrow-from-left, borrow-from-right, then merge.
func (t *Tree[K, V]) rebalanceLeaf(leaf *leafNode[K, V], stack []frame[K]) error {
	f := stack[len(stack)-1]

	if f.hasLSibling {
		ln, err := t.load(f.lsibling)
		if err != nil {
			return err
		}
		left := ln.leaf
		if len(left.keys) > t.splitAt {
			k := removeAt(&left.keys, len(left.keys)-1)
			v := removeAt(&left.values, len(left.values)-1)
			insertAt(&leaf.keys, 0, k)
			insertAt(&leaf.values, 0, v)

			if err := t.persist(&node[K, V]{kind: kindLeaf, leaf: left}); err != nil {
				return err
			}
			if err := t.persist(&node[K, V]{kind: kindLeaf, leaf: leaf}); err != nil {
				return err
			}
			f.node.keys[f.rparent] = k
			return t.persist(&node[K, V]{kind: kindInner, inner: f.node})
		}
	}

	if f.hasRSibling {
		rn, err := t.load(f.rsibling)
		if err != nil {
			return err
		}
		right := rn.leaf
		if len(right.keys) > t.splitAt {
			k := removeAt(&right.keys, 0)
			v := removeAt(&right.values, 0)
			leaf.keys = append(leaf.keys, k)
			leaf.values = append(leaf.values, v)

			if err := t.persist(&node[K, V]{kind: kindLeaf, leaf: leaf}); err != nil {
				return err
			}
			if err := t.persist(&node[K, V]{kind: kindLeaf, leaf: right}); err != nil {
				return err
			}
			f.node.keys[f.lparent] = right.keys[0]
			return t.persist(&node[K, V]{kind: kindInner, inner: f.node})
		}
	}

	// Merge. Guarded uniformly by next-pointer adjacency on both sides —
	// the source only guards the right-hand branch this way and leaves the
	// left-hand branch to parent-index arithmetic alone; this tree checks
	// adjacency on both, per the design notes' guidance.
	if f.hasLSibling {
		ln, err := t.load(f.lsibling)
		if err != nil {
			return err
		}
		left := ln.leaf
		if left.hasNext && left.next == leaf.ptr {
			left.keys = append(left.keys, leaf.keys...)
			left.values = append(left.values, leaf.values...)
			left.hasNext = leaf.hasNext
			left.next = leaf.next
			if err := t.persist(&node[K, V]{kind: kindLeaf, leaf: left}); err != nil {
				return err
			}
			t.free(leaf.ptr)
			return t.propagateRemove(stack, f.childIdx, f.rparent)
		}
	}

	if f.hasRSibling {
		rn, err := t.load(f.rsibling)
		if err != nil {
			return err
		}
		right := rn.leaf
		if leaf.hasNext && leaf.next == right.ptr {
			leaf.keys = append(leaf.keys, right.keys...)
			leaf.values = append(leaf.values, right.values...)
			leaf.hasNext = right.hasNext
			leaf.next = right.next
			if err := t.persist(&node[K, V]{kind: kindLeaf, leaf: leaf}); err != nil {
				return err
			}
			t.free(right.ptr)
			return t.propagateRemove(stack, f.childIdx+1, f.lparent)
		}
	}

	// No sibling can absorb this leaf (it is an only child) — leave it
	// under-full. This only arises transiently one level below a root that
	// is itself about to collapse.
	return t.persist(&node[K, V]{kind: kindLeaf, leaf: leaf})
}

// propagateRemove removes the child pointer at delChildIdx and the
// separator key at delKeyIdx from stack's innermost node, then walks upward
// applying the same rebalance policy to inner nodes until a level is left in
// bounds, the root is reached, or a merge bottoms out.
func (t *Tree[K, V]) propagateRemove(stack []frame[K], delChildIdx, delKeyIdx int) error {
	for i := len(stack) - 1; i >= 0; i-- {
		parent := stack[i].node
		removeAt(&parent.children, delChildIdx)
		removeAt(&parent.keys, delKeyIdx)

		if i == 0 {
			if len(parent.keys) == 0 && len(parent.children) == 1 {
				t.free(parent.ptr)
				newRoot := parent.children[0]
				t.root = &newRoot
				return nil
			}
			return t.persist(&node[K, V]{kind: kindInner, inner: parent})
		}

		if len(parent.keys) >= t.splitAt {
			return t.persist(&node[K, V]{kind: kindInner, inner: parent})
		}

		merged, nextDelChildIdx, nextDelKeyIdx, err := t.rebalanceInner(parent, stack[i-1])
		if err != nil {
			return err
		}
		if !merged {
			return nil
		}
		delChildIdx, delKeyIdx = nextDelChildIdx, nextDelKeyIdx
	}
	return nil
}

// rebalanceInner restores the invariant for an under-full inner node self,
// reached via gf (self's position among its own parent's children). It
// returns merged=true plus the child/key indices that must be removed from
// the grandparent when a merge occurred (mirroring propagateRemove's own
// delChildIdx/delKeyIdx contract one level up); merged=false means a borrow
// resolved the underflow and nothing further propagates.
func (t *Tree[K, V]) rebalanceInner(self *innerNode[K], gf frame[K]) (merged bool, delChildIdx, delKeyIdx int, err error) {
	grandparent := gf.node

	if gf.hasLSibling {
		ln, lerr := t.load(gf.lsibling)
		if lerr != nil {
			err = lerr
			return
		}
		left := ln.inner
		if len(left.keys) > t.splitAt {
			borrowedChild := removeAt(&left.children, len(left.children)-1)
			borrowedKey := removeAt(&left.keys, len(left.keys)-1)
			oldSep := grandparent.keys[gf.rparent]

			insertAt(&self.keys, 0, oldSep)
			insertAt(&self.children, 0, borrowedChild)
			grandparent.keys[gf.rparent] = borrowedKey

			if err = t.persist(&node[K, V]{kind: kindInner, inner: left}); err != nil {
				return
			}
			if err = t.persist(&node[K, V]{kind: kindInner, inner: self}); err != nil {
				return
			}
			err = t.persist(&node[K, V]{kind: kindInner, inner: grandparent})
			return
		}
	}

	if gf.hasRSibling {
		rn, rerr := t.load(gf.rsibling)
		if rerr != nil {
			err = rerr
			return
		}
		right := rn.inner
		if len(right.keys) > t.splitAt {
			borrowedChild := removeAt(&right.children, 0)
			borrowedKey := removeAt(&right.keys, 0)
			oldSep := grandparent.keys[gf.lparent]

			self.keys = append(self.keys, oldSep)
			self.children = append(self.children, borrowedChild)
			grandparent.keys[gf.lparent] = borrowedKey

			if err = t.persist(&node[K, V]{kind: kindInner, inner: self}); err != nil {
				return
			}
			if err = t.persist(&node[K, V]{kind: kindInner, inner: right}); err != nil {
				return
			}
			err = t.persist(&node[K, V]{kind: kindInner, inner: grandparent})
			return
		}
	}

	// Merge. Inner merges pull the grandparent separator down into the
	// merged node — unlike leaf merges, an inner node stores no payload of
	// its own to witness the boundary between the two halves, so the
	// separator key is the only record of it.
	if gf.hasLSibling {
		ln, lerr := t.load(gf.lsibling)
		if lerr != nil {
			err = lerr
			return
		}
		left := ln.inner
		sep := grandparent.keys[gf.rparent]
		left.keys = append(left.keys, sep)
		left.keys = append(left.keys, self.keys...)
		left.children = append(left.children, self.children...)

		if err = t.persist(&node[K, V]{kind: kindInner, inner: left}); err != nil {
			return
		}
		t.free(self.ptr)
		return true, gf.childIdx, gf.rparent, nil
	}

	if gf.hasRSibling {
		rn, rerr := t.load(gf.rsibling)
		if rerr != nil {
			err = rerr
			return
		}
		right := rn.inner
		sep := grandparent.keys[gf.lparent]
		self.keys = append(self.keys, sep)
		self.keys = append(self.keys, right.keys...)
		self.children = append(self.children, right.children...)

		if err = t.persist(&node[K, V]{kind: kindInner, inner: self}); err != nil {
			return
		}
		t.free(right.ptr)
		return true, gf.childIdx + 1, gf.lparent, nil
	}

	// No sibling at all: leave under-full. Only reachable one level below a
	// root that is about to collapse.
	err = t.persist(&node[K, V]{kind: kindInner, inner: self})
	return
}
