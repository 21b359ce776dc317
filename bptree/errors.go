// Package bptree implements the node codec and B+-tree engine on top of
// package pager. A tree maps ordered keys of a fixed-encoded type to values
// of a similarly fixed-encoded type, supporting point get/set/remove. It is
// not safe for concurrent use — callers needing concurrency must wrap a
// Tree in their own mutual-exclusion primitive.
package bptree

import "github.com/cockroachdb/errors"

// ErrKeyNotFound is returned by Get when the key is absent from a non-empty
// tree.
var ErrKeyNotFound = errors.New("bptree: key not found")

// ErrRootIsNull is returned by Get and Remove when called on a tree that has
// never had a root allocated.
var ErrRootIsNull = errors.New("bptree: root is null")

// ErrPageSizeNotEnough is returned by the codec when an encoded node would
// overrun the fixed page size. Raising this error at encode time rather than
// silently truncating means a miscalibrated override_max_key_count fails
// loudly instead of corrupting the tree.
var ErrPageSizeNotEnough = errors.New("bptree: page size not enough")

// ErrUnknownNodeType is returned by the codec when the node-type byte at
// offset 8 of a page is neither 0 (leaf) nor 1 (inner). This is treated as a
// fatal corruption signal — the engine makes no attempt at repair.
var ErrUnknownNodeType = errors.New("bptree: unknown node type")
