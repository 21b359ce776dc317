package bptree

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/dbsys/bptreekv/engine/pager"
)

// Codec describes how a single element of type T is turned into bytes and
// back. Size is the declared, constant encoded width of one element — it is
// what max_key_count is computed from, so Encode must produce exactly Size
// bytes for any value the tree will actually store; encodeSeq rejects any
// other length.
type Codec[T any] struct {
	Size   int
	Encode func(T) []byte
	Decode func([]byte) T
}

// encodeSeq produces the deterministic wire form of a sequence: each
// element's fixed-width encoding, back to back, with no internal length
// prefix. The sequence's own length prefix lives one level up, in the node
// header's keys-blob-length / values-blob-length fields — that is the
// "size-prefixed encoding" the node layout describes, and it is also why
// max_key_count's arithmetic only needs to budget the 34-byte header plus
// n*(k+v) payload bytes, not a second count field per blob.
func encodeSeq[T any](c Codec[T], items []T) ([]byte, error) {
	out := make([]byte, len(items)*c.Size)
	for i, item := range items {
		b := c.Encode(item)
		if len(b) != c.Size {
			return nil, errors.Wrapf(ErrPageSizeNotEnough, "encoded element length %d does not match declared size %d", len(b), c.Size)
		}
		copy(out[i*c.Size:(i+1)*c.Size], b)
	}
	return out, nil
}

// decodeSeq is the inverse of encodeSeq; n is recovered from the blob length
// recorded in the node header, not from any in-blob prefix.
func decodeSeq[T any](c Codec[T], blob []byte) ([]T, error) {
	if c.Size == 0 || len(blob)%c.Size != 0 {
		return nil, errors.Wrapf(ErrUnknownNodeType, "sequence blob length %d is not a multiple of element size %d", len(blob), c.Size)
	}
	n := len(blob) / c.Size
	items := make([]T, n)
	for i := range items {
		off := i * c.Size
		items[i] = c.Decode(blob[off : off+c.Size])
	}
	return items, nil
}

// pagePtrCodec is the built-in codec for child-pointer sequences in inner
// nodes; it is fixed regardless of the caller's key/value types.
var pagePtrCodec = Codec[pager.PagePtr]{
	Size: 8,
	Encode: func(p pager.PagePtr) []byte {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(p))
		return b
	},
	Decode: func(b []byte) pager.PagePtr {
		return pager.PagePtr(binary.BigEndian.Uint64(b))
	},
}
