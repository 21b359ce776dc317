package main

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"

	"github.com/dbsys/bptreekv/bptree"
	legacybtree "github.com/dbsys/bptreekv/dbms/index/btree"
	"github.com/dbsys/bptreekv/kv"
)

const benchValueSize = 512

// keyCodec and valueCodec configure the bptree.Tree engine under benchmark;
// values are always exactly benchValueSize bytes, matching the source's
// stress-test payload.
func keyCodec() bptree.Codec[int64] {
	return bptree.Codec[int64]{
		Size: 8,
		Encode: func(k int64) []byte {
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, uint64(k))
			return b
		},
		Decode: func(b []byte) int64 {
			return int64(binary.BigEndian.Uint64(b))
		},
	}
}

func valueCodec() bptree.Codec[[]byte] {
	return bptree.Codec[[]byte]{
		Size: benchValueSize,
		Encode: func(v []byte) []byte {
			return v
		},
		Decode: func(b []byte) []byte {
			return append([]byte(nil), b...)
		},
	}
}

// legacyBTreeStore adapts the kept on-disk B-tree comparator to kv.Store.
type legacyBTreeStore struct {
	bt *legacybtree.BTree
}

func (s *legacyBTreeStore) Get(key int64) ([]byte, error) {
	v, err := s.bt.Get(key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, kv.ErrKeyNotFound
	}
	return v, nil
}

func (s *legacyBTreeStore) Set(key int64, value []byte) error {
	return s.bt.Insert(key, value)
}

func (s *legacyBTreeStore) Remove(key int64) error {
	return s.bt.Delete(key)
}

// pebbleStore adapts cockroachdb/pebble to kv.Store, so the B+-tree engine
// under benchmark has a production-grade LSM to compare against, not just
// the repository's own B-tree.
type pebbleStore struct {
	db *pebble.DB
}

func pebbleKey(key int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(key))
	return b
}

func (s *pebbleStore) Get(key int64) ([]byte, error) {
	v, closer, err := s.db.Get(pebbleKey(key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, kv.ErrKeyNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	if cerr := closer.Close(); cerr != nil {
		return nil, cerr
	}
	return out, nil
}

func (s *pebbleStore) Set(key int64, value []byte) error {
	return s.db.Set(pebbleKey(key), value, pebble.Sync)
}

func (s *pebbleStore) Remove(key int64) error {
	return s.db.Delete(pebbleKey(key), pebble.Sync)
}
