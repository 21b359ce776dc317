package main

import (
	"math/rand"

	"github.com/dbsys/bptreekv/kv"
)

type workloadType string

const (
	oltp workloadType = "OLTP (90/10)" // read-heavy
	olap workloadType = "OLAP (10/90)" // write-heavy
)

// runWorkload executes a mixed get/set distribution against store, mirroring
// the source's OLTP/OLAP split. The source's third "Reporting (Range)"
// workload is dropped — range scans are out of scope for this engine.
func runWorkload(store kv.Store[int64, []byte], w workloadType, ops int, value []byte) {
	readPct := 90
	if w == olap {
		readPct = 10
	}
	for i := 0; i < ops; i++ {
		key := int64(rand.Intn(ops))
		if rand.Intn(100) < readPct {
			_, _ = store.Get(key)
		} else {
			_ = store.Set(key, value)
		}
	}
}
