// Command benchkv compares the spec-compliant bptree.Tree engine against
// the repository's kept legacy B-tree and against cockroachdb/pebble, using
// the same insert-then-workload methodology and CSV shape as the source's
// benchmark harness (main.go / main2.go / benchmark.go / workload.go, since
// folded into this package).
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"github.com/dbsys/bptreekv/bptree"
	legacybtree "github.com/dbsys/bptreekv/dbms/index/btree"
	"github.com/dbsys/bptreekv/kv"
)

func main() {
	outDir := flag.String("out", "results", "directory to write the CSV and chart into")
	scale := flag.Int("n", 20000, "number of keys to load before running workloads")
	flag.Parse()

	if err := run(*outDir, *scale); err != nil {
		log.Fatalf("benchkv: %v", err)
	}
}

func run(outDir string, scale int) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.Wrap(err, "benchkv: create output directory")
	}

	csvPath := filepath.Join(outDir, "results.csv")
	f, err := os.Create(csvPath)
	if err != nil {
		return errors.Wrap(err, "benchkv: create results csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"Structure", "Config", "Operation", "LatencyNs", "MemMB", "HeapObjects", "Allocs"})

	value := make([]byte, benchValueSize)
	for i := range value {
		value[i] = 'X'
	}

	workDir, err := os.MkdirTemp("", "benchkv-*")
	if err != nil {
		return errors.Wrap(err, "benchkv: create scratch directory")
	}
	defer os.RemoveAll(workDir)

	if err := benchBPTree(w, filepath.Join(workDir, "bptree.db"), scale, value); err != nil {
		return errors.Wrap(err, "benchkv: bptree suite")
	}
	if err := benchLegacyBTree(w, filepath.Join(workDir, "legacy.bt"), scale, value); err != nil {
		return errors.Wrap(err, "benchkv: legacy btree suite")
	}
	if err := benchPebble(w, filepath.Join(workDir, "pebble"), scale, value); err != nil {
		return errors.Wrap(err, "benchkv: pebble suite")
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "benchkv: flush csv")
	}

	chartPath := filepath.Join(outDir, "footprint.png")
	if err := renderFootprintChart(csvPath, chartPath); err != nil {
		return errors.Wrap(err, "benchkv: render chart")
	}

	fmt.Printf("benchkv: wrote %s and %s\n", csvPath, chartPath)
	return nil
}

func benchBPTree(w *csv.Writer, path string, scale int, value []byte) error {
	tr, err := bptree.Open[int64, []byte](bptree.Options[int64, []byte]{
		Path:       path,
		KeyCodec:   keyCodec(),
		ValueCodec: valueCodec(),
	})
	if err != nil {
		return err
	}
	defer tr.Close()
	runSuite(w, "BPlusTree", fmt.Sprintf("n=%d", scale), tr, scale, value)
	return nil
}

func benchLegacyBTree(w *csv.Writer, path string, scale int, value []byte) error {
	bt, err := legacybtree.Open(path, 64)
	if err != nil {
		return err
	}
	defer bt.Close()
	runSuite(w, "B-Tree", fmt.Sprintf("n=%d", scale), &legacyBTreeStore{bt: bt}, scale, value)
	return nil
}

func benchPebble(w *csv.Writer, path string, scale int, value []byte) error {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return err
	}
	defer db.Close()
	runSuite(w, "Pebble-LSM", fmt.Sprintf("n=%d", scale), &pebbleStore{db: db}, scale, value)
	return nil
}

// runSuite drives one engine through a load phase plus the OLTP/OLAP
// workload split, recording one CSV row per phase — the same shape as the
// source's runSuite, minus the range-scan phase (out of scope here).
func runSuite(w *csv.Writer, name, config string, store kv.Store[int64, []byte], n int, value []byte) {
	fmt.Printf("Testing %s (%s)\n", name, config)
	rec := &csvRecorder{w: w}
	mem := &memTracker{}
	mem.sample() // baseline, so the load phase's Allocs excludes earlier work

	start := time.Now()
	for k := 0; k < n; k++ {
		_ = store.Set(int64(k), value)
	}
	insertLatency := time.Since(start).Nanoseconds() / int64(n)

	stats := mem.sample()
	rec.record(benchResult{
		Name:      name,
		Config:    config,
		Operation: "Footprint_SteadyState",
		LatencyNs: insertLatency,
		MemMB:     stats.AllocMB,
		Objects:   stats.HeapObjects,
		Allocs:    stats.Allocs,
	})

	start = time.Now()
	runWorkload(store, oltp, n/2, value)
	stats = mem.sample()
	rec.record(benchResult{
		Name: name, Config: config, Operation: "Workload_OLTP",
		LatencyNs: time.Since(start).Nanoseconds() / int64(n/2),
		MemMB:     stats.AllocMB,
		Objects:   stats.HeapObjects,
		Allocs:    stats.Allocs,
	})

	start = time.Now()
	runWorkload(store, olap, n/2, value)
	stats = mem.sample()
	rec.record(benchResult{
		Name: name, Config: config, Operation: "Workload_OLAP",
		LatencyNs: time.Since(start).Nanoseconds() / int64(n/2),
		MemMB:     stats.AllocMB,
		Objects:   stats.HeapObjects,
		Allocs:    stats.Allocs,
	})
}
