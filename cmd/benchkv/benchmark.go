package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// benchResult is one sampled measurement, written as one CSV row.
type benchResult struct {
	Name      string
	Config    string
	Operation string
	LatencyNs int64
	MemMB     uint64
	Objects   uint64
	Allocs    uint64 // heap allocations since the previous sample
}

// memSample is a point-in-time heap snapshot plus the allocation count
// since whichever memTracker took the previous one.
type memSample struct {
	AllocMB     uint64
	HeapObjects uint64
	Allocs      uint64
}

// memTracker turns runtime.MemStats' monotonically increasing Mallocs
// counter into a per-phase delta, so each benchmark phase's row reports
// only the allocations it caused rather than the process's running total.
type memTracker struct {
	lastMallocs uint64
}

// sample forces a GC so the live-heap reading excludes garbage still
// awaiting collection, then reports what changed since the last sample.
func (mt *memTracker) sample() memSample {
	runtime.GC()
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	delta := m.Mallocs - mt.lastMallocs
	mt.lastMallocs = m.Mallocs

	return memSample{
		AllocMB:     m.Alloc / 1024 / 1024,
		HeapObjects: m.HeapObjects,
		Allocs:      delta,
	}
}

// csvRecorder writes benchResult rows and surfaces write failures, unlike
// a bare csv.Writer.Write call whose error is easy to drop on the floor.
type csvRecorder struct {
	w *csv.Writer
}

func (r *csvRecorder) record(res benchResult) {
	err := r.w.Write([]string{
		res.Name,
		res.Config,
		res.Operation,
		strconv.FormatInt(res.LatencyNs, 10),
		strconv.FormatUint(res.MemMB, 10),
		strconv.FormatUint(res.Objects, 10),
		strconv.FormatUint(res.Allocs, 10),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "benchkv: dropped result row for %s/%s: %v\n", res.Name, res.Operation, err)
	}
}
