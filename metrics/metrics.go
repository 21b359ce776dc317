// Package metrics wires bptree.Tree's page-level events into Prometheus.
// The source carries github.com/prometheus/client_golang in its dependency
// graph but never imports it from its own code; this package promotes it to
// a direct dependency and gives the B+-tree engine real observability, via
// bptree.MetricsRecorder so the engine itself stays free of any
// metrics-backend import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PagerMetrics counts page-level events on a single bptree.Tree instance.
// It implements bptree.MetricsRecorder structurally (no import of package
// bptree is needed here — the interface is satisfied by method set alone).
type PagerMetrics struct {
	loaded    prometheus.Counter
	persisted prometheus.Counter
	allocated prometheus.Counter
	freed     prometheus.Counter
}

// NewPagerMetrics registers a fresh set of counters under the given
// instance label (e.g. the backing file path) and returns them. Registering
// the same label twice against the same registerer panics, matching
// promauto's documented behavior — callers that open multiple trees should
// label them distinctly or use separate registries.
func NewPagerMetrics(reg prometheus.Registerer, instance string) *PagerMetrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"instance": instance}

	return &PagerMetrics{
		loaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "bptreekv",
			Subsystem:   "pager",
			Name:        "pages_loaded_total",
			Help:        "Pages read from disk via Pager.Load.",
			ConstLabels: labels,
		}),
		persisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "bptreekv",
			Subsystem:   "pager",
			Name:        "pages_persisted_total",
			Help:        "Pages written back to disk via Pager.Insert or Pager.Append.",
			ConstLabels: labels,
		}),
		allocated: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "bptreekv",
			Subsystem:   "pager",
			Name:        "pages_allocated_total",
			Help:        "Fresh PagePtr values handed out by the tree's page counter.",
			ConstLabels: labels,
		}),
		freed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "bptreekv",
			Subsystem:   "pager",
			Name:        "pages_freed_total",
			Help:        "Pages logically freed by merges and root collapses (not reclaimed).",
			ConstLabels: labels,
		}),
	}
}

func (m *PagerMetrics) PageLoaded()    { m.loaded.Inc() }
func (m *PagerMetrics) PagePersisted() { m.persisted.Inc() }
func (m *PagerMetrics) PageAllocated() { m.allocated.Inc() }
func (m *PagerMetrics) PageFreed()     { m.freed.Inc() }
