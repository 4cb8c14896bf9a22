package goslab

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsSet mirrors the facade's stats_pages and stats_cache accessors
// (spec §6) as Prometheus collectors, plus a counter of large-allocation
// bytes, so a host that scrapes metrics sees the same numbers
// Kmem.StatsPages and Kmem.StatsCache return by value; stats_waste has no
// collector. Each Kmem gets its own prometheus.Registry rather than the
// global DefaultRegisterer, so tests can construct many instances without
// colliding on metric names.
type metricsSet struct {
	registry *prometheus.Registry
	mu       sync.Mutex

	pagesInUse prometheus.Gauge
	pagesNew   prometheus.Counter
	pagesDel   prometheus.Counter
	lastNew    uint64
	lastDel    uint64

	cacheFull    *prometheus.GaugeVec
	cachePartial *prometheus.GaugeVec
	cacheFree    *prometheus.GaugeVec

	largeBytes prometheus.Counter
}

func newMetricsSet() *metricsSet {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &metricsSet{
		registry: reg,
		pagesInUse: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "goslab", Name: "pages_in_use", Help: "Pages currently held by the supplier.",
		}),
		pagesNew: f.NewCounter(prometheus.CounterOpts{
			Namespace: "goslab", Name: "pages_new_total", Help: "Pages acquired from the host allocator.",
		}),
		pagesDel: f.NewCounter(prometheus.CounterOpts{
			Namespace: "goslab", Name: "pages_del_total", Help: "Pages released back to the host allocator.",
		}),
		cacheFull: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "goslab", Name: "cache_slabs_full", Help: "Full slabs per cache.",
		}, []string{"cache"}),
		cachePartial: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "goslab", Name: "cache_slabs_partial", Help: "Partial slabs per cache.",
		}, []string{"cache"}),
		cacheFree: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "goslab", Name: "cache_slabs_free", Help: "Free slabs per cache.",
		}, []string{"cache"}),
		largeBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "goslab", Name: "large_alloc_bytes_total", Help: "Bytes allocated via the large passthrough path.",
		}),
	}
}

func (m *metricsSet) observeLargeAlloc(n uint64) {
	m.largeBytes.Add(float64(n))
}

// refreshPages updates the gauge and advances the counters by the delta
// since the last call, since the supplier's own new/del figures are
// cumulative totals but Prometheus counters only support Add.
func (m *metricsSet) refreshPages(inUse, newc, del uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pagesInUse.Set(float64(inUse))
	if newc > m.lastNew {
		m.pagesNew.Add(float64(newc - m.lastNew))
		m.lastNew = newc
	}
	if del > m.lastDel {
		m.pagesDel.Add(float64(del - m.lastDel))
		m.lastDel = del
	}
}

func (m *metricsSet) refreshCache(s Stats) {
	m.cacheFull.WithLabelValues(s.Name).Set(float64(s.CountFull))
	m.cachePartial.WithLabelValues(s.Name).Set(float64(s.CountPartial))
	m.cacheFree.WithLabelValues(s.Name).Set(float64(s.CountFree))
}

// Registry exposes the Kmem instance's private Prometheus registry so a
// host can register it with its own scrape handler.
func (k *Kmem) Registry() *prometheus.Registry { return k.metrics.registry }
