package codecache

// metrics.go is a thin abstraction over Prometheus so the loader can be
// used with or without metrics, following pkg/metrics.go's noop/real split
// almost line for line. When Config carries a *prometheus.Registry (see
// WithMetrics), a real promMetrics is built and registered; otherwise a
// no-op sink is used and the hot path pays nothing for metric updates.
//
// ┌───────────────────────────────┐
// │ Metric                  │ Type │
// ├──────────────────────────┼──────┤
// │ loader_hits_total        │ Ctr  │
// │ loader_misses_total      │ Ctr  │
// │ loader_rollbacks_total   │ Ctr  │
// │ loader_cycle_rejections_total │ Ctr │
// │ modulecache_structs      │ Gge  │
// │ modulecache_functions    │ Gge  │
// │ lock_wait_seconds{component} │ Gge │
// └───────────────────────────────┘
//
// © codecache authors.

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink is an internal interface abstracting away the concrete
// backend (Prometheus vs noop). Not exposed outside the package.
type metricsSink interface {
	incHit()
	incMiss()
	incRollback()
	incCycleRejection()
	setStructPoolSize(n int)
	setFunctionPoolSize(n int)
	observeLockWait(component string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) incHit()                                {}
func (noopMetrics) incMiss()                               {}
func (noopMetrics) incRollback()                           {}
func (noopMetrics) incCycleRejection()                     {}
func (noopMetrics) setStructPoolSize(int)                  {}
func (noopMetrics) setFunctionPoolSize(int)                {}
func (noopMetrics) observeLockWait(string, time.Duration)  {}

type promMetrics struct {
	hits             prometheus.Counter
	misses           prometheus.Counter
	rollbacks        prometheus.Counter
	cycleRejections  prometheus.Counter
	structPoolSize   prometheus.Gauge
	functionPoolSize prometheus.Gauge
	lockWait         *prometheus.GaugeVec
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	pm := &promMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codecache", Name: "loader_hits_total",
			Help: "Number of module/function/script load requests served from cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codecache", Name: "loader_misses_total",
			Help: "Number of module/function/script load requests that required ingestion.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codecache", Name: "loader_rollbacks_total",
			Help: "Number of failed module ingestions rolled back.",
		}),
		cycleRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codecache", Name: "loader_cycle_rejections_total",
			Help: "Number of loads rejected due to a cyclic dependency.",
		}),
		structPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "codecache", Name: "modulecache_structs",
			Help: "Current size of the global struct pool.",
		}),
		functionPoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "codecache", Name: "modulecache_functions",
			Help: "Current size of the global function pool.",
		}),
		lockWait: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "codecache", Name: "lock_wait_seconds",
			Help: "Most recent time a caller spent waiting to acquire one of the loader's per-component locks.",
		}, []string{"component"}),
	}
	reg.MustRegister(pm.hits, pm.misses, pm.rollbacks, pm.cycleRejections, pm.structPoolSize, pm.functionPoolSize, pm.lockWait)
	return pm
}

func (m *promMetrics) incHit()                 { m.hits.Inc() }
func (m *promMetrics) incMiss()                { m.misses.Inc() }
func (m *promMetrics) incRollback()            { m.rollbacks.Inc() }
func (m *promMetrics) incCycleRejection()      { m.cycleRejections.Inc() }
func (m *promMetrics) setStructPoolSize(n int) { m.structPoolSize.Set(float64(n)) }
func (m *promMetrics) setFunctionPoolSize(n int) {
	m.functionPoolSize.Set(float64(n))
}
func (m *promMetrics) observeLockWait(component string, d time.Duration) {
	m.lockWait.WithLabelValues(component).Set(d.Seconds())
}

// newMetricsSink decides which implementation to use.
func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}

// timedMutex wraps a sync.RWMutex so the Loader's three per-component locks
// (moduleCacheMu, scriptCacheMu, typeCacheMu) report how long a caller
// waited to acquire them, feeding the lock_wait_seconds gauge above. It is
// constructed with a fixed component label and left zero-value otherwise,
// so it drops straight into the Loader struct literal in place of a bare
// sync.RWMutex with no change to any existing Lock/RLock call site.
type timedMutex struct {
	sync.RWMutex
	metrics   metricsSink
	component string
}

func newTimedMutex(metrics metricsSink, component string) timedMutex {
	return timedMutex{metrics: metrics, component: component}
}

func (m *timedMutex) Lock() {
	start := time.Now()
	m.RWMutex.Lock()
	m.metrics.observeLockWait(m.component, time.Since(start))
}

func (m *timedMutex) RLock() {
	start := time.Now()
	m.RWMutex.RLock()
	m.metrics.observeLockWait(m.component, time.Since(start))
}
