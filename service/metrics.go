package service

import "github.com/prometheus/client_golang/prometheus"

// cacheMetrics Prometheus mirrors of the cache counters
type cacheMetrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	invalidations prometheus.Counter
}

// newCacheMetrics create and register cache metrics with the provided registerer
func newCacheMetrics(registry prometheus.Registerer) (*cacheMetrics, error) {
	m := &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "valise",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "valise",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "valise",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Total number of cache invalidations caused by writes",
		}),
	}

	for _, collector := range []prometheus.Collector{m.hits, m.misses, m.invalidations} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}
