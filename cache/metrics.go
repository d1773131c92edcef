package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	evictions  prometheus.Counter
	committed  prometheus.Counter
	failedKeys prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recorddb",
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		})
	}
	m := &metrics{
		hits:       counter("hits_total", "Lookups served from memory."),
		misses:     counter("misses_total", "Lookups loaded from the backing store."),
		evictions:  counter("evictions_total", "Entries dropped to make room."),
		committed:  counter("committed_total", "Writes and removals flushed to the backing store."),
		failedKeys: counter("failed_keys_total", "Keys still failing after every commit retry."),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.hits, m.misses, m.evictions, m.committed, m.failedKeys} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
