package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is a Recorder backed by prometheus/client_golang.
//
// Metric vectors are created lazily on first use; the label set of a metric
// is fixed by the tags of its first sample, so callers must pass the same
// tag keys for a given metric name on every call. Dots in metric names are
// rewritten to underscores to satisfy the Prometheus naming rules.
type Prometheus struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheus creates a Prometheus recorder registering its metrics on
// reg. Pass prometheus.DefaultRegisterer to use the default registry.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	return &Prometheus{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func (p *Prometheus) Add(name string, value float64, tags map[string]string) {
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: sanitize(name),
		}, labelNames(tags))
		p.reg.MustRegister(vec)
		p.counters[name] = vec
	}
	p.mu.Unlock()

	vec.With(prometheus.Labels(tags)).Add(value)
}

func (p *Prometheus) Observe(name string, value float64, tags map[string]string) {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    sanitize(name),
			Buckets: prometheus.DefBuckets,
		}, labelNames(tags))
		p.reg.MustRegister(vec)
		p.histograms[name] = vec
	}
	p.mu.Unlock()

	vec.With(prometheus.Labels(tags)).Observe(value)
}

func sanitize(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
