package observ

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spx0dte"

type registry struct {
	mu       sync.Mutex
	prom     *prometheus.Registry
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	hist     map[string]*prometheus.HistogramVec
	// label names fixed on first use, per metric name
	labels map[string][]string
}

var reg = newRegistry()

func newRegistry() *registry {
	return &registry{
		prom:     prometheus.NewRegistry(),
		counters: map[string]*prometheus.CounterVec{},
		gauges:   map[string]*prometheus.GaugeVec{},
		hist:     map[string]*prometheus.HistogramVec{},
		labels:   map[string][]string{},
	}
}

// labelNames returns the sorted label keys so vectors are stable regardless of map order.
func labelNames(lbl map[string]string) []string {
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func labelValues(names []string, lbl map[string]string) []string {
	vals := make([]string, len(names))
	for i, k := range names {
		vals[i] = lbl[k]
	}
	return vals
}

func sameNames(a, b []string) bool {
	return strings.Join(a, ",") == strings.Join(b, ",")
}

// names resolves the label set for a metric; a call with a different label set is dropped.
func (r *registry) names(name string, lbl map[string]string) ([]string, bool) {
	want := labelNames(lbl)
	have, ok := r.labels[name]
	if !ok {
		r.labels[name] = want
		return want, true
	}
	return have, sameNames(have, want)
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	names, ok := reg.names(name, labels)
	if !ok {
		return
	}
	c, exists := reg.counters[name]
	if !exists {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: name}, names)
		if err := reg.prom.Register(c); err != nil {
			return
		}
		reg.counters[name] = c
	}
	c.WithLabelValues(labelValues(names, labels)...).Add(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	names, ok := reg.names(name, labels)
	if !ok {
		return
	}
	g, exists := reg.gauges[name]
	if !exists {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: name}, names)
		if err := reg.prom.Register(g); err != nil {
			return
		}
		reg.gauges[name] = g
	}
	g.WithLabelValues(labelValues(names, labels)...).Set(value)
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	names, ok := reg.names(name, labels)
	if !ok {
		return
	}
	h, exists := reg.hist[name]
	if !exists {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      name,
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, names)
		if err := reg.prom.Register(h); err != nil {
			return
		}
		reg.hist[name] = h
	}
	h.WithLabelValues(labelValues(names, labels)...).Observe(value)
}

// RecordDuration records a duration metric in milliseconds
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// Gatherer exposes the registry for tests and custom exporters.
func Gatherer() prometheus.Gatherer {
	return reg.prom
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(reg.prom, promhttp.HandlerOpts{})
}

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

// Version returns the build version.
func Version() string {
	return version
}

// Uptime returns the time since process start.
func Uptime() time.Duration {
	return time.Since(startTime)
}
