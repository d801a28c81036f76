package manager

import (
	"github.com/agentuity/go-geocache/category"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric the manager exports.
const Namespace = "geocache"

// Stats counts cache traffic per layer and category.
type Stats struct {
	requests      *prometheus.CounterVec
	puts          *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	invalidated   *prometheus.CounterVec
	drops         *prometheus.CounterVec
	errors        *prometheus.CounterVec
	caches        prometheus.Gauge
}

// NewStats registers the manager metrics on reg.
func NewStats(reg prometheus.Registerer) *Stats {
	f := promauto.With(reg)
	return &Stats{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Cache lookups by result (hit, miss)",
		}, []string{"layer", "category", "result"}),
		puts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "puts_total",
			Help:      "Entries stored",
		}, []string{"layer", "category"}),
		invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "invalidations_total",
			Help:      "Invalidation requests by mode (envelope, all)",
		}, []string{"layer", "category", "mode"}),
		invalidated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "invalidated_entries_total",
			Help:      "Entries removed by envelope invalidations",
		}, []string{"layer", "category"}),
		drops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "drops_total",
			Help:      "Caches dropped",
		}, []string{"layer", "category"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Failed cache operations by operation",
		}, []string{"layer", "category", "op"}),
		caches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "caches",
			Help:      "Live (layer, category) caches",
		}),
	}
}

func (s *Stats) hit(scope category.Scope, found bool) {
	result := "miss"
	if found {
		result = "hit"
	}
	s.requests.WithLabelValues(scope.Layer, scope.Category.Name(), result).Inc()
}

func (s *Stats) put(scope category.Scope) {
	s.puts.WithLabelValues(scope.Layer, scope.Category.Name()).Inc()
}

func (s *Stats) invalidate(scope category.Scope, all bool, removed int) {
	mode := "envelope"
	if all {
		mode = "all"
	}
	s.invalidations.WithLabelValues(scope.Layer, scope.Category.Name(), mode).Inc()
	if removed > 0 {
		s.invalidated.WithLabelValues(scope.Layer, scope.Category.Name()).Add(float64(removed))
	}
}

func (s *Stats) drop(scope category.Scope) {
	s.drops.WithLabelValues(scope.Layer, scope.Category.Name()).Inc()
	s.caches.Dec()
}

func (s *Stats) created() {
	s.caches.Inc()
}

func (s *Stats) failed(scope category.Scope, op string) {
	s.errors.WithLabelValues(scope.Layer, scope.Category.Name(), op).Inc()
}
