// Package metrics holds the prometheus collectors arbor updates while it
// loads grammars, parses documents and maintains its tree cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Parse kinds.
const (
	ParseFull        = "full"
	ParseIncremental = "incremental"
)

// Eviction reasons.
const (
	EvictStale  = "stale"
	EvictClosed = "closed"
	EvictClear  = "clear"
)

// Metrics groups arbor's collectors.
type Metrics struct {
	Parses        *prometheus.CounterVec
	ParseDuration *prometheus.HistogramVec
	CacheHits     prometheus.Counter
	Evictions     *prometheus.CounterVec
	GrammarLoads  *prometheus.CounterVec
	Entries       prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg gets a
// private registry so independent instances never collide.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Parses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "parses_total",
			Help:      "Parses dispatched to tree-sitter, by kind.",
		}, []string{"language", "kind"}),
		ParseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arbor",
			Name:      "parse_duration_seconds",
			Help:      "Wall time of tree-sitter parses.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"kind"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "cache_hits_total",
			Help:      "Cache-aware tree requests served without parsing.",
		}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "cache_evictions_total",
			Help:      "Cache entries removed, by reason.",
		}, []string{"reason"}),
		GrammarLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "grammar_loads_total",
			Help:      "Grammar loader invocations, by language and result.",
		}, []string{"language", "result"}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arbor",
			Name:      "cache_entries",
			Help:      "Live cache entries.",
		}),
	}
	reg.MustRegister(m.Parses, m.ParseDuration, m.CacheHits, m.Evictions, m.GrammarLoads, m.Entries)
	return m
}
