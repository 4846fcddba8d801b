package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats holds the node's vote-path counters on a dedicated registry.
// Counters marked dir="in" count inbound request handling.
type Stats struct {
	registry *prometheus.Registry // registry backs the /metrics endpoint

	AggregatorAccepted      prometheus.Counter // AggregatorAccepted counts accepted peer request batches
	AggregatorDropped       prometheus.Counter // AggregatorDropped counts dropped peer request batches
	RequestsCachedHashes    prometheus.Counter // RequestsCachedHashes counts hashes served from the vote cache
	RequestsCachedVotes     prometheus.Counter // RequestsCachedVotes counts distinct cached votes sent
	RequestsGeneratedHashes prometheus.Counter // RequestsGeneratedHashes counts hashes passed to vote generation
	RequestsGeneratedVotes  prometheus.Counter // RequestsGeneratedVotes counts freshly generated votes sent
	RequestsUnknown         prometheus.Counter // RequestsUnknown counts requests that resolved to no block
	ReservationCount        prometheus.Gauge   // ReservationCount reports live vote reservations
}

// New creates a Stats with all counters registered.
func New() *Stats {
	registry := prometheus.NewRegistry()

	s := &Stats{
		registry:                registry,
		AggregatorAccepted:      counter("aggregator_accepted", "Peer request batches accepted by the aggregator", ""),
		AggregatorDropped:       counter("aggregator_dropped", "Peer request batches dropped by the aggregator", ""),
		RequestsCachedHashes:    counter("requests_cached_hashes", "Request entries served from the local vote cache", "in"),
		RequestsCachedVotes:     counter("requests_cached_votes", "Distinct cached votes sent to peers", "in"),
		RequestsGeneratedHashes: counter("requests_generated_hashes", "Request entries passed to vote generation", "in"),
		RequestsGeneratedVotes:  counter("requests_generated_votes", "Freshly generated votes sent to peers", "in"),
		RequestsUnknown:         counter("requests_unknown", "Request entries that resolved to no known block", "in"),
		ReservationCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "repnode",
			Name:      "reservation_count",
			Help:      "Live vote reservations held by the reserver",
		}),
	}

	registry.MustRegister(
		s.AggregatorAccepted,
		s.AggregatorDropped,
		s.RequestsCachedHashes,
		s.RequestsCachedVotes,
		s.RequestsGeneratedHashes,
		s.RequestsGeneratedVotes,
		s.RequestsUnknown,
		s.ReservationCount,
	)

	return s
}

// Registry returns the registry for the /metrics endpoint.
func (s *Stats) Registry() *prometheus.Registry {
	return s.registry
}

// counter builds a namespaced counter, labeled with a direction when set.
func counter(name, help, dir string) prometheus.Counter {
	labels := prometheus.Labels{}
	if dir != "" {
		labels["dir"] = dir
	}

	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "repnode",
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
}
