package pastry

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is the subsystem label of router metrics.
const MetricsSubsystem = "pastry"

// Metrics contains metrics exposed by the router and its transport.
type Metrics struct {
	// Members of the leaf set.
	LeafSetSize metrics.Gauge
	// Non-self routing table entries.
	RoutingTableSize metrics.Gauge
	// Nodes announcing us in their routing table.
	ReverseRoutingTableSize metrics.Gauge
	// Neighbors suspected down.
	PossiblyDown metrics.Gauge
	// Nodes kept for partition checks.
	DownNodes metrics.Gauge
	// Neighbors confirmed unreachable.
	NeighborsLost metrics.Counter
	// Join requests sent.
	JoinAttempts metrics.Counter
	// Messages sent, by kind.
	MessagesSent metrics.Counter
	// Messages received, by kind.
	MessagesReceived metrics.Counter
	// Sends that timed out.
	SendTimeouts metrics.Counter
	// Inbound packets dropped as malformed or over the rate limit.
	PacketsDropped metrics.Counter
	// Route messages delivered locally.
	RoutesDelivered metrics.Counter
	// Round trip times of acknowledged sends.
	RTT metrics.Histogram
}

// PrometheusMetrics returns Metrics built using the Prometheus client library.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		LeafSetSize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "leaf_set_size",
			Help:      "Members of the leaf set.",
		}, []string{}),
		RoutingTableSize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "routing_table_size",
			Help:      "Non-self routing table entries.",
		}, []string{}),
		ReverseRoutingTableSize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "reverse_routing_table_size",
			Help:      "Nodes holding us in their routing table.",
		}, []string{}),
		PossiblyDown: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "possibly_down",
			Help:      "Neighbors suspected down.",
		}, []string{}),
		DownNodes: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "down_nodes",
			Help:      "Nodes kept for partition checks.",
		}, []string{}),
		NeighborsLost: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "neighbors_lost",
			Help:      "Neighbors confirmed unreachable.",
		}, []string{}),
		JoinAttempts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "join_attempts",
			Help:      "Join requests sent.",
		}, []string{}),
		MessagesSent: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "messages_sent",
			Help:      "Messages sent.",
		}, []string{"kind"}),
		MessagesReceived: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "messages_received",
			Help:      "Messages received.",
		}, []string{"kind"}),
		SendTimeouts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "send_timeouts",
			Help:      "Sends that were not acknowledged in time.",
		}, []string{}),
		PacketsDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "packets_dropped",
			Help:      "Inbound packets dropped.",
		}, []string{"reason"}),
		RoutesDelivered: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "routes_delivered",
			Help:      "Route messages delivered to a local application.",
		}, []string{}),
		RTT: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rtt_seconds",
			Help:      "Round trip time of acknowledged sends.",
			Buckets:   stdprometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		LeafSetSize:             discard.NewGauge(),
		RoutingTableSize:        discard.NewGauge(),
		ReverseRoutingTableSize: discard.NewGauge(),
		PossiblyDown:            discard.NewGauge(),
		DownNodes:               discard.NewGauge(),
		NeighborsLost:           discard.NewCounter(),
		JoinAttempts:            discard.NewCounter(),
		MessagesSent:            discard.NewCounter(),
		MessagesReceived:        discard.NewCounter(),
		SendTimeouts:            discard.NewCounter(),
		PacketsDropped:          discard.NewCounter(),
		RoutesDelivered:         discard.NewCounter(),
		RTT:                     discard.NewHistogram(),
	}
}
