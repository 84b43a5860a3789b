package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Aidin1998/relayex/pkg/errors"
)

// Settlements counts atomicMatch attempts by result (ok or the error kind)
var Settlements = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relayex_settlements_total",
		Help: "Total number of settlement attempts by result",
	},
	[]string{"result"},
)

// SettlementLatency records how long a settlement unit takes end to end
var SettlementLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "relayex_settlement_latency_seconds",
		Help:    "Latency in seconds of settlement units",
		Buckets: prometheus.DefBuckets,
	},
)

// Order lifecycle
var (
	Cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayex_cancellations_total",
			Help: "Order cancellations by result",
		},
		[]string{"result"},
	)

	Approvals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayex_approvals_total",
			Help: "On-ledger order approvals by result",
		},
		[]string{"result"},
	)
)

// Authorization layer
var (
	RegistryTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayex_registry_transitions_total",
			Help: "Registry operations by operation and result",
		},
		[]string{"op", "result"},
	)

	RelayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayex_relay_calls_total",
			Help: "Calls relayed through principal proxies by outcome",
		},
		[]string{"outcome"},
	)
)

// Ledger units of work
var (
	LedgerUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayex_ledger_units_total",
			Help: "Ledger units of work by outcome (committed or aborted)",
		},
		[]string{"outcome"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayex_events_published_total",
			Help: "Ledger logs handed to the event sink by result",
		},
		[]string{"result"},
	)
)

// Event stream
var (
	StreamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayex_event_stream_subscribers",
			Help: "Current number of live event stream subscribers",
		},
	)

	StreamDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relayex_event_stream_dropped_total",
			Help: "Events dropped because a subscriber fell behind",
		},
	)
)

func init() {
	prometheus.MustRegister(Settlements, SettlementLatency)
	prometheus.MustRegister(Cancellations, Approvals)
	prometheus.MustRegister(RegistryTransitions, RelayCalls)
	prometheus.MustRegister(LedgerUnits, EventsPublished)
	prometheus.MustRegister(StreamSubscribers, StreamDropped)
}

// Result labels an outcome: "ok" for nil, otherwise the error kind.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return errors.KindOf(err)
}
