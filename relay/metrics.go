package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	blocksScanned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "blocks_scanned_total",
		Help:      "Number of blocks run through the match engine.",
	})

	filterHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "filter_hits_total",
		Help:      "Number of filter hits that triggered a database lookup.",
	})

	falsePositives = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "filter_false_positives_total",
		Help:      "Number of filter hits with no matching record.",
	})

	matchesConfirmed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "matches_confirmed_total",
		Help:      "Number of confirmed outpoint or script matches.",
	})

	eventsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "events_sent_total",
		Help:      "Number of satisfied events published.",
	})

	requestsAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "requests_added_total",
		Help:      "Number of requests accepted by the request manager.",
	})
)

func init() {
	prometheus.MustRegister(
		blocksScanned, filterHits, falsePositives, matchesConfirmed,
		eventsSent, requestsAdded,
	)
}
