package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Inbound message flow, labelled by session and callback kind (admin/app)
var (
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropcopy_messages_received_total",
			Help: "Total number of inbound messages dispatched",
		},
		[]string{"session", "kind"},
	)

	MessagesStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropcopy_messages_stored_total",
			Help: "Total number of inbound messages retained in the message store",
		},
		[]string{"session"},
	)

	MessagesMalformed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropcopy_messages_malformed_total",
			Help: "Inbound messages without a parsable MsgSeqNum",
		},
		[]string{"session"},
	)
)

// Resend fulfillment
var (
	ResendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropcopy_resend_requests_total",
			Help: "Resend requests handled, by outcome",
		},
		[]string{"session", "outcome"},
	)

	MessagesReplayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropcopy_messages_replayed_total",
			Help: "Stored messages re-sent with PossDupFlag=Y",
		},
		[]string{"session"},
	)

	ReplayGaps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropcopy_replay_gaps_total",
			Help: "Sequence numbers requested for replay but not present in the store",
		},
		[]string{"session"},
	)

	ReplayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dropcopy_replay_duration_seconds",
			Help:    "Time spent fulfilling a single resend request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"session"},
	)
)

// StoreErrors counts failures of persistent store backends. The store
// contract is total, so these failures surface only here and in the logs.
var StoreErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dropcopy_store_errors_total",
		Help: "Message store backend failures",
	},
	[]string{"backend", "op"},
)

// Session lifecycle
var (
	SessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dropcopy_session_state",
			Help: "Current worker state (0=starting 1=running 2=stopping 3=stopped)",
		},
		[]string{"session"},
	)

	SessionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropcopy_session_failures_total",
			Help: "Session workers that ended with an error",
		},
		[]string{"session"},
	)

	HandlerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropcopy_handler_errors_total",
			Help: "Handler failures (kafka, archive) and panics recovered while dispatching (handler, resend)",
		},
		[]string{"handler"},
	)
)

func init() {
	prometheus.MustRegister(MessagesReceived, MessagesStored, MessagesMalformed)
	prometheus.MustRegister(ResendRequests, MessagesReplayed, ReplayGaps, ReplayLatency)
	prometheus.MustRegister(StoreErrors)
	prometheus.MustRegister(SessionState, SessionFailures, HandlerErrors)
}
