package onramp

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "onramp"

var (
	registerOnce sync.Once

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "messages_sent_total",
			Help:      "WAMP messages sent, by message type.",
		},
		[]string{"type"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "messages_received_total",
			Help:      "Well-formed WAMP messages received, by message type.",
		},
		[]string{"type"},
	)
	decodeWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "warnings_total",
			Help:      "Inbound messages dropped as malformed or unexpected.",
		},
	)
	handlerPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "handler_panics_total",
			Help:      "Event handlers that panicked during dispatch.",
		},
	)
	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "unsolicited_events_total",
			Help:      "Events received for topics without listeners.",
		},
	)
	callsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "rpc",
			Name:      "calls_pending",
			Help:      "Calls and acknowledged publishes waiting for a reply.",
		},
	)
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Time from sending a call to settling its future.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	supervisorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "supervisor",
			Name:      "state",
			Help:      "1 for the current supervisor state, 0 otherwise.",
		},
		[]string{"state"},
	)
	supervisorAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "supervisor",
			Name:      "dial_attempts_total",
			Help:      "Connection attempts made by supervisors, by result.",
		},
		[]string{"result"},
	)
)

// RegisterMetrics registers the package collectors with the default
// prometheus registry. It is safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			messagesSent,
			messagesReceived,
			decodeWarnings,
			handlerPanics,
			eventsDropped,
			callsPending,
			callDuration,
			supervisorState,
			supervisorAttempts,
		)
	})
}

func recordSent(t MessageType) {
	messagesSent.WithLabelValues(t.String()).Inc()
}

func recordReceived(t MessageType) {
	messagesReceived.WithLabelValues(t.String()).Inc()
}

func observeCall(outcome string, d time.Duration) {
	callDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func recordSupervisorState(st SupervisorState) {
	for _, s := range supervisorStates {
		v := 0.0
		if s == st {
			v = 1
		}
		supervisorState.WithLabelValues(s.String()).Set(v)
	}
}

func recordDialAttempt(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	supervisorAttempts.WithLabelValues(result).Inc()
}
