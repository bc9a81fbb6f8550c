// Package metrics holds the Prometheus collectors of the executor.
//
//   - executor_signals_received_total          messages pulled off the queue
//   - executor_decode_errors_total             bodies that did not decode into a signal
//   - executor_signal_outcomes_total{status}   terminal outcome per signal
//   - executor_orders_total{kind,side,result}  order submissions (kind: open|close)
//   - executor_signal_latency_seconds          signal timestamp -> fill
//   - executor_broker_reconnects_total         successful broker (re)connects
//   - executor_broker_state                    connection state (0..3)
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SignalsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "executor_signals_received_total",
			Help: "Messages received from the signal queue",
		},
	)

	DecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "executor_decode_errors_total",
			Help: "Messages acknowledged without processing because the body did not decode",
		},
	)

	Outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_signal_outcomes_total",
			Help: "Signal outcomes by status",
		},
		[]string{"status"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "executor_orders_total",
			Help: "Orders submitted to the venue",
		},
		[]string{"kind", "side", "result"}, // kind: open|close, result: done|rejected|empty
	)

	SignalLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "executor_signal_latency_seconds",
			Help:    "Time from signal timestamp to venue fill",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	BrokerReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "executor_broker_reconnects_total",
			Help: "Successful broker connections after a disconnect",
		},
	)

	BrokerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "executor_broker_state",
			Help: "Broker connection state: 0 disconnected, 1 connecting, 2 connected, 3 degraded",
		},
	)
)

func init() {
	prometheus.MustRegister(SignalsReceived, DecodeErrors, Outcomes, Orders)
	prometheus.MustRegister(SignalLatency)
	prometheus.MustRegister(BrokerReconnects, BrokerState)
}

func ObserveOutcome(status string) { Outcomes.WithLabelValues(status).Inc() }
func ObserveOrder(kind, side, result string) {
	Orders.WithLabelValues(kind, side, result).Inc()
}
