package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry        *prometheus.Registry
	escrowOpsTotal  *prometheus.CounterVec
	oracleTotal     *prometheus.CounterVec
	utxoTxTotal     *prometheus.CounterVec
	replaysTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func newMetricsRegistry() *metricsRegistry {
	escrowOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lendex_escrow_operations_total",
		Help: "Escrow state machine operations by result",
	}, []string{"op", "result"})

	oracle := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lendex_oracle_requests_total",
		Help: "Oracle bridge requests by result",
	}, []string{"result"})

	utxoTx := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lendex_utxo_transactions_total",
		Help: "Loan open and close transactions by result",
	}, []string{"op", "result"})

	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lendex_idempotent_replays_total",
		Help: "Responses served from the idempotency store",
	}, []string{"route"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lendex_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "code"})

	r := prometheus.NewRegistry()
	r.MustRegister(escrowOps, oracle, utxoTx, replays, duration)

	return &metricsRegistry{
		registry:        r,
		escrowOpsTotal:  escrowOps,
		oracleTotal:     oracle,
		utxoTxTotal:     utxoTx,
		replaysTotal:    replays,
		requestDuration: duration,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incEscrow(op string, err error) {
	m.escrowOpsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *metricsRegistry) incOracle(err error) {
	m.oracleTotal.WithLabelValues(resultLabel(err)).Inc()
}

func (m *metricsRegistry) incUTxO(op string, err error) {
	m.utxoTxTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *metricsRegistry) incReplay(route string) {
	m.replaysTotal.WithLabelValues(route).Inc()
}

func (m *metricsRegistry) observe(route string, code int, elapsed time.Duration) {
	m.requestDuration.WithLabelValues(route, statusClass(code)).Observe(elapsed.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
