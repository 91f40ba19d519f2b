// Package observability holds the service's Prometheus metrics and
// logger construction.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/ticktalk/balance-engine/ledger"
)

// =============================================================================
// LEDGER METRICS
// =============================================================================

var BalancesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "balance_engine",
	Subsystem: "ledger",
	Name:      "balances_created_total",
	Help:      "Total balances created, by kind.",
}, []string{"kind"})

var TransactionsLogged = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "balance_engine",
	Subsystem: "ledger",
	Name:      "transactions_logged_total",
	Help:      "Total transactions logged, by balance kind.",
}, []string{"kind"})

var AmountDebited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "balance_engine",
	Subsystem: "ledger",
	Name:      "amount_debited_total",
	Help:      "Sum of debited amounts, by balance kind.",
}, []string{"kind"})

var TransactionsCorrected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "balance_engine",
	Subsystem: "ledger",
	Name:      "transactions_corrected_total",
	Help:      "Total transactions whose amount was corrected.",
})

var OperationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "balance_engine",
	Subsystem: "ledger",
	Name:      "operation_failures_total",
	Help:      "Failed ledger operations, by operation and error kind.",
}, []string{"op", "kind"})

var ConflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "balance_engine",
	Subsystem: "ledger",
	Name:      "conflict_retries_total",
	Help:      "Units of work re-run after a version conflict.",
}, []string{"op"})

// LedgerMetrics implements ledger.Recorder on the package metrics.
type LedgerMetrics struct{}

var _ ledger.Recorder = LedgerMetrics{}

func (LedgerMetrics) BalanceCreated(kind ledger.Kind) {
	BalancesCreated.WithLabelValues(string(kind)).Inc()
}

func (LedgerMetrics) TransactionLogged(kind ledger.Kind, amount decimal.Decimal) {
	TransactionsLogged.WithLabelValues(string(kind)).Inc()
	AmountDebited.WithLabelValues(string(kind)).Add(amount.InexactFloat64())
}

func (LedgerMetrics) TransactionCorrected() { TransactionsCorrected.Inc() }

func (LedgerMetrics) OperationFailed(op string, kind ledger.ErrorKind) {
	OperationFailures.WithLabelValues(op, string(kind)).Inc()
}

func (LedgerMetrics) ConflictRetried(op string) {
	ConflictRetries.WithLabelValues(op).Inc()
}

// =============================================================================
// HTTP METRICS
// =============================================================================

var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "balance_engine",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency, by route pattern and status.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route", "status"})

var StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "balance_engine",
	Subsystem: "http",
	Name:      "stream_clients",
	Help:      "Connected balance stream websocket clients.",
})

// Middleware records request latency labelled with the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
