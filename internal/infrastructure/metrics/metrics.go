package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "msme"

var (
	// 账本操作次数，按操作与结果（ok / 错误类型）区分
	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger operations partitioned by operation and result",
		},
		[]string{"operation", "result"},
	)

	// 账本资金流量（paise）
	LedgerAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_amount_minor_total",
			Help:      "Sum of committed ledger movements in minor units",
		},
		[]string{"operation"},
	)

	ReconcileMismatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_reconcile_mismatches",
			Help:      "Accounts whose balance differs from the ledger sum in the last reconcile run",
		},
	)

	StaleRedemptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redemption_stale_pending",
			Help:      "Pending redemption requests older than the configured threshold",
		},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_messages_total",
			Help:      "Outbox publish attempts partitioned by result",
		},
		[]string{"result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_inflight_requests",
			Help:      "Number of HTTP requests currently being served",
		},
	)
)

// ObserveLedger 记录一次账本操作
func ObserveLedger(operation, result string, amountMinor int64) {
	LedgerOperations.WithLabelValues(operation, result).Inc()
	if result == "ok" && amountMinor > 0 {
		LedgerAmount.WithLabelValues(operation).Add(float64(amountMinor))
	}
}
