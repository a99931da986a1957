package monitoring

import (
	"net/http"

	"bankd/logx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpResult labels the outcome of a ledger operation.
type OpResult string

var (
	OpResultOK       OpResult = "ok"
	OpResultRejected OpResult = "rejected"
)

type ledgerPromMetrics struct {
	nodeUpUnixSeconds prometheus.Gauge
	operationCount    *prometheus.CounterVec
	reapedCount       prometheus.Counter
	eventLogSize      prometheus.Gauge
	fundedAccounts    prometheus.Gauge
	panicCount        prometheus.Counter
}

func newLedgerPromMetrics() *ledgerPromMetrics {
	return &ledgerPromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bankd_up_timestamp_unix_seconds",
				Help: "Unix timestamp at which this process started",
			},
		),
		operationCount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bankd_operation_count",
				Help: "The total number of ledger operations by operation and outcome",
			},
			[]string{"operation", "result"},
		),
		reapedCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bankd_reaped_account_count",
				Help: "The total number of account reaps (balance cleared below the existential deposit)",
			},
		),
		eventLogSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bankd_event_log_size",
				Help: "The current number of events in the append-only log",
			},
		),
		fundedAccounts: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bankd_funded_account_count",
				Help: "The current number of accounts holding a balance",
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "bankd_panic_count",
				Help: "The total number of recovered panics",
			},
		),
	}
}

var ledgerMetrics *ledgerPromMetrics

// InitMetrics initializes metrics for the process but does not expose them yet
func InitMetrics() {
	ledgerMetrics = newLedgerPromMetrics()
	ledgerMetrics.nodeUpUnixSeconds.SetToCurrentTime()
}

func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("MONITORING", "Registering prometheus metrics")
	mux.Handle("/metrics", promhttp.Handler())
}

func RecordOperation(operation string, result OpResult) {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.operationCount.With(prometheus.Labels{
		"operation": operation,
		"result":    string(result),
	}).Inc()
}

func IncreaseReapedCount() {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.reapedCount.Inc()
}

func SetEventLogSize(size int) {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.eventLogSize.Set(float64(size))
}

func SetFundedAccounts(count int) {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.fundedAccounts.Set(float64(count))
}

func IncreasePanicCount() {
	if ledgerMetrics == nil {
		return
	}
	ledgerMetrics.panicCount.Inc()
}
