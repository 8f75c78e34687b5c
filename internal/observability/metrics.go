package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce              sync.Once
	httpDurationHistogram     *prometheus.HistogramVec
	settlementOutcomeCounter  *prometheus.CounterVec
	settlementClaimCounter    *prometheus.CounterVec
	complianceDenialCounter   *prometheus.CounterVec
	ledgerSubmitHistogram     *prometheus.HistogramVec
	confirmationWaitHistogram *prometheus.HistogramVec
	refundCounter             *prometheus.CounterVec
	reconciliationCounter     *prometheus.CounterVec
	idempotencyCounter        *prometheus.CounterVec
	workerRunCounter          *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		settlementOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_outcomes_total",
			Help: "Terminal settlement outcomes per order attempt",
		}, []string{"outcome"})

		settlementClaimCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_claims_total",
			Help: "Order claim attempts by result (claimed or lost to a concurrent worker)",
		}, []string{"result"})

		complianceDenialCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_denials_total",
			Help: "Denied compliance decisions by reason code",
		}, []string{"reason"})

		ledgerSubmitHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_submit_duration_seconds",
			Help:    "Latency of on-chain transfer submission",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"})

		confirmationWaitHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_confirmation_wait_seconds",
			Help:    "Time spent waiting for transaction confirmations",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"})

		refundCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refunds_total",
			Help: "Refund initiation results",
		}, []string{"result"})

		reconciliationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciliation_actions_total",
			Help: "Actions taken by the reconciliation pass on stuck orders",
		}, []string{"action"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			settlementOutcomeCounter,
			settlementClaimCounter,
			complianceDenialCounter,
			ledgerSubmitHistogram,
			confirmationWaitHistogram,
			refundCounter,
			reconciliationCounter,
			idempotencyCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementSettlementOutcome(outcome string) {
	if settlementOutcomeCounter == nil {
		return
	}
	settlementOutcomeCounter.WithLabelValues(outcome).Inc()
}

func IncrementSettlementClaim(result string) {
	if settlementClaimCounter == nil {
		return
	}
	settlementClaimCounter.WithLabelValues(result).Inc()
}

func IncrementComplianceDenial(reason string) {
	if complianceDenialCounter == nil {
		return
	}
	complianceDenialCounter.WithLabelValues(reason).Inc()
}

func ObserveLedgerSubmit(result string, duration time.Duration) {
	if ledgerSubmitHistogram == nil {
		return
	}
	ledgerSubmitHistogram.WithLabelValues(result).Observe(duration.Seconds())
}

func ObserveConfirmationWait(outcome string, duration time.Duration) {
	if confirmationWaitHistogram == nil {
		return
	}
	confirmationWaitHistogram.WithLabelValues(outcome).Observe(duration.Seconds())
}

func IncrementRefund(result string) {
	if refundCounter == nil {
		return
	}
	refundCounter.WithLabelValues(result).Inc()
}

func IncrementReconciliationAction(action string) {
	if reconciliationCounter == nil {
		return
	}
	reconciliationCounter.WithLabelValues(action).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
