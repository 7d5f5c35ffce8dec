package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ProcessingMetrics struct {
	sequenceGauge  prometheus.Gauge
	nonceGauge     prometheus.Gauge
	attemptCount   prometheus.Counter
	succeededCount prometheus.Counter
	failedCount    prometheus.Counter
	simulatedCount prometheus.Counter
}

func NewProcessingMetrics(namespace string) *ProcessingMetrics {
	m := ProcessingMetrics{
		// per-attempt progress
		sequenceGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_current_transfer", namespace),
			Help: "The sequence number of the transfer currently in flight",
		}),
		nonceGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_account_nonce", namespace),
			Help: "The next nonce of the sender account",
		}),
		// terminal outcomes
		attemptCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_attempt_count", namespace),
			Help: "The total number of transfer attempts",
		}),
		succeededCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_succeeded_count", namespace),
			Help: "The total number of confirmed successful transfers",
		}),
		failedCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_failed_count", namespace),
			Help: "The total number of failed transfers (revert, timeout or error)",
		}),
		simulatedCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_simulated_count", namespace),
			Help: "The total number of dry-run simulated transfers",
		}),
	}
	return &m
}

func (metrics *ProcessingMetrics) SetCurrentTransfer(sequenceNumber int) {
	metrics.sequenceGauge.Set(float64(sequenceNumber))
}

func (metrics *ProcessingMetrics) SetAccountNonce(nonce uint64) {
	metrics.nonceGauge.Set(float64(nonce))
}

func (metrics *ProcessingMetrics) IncSucceeded() {
	metrics.attemptCount.Inc()
	metrics.succeededCount.Inc()
}

func (metrics *ProcessingMetrics) IncFailed() {
	metrics.attemptCount.Inc()
	metrics.failedCount.Inc()
}

func (metrics *ProcessingMetrics) IncSimulated() {
	metrics.attemptCount.Inc()
	metrics.simulatedCount.Inc()
}
