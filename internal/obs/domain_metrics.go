package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// ReconcileRunsTotal counts reconciliation passes by outcome.
	ReconcileRunsTotal *prometheus.CounterVec
	// AdjustmentsTotal counts adjustment line writes by action (created,
	// updated, capped).
	AdjustmentsTotal *prometheus.CounterVec
	// SplitFinalizedTotal counts finalize calls by result (created, replayed).
	SplitFinalizedTotal *prometheus.CounterVec
	// ShareCodeRetriesTotal counts share code regenerations after collisions.
	ShareCodeRetriesTotal prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		ReconcileRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Count of reconciliation passes by outcome.",
		}, []string{"outcome"})
		AdjustmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adjustments_total",
			Help:      "Count of adjustment line writes by action.",
		}, []string{"action"})
		SplitFinalizedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "split_finalized_total",
			Help:      "Count of split finalize calls by result.",
		}, []string{"result"})
		ShareCodeRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_code_retries_total",
			Help:      "Number of share code regenerations caused by collisions.",
		})

		mustRegisterCollector(reg, ReconcileRunsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReconcileRunsTotal = v
			}
		})
		mustRegisterCollector(reg, AdjustmentsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				AdjustmentsTotal = v
			}
		})
		mustRegisterCollector(reg, SplitFinalizedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SplitFinalizedTotal = v
			}
		})
		mustRegisterCollector(reg, ShareCodeRetriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				ShareCodeRetriesTotal = v
			}
		})
	})
}

// ObserveReconciliation records a reconciliation pass. Safe to call before
// metrics registration (tests).
func ObserveReconciliation(outcome string) {
	if ReconcileRunsTotal != nil {
		ReconcileRunsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveAdjustment records an adjustment write action.
func ObserveAdjustment(action string) {
	if AdjustmentsTotal != nil {
		AdjustmentsTotal.WithLabelValues(action).Inc()
	}
}

// ObserveFinalize records a finalize call result.
func ObserveFinalize(result string) {
	if SplitFinalizedTotal != nil {
		SplitFinalizedTotal.WithLabelValues(result).Inc()
	}
}

// ObserveShareCodeRetry records a collision-triggered regeneration.
func ObserveShareCodeRetry() {
	if ShareCodeRetriesTotal != nil {
		ShareCodeRetriesTotal.Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
