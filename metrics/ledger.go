package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LedgerMetrics struct {
	usageOutcomes     *prometheus.CounterVec
	usageApplied      *prometheus.CounterVec
	lostRaces         *prometheus.CounterVec
	batchOutcomes     *prometheus.CounterVec
	batchAllocated    prometheus.Counter
	compensations     *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	authorityReads    *prometheus.CounterVec
	cacheWriteFailure *prometheus.CounterVec
	reconciliations   *prometheus.CounterVec
	auditViolations   *prometheus.GaugeVec
	auditTotals       *prometheus.GaugeVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			usageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "airdrop_ledger_usage_total",
				Help: "Consume and refund passes by direction and outcome.",
			}, []string{"direction", "outcome"}),
			usageApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "airdrop_ledger_usage_applied_amount_total",
				Help: "Base units applied to grant rows by direction.",
			}, []string{"direction"}),
			lostRaces: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "airdrop_ledger_lost_races_total",
				Help: "Conditional updates that affected no row because a concurrent writer won.",
			}, []string{"target"}),
			batchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "airdrop_ledger_batch_total",
				Help: "Batch allocations by outcome.",
			}, []string{"outcome"}),
			batchAllocated: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "airdrop_ledger_batch_allocated_amount_total",
				Help: "Base units materialized into grant rows by batch allocations.",
			}),
			compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "airdrop_ledger_compensations_total",
				Help: "Compensating writes by target and result.",
			}, []string{"target", "result"}),
			cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "airdrop_ledger_cache_lookups_total",
				Help: "Balance cache lookups by result.",
			}, []string{"result"}),
			authorityReads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "airdrop_ledger_authority_reads_total",
				Help: "Fallback reads against the balance authority by result.",
			}, []string{"result"}),
			cacheWriteFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "airdrop_ledger_cache_write_failures_total",
				Help: "Balance cache writes that did not take effect by action.",
			}, []string{"action"}),
			reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "airdrop_ledger_reconciliations_total",
				Help: "Pay operation phases by phase and outcome.",
			}, []string{"phase", "outcome"}),
			auditViolations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "airdrop_ledger_audit_violations",
				Help: "Rows breaking a ledger bound at the last audit.",
			}, []string{"table"}),
			auditTotals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "airdrop_ledger_audit_total_amount",
				Help: "Ledger totals at the last audit.",
			}, []string{"column"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.usageOutcomes,
			ledgerRegistry.usageApplied,
			ledgerRegistry.lostRaces,
			ledgerRegistry.batchOutcomes,
			ledgerRegistry.batchAllocated,
			ledgerRegistry.compensations,
			ledgerRegistry.cacheLookups,
			ledgerRegistry.authorityReads,
			ledgerRegistry.cacheWriteFailure,
			ledgerRegistry.reconciliations,
			ledgerRegistry.auditViolations,
			ledgerRegistry.auditTotals,
		)
	})
	return ledgerRegistry
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func (m *LedgerMetrics) ObserveUsage(direction string, outcome string, applied int64) {
	if m == nil {
		return
	}
	direction = labelOrUnknown(direction)
	m.usageOutcomes.WithLabelValues(direction, labelOrUnknown(outcome)).Inc()
	if applied > 0 {
		m.usageApplied.WithLabelValues(direction).Add(float64(applied))
	}
}

func (m *LedgerMetrics) ObserveLostRace(target string) {
	if m == nil {
		return
	}
	m.lostRaces.WithLabelValues(labelOrUnknown(target)).Inc()
}

func (m *LedgerMetrics) ObserveBatch(outcome string, allocated int64) {
	if m == nil {
		return
	}
	m.batchOutcomes.WithLabelValues(labelOrUnknown(outcome)).Inc()
	if allocated > 0 {
		m.batchAllocated.Add(float64(allocated))
	}
}

func (m *LedgerMetrics) ObserveCompensation(target string, ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "applied"
	}
	m.compensations.WithLabelValues(labelOrUnknown(target), result).Inc()
}

func (m *LedgerMetrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *LedgerMetrics) ObserveAuthorityRead(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.authorityReads.WithLabelValues(result).Inc()
}

func (m *LedgerMetrics) ObserveCacheWriteFailure(action string) {
	if m == nil {
		return
	}
	m.cacheWriteFailure.WithLabelValues(labelOrUnknown(action)).Inc()
}

func (m *LedgerMetrics) ObserveReconciliation(phase string, outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(labelOrUnknown(phase), labelOrUnknown(outcome)).Inc()
}

func (m *LedgerMetrics) SetAuditViolations(table string, count int64) {
	if m == nil {
		return
	}
	m.auditViolations.WithLabelValues(labelOrUnknown(table)).Set(float64(count))
}

func (m *LedgerMetrics) SetAuditTotal(column string, amount int64) {
	if m == nil {
		return
	}
	m.auditTotals.WithLabelValues(labelOrUnknown(column)).Set(float64(amount))
}
