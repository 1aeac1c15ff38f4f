package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "credit_ledger"

// Metrics 는 원장/과금 경로의 Prometheus 수집기 묶음이다.
// 전역 레지스트리 대신 인스턴스별 레지스트리를 사용해 테스트 간 중복 등록을 피한다.
type Metrics struct {
	registry *prometheus.Registry

	DeductionsTotal     prometheus.Counter
	DeductedTokens      prometheus.Counter
	ShortfallTokens     prometheus.Counter
	OversizedDeductions prometheus.Counter
	GrantsTotal         *prometheus.CounterVec
	WriteConflicts      prometheus.Counter
	WriteRetriesFailed  prometheus.Counter
	CacheRequests       *prometheus.CounterVec
	PreflightDecisions  *prometheus.CounterVec
	PaymentsConfirmed   *prometheus.CounterVec
	UsageRecordsDropped prometheus.Counter
}

// NewMetrics 는 수집기를 생성하고 등록한다.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		DeductionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deductions_total",
			Help:      "Number of applied deductions.",
		}),
		DeductedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deducted_tokens_total",
			Help:      "Tokens removed from credit batches.",
		}),
		ShortfallTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shortfall_tokens_total",
			Help:      "Consumed tokens not covered by any active batch.",
		}),
		OversizedDeductions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oversized_deductions_total",
			Help:      "Deductions above the alert threshold.",
		}),
		GrantsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_total",
			Help:      "Credit batches granted, by batch type.",
		}, []string{"batch_type"}),
		WriteConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_conflicts_total",
			Help:      "Versioned account writes rejected by a concurrent writer.",
		}),
		WriteRetriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_retries_exhausted_total",
			Help:      "Account mutations that ran out of conflict retries.",
		}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_cache_requests_total",
			Help:      "Balance cache operations, by operation and result.",
		}, []string{"op", "result"}),
		PreflightDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preflight_decisions_total",
			Help:      "Preflight gate outcomes.",
		}, []string{"decision"}),
		PaymentsConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirmations_total",
			Help:      "Payment confirmation outcomes.",
		}, []string{"outcome"}),
		UsageRecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_records_dropped_total",
			Help:      "Usage records that could not be persisted.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.DeductionsTotal,
		m.DeductedTokens,
		m.ShortfallTokens,
		m.OversizedDeductions,
		m.GrantsTotal,
		m.WriteConflicts,
		m.WriteRetriesFailed,
		m.CacheRequests,
		m.PreflightDecisions,
		m.PaymentsConfirmed,
		m.UsageRecordsDropped,
	)
	return m
}

// Handler 는 /metrics 노출용 HTTP 핸들러다.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 는 내부 레지스트리를 반환한다.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CacheResult 는 캐시 요청 결과를 기록한다. nil 수신자는 무시한다.
func (m *Metrics) CacheResult(op string, result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(op, result).Inc()
}

// Preflight 는 게이트 판정을 기록한다.
func (m *Metrics) Preflight(decision string) {
	if m == nil {
		return
	}
	m.PreflightDecisions.WithLabelValues(decision).Inc()
}

// Payment 는 결제 확인 결과를 기록한다.
func (m *Metrics) Payment(outcome string) {
	if m == nil {
		return
	}
	m.PaymentsConfirmed.WithLabelValues(outcome).Inc()
}

// Deduction 은 차감 결과를 기록한다.
func (m *Metrics) Deduction(deducted int64, shortfall int64) {
	if m == nil {
		return
	}
	m.DeductionsTotal.Inc()
	m.DeductedTokens.Add(float64(deducted))
	if shortfall > 0 {
		m.ShortfallTokens.Add(float64(shortfall))
	}
}

// Grant 는 배치 지급을 기록한다.
func (m *Metrics) Grant(batchType string) {
	if m == nil {
		return
	}
	m.GrantsTotal.WithLabelValues(batchType).Inc()
}

// Oversized 는 임계값 초과 차감을 기록한다.
func (m *Metrics) Oversized() {
	if m == nil {
		return
	}
	m.OversizedDeductions.Inc()
}

// WriteConflict 는 버전 충돌을 기록한다.
func (m *Metrics) WriteConflict() {
	if m == nil {
		return
	}
	m.WriteConflicts.Inc()
}

// WriteRetriesExhausted 는 재시도 소진을 기록한다.
func (m *Metrics) WriteRetriesExhausted() {
	if m == nil {
		return
	}
	m.WriteRetriesFailed.Inc()
}

// UsageDropped 는 저장 실패로 버려진 사용량 기록 수를 더한다.
func (m *Metrics) UsageDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.UsageRecordsDropped.Add(float64(n))
}
