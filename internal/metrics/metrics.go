package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность прогона саги
	SagaDuration *prometheus.HistogramVec

	// Исходы саг: committed / rolled_back / inconsistent
	SagaOutcomes *prometheus.CounterVec

	// Traffic: заявки по типу и по результату приема/решения
	Requests *prometheus.CounterVec

	// Отказы контроля допуска по событию (create/update)
	AdmissionRejected *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Вызовы каталога по операции и результату
	DirectoryCalls *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		SagaDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "groupflow_saga_duration_seconds",
			Help:    "Histogram of saga execution latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"saga", "outcome"}),

		SagaOutcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "groupflow_saga_outcomes_total",
			Help: "Total number of saga runs by outcome.",
		}, []string{"saga", "outcome"}),

		Requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "groupflow_requests_total",
			Help: "Total number of group requests by kind and action.",
		}, []string{"kind", "action"}), // action: submitted, auto_approved, approved, denied

		AdmissionRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "groupflow_admission_rejected_total",
			Help: "Total number of requests rejected by admission control.",
		}, []string{"event"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "groupflow_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: validation, forbidden, already_decided, gateway, storage, notify

		DirectoryCalls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "groupflow_directory_calls_total",
			Help: "Total number of directory gateway calls by operation and result.",
		}, []string{"op", "result"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "groupflow_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"breaker"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "groupflow_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
