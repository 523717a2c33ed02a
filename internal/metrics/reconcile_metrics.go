package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics содержит метрики сверки заказов с платёжным шлюзом.
// Все методы безопасно вызывать на nil.
type ReconcileMetrics struct {
	// Исходы обработки событий
	outcomes   *prometheus.CounterVec
	rejections *prometheus.CounterVec
	duration   *prometheus.HistogramVec

	// Побочные эффекты
	notifications *prometheus.CounterVec

	// Reaper
	reaperRuns      prometheus.Counter
	reaperCancelled prometheus.Counter
	reaperLastRun   prometheus.Gauge

	// Пул задач
	queueDepth  prometheus.Gauge
	inFlight    prometheus.Gauge
	taskRetries prometheus.Counter
}

// NewReconcileMetrics создаёт метрики в стандартном реестре.
func NewReconcileMetrics() *ReconcileMetrics {
	return NewReconcileMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewReconcileMetricsWithRegisterer создаёт метрики в указанном реестре.
func NewReconcileMetricsWithRegisterer(registerer prometheus.Registerer) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReconcileMetrics{
		outcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "reconciler_events_total",
			Help: "Total number of payment events processed grouped by kind and outcome",
		}, []string{"kind", "outcome"}),
		rejections: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "reconciler_rejections_total",
			Help: "Total number of rejected payment events grouped by reason",
		}, []string{"reason"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "reconciler_event_duration_seconds",
			Help:    "Duration of payment event reconciliation in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"kind"}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "reconciler_notifications_total",
			Help: "Total number of owner notifications grouped by result",
		}, []string{"result"}),
		reaperRuns: registerCounter(registerer, prometheus.CounterOpts{
			Name: "reconciler_reaper_runs_total",
			Help: "Total number of stale order sweeps",
		}),
		reaperCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "reconciler_reaper_cancelled_total",
			Help: "Total number of stale orders cancelled by the reaper",
		}),
		reaperLastRun: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "reconciler_reaper_last_run_timestamp_seconds",
			Help: "Unix time of the last finished sweep",
		}),
		queueDepth: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "reconciler_task_queue_depth",
			Help: "Number of tasks waiting in the worker pool queue",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "reconciler_tasks_in_flight",
			Help: "Number of tasks currently executed by workers",
		}),
		taskRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "reconciler_task_retries_total",
			Help: "Total number of in-process task retries after retryable errors",
		}),
	}
}

// RecordOutcome фиксирует исход обработки события и его длительность.
func (m *ReconcileMetrics) RecordOutcome(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(kind, outcome).Inc()
	m.duration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRejection увеличивает счётчик отклонений по причине.
func (m *ReconcileMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// RecordNotification фиксирует результат отправки уведомления.
func (m *ReconcileMetrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// RecordReaperRun фиксирует завершённый проход reaper-а.
func (m *ReconcileMetrics) RecordReaperRun(cancelled int, at time.Time) {
	if m == nil {
		return
	}
	m.reaperRuns.Inc()
	m.reaperCancelled.Add(float64(cancelled))
	m.reaperLastRun.Set(float64(at.Unix()))
}

// SetQueueDepth обновляет глубину очереди пула.
func (m *ReconcileMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// TaskStarted увеличивает количество выполняемых задач.
func (m *ReconcileMetrics) TaskStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// TaskFinished уменьшает количество выполняемых задач.
func (m *ReconcileMetrics) TaskFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// RecordTaskRetry увеличивает счётчик повторов задач.
func (m *ReconcileMetrics) RecordTaskRetry() {
	if m == nil {
		return
	}
	m.taskRetries.Inc()
}
