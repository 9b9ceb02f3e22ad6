package scheduler

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// schedulerMetrics Prometheus-метрики пулов воркеров
type schedulerMetrics struct {
	submitted *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	cancelled *prometheus.CounterVec
	timeouts  *prometheus.CounterVec
	queued    *prometheus.GaugeVec
	busy      *prometheus.GaugeVec
	duration  *prometheus.HistogramVec
}

// newSchedulerMetrics создаёт метрики и регистрирует их в reg.
// При reg == nil метрики собираются, но никуда не экспортируются.
func newSchedulerMetrics(reg prometheus.Registerer) *schedulerMetrics {
	m := &schedulerMetrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "tasks_submitted_total",
			Help:      "Общее число поставленных задач.",
		}, []string{"pool"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "tasks_completed_total",
			Help:      "Задачи, завершившиеся успешным ответом.",
		}, []string{"pool"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "tasks_failed_total",
			Help:      "Задачи, завершившиеся ответом ERROR или сбоем воркера.",
		}, []string{"pool"}),
		cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "tasks_cancelled_total",
			Help:      "Задачи, снятые из очереди или отклонённые при остановке.",
		}, []string{"pool"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "task_timeouts_total",
			Help:      "Срабатывания дедлайна задачи (с перезапуском воркера).",
		}, []string{"pool"}),
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scheduler",
			Name:      "queue_depth",
			Help:      "Задачи, ожидающие свободного воркера.",
		}, []string{"pool"}),
		busy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scheduler",
			Name:      "busy_workers",
			Help:      "Воркеры, выполняющие задачу.",
		}, []string{"pool"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Время от отправки задачи воркеру до ответа.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"pool"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.submitted, m.completed, m.failed, m.cancelled,
			m.timeouts, m.queued, m.busy, m.duration,
		} {
			if err := reg.Register(c); err != nil {
				var already prometheus.AlreadyRegisteredError
				if errors.As(err, &already) {
					logger().Warn("Метрика планировщика уже зарегистрирована: %v", err)
					continue
				}
				logger().Error("Ошибка регистрации метрики планировщика: %v", err)
			}
		}
	}
	return m
}
