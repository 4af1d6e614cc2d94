package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "arbiter"

// Metrics — Prometheus метрики сервиса.
//
// Все методы безопасны для nil *Metrics: компоненты, созданные без метрик
// (например, в тестах), просто ничего не записывают.
type Metrics struct {
	leaseAttempts     *prometheus.CounterVec
	remindersCreated  prometheus.Counter
	reminderDelay     prometheus.Histogram
	launches          *prometheus.CounterVec
	checkpoints       *prometheus.CounterVec
	cleanups          *prometheus.CounterVec
	dagsRecovered     prometheus.Counter
	malformedPayloads prometheus.Counter
	triggerFires      *prometheus.CounterVec
	triggerDuration   prometheus.Histogram
}

// NewMetrics создаёт и регистрирует метрики в reg.
// reg == nil — используется prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		leaseAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lease_attempts_total",
			Help:      "Lease arbitration attempts by outcome.",
		}, []string{"outcome"}),
		remindersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reminders_scheduled_total",
			Help:      "Reminder triggers scheduled after losing a lease.",
		}),
		reminderDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "reminder_delay_seconds",
			Help:      "Delay between losing a lease and the reminder fire time.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
		}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "launches_total",
			Help:      "DAG launch hand-offs by result.",
		}, []string{"result"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dag_checkpoints_total",
			Help:      "DAG state store checkpoint writes by result.",
		}, []string{"result"}),
		cleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dag_cleanups_total",
			Help:      "DAG state store cleanups by result.",
		}, []string{"result"}),
		dagsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dags_recovered_total",
			Help:      "DAGs found in the state store during recovery.",
		}),
		malformedPayloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "malformed_reminder_payloads_total",
			Help:      "Reminder payloads repaired with default values.",
		}),
		triggerFires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "trigger_fires_total",
			Help:      "Trigger callbacks by result.",
		}, []string{"result"}),
		triggerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "trigger_fire_duration_seconds",
			Help:      "Duration of trigger callbacks.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.leaseAttempts,
		m.remindersCreated,
		m.reminderDelay,
		m.launches,
		m.checkpoints,
		m.cleanups,
		m.dagsRecovered,
		m.malformedPayloads,
		m.triggerFires,
		m.triggerDuration,
	)

	return m
}

// ObserveLeaseAttempt учитывает попытку арбитража.
func (m *Metrics) ObserveLeaseAttempt(outcome string) {
	if m == nil {
		return
	}
	m.leaseAttempts.WithLabelValues(outcome).Inc()
}

// ObserveReminder учитывает запланированный reminder и его задержку.
func (m *Metrics) ObserveReminder(delay time.Duration) {
	if m == nil {
		return
	}
	m.remindersCreated.Inc()
	m.reminderDelay.Observe(delay.Seconds())
}

// ObserveLaunch учитывает передачу DAG в execution engine.
func (m *Metrics) ObserveLaunch(result string) {
	if m == nil {
		return
	}
	m.launches.WithLabelValues(result).Inc()
}

// ObserveCheckpoint учитывает запись checkpoint.
func (m *Metrics) ObserveCheckpoint(err error) {
	if m == nil {
		return
	}
	m.checkpoints.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveCleanup учитывает удаление DAG из хранилища.
func (m *Metrics) ObserveCleanup(err error) {
	if m == nil {
		return
	}
	m.cleanups.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveRecoveredDags учитывает DAG, найденные при восстановлении.
func (m *Metrics) ObserveRecoveredDags(n int) {
	if m == nil {
		return
	}
	m.dagsRecovered.Add(float64(n))
}

// ObserveMalformedPayload учитывает исправленный payload reminder'а.
func (m *Metrics) ObserveMalformedPayload() {
	if m == nil {
		return
	}
	m.malformedPayloads.Inc()
}

// ObserveTriggerFire учитывает срабатывание триггера.
func (m *Metrics) ObserveTriggerFire(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.triggerFires.WithLabelValues(resultLabel(err)).Inc()
	m.triggerDuration.Observe(duration.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
