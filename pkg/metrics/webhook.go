package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records provider webhook processing outcomes per event type.
type WebhookMetrics struct {
	duration   *prometheus.HistogramVec
	processed  *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	deadLetter *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_duration_seconds",
		Help:    "Duration of webhook event processing in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_processed",
		Help: "Webhook events processed, by event type and result.",
	}, []string{"event_type", "result"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_duplicates",
		Help: "Webhook events skipped as duplicates.",
	}, []string{"event_type"})
	deadLetter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_dead_lettered",
		Help: "Webhook events acknowledged but parked for manual review.",
	}, []string{"event_type"})
	reg.MustRegister(duration, processed, duplicates, deadLetter)
	return &WebhookMetrics{
		duration:   duration,
		processed:  processed,
		duplicates: duplicates,
		deadLetter: deadLetter,
	}
}

// ObserveDuration records processing time for one event.
func (w *WebhookMetrics) ObserveDuration(eventType string, duration time.Duration) {
	if w == nil || w.duration == nil {
		return
	}
	w.duration.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}

// IncProcessed counts one processed event with its result (ok or error).
func (w *WebhookMetrics) IncProcessed(eventType, result string) {
	if w == nil || w.processed == nil {
		return
	}
	w.processed.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

// IncDuplicate counts one event skipped by the idempotency guard.
func (w *WebhookMetrics) IncDuplicate(eventType string) {
	if w == nil || w.duplicates == nil {
		return
	}
	w.duplicates.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncDeadLettered counts one event parked in the dead letter table.
func (w *WebhookMetrics) IncDeadLettered(eventType string) {
	if w == nil || w.deadLetter == nil {
		return
	}
	w.deadLetter.WithLabelValues(normalizeLabel(eventType)).Inc()
}
