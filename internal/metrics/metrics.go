// Package metrics exports storage, scan and event telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry of backend operations, scans and events.
type Observer interface {
	RecordOperation(backend, operation string, duration time.Duration, err error)
	RecordUpload(backend string, sizeBytes int64)
	RecordVerdict(status string)
	RecordEvent(event string, err error)
}

// PrometheusObserver exports goattach metrics to Prometheus.
type PrometheusObserver struct {
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
	uploadBytes       *prometheus.CounterVec
	verdicts          *prometheus.CounterVec
	events            *prometheus.CounterVec
}

// NewPrometheusObserver registers all collectors on reg. Collectors already
// registered by an earlier observer are reused.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "goattach"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	observer := &PrometheusObserver{}

	var err error
	if observer.operationDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "storage_operation_duration_seconds",
		Help:      "Latency of storage backend operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend", "operation"})); err != nil {
		return nil, err
	}
	if observer.operationErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_operation_errors_total",
		Help:      "Count of failed storage backend operations.",
	}, []string{"backend", "operation"})); err != nil {
		return nil, err
	}
	if observer.uploadBytes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_uploaded_bytes_total",
		Help:      "Cumulative content size successfully written to a backend.",
	}, []string{"backend"})); err != nil {
		return nil, err
	}
	if observer.verdicts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_verdicts_total",
		Help:      "Count of malware scan verdicts by resulting status.",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	if observer.events, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_processed_total",
		Help:      "Count of processed events by type and result.",
	}, []string{"event", "result"})); err != nil {
		return nil, err
	}

	return observer, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return collector, fmt.Errorf("register metric: %w", err)
	}
	return collector, nil
}

func (o *PrometheusObserver) RecordOperation(backend, operation string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.operationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues(backend, operation).Inc()
	}
}

func (o *PrometheusObserver) RecordUpload(backend string, sizeBytes int64) {
	if o == nil || sizeBytes <= 0 {
		return
	}
	o.uploadBytes.WithLabelValues(backend).Add(float64(sizeBytes))
}

func (o *PrometheusObserver) RecordVerdict(status string) {
	if o == nil {
		return
	}
	o.verdicts.WithLabelValues(status).Inc()
}

func (o *PrometheusObserver) RecordEvent(event string, err error) {
	if o == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	o.events.WithLabelValues(event, result).Inc()
}

type nopObserver struct{}

// Nop returns an observer discarding everything.
func Nop() Observer {
	return nopObserver{}
}

func (nopObserver) RecordOperation(string, string, time.Duration, error) {}

func (nopObserver) RecordUpload(string, int64) {}

func (nopObserver) RecordVerdict(string) {}

func (nopObserver) RecordEvent(string, error) {}

// OrNop returns observer, or a no-op observer when it is nil.
func OrNop(observer Observer) Observer {
	if observer == nil {
		return nopObserver{}
	}
	if o, ok := observer.(*PrometheusObserver); ok && o == nil {
		return nopObserver{}
	}
	return observer
}
