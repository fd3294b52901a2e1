package network

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for remote store operations.
type Observer interface {
	RecordUpload(duration time.Duration, sizeBytes int64, attempts int, err error)
	RecordDelete(duration time.Duration, err error)
}

// PrometheusObserver exports upload metrics to Prometheus.
type PrometheusObserver struct {
	operationDuration *prometheus.HistogramVec
	uploadOutcomes    *prometheus.CounterVec
	uploadAttempts    prometheus.Counter
	deleteOutcomes    *prometheus.CounterVec
	uploadBytes       prometheus.Counter
}

// NewPrometheusObserver registers the upload and delete metrics.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "assetkit"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	observer := &PrometheusObserver{
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of remote store uploads and deletes, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		uploadOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploaded files by outcome.",
		}, []string{"outcome"}),
		uploadAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_attempts_total",
			Help:      "HTTP requests issued for uploads, retries included.",
		}),
		deleteOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Remote deletes by outcome.",
		}, []string{"outcome"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative payload size successfully uploaded.",
		}),
	}
	var err error
	if observer.operationDuration, err = register(reg, observer.operationDuration); err != nil {
		return nil, err
	}
	if observer.uploadOutcomes, err = register(reg, observer.uploadOutcomes); err != nil {
		return nil, err
	}
	if observer.uploadAttempts, err = register(reg, observer.uploadAttempts); err != nil {
		return nil, err
	}
	if observer.deleteOutcomes, err = register(reg, observer.deleteOutcomes); err != nil {
		return nil, err
	}
	if observer.uploadBytes, err = register(reg, observer.uploadBytes); err != nil {
		return nil, err
	}
	return observer, nil
}

// RecordUpload tracks upload duration, attempts, size and outcome.
func (o *PrometheusObserver) RecordUpload(duration time.Duration, sizeBytes int64, attempts int, err error) {
	if o == nil {
		return
	}
	o.operationDuration.WithLabelValues("upload").Observe(duration.Seconds())
	o.uploadAttempts.Add(float64(attempts))
	if err != nil {
		o.uploadOutcomes.WithLabelValues(outcomeOf(err)).Inc()
		return
	}
	o.uploadOutcomes.WithLabelValues("success").Inc()
	o.uploadBytes.Add(float64(sizeBytes))
}

// RecordDelete tracks delete duration and outcome.
func (o *PrometheusObserver) RecordDelete(duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.operationDuration.WithLabelValues("delete").Observe(duration.Seconds())
	if err != nil {
		o.deleteOutcomes.WithLabelValues("error").Inc()
		return
	}
	o.deleteOutcomes.WithLabelValues("success").Inc()
}

// register returns the already registered collector when an equal one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return collector, fmt.Errorf("register upload metric: %w", err)
	}
	return collector, nil
}

func outcomeOf(err error) string {
	var failed *UploadFailedError
	if errors.As(err, &failed) {
		return string(failed.Kind)
	}
	return "error"
}

type nopObserver struct{}

func (nopObserver) RecordUpload(time.Duration, int64, int, error) {}
func (nopObserver) RecordDelete(time.Duration, error)             {}
