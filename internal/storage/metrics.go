package storage

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storageOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumo_storage_operations_total",
			Help: "Total number of storage operations by backend, operation and result.",
		},
		[]string{"backend", "op", "result"},
	)
	storageOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consumo_storage_operation_duration_seconds",
			Help:    "Storage operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)
)

// Instrumented wraps a Service and records operation metrics
type Instrumented struct {
	Service
}

// NewInstrumented returns svc decorated with Prometheus metrics
func NewInstrumented(svc Service) *Instrumented {
	return &Instrumented{Service: svc}
}

func (s *Instrumented) Get(ctx context.Context, key Key) (Entity, error) {
	start := time.Now()
	e, err := s.Service.Get(ctx, key)
	s.observe("get", err, time.Since(start))
	return e, err
}

func (s *Instrumented) Add(ctx context.Context, key Key, entity Entity) error {
	start := time.Now()
	err := s.Service.Add(ctx, key, entity)
	s.observe("add", err, time.Since(start))
	return err
}

func (s *Instrumented) AddOrUpdate(ctx context.Context, key Key, entity Entity) error {
	start := time.Now()
	err := s.Service.AddOrUpdate(ctx, key, entity)
	s.observe("add_or_update", err, time.Since(start))
	return err
}

func (s *Instrumented) observe(op string, err error, dur time.Duration) {
	backend := s.Service.Name()
	storageOpsTotal.WithLabelValues(backend, op, resultLabel(err)).Inc()
	storageOpDurationSeconds.WithLabelValues(backend, op).Observe(dur.Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
