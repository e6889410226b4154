package servicebroker

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "servicebroker"

// Dispatch outcomes recorded by the dispatch counter.
const (
	outcomeOK           = "ok"
	outcomeError        = "error"
	outcomeShortCircuit = "short_circuit"
)

type metrics struct {
	dispatched *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	queued     *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_total",
			Help:      "Commands dispatched, by service, operation and outcome.",
		}, []string{"service", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Dispatch latency, by service.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		queued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "queued_total",
			Help:      "Jobs pushed, by queue and result.",
		}, []string{"queue", "result"}),
	}

	var err error

	m.dispatched, err = register(reg, m.dispatched)
	if err != nil {
		return nil, err
	}

	m.duration, err = register(reg, m.duration)
	if err != nil {
		return nil, err
	}

	m.queued, err = register(reg, m.queued)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// register reuses an identical collector that is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}

		return c, err
	}

	return c, nil
}

func (m *metrics) observeDispatch(service, operation, outcome string, started time.Time) {
	if m == nil {
		return
	}

	m.dispatched.WithLabelValues(service, operation, outcome).Inc()
	m.duration.WithLabelValues(service).Observe(time.Since(started).Seconds())
}

func (m *metrics) observeQueued(queue string, err error) {
	if m == nil {
		return
	}

	result := outcomeOK
	if err != nil {
		result = outcomeError
	}

	m.queued.WithLabelValues(queue, result).Inc()
}
