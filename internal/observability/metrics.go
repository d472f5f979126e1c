package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orders"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem(service),
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "method", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem(service),
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route", "method"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// WorkflowMetrics counts order operations by outcome. It satisfies
// orders.Recorder.
type WorkflowMetrics struct {
	Operations *prometheus.CounterVec
	DurationMS *prometheus.HistogramVec
}

func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "operations_total",
		Help:      "Order workflow operations by outcome.",
	}, []string{"op", "outcome"})
	dur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "workflow",
		Name:      "operation_duration_ms",
		Help:      "Order workflow operation latency in milliseconds.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"op"})

	reg.MustRegister(ops, dur)
	return &WorkflowMetrics{Operations: ops, DurationMS: dur}
}

func (m *WorkflowMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.DurationMS.WithLabelValues(op).Observe(float64(elapsed) / float64(time.Millisecond))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func subsystem(service string) string {
	out := make([]rune, 0, len(service))
	for _, r := range service {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
