// Package metrics exposes assistant activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voiceai/internal/domain"
)

const namespace = "voiceai"

// Registry implements application.Metrics on its own Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	chatRequests       *prometheus.CounterVec
	tokens             *prometheus.CounterVec
	usageWriteFailures prometheus.Counter
	wakeDetections     prometheus.Counter
	recognitionErrors  *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat completion requests by result.",
		}, []string{"result"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by successful completions.",
		}, []string{"kind"}),
		usageWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_write_failures_total",
			Help:      "Usage records that could not be persisted.",
		}),
		wakeDetections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_word_detections_total",
			Help:      "Transcripts that contained the wake phrase.",
		}),
		recognitionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Failed recognition passes by loop and error code.",
		}, []string{"loop", "code"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.chatRequests,
		r.tokens,
		r.usageWriteFailures,
		r.wakeDetections,
		r.recognitionErrors,
		r.httpRequests,
		r.httpDuration,
	)
	return r
}

func (r *Registry) ChatCompleted(usage domain.UsageCounts) {
	r.chatRequests.WithLabelValues("success").Inc()
	r.tokens.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	r.tokens.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
}

func (r *Registry) ChatFailed(reason string) {
	r.chatRequests.WithLabelValues(reason).Inc()
}

func (r *Registry) UsageWriteFailed() {
	r.usageWriteFailures.Inc()
}

func (r *Registry) WakeWordDetected() {
	r.wakeDetections.Inc()
}

func (r *Registry) RecognitionFailed(loop string, code domain.RecognitionCode) {
	r.recognitionErrors.WithLabelValues(loop, string(code)).Inc()
}

// ObserveHTTP records one served request. path should be the route pattern,
// not the raw URL, to keep label cardinality bounded.
func (r *Registry) ObserveHTTP(method, path string, status int, d time.Duration) {
	r.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
