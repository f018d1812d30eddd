package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // JobsStarted counts jobs handed to the worker pool, persisted or not
    JobsStarted = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_started_total", Help: "Jobs submitted to the worker pool."})
    // JobsFinished counts terminal outcomes by status
    JobsFinished = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "jobs_finished_total", Help: "Jobs reaching a terminal status."},
        []string{"status"},
    )
    JobsActive = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_active", Help: "Jobs currently registered (queued or running)."})
    JobRuntime = prometheus.NewHistogram(prometheus.HistogramOpts{
        Name: "job_runtime_seconds", Help: "Optimizer wall time for completed jobs.",
        Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
    })
    // ProgressDropped counts progress updates discarded because a consumer was slow
    ProgressDropped = prometheus.NewCounter(prometheus.CounterOpts{Name: "progress_dropped_total", Help: "Progress updates dropped on full channels."})

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks webhook delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests, HTTPDuration)
        Registry.MustRegister(JobsStarted, JobsFinished, JobsActive, JobRuntime, ProgressDropped)
        Registry.MustRegister(WebhookDeliveries, WebhookLatency)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
