// Package metrics exposes worker telemetry two ways: prometheus collectors
// served over HTTP, and a Redis-backed service health report other tooling
// can read without scraping.
package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsReceived counts events read from the broker.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_events_received_total",
		Help: "Total number of events received",
	}, []string{"event_type"})

	// EventsProcessed counts events by terminal processing status.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_events_processed_total",
		Help: "Total number of events processed",
	}, []string{"status"})

	// RulesEvaluated counts rule evaluations by kind.
	RulesEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_rules_evaluated_total",
		Help: "Total number of rule evaluations",
	}, []string{"rule_kind"})

	// RulesTriggered counts fires per rule.
	RulesTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_rules_triggered_total",
		Help: "Total number of rule triggers",
	}, []string{"rule_id"})

	// LLMRequests counts LLM evaluations, split by cache usage.
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_llm_requests_total",
		Help: "Total number of LLM evaluations",
	}, []string{"cache_hit"})

	// EventLatency observes end-to-end event handling latency.
	EventLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trigger_event_latency_seconds",
		Help:    "Event handling latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// NotificationsQueued counts notifications accepted by the enqueue gate.
	NotificationsQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_notifications_queued_total",
		Help: "Total number of notifications queued",
	}, []string{"status"})

	// NotifyQueueDepth reports the current notification queue length.
	NotifyQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trigger_notify_queue_depth",
		Help: "Current notification queue depth",
	})
)

// Serve exposes /metrics on addr in a background goroutine. An empty addr
// disables the endpoint.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Metrics endpoint listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
}
