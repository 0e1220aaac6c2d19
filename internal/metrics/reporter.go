package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// reportKeyPrefix is the Redis key prefix for service health reports.
	reportKeyPrefix = "metrics:"
	// reportTTL is how long a report stays in Redis if not refreshed.
	reportTTL = 2 * time.Minute
	// defaultReportInterval is how often the reporter writes to Redis.
	defaultReportInterval = 30 * time.Second
)

// ServiceReport is the JSON health snapshot written to Redis.
type ServiceReport struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"`

	EventsReceived       uint64 `json:"events_received"`
	EventsProcessed      uint64 `json:"events_processed"`
	ProcessingErrors     uint64 `json:"processing_errors"`
	NotificationsQueued  uint64 `json:"notifications_queued"`
	NotificationsDropped uint64 `json:"notifications_dropped"`
	LLMCalls             uint64 `json:"llm_calls"`

	NotifyQueueDepth int64 `json:"notify_queue_depth"`
}

// QueueLener reports the notification queue depth for the snapshot.
type QueueLener interface {
	Len(ctx context.Context) (int64, error)
}

// Reporter periodically writes a service health report to Redis so fleet
// tooling can watch workers without scraping each one.
type Reporter struct {
	serviceName string
	redis       *redis.Client
	queue       QueueLener
	startedAt   time.Time
	interval    time.Duration

	eventsReceived       atomic.Uint64
	eventsProcessed      atomic.Uint64
	processingErrors     atomic.Uint64
	notificationsQueued  atomic.Uint64
	notificationsDropped atomic.Uint64
	llmCalls             atomic.Uint64

	wg sync.WaitGroup
}

// NewReporter creates a reporter for the named service. queue may be nil.
func NewReporter(serviceName string, redisClient *redis.Client, queue QueueLener) *Reporter {
	return &Reporter{
		serviceName: serviceName,
		redis:       redisClient,
		queue:       queue,
		startedAt:   time.Now().UTC(),
		interval:    defaultReportInterval,
	}
}

// Start begins periodic reporting until ctx is cancelled; a final report is
// written on shutdown.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.write(context.Background())
				return
			case <-ticker.C:
				r.write(ctx)
			}
		}
	}()
}

// Wait blocks until the reporting goroutine exits.
func (r *Reporter) Wait() {
	r.wg.Wait()
}

// RecordEventReceived counts a broker delivery.
func (r *Reporter) RecordEventReceived() { r.eventsReceived.Add(1) }

// RecordEventProcessed counts a completed event.
func (r *Reporter) RecordEventProcessed() { r.eventsProcessed.Add(1) }

// RecordError counts a processing failure.
func (r *Reporter) RecordError() { r.processingErrors.Add(1) }

// RecordNotificationQueued counts an accepted notification.
func (r *Reporter) RecordNotificationQueued() { r.notificationsQueued.Add(1) }

// RecordNotificationDropped counts a gated (dedup/rate) notification.
func (r *Reporter) RecordNotificationDropped() { r.notificationsDropped.Add(1) }

// RecordLLMCall counts an LLM evaluation.
func (r *Reporter) RecordLLMCall() { r.llmCalls.Add(1) }

// Snapshot returns the current report without writing it.
func (r *Reporter) Snapshot(ctx context.Context) *ServiceReport {
	report := &ServiceReport{
		ServiceName:          r.serviceName,
		StartedAt:            r.startedAt,
		LastUpdated:          time.Now().UTC(),
		Status:               "healthy",
		EventsReceived:       r.eventsReceived.Load(),
		EventsProcessed:      r.eventsProcessed.Load(),
		ProcessingErrors:     r.processingErrors.Load(),
		NotificationsQueued:  r.notificationsQueued.Load(),
		NotificationsDropped: r.notificationsDropped.Load(),
		LLMCalls:             r.llmCalls.Load(),
	}
	if r.queue != nil {
		if depth, err := r.queue.Len(ctx); err == nil {
			report.NotifyQueueDepth = depth
			NotifyQueueDepth.Set(float64(depth))
		}
	}
	return report
}

func (r *Reporter) write(ctx context.Context) {
	if r.redis == nil {
		return
	}

	report := r.Snapshot(ctx)
	data, err := json.Marshal(report)
	if err != nil {
		slog.Error("Failed to marshal service report", "error", err)
		return
	}

	key := reportKeyPrefix + r.serviceName
	if err := r.redis.Set(ctx, key, data, reportTTL).Err(); err != nil {
		slog.Error("Failed to write service report", "key", key, "error", err)
	}
}
