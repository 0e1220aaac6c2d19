package notify

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/Aixtrade/LLMTrigger/internal/models"
)

const (
	dequeueTimeout = 5 * time.Second
	baseBackoff    = time.Second
	maxBackoff     = 60 * time.Second
)

// QueueStore is the durable task queue the worker consumes.
type QueueStore interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*models.NotificationTask, error)
	Enqueue(ctx context.Context, task *models.NotificationTask) error
	MoveToDeadLetter(ctx context.Context, task *models.NotificationTask) error
}

// StatusRecorder updates the execution record once delivery settles.
// Implementations may be no-ops when history persistence is disabled.
type StatusRecorder interface {
	UpdateNotificationStatus(ctx context.Context, executionID string, status models.NotificationStatus) error
}

// Worker drains the notification queue, fanning each task out to its targets
// with bounded retries and a dead-letter tail.
type Worker struct {
	queue    QueueStore
	registry *Registry
	recorder StatusRecorder
	maxRetry int
	now      func() time.Time
}

// NewWorker creates a notification worker. recorder may be nil.
func NewWorker(queue QueueStore, registry *Registry, recorder StatusRecorder, maxRetry int) *Worker {
	return &Worker{
		queue:    queue,
		registry: registry,
		recorder: recorder,
		maxRetry: maxRetry,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("Notification worker started")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Notification worker stopped")
			return
		default:
		}

		task, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Notification worker stopped")
				return
			}
			slog.Error("Failed to dequeue notification", "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}
		if task == nil {
			continue
		}

		if task.Deferred(w.now()) {
			// Not due yet: push back and yield so a deferred-only queue
			// doesn't spin.
			if err := w.queue.Enqueue(ctx, task); err != nil {
				slog.Error("Failed to requeue deferred task", "task_id", task.TaskID, "error", err)
			}
			sleepCtx(ctx, time.Second)
			continue
		}

		w.process(ctx, task)
	}
}

// ProcessOne handles a single task; split out for tests.
func (w *Worker) ProcessOne(ctx context.Context, task *models.NotificationTask) {
	w.process(ctx, task)
}

func (w *Worker) process(ctx context.Context, task *models.NotificationTask) {
	slog.Debug("Processing notification", "task_id", task.TaskID, "retry_count", task.RetryCount)

	sent := 0
	transient := 0
	permanent := 0

	for _, target := range task.Targets {
		channel, ok := w.registry.Get(target.Type)
		if !ok {
			slog.Warn("Unknown channel type", "type", target.Type, "task_id", task.TaskID)
			permanent++
			continue
		}

		err := channel.Send(ctx, target, task)
		switch {
		case err == nil:
			sent++
		case IsPermanent(err):
			slog.Warn("Permanent channel failure",
				"channel", target.Type,
				"task_id", task.TaskID,
				"error", err,
			)
			permanent++
		default:
			slog.Warn("Transient channel failure",
				"channel", target.Type,
				"task_id", task.TaskID,
				"error", err,
			)
			transient++
		}
	}

	switch {
	case transient == 0 && permanent == 0:
		slog.Info("Notification delivered",
			"task_id", task.TaskID,
			"targets", sent,
		)
		w.recordStatus(ctx, task, models.StatusSent)

	case permanent > 0:
		// A target that will never succeed: retrying cannot complete the
		// task, so it goes straight to the dead letter.
		slog.Warn("Notification dead-lettered on permanent failure",
			"task_id", task.TaskID,
			"permanent_failures", permanent,
		)
		w.deadLetter(ctx, task)

	default:
		task.RetryCount++
		if task.RetryCount > w.maxRetry {
			slog.Warn("Notification retries exhausted",
				"task_id", task.TaskID,
				"retry_count", task.RetryCount,
			)
			w.deadLetter(ctx, task)
			return
		}

		delay := withJitter(task.RetryDelay(baseBackoff, maxBackoff))
		retryAfter := w.now().Add(delay)
		task.RetryAfter = &retryAfter

		if err := w.queue.Enqueue(ctx, task); err != nil {
			slog.Error("Failed to requeue notification", "task_id", task.TaskID, "error", err)
			w.deadLetter(ctx, task)
			return
		}
		slog.Info("Notification requeued for retry",
			"task_id", task.TaskID,
			"retry_count", task.RetryCount,
			"retry_after", retryAfter,
		)
	}
}

func (w *Worker) deadLetter(ctx context.Context, task *models.NotificationTask) {
	if err := w.queue.MoveToDeadLetter(ctx, task); err != nil {
		slog.Error("Failed to dead-letter notification", "task_id", task.TaskID, "error", err)
	}
	w.recordStatus(ctx, task, models.StatusFailed)
}

func (w *Worker) recordStatus(ctx context.Context, task *models.NotificationTask, status models.NotificationStatus) {
	if w.recorder == nil {
		return
	}
	executionID, _ := task.Metadata["execution_id"].(string)
	if executionID == "" {
		return
	}
	if err := w.recorder.UpdateNotificationStatus(ctx, executionID, status); err != nil {
		slog.Warn("Failed to update execution record",
			"execution_id", executionID,
			"status", status,
			"error", err,
		)
	}
}

// withJitter applies +-25% jitter to a delay.
func withJitter(d time.Duration) time.Duration {
	jitter := float64(d) * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(float64(d) + jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
