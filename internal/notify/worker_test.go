package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Aixtrade/LLMTrigger/internal/models"
)

func workerTask() *models.NotificationTask {
	return &models.NotificationTask{
		TaskID:     "notify_test1",
		RuleID:     "rule-1",
		ContextKey: "k",
		Targets: []models.NotifyTarget{
			{Type: models.TargetTelegram, ChatID: "123"},
		},
		Message:   "hello",
		CreatedAt: time.Now().UTC(),
		Metadata:  map[string]any{"execution_id": "exec-1"},
	}
}

func newTestWorker(queue *fakeQueue, channel Channel, recorder StatusRecorder) *Worker {
	registry := NewRegistry()
	registry.Register(channel)
	return NewWorker(queue, registry, recorder, 3)
}

func TestWorker_AllTargetsSucceed(t *testing.T) {
	queue := &fakeQueue{}
	channel := &fakeChannel{targetType: models.TargetTelegram}
	recorder := newFakeRecorder()
	w := newTestWorker(queue, channel, recorder)

	w.ProcessOne(context.Background(), workerTask())

	if channel.calls != 1 {
		t.Errorf("channel calls = %d, want 1", channel.calls)
	}
	if len(queue.tasks) != 0 || len(queue.deadLetter) != 0 {
		t.Error("successful task must not be requeued or dead-lettered")
	}
	if recorder.updates["exec-1"] != models.StatusSent {
		t.Errorf("recorded status = %s, want sent", recorder.updates["exec-1"])
	}
}

func TestWorker_TransientFailureRequeuesWithBackoff(t *testing.T) {
	queue := &fakeQueue{}
	channel := &fakeChannel{targetType: models.TargetTelegram, errs: []error{errors.New("timeout")}}
	w := newTestWorker(queue, channel, nil)

	task := workerTask()
	w.ProcessOne(context.Background(), task)

	if len(queue.tasks) != 1 {
		t.Fatalf("requeued = %d, want 1", len(queue.tasks))
	}
	requeued := queue.tasks[0]
	if requeued.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", requeued.RetryCount)
	}
	if requeued.RetryAfter == nil || !requeued.RetryAfter.After(time.Now().UTC().Add(-time.Second)) {
		t.Error("requeued task must carry a future retry_after")
	}
	if len(queue.deadLetter) != 0 {
		t.Error("first transient failure must not dead-letter")
	}
}

func TestWorker_RetriesExhaustedDeadLetters(t *testing.T) {
	queue := &fakeQueue{}
	channel := &fakeChannel{targetType: models.TargetTelegram, errs: []error{errors.New("timeout")}}
	recorder := newFakeRecorder()
	w := newTestWorker(queue, channel, recorder)

	// Simulate the final attempt: retry_count already at the max.
	task := workerTask()
	task.RetryCount = 3
	w.ProcessOne(context.Background(), task)

	if len(queue.deadLetter) != 1 {
		t.Fatalf("deadLetter = %d, want 1 after retries exhausted", len(queue.deadLetter))
	}
	if len(queue.tasks) != 0 {
		t.Error("exhausted task must not be requeued")
	}
	if recorder.updates["exec-1"] != models.StatusFailed {
		t.Errorf("recorded status = %s, want failed", recorder.updates["exec-1"])
	}
}

func TestWorker_TransientToDeadLetterEndToEnd(t *testing.T) {
	// A channel that always fails transiently walks the task through every
	// retry and into the dead letter.
	queue := &fakeQueue{}
	channel := &fakeChannel{targetType: models.TargetTelegram, errs: []error{errors.New("connection refused")}}
	w := newTestWorker(queue, channel, nil)
	ctx := context.Background()

	task := workerTask()
	w.ProcessOne(ctx, task)
	for attempts := 0; len(queue.tasks) > 0 && attempts < 10; attempts++ {
		next := queue.tasks[0]
		queue.tasks = queue.tasks[1:]
		next.RetryAfter = nil // collapse the backoff wait
		w.ProcessOne(ctx, next)
	}

	if len(queue.deadLetter) != 1 {
		t.Fatalf("deadLetter = %d, want exactly 1", len(queue.deadLetter))
	}
	if got := queue.deadLetter[0].RetryCount; got != 4 {
		t.Errorf("final RetryCount = %d, want 4 (initial + 3 retries)", got)
	}
	if channel.calls != 4 {
		t.Errorf("send attempts = %d, want 4", channel.calls)
	}
}

func TestWorker_PermanentFailureSkipsRetry(t *testing.T) {
	queue := &fakeQueue{}
	channel := &fakeChannel{targetType: models.TargetTelegram, errs: []error{Permanent("bad chat id")}}
	recorder := newFakeRecorder()
	w := newTestWorker(queue, channel, recorder)

	w.ProcessOne(context.Background(), workerTask())

	if len(queue.deadLetter) != 1 {
		t.Fatalf("deadLetter = %d, want 1 for permanent failure", len(queue.deadLetter))
	}
	if len(queue.tasks) != 0 {
		t.Error("permanent failure must bypass retry")
	}
	if queue.deadLetter[0].RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 (no retries burned)", queue.deadLetter[0].RetryCount)
	}
	if recorder.updates["exec-1"] != models.StatusFailed {
		t.Errorf("recorded status = %s, want failed", recorder.updates["exec-1"])
	}
}

func TestWorker_UnknownChannelIsPermanent(t *testing.T) {
	queue := &fakeQueue{}
	w := NewWorker(queue, NewRegistry(), nil, 3) // empty registry

	w.ProcessOne(context.Background(), workerTask())

	if len(queue.deadLetter) != 1 {
		t.Errorf("deadLetter = %d, want 1 when no channel can serve the target", len(queue.deadLetter))
	}
}

func TestWorker_MultiTargetPartialTransient(t *testing.T) {
	queue := &fakeQueue{}
	telegram := &fakeChannel{targetType: models.TargetTelegram}
	wecom := &fakeChannel{targetType: models.TargetWeCom, errs: []error{errors.New("503")}}
	registry := NewRegistry()
	registry.Register(telegram)
	registry.Register(wecom)
	w := NewWorker(queue, registry, nil, 3)

	task := workerTask()
	task.Targets = []models.NotifyTarget{
		{Type: models.TargetTelegram, ChatID: "123"},
		{Type: models.TargetWeCom, WebhookKey: "abc"},
	}
	w.ProcessOne(context.Background(), task)

	// One target failed transiently: the whole task retries.
	if len(queue.tasks) != 1 {
		t.Fatalf("requeued = %d, want 1", len(queue.tasks))
	}
	if queue.tasks[0].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", queue.tasks[0].RetryCount)
	}
}

func TestWithJitter_Bounds(t *testing.T) {
	base := 8 * time.Second
	for i := 0; i < 100; i++ {
		d := withJitter(base)
		if d < 6*time.Second || d > 10*time.Second {
			t.Fatalf("withJitter(%v) = %v, outside +-25%%", base, d)
		}
	}
}
