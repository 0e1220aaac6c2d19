package notify

import (
	"context"
	"time"

	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// fakeDedup is a test fake for DedupGate.
type fakeDedup struct {
	allow    bool
	acquired []string
	cooldown time.Duration
}

func (f *fakeDedup) TryAcquire(ctx context.Context, ruleID, contextKey string, cooldown time.Duration) (bool, error) {
	f.acquired = append(f.acquired, ruleID+":"+contextKey)
	f.cooldown = cooldown
	return f.allow, nil
}

// fakeRate is a test fake for RateGate.
type fakeRate struct {
	allow bool
	calls int
	limit int
}

func (f *fakeRate) Allow(ctx context.Context, ruleID string, maxPerMinute int, now time.Time) (bool, error) {
	f.calls++
	f.limit = maxPerMinute
	return f.allow, nil
}

// fakeQueue is an in-memory QueueStore.
type fakeQueue struct {
	tasks      []*models.NotificationTask
	deadLetter []*models.NotificationTask
}

func (f *fakeQueue) Enqueue(ctx context.Context, task *models.NotificationTask) error {
	copied := *task
	f.tasks = append(f.tasks, &copied)
	return nil
}

func (f *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.NotificationTask, error) {
	if len(f.tasks) == 0 {
		return nil, nil
	}
	task := f.tasks[0]
	f.tasks = f.tasks[1:]
	return task, nil
}

func (f *fakeQueue) MoveToDeadLetter(ctx context.Context, task *models.NotificationTask) error {
	copied := *task
	f.deadLetter = append(f.deadLetter, &copied)
	return nil
}

// fakeChannel is a scriptable Channel.
type fakeChannel struct {
	targetType models.TargetType
	errs       []error // consumed per call; nil entries mean success
	calls      int
}

func (f *fakeChannel) Type() models.TargetType { return f.targetType }

func (f *fakeChannel) Send(ctx context.Context, target models.NotifyTarget, task *models.NotificationTask) error {
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	if len(f.errs) > 1 {
		f.errs = f.errs[1:]
	}
	return err
}

// fakeRecorder captures execution-record status updates.
type fakeRecorder struct {
	updates map[string]models.NotificationStatus
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{updates: map[string]models.NotificationStatus{}}
}

func (f *fakeRecorder) UpdateNotificationStatus(ctx context.Context, executionID string, status models.NotificationStatus) error {
	f.updates[executionID] = status
	return nil
}
