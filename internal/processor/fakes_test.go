package processor

import (
	"context"
	"errors"
	"time"

	"github.com/Aixtrade/LLMTrigger/internal/engine"
	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// fakeIdempotency is a test fake for Idempotency.
type fakeIdempotency struct {
	processed map[string]bool
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{processed: map[string]bool{}}
}

func (f *fakeIdempotency) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	if f.processed[eventID] {
		return false, nil
	}
	f.processed[eventID] = true
	return true, nil
}

// fakeContexts records appends and serves a canned window.
type fakeContexts struct {
	appended []models.Event
	window   []models.Event
	reads    int
}

func (f *fakeContexts) Append(ctx context.Context, event *models.Event) error {
	f.appended = append(f.appended, *event)
	return nil
}

func (f *fakeContexts) Events(ctx context.Context, contextKey string) ([]models.Event, error) {
	f.reads++
	return f.window, nil
}

// fakeMatcher returns a fixed rule list.
type fakeMatcher struct {
	rules []*models.Rule
}

func (f *fakeMatcher) Match(ctx context.Context, eventType, contextKey string) ([]*models.Rule, error) {
	return f.rules, nil
}

// fakeEvaluator maps rule IDs to canned results or errors.
type fakeEvaluator struct {
	results map[string]engine.Result
	fail    map[string]bool
	calls   []string
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, event *models.Event, rule *models.Rule) (engine.Result, error) {
	f.calls = append(f.calls, rule.RuleID)
	if f.fail[rule.RuleID] {
		return engine.Result{}, errors.New("boom")
	}
	return f.results[rule.RuleID], nil
}

// fakeDispatcher records dispatches.
type fakeDispatcher struct {
	status     models.NotificationStatus
	dispatched []string
	lastEvent  *models.Event
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, rule *models.Rule, contextKey string, event *models.Event, result engine.Result, executionID string) (models.NotificationStatus, error) {
	f.dispatched = append(f.dispatched, rule.RuleID)
	f.lastEvent = event
	status := f.status
	if status == "" {
		status = models.StatusQueued
	}
	return status, nil
}

// fakeRecorder collects execution records.
type fakeRecorder struct {
	records []models.ExecutionRecord
}

func (f *fakeRecorder) Record(ctx context.Context, rec *models.ExecutionRecord) error {
	f.records = append(f.records, *rec)
	return nil
}

// fakeSweepStore backs tick tests.
type fakeSweepStore struct {
	pending   map[string][]string // ruleID -> context keys
	since     map[string]time.Time
	batches   map[string][]models.Event
	last      map[string]time.Time
	analyzed  map[string][]string
	lockFails bool
	locks     []string
}

func newFakeSweepStore() *fakeSweepStore {
	return &fakeSweepStore{
		pending:  map[string][]string{},
		since:    map[string]time.Time{},
		batches:  map[string][]models.Event{},
		last:     map[string]time.Time{},
		analyzed: map[string][]string{},
	}
}

func (f *fakeSweepStore) PendingBatchContexts(ctx context.Context, ruleID string) ([]string, error) {
	return f.pending[ruleID], nil
}

func (f *fakeSweepStore) BatchSince(ctx context.Context, ruleID, contextKey string) (time.Time, bool, error) {
	since, ok := f.since[ruleID+":"+contextKey]
	return since, ok, nil
}

func (f *fakeSweepStore) FlushBatch(ctx context.Context, ruleID, contextKey string) ([]models.Event, error) {
	k := ruleID + ":" + contextKey
	batch := f.batches[k]
	delete(f.batches, k)
	delete(f.since, k)
	return batch, nil
}

func (f *fakeSweepStore) LastAnalysis(ctx context.Context, ruleID, contextKey string) (time.Time, bool, error) {
	last, ok := f.last[ruleID+":"+contextKey]
	return last, ok, nil
}

func (f *fakeSweepStore) AnalyzedContexts(ctx context.Context, ruleID string) ([]string, error) {
	return f.analyzed[ruleID], nil
}

func (f *fakeSweepStore) TryAcquireIntervalLock(ctx context.Context, ruleID string, ttl time.Duration) (bool, error) {
	if f.lockFails {
		return false, nil
	}
	f.locks = append(f.locks, ruleID)
	return true, nil
}

// fakeTrigger implements engine.TriggerDecider for tick tests.
type fakeTrigger struct {
	analyzed []string
}

func (f *fakeTrigger) Decide(ctx context.Context, rule *models.Rule, event *models.Event) (engine.TriggerResult, error) {
	return engine.TriggerResult{Decision: engine.DecisionTrigger}, nil
}

func (f *fakeTrigger) MarkAnalyzed(ctx context.Context, rule *models.Rule, contextKey string) error {
	f.analyzed = append(f.analyzed, rule.RuleID+":"+contextKey)
	return nil
}

// fakeLLM implements engine.LLMEvaluator for tick tests.
type fakeLLM struct {
	result      engine.Result
	batchCalls  int
	lastBatch   []models.Event
	lastWindow  []models.Event
	singleCalls int
}

func (f *fakeLLM) Evaluate(ctx context.Context, rule *models.Rule, event *models.Event, window []models.Event) engine.Result {
	f.singleCalls++
	return f.result
}

func (f *fakeLLM) EvaluateBatch(ctx context.Context, rule *models.Rule, batch []models.Event, window []models.Event) engine.Result {
	f.batchCalls++
	f.lastBatch = batch
	f.lastWindow = window
	return f.result
}

// fakeActive lists rules for the sweep.
type fakeActive struct {
	rules []*models.Rule
}

func (f *fakeActive) Active(ctx context.Context) ([]*models.Rule, error) {
	return f.rules, nil
}
