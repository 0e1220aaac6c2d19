package processor

import (
	"context"
	"testing"
	"time"

	"github.com/Aixtrade/LLMTrigger/internal/engine"
	"github.com/Aixtrade/LLMTrigger/internal/models"
)

func batchRule(id string, batchSize, maxWait int) *models.Rule {
	return &models.Rule{
		RuleID:     id,
		Name:       id,
		Enabled:    true,
		EventTypes: []string{"e"},
		RuleConfig: models.RuleConfig{
			Kind: models.KindLLM,
			LLMConfig: &models.LLMConfig{
				Description:    "batch analysis",
				TriggerMode:    models.ModeBatch,
				BatchSize:      batchSize,
				MaxWaitSeconds: maxWait,
			},
		},
	}
}

func intervalRule(id string, interval int, contextKeys []string) *models.Rule {
	return &models.Rule{
		RuleID:      id,
		Name:        id,
		Enabled:     true,
		EventTypes:  []string{"e"},
		ContextKeys: contextKeys,
		RuleConfig: models.RuleConfig{
			Kind: models.KindLLM,
			LLMConfig: &models.LLMConfig{
				Description:     "interval report",
				TriggerMode:     models.ModeInterval,
				IntervalSeconds: interval,
			},
		},
	}
}

func tickAt(now time.Time, rules []*models.Rule, store *fakeSweepStore, trigger *fakeTrigger, llm *fakeLLM, dispatcher *fakeDispatcher, recorder *fakeRecorder) *Tick {
	tick := NewTick(&fakeActive{rules: rules}, store, trigger, llm, &fakeContexts{}, dispatcher, recorder)
	tick.now = func() time.Time { return now }
	return tick
}

func TestSweep_BatchTimeoutFlush(t *testing.T) {
	now := time.Date(2026, 8, 6, 10, 1, 0, 0, time.UTC)
	rule := batchRule("r1", 5, 30)

	store := newFakeSweepStore()
	store.pending["r1"] = []string{"k1"}
	store.since["r1:k1"] = now.Add(-31 * time.Second)
	store.batches["r1:k1"] = []models.Event{
		{EventID: "e1", EventType: "e", ContextKey: "k1", Timestamp: now.Add(-31 * time.Second)},
		{EventID: "e2", EventType: "e", ContextKey: "k1", Timestamp: now.Add(-20 * time.Second)},
		{EventID: "e3", EventType: "e", ContextKey: "k1", Timestamp: now.Add(-10 * time.Second)},
	}

	trigger := &fakeTrigger{}
	llm := &fakeLLM{result: engine.Result{ShouldTrigger: true, Confidence: 0.9, Reason: "burst"}}
	dispatcher := &fakeDispatcher{}
	recorder := &fakeRecorder{}
	tick := tickAt(now, []*models.Rule{rule}, store, trigger, llm, dispatcher, recorder)

	tick.Sweep(context.Background())

	if llm.batchCalls != 1 {
		t.Fatalf("batch calls = %d, want exactly 1", llm.batchCalls)
	}
	if len(llm.lastBatch) != 3 {
		t.Errorf("batch payload = %d events, want all 3", len(llm.lastBatch))
	}
	if len(store.batches) != 0 {
		t.Error("accumulator must be empty after the flush")
	}
	if len(dispatcher.dispatched) != 1 {
		t.Errorf("dispatched = %v, want the fire delivered", dispatcher.dispatched)
	}
	if len(trigger.analyzed) != 1 {
		t.Error("analysis time must be recorded")
	}
	if len(recorder.records) != 1 || !recorder.records[0].Triggered {
		t.Errorf("records = %+v, want one triggered record", recorder.records)
	}
}

func TestSweep_BatchNotYetDue(t *testing.T) {
	now := time.Date(2026, 8, 6, 10, 1, 0, 0, time.UTC)
	rule := batchRule("r1", 5, 30)

	store := newFakeSweepStore()
	store.pending["r1"] = []string{"k1"}
	store.since["r1:k1"] = now.Add(-10 * time.Second)
	store.batches["r1:k1"] = []models.Event{{EventID: "e1"}}

	llm := &fakeLLM{}
	tick := tickAt(now, []*models.Rule{rule}, store, &fakeTrigger{}, llm, &fakeDispatcher{}, &fakeRecorder{})

	tick.Sweep(context.Background())

	if llm.batchCalls != 0 {
		t.Error("batch within max_wait must not flush")
	}
	if len(store.batches) != 1 {
		t.Error("accumulator must be left intact")
	}
}

func TestSweep_IntervalClockFireWithEmptyWindow(t *testing.T) {
	now := time.Date(2026, 8, 6, 10, 1, 0, 0, time.UTC)
	rule := intervalRule("r1", 30, nil)

	store := newFakeSweepStore()
	store.analyzed["r1"] = []string{"sys.health"}
	store.last["r1:sys.health"] = now.Add(-31 * time.Second)

	trigger := &fakeTrigger{}
	llm := &fakeLLM{result: engine.Result{ShouldTrigger: false, Confidence: 0.2, Reason: "all quiet"}}
	dispatcher := &fakeDispatcher{}
	recorder := &fakeRecorder{}
	tick := tickAt(now, []*models.Rule{rule}, store, trigger, llm, dispatcher, recorder)

	tick.Sweep(context.Background())

	if llm.batchCalls != 1 {
		t.Fatalf("batch calls = %d, want 1 empty-window analysis", llm.batchCalls)
	}
	if llm.lastBatch != nil {
		t.Error("interval clock fire must pass a nil batch")
	}
	if len(dispatcher.dispatched) != 0 {
		t.Error("non-fire must not dispatch")
	}
	if len(recorder.records) != 1 || recorder.records[0].EventID != tickEventID {
		t.Errorf("records = %+v, want one tick record", recorder.records)
	}
}

func TestSweep_IntervalNotElapsed(t *testing.T) {
	now := time.Date(2026, 8, 6, 10, 1, 0, 0, time.UTC)
	rule := intervalRule("r1", 30, nil)

	store := newFakeSweepStore()
	store.analyzed["r1"] = []string{"k"}
	store.last["r1:k"] = now.Add(-10 * time.Second)

	llm := &fakeLLM{}
	tick := tickAt(now, []*models.Rule{rule}, store, &fakeTrigger{}, llm, &fakeDispatcher{}, &fakeRecorder{})

	tick.Sweep(context.Background())

	if llm.batchCalls != 0 {
		t.Error("interval not elapsed must not analyze")
	}
}

func TestSweep_IntervalLockLost(t *testing.T) {
	now := time.Date(2026, 8, 6, 10, 1, 0, 0, time.UTC)
	rule := intervalRule("r1", 30, nil)

	store := newFakeSweepStore()
	store.analyzed["r1"] = []string{"k"}
	store.last["r1:k"] = now.Add(-40 * time.Second)
	store.lockFails = true

	llm := &fakeLLM{}
	tick := tickAt(now, []*models.Rule{rule}, store, &fakeTrigger{}, llm, &fakeDispatcher{}, &fakeRecorder{})

	tick.Sweep(context.Background())

	if llm.batchCalls != 0 {
		t.Error("losing the interval lock must skip the analysis")
	}
}

func TestSweep_IntervalLiteralContextKeysFirstFire(t *testing.T) {
	now := time.Date(2026, 8, 6, 10, 1, 0, 0, time.UTC)
	// Never analyzed yet, but the rule names a literal context key.
	rule := intervalRule("r1", 30, []string{"sys.cpu", "sys.*"})

	store := newFakeSweepStore()
	llm := &fakeLLM{result: engine.Result{}}
	tick := tickAt(now, []*models.Rule{rule}, store, &fakeTrigger{}, llm, &fakeDispatcher{}, &fakeRecorder{})

	tick.Sweep(context.Background())

	// Only the literal key fires; the wildcard pattern cannot be enumerated.
	if llm.batchCalls != 1 {
		t.Errorf("batch calls = %d, want 1 for the literal key", llm.batchCalls)
	}
}
