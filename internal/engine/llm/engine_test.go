package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Aixtrade/LLMTrigger/internal/models"
	"github.com/Aixtrade/LLMTrigger/internal/storage"
)

// fakeChat returns canned completions and records requests.
type fakeChat struct {
	content  string
	err      error
	requests []openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

// fakeCache is an in-memory ResponseCache.
type fakeCache struct {
	entries map[string]storage.CachedDecision
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]storage.CachedDecision{}}
}

func (f *fakeCache) Get(ctx context.Context, ruleID, hash string) (*storage.CachedDecision, error) {
	if d, ok := f.entries[ruleID+":"+hash]; ok {
		return &d, nil
	}
	return nil, nil
}

func (f *fakeCache) Set(ctx context.Context, ruleID, hash string, decision storage.CachedDecision) error {
	f.entries[ruleID+":"+hash] = decision
	f.sets++
	return nil
}

func engineRule(threshold float64) *models.Rule {
	return &models.Rule{
		RuleID:     "rule-1",
		Name:       "rule-1",
		Enabled:    true,
		EventTypes: []string{"e"},
		RuleConfig: models.RuleConfig{
			Kind: models.KindLLM,
			LLMConfig: &models.LLMConfig{
				Description:         "trigger on sustained losses",
				TriggerMode:         models.ModeRealtime,
				ConfidenceThreshold: threshold,
			},
		},
	}
}

func testEvent() *models.Event {
	return &models.Event{
		EventID:    "evt-1",
		EventType:  "trade.profit",
		ContextKey: "trade.profit.BTC",
		Timestamp:  time.Date(2026, 8, 6, 10, 0, 0, 0, time.UTC),
		Data:       map[string]any{"profit_rate": -0.04},
	}
}

func TestEngineEvaluate_Fires(t *testing.T) {
	chat := &fakeChat{content: `{"should_trigger": true, "confidence": 0.9, "reason": "losses"}`}
	cache := newFakeCache()
	e := NewEngineWithClient(chat, "test-model", time.Second, cache)

	result := e.Evaluate(context.Background(), engineRule(0.7), testEvent(), nil)

	if !result.ShouldTrigger {
		t.Errorf("ShouldTrigger = false, want true: %+v", result)
	}
	if result.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", result.Confidence)
	}
	if cache.sets != 1 {
		t.Errorf("cache sets = %d, want 1 (successful results are cached)", cache.sets)
	}
	if len(chat.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(chat.requests))
	}
	req := chat.requests[0]
	if req.Model != "test-model" {
		t.Errorf("Model = %q", req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("messages = %+v, want system+user", req.Messages)
	}
	if !strings.Contains(req.Messages[1].Content, "trigger on sustained losses") {
		t.Error("user prompt missing rule description")
	}
}

func TestEngineEvaluate_ConfidenceGate(t *testing.T) {
	chat := &fakeChat{content: `{"should_trigger": true, "confidence": 0.5, "reason": "weak signal"}`}
	e := NewEngineWithClient(chat, "m", time.Second, nil)

	result := e.Evaluate(context.Background(), engineRule(0.7), testEvent(), nil)

	if result.ShouldTrigger {
		t.Error("ShouldTrigger = true despite confidence below threshold")
	}
	if result.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want preserved 0.5", result.Confidence)
	}
	if !strings.Contains(result.Reason, "below threshold") {
		t.Errorf("Reason = %q", result.Reason)
	}
}

func TestEngineEvaluate_ThresholdBoundaryPasses(t *testing.T) {
	chat := &fakeChat{content: `{"should_trigger": true, "confidence": 0.7, "reason": "exactly at"}`}
	e := NewEngineWithClient(chat, "m", time.Second, nil)

	result := e.Evaluate(context.Background(), engineRule(0.7), testEvent(), nil)
	if !result.ShouldTrigger {
		t.Error("confidence exactly at threshold must pass the gate")
	}
}

func TestEngineEvaluate_TransportErrorNotCached(t *testing.T) {
	chat := &fakeChat{err: errors.New("connection refused")}
	cache := newFakeCache()
	e := NewEngineWithClient(chat, "m", time.Second, cache)

	result := e.Evaluate(context.Background(), engineRule(0.7), testEvent(), nil)

	if result.ShouldTrigger {
		t.Error("transport error must not fire")
	}
	if !strings.HasPrefix(result.Reason, "llm_error:") {
		t.Errorf("Reason = %q, want llm_error prefix", result.Reason)
	}
	if cache.sets != 0 {
		t.Error("transport errors must not be cached")
	}
}

func TestEngineEvaluate_ParseErrorNotCached(t *testing.T) {
	chat := &fakeChat{content: "I refuse to answer in JSON."}
	cache := newFakeCache()
	e := NewEngineWithClient(chat, "m", time.Second, cache)

	result := e.Evaluate(context.Background(), engineRule(0.7), testEvent(), nil)

	if result.ShouldTrigger || result.Confidence != 0 {
		t.Errorf("parse failure should yield non-fire zero confidence, got %+v", result)
	}
	if !strings.HasPrefix(result.Reason, "parse_error:") {
		t.Errorf("Reason = %q, want parse_error prefix", result.Reason)
	}
	if cache.sets != 0 {
		t.Error("parse errors must not be cached")
	}
}

func TestEngineEvaluate_CacheHitShortCircuits(t *testing.T) {
	chat := &fakeChat{content: `{"should_trigger": true, "confidence": 0.9, "reason": "r"}`}
	cache := newFakeCache()
	e := NewEngineWithClient(chat, "m", time.Second, cache)
	rule := engineRule(0.7)
	event := testEvent()

	first := e.Evaluate(context.Background(), rule, event, nil)
	second := e.Evaluate(context.Background(), rule, event, nil)

	if len(chat.requests) != 1 {
		t.Errorf("requests = %d, want 1 (second call served from cache)", len(chat.requests))
	}
	if !second.ShouldTrigger || second.Confidence != first.Confidence {
		t.Errorf("cached result mismatch: %+v vs %+v", second, first)
	}
	if !strings.HasSuffix(second.Reason, "(cached)") {
		t.Errorf("cached Reason = %q", second.Reason)
	}
}

func TestEngineEvaluateBatch_EmptyWindowStillCallable(t *testing.T) {
	chat := &fakeChat{content: `{"should_trigger": false, "confidence": 0.2, "reason": "nothing to see"}`}
	e := NewEngineWithClient(chat, "m", time.Second, nil)

	result := e.EvaluateBatch(context.Background(), engineRule(0.7), nil, nil)

	if result.ShouldTrigger {
		t.Errorf("unexpected fire: %+v", result)
	}
	if len(chat.requests) != 1 {
		t.Fatal("empty window must still produce a model call")
	}
	user := chat.requests[0].Messages[1].Content
	if !strings.Contains(user, "No historical events in context window.") {
		t.Errorf("user prompt missing empty-window sentence:\n%s", user)
	}
}

func TestEngineEvaluateBatch_IncludesBatchEvents(t *testing.T) {
	chat := &fakeChat{content: `{"should_trigger": true, "confidence": 0.9, "reason": "burst"}`}
	e := NewEngineWithClient(chat, "m", time.Second, nil)

	batch := []models.Event{*testEvent()}
	result := e.EvaluateBatch(context.Background(), engineRule(0.7), batch, batch)

	if !result.ShouldTrigger {
		t.Errorf("expected fire, got %+v", result)
	}
	user := chat.requests[0].Messages[1].Content
	if !strings.Contains(user, "Current Events Under Analysis") {
		t.Errorf("batch prompt missing analysis section:\n%s", user)
	}
	if !strings.Contains(user, "profit_rate") {
		t.Errorf("batch prompt missing event data:\n%s", user)
	}
}
