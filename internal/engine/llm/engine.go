package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Aixtrade/LLMTrigger/internal/engine"
	"github.com/Aixtrade/LLMTrigger/internal/models"
	"github.com/Aixtrade/LLMTrigger/internal/storage"
)

// modelTemperature keeps decisions stable across identical inputs.
const modelTemperature = 0.1

// ChatCompleter is the slice of the OpenAI client the engine needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ResponseCache stores final decisions keyed by (rule_id, context hash).
type ResponseCache interface {
	Get(ctx context.Context, ruleID, contextHash string) (*storage.CachedDecision, error)
	Set(ctx context.Context, ruleID, contextHash string, decision storage.CachedDecision) error
}

// Options configures the engine transport.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Engine evaluates rules with an OpenAI-compatible chat-completions model.
type Engine struct {
	client  ChatCompleter
	model   string
	timeout time.Duration
	cache   ResponseCache
}

// NewEngine creates an engine against the configured endpoint. A nil cache
// disables response caching.
func NewEngine(opts Options, cache ResponseCache) *Engine {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = "dummy-key" // local OpenAI-compatible servers ignore auth
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}

	return &Engine{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   opts.Model,
		timeout: opts.Timeout,
		cache:   cache,
	}
}

// NewEngineWithClient creates an engine over an existing client. Used by
// tests and callers that manage their own transport.
func NewEngineWithClient(client ChatCompleter, model string, timeout time.Duration, cache ResponseCache) *Engine {
	return &Engine{client: client, model: model, timeout: timeout, cache: cache}
}

// Evaluate runs the full pipeline for a single current event: cache lookup,
// context summary, prompt assembly, model call, parse, clamp and gate, cache.
func (e *Engine) Evaluate(ctx context.Context, rule *models.Rule, event *models.Event, window []models.Event) engine.Result {
	cfg := rule.RuleConfig.LLMConfig
	if cfg == nil {
		return engine.Result{Reason: "Missing LLM configuration"}
	}

	contextSummary := Summarize(window)
	eventData := marshalData(event.Data)
	cacheKey := cacheHash(rule.RuleID, contextSummary, event.EventType, eventData)

	if cached := e.cacheLookup(ctx, rule.RuleID, cacheKey); cached != nil {
		return *cached
	}

	system, user := BuildPrompt(
		cfg.Description,
		contextSummary,
		event.EventType,
		event.Timestamp.Format(time.RFC3339),
		eventData,
	)
	return e.run(ctx, rule, cfg, cacheKey, system, user)
}

// EvaluateBatch runs the pipeline over a flushed batch snapshot (the
// "current events under analysis"); an empty batch analyzes the window
// alone, which is how clock-driven interval reports work.
func (e *Engine) EvaluateBatch(ctx context.Context, rule *models.Rule, batch []models.Event, window []models.Event) engine.Result {
	cfg := rule.RuleConfig.LLMConfig
	if cfg == nil {
		return engine.Result{Reason: "Missing LLM configuration"}
	}

	contextSummary := Summarize(window)
	batchText := FormatEvents(batch)
	cacheKey := cacheHash(rule.RuleID, contextSummary, "batch", batchText)

	if cached := e.cacheLookup(ctx, rule.RuleID, cacheKey); cached != nil {
		return *cached
	}

	system, user := BuildBatchPrompt(cfg.Description, contextSummary, batchText)
	return e.run(ctx, rule, cfg, cacheKey, system, user)
}

// run performs the model call and the shared tail of the pipeline.
func (e *Engine) run(ctx context.Context, rule *models.Rule, cfg *models.LLMConfig, cacheKey, system, user string) engine.Result {
	started := time.Now()

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: modelTemperature,
		MaxTokens:   500,
	})
	if err != nil {
		slog.Error("LLM call failed", "rule_id", rule.RuleID, "error", err)
		return engine.Result{Reason: fmt.Sprintf("llm_error:%s", transportErrorKind(err))}
	}
	if len(resp.Choices) == 0 {
		slog.Error("LLM returned no choices", "rule_id", rule.RuleID)
		return engine.Result{Reason: "llm_error:empty_response"}
	}

	decision, err := ParseResponse(resp.Choices[0].Message.Content)
	if err != nil {
		slog.Warn("Failed to parse LLM response",
			"rule_id", rule.RuleID,
			"error", err,
		)
		return engine.Result{Reason: fmt.Sprintf("parse_error:%v", err)}
	}

	// Gate: below-threshold confidence never fires.
	threshold := cfg.Threshold()
	if decision.ShouldTrigger && decision.Confidence < threshold {
		decision.ShouldTrigger = false
		decision.Reason = fmt.Sprintf("Confidence %.2f below threshold %.2f", decision.Confidence, threshold)
	}

	slog.Info("LLM evaluation complete",
		"rule_id", rule.RuleID,
		"should_trigger", decision.ShouldTrigger,
		"confidence", decision.Confidence,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)

	result := engine.Result{
		ShouldTrigger: decision.ShouldTrigger,
		Confidence:    decision.Confidence,
		Reason:        decision.Reason,
	}

	if e.cache != nil {
		err := e.cache.Set(ctx, rule.RuleID, cacheKey, storage.CachedDecision{
			ShouldTrigger: result.ShouldTrigger,
			Confidence:    result.Confidence,
			Reason:        result.Reason,
		})
		if err != nil {
			slog.Warn("Failed to cache LLM decision", "rule_id", rule.RuleID, "error", err)
		}
	}
	return result
}

func (e *Engine) cacheLookup(ctx context.Context, ruleID, cacheKey string) *engine.Result {
	if e.cache == nil {
		return nil
	}
	cached, err := e.cache.Get(ctx, ruleID, cacheKey)
	if err != nil {
		slog.Warn("LLM cache read failed", "rule_id", ruleID, "error", err)
		return nil
	}
	if cached == nil {
		return nil
	}
	slog.Debug("LLM cache hit", "rule_id", ruleID)
	return &engine.Result{
		ShouldTrigger: cached.ShouldTrigger,
		Confidence:    cached.Confidence,
		Reason:        cached.Reason + " (cached)",
	}
}

func cacheHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func marshalData(data map[string]any) string {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func transportErrorKind(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("status_%d", apiErr.HTTPStatusCode)
	}
	return "transport"
}
