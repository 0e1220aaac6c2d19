package models

import (
	"fmt"
	"strings"
	"time"
)

// RuleKind selects which engine composition evaluates a rule.
type RuleKind string

const (
	KindExpression RuleKind = "expression"
	KindLLM        RuleKind = "llm"
	KindHybrid     RuleKind = "hybrid"
)

// TriggerMode controls when an LLM rule actually runs inference.
type TriggerMode string

const (
	ModeRealtime TriggerMode = "realtime"
	ModeBatch    TriggerMode = "batch"
	ModeInterval TriggerMode = "interval"
)

// TargetType identifies a notification channel.
type TargetType string

const (
	TargetTelegram TargetType = "telegram"
	TargetWeCom    TargetType = "wecom"
	TargetEmail    TargetType = "email"
)

// PreFilter is the expression gate for expression and hybrid rules.
type PreFilter struct {
	Type       string `json:"type"`
	Expression string `json:"expression"`
}

// LLMConfig configures LLM evaluation for llm and hybrid rules.
type LLMConfig struct {
	Description         string      `json:"description"`
	TriggerMode         TriggerMode `json:"trigger_mode"`
	BatchSize           int         `json:"batch_size,omitempty"`
	MaxWaitSeconds      int         `json:"max_wait_seconds,omitempty"`
	IntervalSeconds     int         `json:"interval_seconds,omitempty"`
	ConfidenceThreshold float64     `json:"confidence_threshold"`
}

// Threshold returns the confidence threshold clamped to [0,1],
// defaulting to 0.7 when unset.
func (c *LLMConfig) Threshold() float64 {
	t := c.ConfidenceThreshold
	if t == 0 {
		t = 0.7
	}
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return t
}

// RuleConfig is the kind-tagged rule configuration.
// The original service named expression rules "traditional"; that value is
// still accepted on input for stored rules written by older versions.
type RuleConfig struct {
	Kind      RuleKind   `json:"kind"`
	PreFilter *PreFilter `json:"pre_filter,omitempty"`
	LLMConfig *LLMConfig `json:"llm_config,omitempty"`
}

// NormalizedKind maps legacy kind names onto the current set.
func (c *RuleConfig) NormalizedKind() RuleKind {
	if c.Kind == "traditional" {
		return KindExpression
	}
	return c.Kind
}

// NotifyTarget is a tagged-union notification destination.
type NotifyTarget struct {
	Type       TargetType `json:"type"`
	UserID     string     `json:"user_id,omitempty"`
	ChatID     string     `json:"chat_id,omitempty"`
	WebhookKey string     `json:"webhook_key,omitempty"`
	To         []string   `json:"to,omitempty"`
}

// RateLimit bounds notification volume per rule.
type RateLimit struct {
	MaxPerMinute    int `json:"max_per_minute"`
	CooldownSeconds int `json:"cooldown_seconds"`
}

// NotifyPolicy describes where and how often a rule notifies.
type NotifyPolicy struct {
	Targets   []NotifyTarget `json:"targets"`
	RateLimit RateLimit      `json:"rate_limit"`
}

// RuleMetadata carries bookkeeping fields maintained by the repository.
type RuleMetadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by"`
	Version   int       `json:"version"`
}

// Rule is a complete user-defined trigger rule.
type Rule struct {
	RuleID       string       `json:"rule_id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Enabled      bool         `json:"enabled"`
	Priority     int          `json:"priority"`
	EventTypes   []string     `json:"event_types"`
	ContextKeys  []string     `json:"context_keys,omitempty"`
	RuleConfig   RuleConfig   `json:"rule_config"`
	NotifyPolicy NotifyPolicy `json:"notify_policy"`
	Metadata     RuleMetadata `json:"metadata"`
}

// MatchesEventType reports whether the rule subscribes to the event type.
func (r *Rule) MatchesEventType(eventType string) bool {
	for _, t := range r.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// MatchesContextKey reports whether the rule applies to the context key.
// An empty ContextKeys list matches everything.
func (r *Rule) MatchesContextKey(contextKey string) bool {
	if len(r.ContextKeys) == 0 {
		return true
	}
	for _, pattern := range r.ContextKeys {
		if MatchContextPattern(pattern, contextKey) {
			return true
		}
	}
	return false
}

// MatchContextPattern matches a context key against a pattern where each '*'
// matches any substring (including empty). No other metacharacters exist.
func MatchContextPattern(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}

	parts := strings.Split(pattern, "*")
	// Anchored prefix and suffix, floating middle segments.
	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	rest := value[len(parts[0]):]
	last := parts[len(parts)-1]
	if !strings.HasSuffix(rest, last) {
		return false
	}
	rest = rest[:len(rest)-len(last)]
	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		idx := strings.Index(rest, mid)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(mid):]
	}
	return true
}

// Validate enforces the write-time rule invariants: non-empty identity and
// event types, and the sub-configs required by the rule kind.
func (r *Rule) Validate() error {
	if r.RuleID == "" {
		return fmt.Errorf("rule_id cannot be empty")
	}
	if r.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(r.EventTypes) == 0 {
		return fmt.Errorf("event_types cannot be empty")
	}
	if r.Priority < 0 {
		return fmt.Errorf("priority must be >= 0")
	}

	switch r.RuleConfig.NormalizedKind() {
	case KindExpression:
		if r.RuleConfig.PreFilter == nil || r.RuleConfig.PreFilter.Expression == "" {
			return fmt.Errorf("expression rule requires pre_filter.expression")
		}
	case KindLLM:
		if r.RuleConfig.LLMConfig == nil {
			return fmt.Errorf("llm rule requires llm_config")
		}
	case KindHybrid:
		if r.RuleConfig.PreFilter == nil || r.RuleConfig.PreFilter.Expression == "" {
			return fmt.Errorf("hybrid rule requires pre_filter.expression")
		}
		if r.RuleConfig.LLMConfig == nil {
			return fmt.Errorf("hybrid rule requires llm_config")
		}
	default:
		return fmt.Errorf("unknown rule kind: %q", r.RuleConfig.Kind)
	}

	if cfg := r.RuleConfig.LLMConfig; cfg != nil {
		if cfg.Description == "" {
			return fmt.Errorf("llm_config.description cannot be empty")
		}
		switch cfg.TriggerMode {
		case ModeRealtime:
		case ModeBatch:
			if cfg.BatchSize < 1 {
				return fmt.Errorf("batch mode requires batch_size >= 1")
			}
			if cfg.MaxWaitSeconds < 1 {
				return fmt.Errorf("batch mode requires max_wait_seconds >= 1")
			}
		case ModeInterval:
			if cfg.IntervalSeconds < 1 {
				return fmt.Errorf("interval mode requires interval_seconds >= 1")
			}
		default:
			return fmt.Errorf("unknown trigger mode: %q", cfg.TriggerMode)
		}
		if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be in [0,1]")
		}
	}

	if r.NotifyPolicy.RateLimit.MaxPerMinute < 0 {
		return fmt.Errorf("rate_limit.max_per_minute must be >= 0")
	}
	if r.NotifyPolicy.RateLimit.CooldownSeconds < 0 {
		return fmt.Errorf("rate_limit.cooldown_seconds must be >= 0")
	}
	for i, target := range r.NotifyPolicy.Targets {
		switch target.Type {
		case TargetTelegram:
			if target.ChatID == "" && target.UserID == "" {
				return fmt.Errorf("targets[%d]: telegram target requires chat_id or user_id", i)
			}
		case TargetWeCom:
			if target.WebhookKey == "" {
				return fmt.Errorf("targets[%d]: wecom target requires webhook_key", i)
			}
		case TargetEmail:
			if len(target.To) == 0 {
				return fmt.Errorf("targets[%d]: email target requires recipients", i)
			}
		default:
			return fmt.Errorf("targets[%d]: unknown target type %q", i, target.Type)
		}
	}
	return nil
}
