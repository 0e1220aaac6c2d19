// Package storage provides the Redis-backed state primitives shared by all
// worker processes: the rule repository, context windows, idempotency keys,
// LLM response cache, notification queue, dedup and rate-limit counters, and
// trigger-mode state.
package storage

// All keys live under the "trigger:" namespace.
const (
	KeyRuleAll        = "trigger:rules:all"
	KeyRuleVersion    = "trigger:rules:version"
	ChannelRuleUpdate = "trigger:rules:update"

	KeyNotifyQueue      = "trigger:notify:queue"
	KeyNotifyDeadLetter = "trigger:notify:dead_letter"
)

func KeyRuleDetail(ruleID string) string {
	return "trigger:rules:detail:" + ruleID
}

func KeyRuleIndex(eventType string) string {
	return "trigger:rules:index:" + eventType
}

func KeyContext(contextKey string) string {
	return "trigger:context:" + contextKey
}

func KeyProcessed(eventID string) string {
	return "trigger:processed:" + eventID
}

func KeyLLMCache(ruleID, contextHash string) string {
	return "trigger:llm_cache:" + ruleID + ":" + contextHash
}

func KeyNotifyDedup(ruleID, contextKey string) string {
	return "trigger:notify:dedup:" + ruleID + ":" + contextKey
}

func KeyNotifyRate(ruleID, minute string) string {
	return "trigger:notify:rate:" + ruleID + ":" + minute
}

func KeyBatch(ruleID, contextKey string) string {
	return "trigger:mode:batch:" + ruleID + ":" + contextKey
}

func KeyBatchSince(ruleID, contextKey string) string {
	return "trigger:mode:batch_since:" + ruleID + ":" + contextKey
}

func KeyLastAnalysis(ruleID, contextKey string) string {
	return "trigger:mode:last:" + ruleID + ":" + contextKey
}

func KeyIntervalLock(ruleID string) string {
	return "trigger:mode:interval_lock:" + ruleID
}
