package models

import "time"

// ExecutionRecord captures the outcome of evaluating one rule against one
// event, including what happened to the resulting notification.
type ExecutionRecord struct {
	ExecutionID        string             `json:"execution_id"`
	RuleID             string             `json:"rule_id"`
	EventID            string             `json:"event_id"`
	ContextKey         string             `json:"context_key"`
	Triggered          bool               `json:"triggered"`
	Confidence         float64            `json:"confidence,omitempty"`
	Reason             string             `json:"reason,omitempty"`
	NotificationStatus NotificationStatus `json:"notification_status"`
	LatencyMS          int64              `json:"latency_ms"`
	CreatedAt          time.Time          `json:"created_at"`
}
