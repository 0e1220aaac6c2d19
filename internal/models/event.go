// Package models defines the domain types shared across the trigger service:
// events, rules, notification tasks and execution records.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is a single domain event received from the broker.
type Event struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	ContextKey string         `json:"context_key"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data"`
}

// ParseEvent decodes a broker message body into an Event.
// event_type is required; event_id falls back to fallbackID (the broker
// message ID) and timestamp defaults to now when absent.
func ParseEvent(body []byte, fallbackID string) (*Event, error) {
	var raw struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		ContextKey string         `json:"context_key"`
		Timestamp  *time.Time     `json:"timestamp"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid event JSON: %w", err)
	}
	if raw.EventType == "" {
		return nil, fmt.Errorf("event missing event_type")
	}

	ev := &Event{
		EventID:    raw.EventID,
		EventType:  raw.EventType,
		ContextKey: raw.ContextKey,
		Data:       raw.Data,
	}
	if ev.EventID == "" {
		ev.EventID = fallbackID
	}
	if raw.Timestamp != nil {
		ev.Timestamp = raw.Timestamp.UTC()
	} else {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}
	return ev, nil
}

// ContextEntry is the compact form of an event stored in a context window.
// The context key is implied by the window it lives in.
type ContextEntry struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// ToContextEntry converts an event to its context window form.
func (e *Event) ToContextEntry() ContextEntry {
	return ContextEntry{
		EventID:   e.EventID,
		EventType: e.EventType,
		Timestamp: e.Timestamp,
		Data:      e.Data,
	}
}

// EventFromContextEntry rebuilds an event from a stored context entry.
func EventFromContextEntry(entry ContextEntry, contextKey string) Event {
	data := entry.Data
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		EventID:    entry.EventID,
		EventType:  entry.EventType,
		ContextKey: contextKey,
		Timestamp:  entry.Timestamp.UTC(),
		Data:       data,
	}
}
