// Package notify implements the notification pipeline: the enqueue gate
// (dedup + rate limit), the queue worker with retry and dead-letter
// handling, and the channel registry the worker fans out through.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/Aixtrade/LLMTrigger/internal/models"
)

// Channel sends a notification to one target. Implementations classify
// failures: a plain error is transient and retried; an error wrapped with
// Permanent bypasses retry and goes straight to the dead letter.
type Channel interface {
	// Send delivers the task's message to the target.
	Send(ctx context.Context, target models.NotifyTarget, task *models.NotificationTask) error

	// Type returns the target type this channel handles.
	Type() models.TargetType
}

// PermanentError marks a failure that will never succeed on retry
// (misconfigured target, rejected payload, 4xx from the provider).
type PermanentError struct {
	msg string
}

func (e *PermanentError) Error() string { return e.msg }

// Permanent wraps a message as a permanent delivery failure.
func Permanent(format string, args ...any) error {
	return &PermanentError{msg: fmt.Sprintf(format, args...)}
}

// IsPermanent reports whether the error is a permanent delivery failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Registry manages notification channels by target type.
type Registry struct {
	channels map[models.TargetType]Channel
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[models.TargetType]Channel)}
}

// Register adds a channel to the registry.
func (r *Registry) Register(channel Channel) {
	r.channels[channel.Type()] = channel
}

// Get retrieves a channel by target type.
func (r *Registry) Get(targetType models.TargetType) (Channel, bool) {
	channel, ok := r.channels[targetType]
	return channel, ok
}

// List returns all registered target types.
func (r *Registry) List() []models.TargetType {
	types := make([]models.TargetType, 0, len(r.channels))
	for t := range r.channels {
		types = append(types, t)
	}
	return types
}
