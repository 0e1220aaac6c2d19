// Package email provides email notification sending. Delivery goes through
// a provider: SMTP by default, or the Resend API when configured.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aixtrade/LLMTrigger/internal/models"
	"github.com/Aixtrade/LLMTrigger/internal/notify"
)

const defaultSubject = "Trigger notification"

// Provider is the transport behind the email channel.
type Provider interface {
	// Name returns the provider name (e.g. "smtp", "resend").
	Name() string

	// Send sends a plain-text email.
	Send(ctx context.Context, to []string, subject, body string) error

	// IsConfigured reports whether the provider can actually send.
	IsConfigured() bool
}

// Channel sends notification emails through its provider.
type Channel struct {
	provider Provider
}

// NewChannel creates an email channel over the given provider. A nil
// provider leaves the channel unconfigured.
func NewChannel(provider Provider) *Channel {
	if provider != nil {
		slog.Info("Email channel initialized", "provider", provider.Name())
	}
	return &Channel{provider: provider}
}

// Type returns the target type this channel handles.
func (c *Channel) Type() models.TargetType {
	return models.TargetEmail
}

// Send delivers the task message to the target recipients.
func (c *Channel) Send(ctx context.Context, target models.NotifyTarget, task *models.NotificationTask) error {
	if c.provider == nil || !c.provider.IsConfigured() {
		return notify.Permanent("email provider not configured")
	}
	if len(target.To) == 0 {
		return notify.Permanent("email target missing recipients")
	}

	subject := defaultSubject
	if name, ok := task.Metadata["rule_name"].(string); ok && name != "" {
		subject = fmt.Sprintf("Trigger: %s", name)
	}

	if err := c.provider.Send(ctx, target.To, subject, task.Message); err != nil {
		return fmt.Errorf("email send via %s: %w", c.provider.Name(), err)
	}

	slog.Info("Email sent",
		"provider", c.provider.Name(),
		"recipients", len(target.To),
		"task_id", task.TaskID,
	)
	return nil
}
