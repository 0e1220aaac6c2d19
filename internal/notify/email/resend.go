package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

// ResendProvider sends mail through the Resend API.
type ResendProvider struct {
	client *resend.Client
	from   string
}

// NewResendProvider creates a Resend provider. An empty API key leaves it
// unconfigured.
func NewResendProvider(apiKey, from string) *ResendProvider {
	if apiKey == "" {
		return &ResendProvider{from: from}
	}
	return &ResendProvider{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// Name returns the provider name.
func (p *ResendProvider) Name() string { return "resend" }

// IsConfigured reports whether the API client is available.
func (p *ResendProvider) IsConfigured() bool {
	return p.client != nil && p.from != ""
}

// Send sends a plain-text email via the Resend API.
func (p *ResendProvider) Send(ctx context.Context, to []string, subject, body string) error {
	if p.client == nil {
		return fmt.Errorf("resend client not initialized")
	}

	params := &resend.SendEmailRequest{
		From:    p.from,
		To:      to,
		Subject: subject,
		Text:    body,
	}

	result, err := p.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("resend send failed: %w", err)
	}

	slog.Debug("Email sent via Resend", "email_id", result.Id, "recipients", len(to))
	return nil
}
