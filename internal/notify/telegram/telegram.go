// Package telegram provides notification sending via the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Aixtrade/LLMTrigger/internal/models"
	"github.com/Aixtrade/LLMTrigger/internal/notify"
)

const apiBase = "https://api.telegram.org"

// Channel sends messages through a Telegram bot.
type Channel struct {
	token      string
	httpClient *http.Client
	baseURL    string
}

// NewChannel creates a Telegram channel. An empty token leaves the channel
// unconfigured; sends then fail permanently.
func NewChannel(token string) *Channel {
	return &Channel{
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    apiBase,
	}
}

// Type returns the target type this channel handles.
func (c *Channel) Type() models.TargetType {
	return models.TargetTelegram
}

// Send delivers the task message to the target chat.
func (c *Channel) Send(ctx context.Context, target models.NotifyTarget, task *models.NotificationTask) error {
	if c.token == "" {
		return notify.Permanent("telegram bot token not configured")
	}

	chatID := target.ChatID
	if chatID == "" {
		chatID = target.UserID
	}
	if chatID == "" {
		return notify.Permanent("telegram target missing chat_id/user_id")
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       task.Message,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return notify.Permanent("failed to encode telegram payload: %v", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return notify.Permanent("failed to build telegram request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		slog.Info("Telegram message sent", "chat_id", chatID, "task_id", task.TaskID)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, body)
	}
	return notify.Permanent("telegram rejected message (%d): %s", resp.StatusCode, body)
}
