// Package wecom provides notification sending via WeCom group webhooks.
package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Aixtrade/LLMTrigger/internal/models"
	"github.com/Aixtrade/LLMTrigger/internal/notify"
)

const webhookBase = "https://qyapi.weixin.qq.com/cgi-bin/webhook/send"

// wecom errcode for webhook rate limiting; worth retrying.
const errcodeRateLimited = 45009

// Channel sends markdown messages to WeCom group webhooks.
type Channel struct {
	httpClient *http.Client
	baseURL    string
}

// NewChannel creates a WeCom channel.
func NewChannel() *Channel {
	return &Channel{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    webhookBase,
	}
}

// Type returns the target type this channel handles.
func (c *Channel) Type() models.TargetType {
	return models.TargetWeCom
}

// Send delivers the task message to the target webhook.
func (c *Channel) Send(ctx context.Context, target models.NotifyTarget, task *models.NotificationTask) error {
	if target.WebhookKey == "" {
		return notify.Permanent("wecom target missing webhook_key")
	}

	payload, err := json.Marshal(map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"content": task.Message,
		},
	})
	if err != nil {
		return notify.Permanent("failed to encode wecom payload: %v", err)
	}

	url := c.baseURL + "?key=" + target.WebhookKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return notify.Permanent("failed to build wecom request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wecom request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("wecom returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return notify.Permanent("wecom rejected request (%d)", resp.StatusCode)
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("wecom response unreadable: %w", err)
	}

	switch result.ErrCode {
	case 0:
		slog.Info("WeCom message sent", "task_id", task.TaskID)
		return nil
	case errcodeRateLimited:
		return fmt.Errorf("wecom rate limited (errcode=%d): %s", result.ErrCode, result.ErrMsg)
	default:
		return notify.Permanent("wecom rejected message (errcode=%d): %s", result.ErrCode, result.ErrMsg)
	}
}
