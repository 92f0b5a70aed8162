package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"wisefido-equipment/internal/models"
)

// Event 升级通知事件
// 只携带结构化数据，内容渲染由接收方负责
type Event struct {
	WarningID   string                 `json:"warning_id"`
	DeviceID    string                 `json:"device_id"`
	WarningType string                 `json:"warning_type"`
	Severity    string                 `json:"severity"`
	Level       int                    `json:"level"`
	Measured    *float64               `json:"measured_value,omitempty"`
	Threshold   *float64               `json:"threshold_value,omitempty"`
	Message     string                 `json:"message"`
	Snapshot    *models.DeviceSnapshot `json:"snapshot,omitempty"`
	TriggeredAt time.Time              `json:"triggered_at"`
	SentAt      time.Time              `json:"sent_at"`
}

// Notifier 通知发送接口
// 成功时返回接收方的消息 ID
type Notifier interface {
	Notify(ctx context.Context, event *Event) (string, error)
}

// webhookResponse 通知网关响应
type webhookResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// WebhookNotifier 通过 HTTP webhook 送出升级通知
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookNotifier 创建 webhook 通知器
func NewWebhookNotifier(webhookURL string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		url:        webhookURL,
		logger:     logger,
	}
}

// Notify 发送一条升级通知
func (n *WebhookNotifier) Notify(ctx context.Context, event *Event) (string, error) {
	if event == nil {
		return "", fmt.Errorf("event is required")
	}

	n.logger.Info("Sending escalation notification",
		zap.String("warning_id", event.WarningID),
		zap.String("device_id", event.DeviceID),
		zap.String("warning_type", event.WarningType),
		zap.String("severity", event.Severity),
		zap.Int("level", event.Level),
	)

	var response webhookResponse
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(event).
		SetResult(&response).
		Post(n.url)

	if err != nil {
		return "", fmt.Errorf("failed to call notify webhook: %w", err)
	}

	if resp.IsError() {
		return "", fmt.Errorf("notify webhook returned status %d", resp.StatusCode())
	}

	if !response.Success {
		return "", fmt.Errorf("notify webhook rejected event: %s", response.Error)
	}

	n.logger.Info("Notification sent",
		zap.String("warning_id", event.WarningID),
		zap.Int("level", event.Level),
		zap.String("message_id", response.MessageID),
	)

	return response.MessageID, nil
}
