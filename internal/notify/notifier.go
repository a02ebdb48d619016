package notify

import (
	"context"
	"fmt"
	"time"

	"aibox-gateway/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// AlarmSummary 推送给下游的告警摘要
type AlarmSummary struct {
	AlarmID     string `json:"alarm_id"`
	BoardID     string `json:"board_id"`
	TaskSession string `json:"task_session"`
	AlarmType   string `json:"alarm_type"`
	Severity    string `json:"severity"`
	TimeStamp   int64  `json:"timestamp_micro"`
	VideoURL    string `json:"video_url,omitempty"`
	ReceivedAt  string `json:"received_at"`
}

// Notifier 告警通知客户端。投递由重试队列驱动，Notify 单次失败直接返回错误
type Notifier struct {
	httpClient *resty.Client
	path       string
	logger     *zap.Logger
}

// NewNotifier 创建通知客户端
func NewNotifier(baseURL, path string, timeout time.Duration, logger *zap.Logger) *Notifier {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Notifier{
		httpClient: client,
		path:       path,
		logger:     logger,
	}
}

// Notify 推送一条告警摘要
func (n *Notifier) Notify(ctx context.Context, alarm *domain.Alarm, videoURL string) error {
	summary := AlarmSummary{
		AlarmID:     alarm.ID,
		BoardID:     alarm.BoardID,
		TaskSession: alarm.TaskSession,
		AlarmType:   alarm.AlarmType,
		Severity:    alarm.Severity,
		TimeStamp:   alarm.TimeStampMicro,
		VideoURL:    videoURL,
		ReceivedAt:  alarm.ReceivedAt.Format(time.RFC3339),
	}

	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(summary).
		Post(n.path)
	if err != nil {
		return fmt.Errorf("failed to notify alarm %s: %w", alarm.ID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification endpoint returned status %d for alarm %s", resp.StatusCode(), alarm.ID)
	}

	n.logger.Debug("Alarm notification delivered",
		zap.String("alarm_id", alarm.ID),
		zap.String("severity", alarm.Severity),
	)
	return nil
}
