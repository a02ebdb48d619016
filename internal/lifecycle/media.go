package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aibox-gateway/internal/domain"
	"aibox-gateway/internal/protocol"

	"go.uber.org/zap"
)

// MediaManager 媒体通道生命周期管理。
// 配置命令为 upsert 语义（协议不区分新建/更新）；URL 变更会触发盒子
// 重启拉流，体现为通道回到 Initializing 状态直到心跳再次上报正常
type MediaManager struct {
	store   MediaStore
	tasks   TaskStore
	sender  Sender
	timeout time.Duration
	logger  *zap.Logger
}

// NewMediaManager 创建媒体通道管理器
func NewMediaManager(store MediaStore, tasks TaskStore, sender Sender, timeout time.Duration, logger *zap.Logger) *MediaManager {
	return &MediaManager{
		store:   store,
		tasks:   tasks,
		sender:  sender,
		timeout: timeout,
		logger:  logger,
	}
}

// Configure 创建或更新媒体通道：先下发配置命令，成功后落库。
// 设备拒绝或超时均不落库，保持平台与盒子视图一致
func (m *MediaManager) Configure(ctx context.Context, ch *domain.MediaChannel) error {
	existing, err := m.store.GetMediaChannel(ctx, ch.BoardID, ch.MediaName)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if _, err := m.sender.Send(ctx, ch.BoardID, protocol.EventMediaConfig, ch.CommandFields(), m.timeout); err != nil {
		return fmt.Errorf("failed to configure media %s/%s: %w", ch.BoardID, ch.MediaName, err)
	}

	// 新建或 URL 变更都会让盒子重启拉流
	ch.Status = domain.MediaInitializing
	if existing != nil && existing.MediaURL == ch.MediaURL && existing.Status != domain.MediaUnknown {
		ch.Status = existing.Status
	}

	if err := m.store.UpsertMediaChannel(ctx, ch); err != nil {
		return fmt.Errorf("failed to persist media %s/%s: %w", ch.BoardID, ch.MediaName, err)
	}

	m.logger.Info("Media channel configured",
		zap.String("board_id", ch.BoardID),
		zap.String("media_name", ch.MediaName),
		zap.String("status", string(ch.Status)),
	)
	return nil
}

// Delete 删除媒体通道。被任何未删除任务引用时拒绝（ErrInUse）
func (m *MediaManager) Delete(ctx context.Context, boardID, mediaName string) error {
	refs, err := m.tasks.CountActiveTasksByMedia(ctx, boardID, mediaName)
	if err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("media %s/%s has %d referencing tasks: %w", boardID, mediaName, refs, ErrInUse)
	}

	fields := map[string]any{"MediaName": mediaName}
	if _, err := m.sender.Send(ctx, boardID, protocol.EventMediaDelete, fields, m.timeout); err != nil {
		return fmt.Errorf("failed to delete media %s/%s: %w", boardID, mediaName, err)
	}

	if err := m.store.MarkMediaDeleted(ctx, boardID, mediaName); err != nil {
		return err
	}

	m.logger.Info("Media channel deleted",
		zap.String("board_id", boardID),
		zap.String("media_name", mediaName),
	)
	return nil
}

// ApplyReportedStatus 应用心跳上报的通道状态。与当前状态一致时不落库，
// 重复上报不产生多余写入
func (m *MediaManager) ApplyReportedStatus(ctx context.Context, boardID, mediaName string, status domain.MediaStatus) error {
	ch, err := m.store.GetMediaChannel(ctx, boardID, mediaName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// 盒子侧存在平台未登记的通道，仅记录
			m.logger.Warn("Status reported for unknown media channel",
				zap.String("board_id", boardID),
				zap.String("media_name", mediaName),
			)
			return nil
		}
		return err
	}
	if ch.Status == status {
		return nil
	}

	if err := m.store.UpdateMediaStatus(ctx, boardID, mediaName, status); err != nil {
		return err
	}
	if status == domain.MediaError {
		m.logger.Warn("Media channel entered error state",
			zap.String("board_id", boardID),
			zap.String("media_name", mediaName),
		)
	}
	return nil
}

// Bindable 通道是否可被任务绑定。Error 状态或已删除的通道不可绑定
func (m *MediaManager) Bindable(ctx context.Context, boardID, mediaName string) error {
	ch, err := m.store.GetMediaChannel(ctx, boardID, mediaName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("media %s/%s not found: %w", boardID, mediaName, ErrMediaUnavailable)
		}
		return err
	}
	if ch.Deleted {
		return fmt.Errorf("media %s/%s is deleted: %w", boardID, mediaName, ErrMediaUnavailable)
	}
	if ch.Status == domain.MediaError {
		return fmt.Errorf("media %s/%s is in error state: %w", boardID, mediaName, ErrMediaUnavailable)
	}
	return nil
}
