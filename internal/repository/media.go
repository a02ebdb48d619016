package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aibox-gateway/internal/domain"

	"go.uber.org/zap"
)

// MediaRepository 媒体通道仓库
type MediaRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMediaRepository 创建媒体通道仓库
func NewMediaRepository(db *sql.DB, logger *zap.Logger) *MediaRepository {
	return &MediaRepository{
		db:     db,
		logger: logger,
	}
}

const mediaColumns = `board_id, media_name, media_url, media_desc, rtsp_transport, gb_transport, gb28181_channel_id, status, deleted, created_at, updated_at`

// GetMediaChannel 查询单个通道（含已删除标记的通道）
func (r *MediaRepository) GetMediaChannel(ctx context.Context, boardID, mediaName string) (*domain.MediaChannel, error) {
	query := `SELECT ` + mediaColumns + ` FROM media_channels WHERE board_id = $1 AND media_name = $2`

	var ch domain.MediaChannel
	err := r.db.QueryRowContext(ctx, query, boardID, mediaName).Scan(
		&ch.BoardID,
		&ch.MediaName,
		&ch.MediaURL,
		&ch.MediaDesc,
		&ch.RtspTransport,
		&ch.GBTransport,
		&ch.GB28181ChannelID,
		&ch.Status,
		&ch.Deleted,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query media %s/%s: %w", boardID, mediaName, err)
	}
	return &ch, nil
}

// ListMediaChannels 查询盒子的全部未删除通道
func (r *MediaRepository) ListMediaChannels(ctx context.Context, boardID string) ([]*domain.MediaChannel, error) {
	query := `SELECT ` + mediaColumns + ` FROM media_channels WHERE board_id = $1 AND deleted = false ORDER BY media_name`

	rows, err := r.db.QueryContext(ctx, query, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query media channels for %s: %w", boardID, err)
	}
	defer rows.Close()

	var channels []*domain.MediaChannel
	for rows.Next() {
		var ch domain.MediaChannel
		if err := rows.Scan(
			&ch.BoardID,
			&ch.MediaName,
			&ch.MediaURL,
			&ch.MediaDesc,
			&ch.RtspTransport,
			&ch.GBTransport,
			&ch.GB28181ChannelID,
			&ch.Status,
			&ch.Deleted,
			&ch.CreatedAt,
			&ch.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		channels = append(channels, &ch)
	}
	return channels, rows.Err()
}

// UpsertMediaChannel 配置即落库（upsert 语义与协议一致）
func (r *MediaRepository) UpsertMediaChannel(ctx context.Context, ch *domain.MediaChannel) error {
	query := `
		INSERT INTO media_channels (board_id, media_name, media_url, media_desc, rtsp_transport, gb_transport, gb28181_channel_id, status, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, NOW(), NOW())
		ON CONFLICT (board_id, media_name) DO UPDATE SET
			media_url = EXCLUDED.media_url,
			media_desc = EXCLUDED.media_desc,
			rtsp_transport = EXCLUDED.rtsp_transport,
			gb_transport = EXCLUDED.gb_transport,
			gb28181_channel_id = EXCLUDED.gb28181_channel_id,
			status = EXCLUDED.status,
			deleted = false,
			updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query,
		ch.BoardID, ch.MediaName, ch.MediaURL, ch.MediaDesc,
		ch.RtspTransport, ch.GBTransport, ch.GB28181ChannelID, ch.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert media %s/%s: %w", ch.BoardID, ch.MediaName, err)
	}
	return nil
}

// MarkMediaDeleted 软删除通道
func (r *MediaRepository) MarkMediaDeleted(ctx context.Context, boardID, mediaName string) error {
	query := `UPDATE media_channels SET deleted = true, updated_at = NOW() WHERE board_id = $1 AND media_name = $2`
	result, err := r.db.ExecContext(ctx, query, boardID, mediaName)
	if err != nil {
		return fmt.Errorf("failed to mark media %s/%s deleted: %w", boardID, mediaName, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateMediaStatus 更新通道流状态（心跳上报驱动）
func (r *MediaRepository) UpdateMediaStatus(ctx context.Context, boardID, mediaName string, status domain.MediaStatus) error {
	query := `UPDATE media_channels SET status = $3, updated_at = NOW() WHERE board_id = $1 AND media_name = $2`
	result, err := r.db.ExecContext(ctx, query, boardID, mediaName, status)
	if err != nil {
		return fmt.Errorf("failed to update media status %s/%s: %w", boardID, mediaName, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
