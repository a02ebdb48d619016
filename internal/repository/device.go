package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"aibox-gateway/internal/domain"

	"go.uber.org/zap"
)

// DeviceRepository 盒子设备仓库
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// GetDevice 按 BoardId 查询设备
func (r *DeviceRepository) GetDevice(ctx context.Context, boardID string) (*domain.Device, error) {
	query := `
		SELECT board_id, board_ip, name, active, conn_state, version, last_heartbeat, created_at, updated_at
		FROM devices
		WHERE board_id = $1
	`

	var d domain.Device
	var lastBeat sql.NullTime
	err := r.db.QueryRowContext(ctx, query, boardID).Scan(
		&d.BoardID,
		&d.BoardIP,
		&d.Name,
		&d.Active,
		&d.ConnState,
		&d.Version,
		&lastBeat,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query device %s: %w", boardID, err)
	}
	if lastBeat.Valid {
		d.LastHeartbeat = lastBeat.Time
	}
	return &d, nil
}

// ListDevices 查询全部设备
func (r *DeviceRepository) ListDevices(ctx context.Context) ([]*domain.Device, error) {
	return r.list(ctx, `
		SELECT board_id, board_ip, name, active, conn_state, version, last_heartbeat, created_at, updated_at
		FROM devices
		ORDER BY board_id
	`)
}

// ListActiveDevices 查询配置为激活的设备（网关启动时为其建立会话）
func (r *DeviceRepository) ListActiveDevices(ctx context.Context) ([]*domain.Device, error) {
	return r.list(ctx, `
		SELECT board_id, board_ip, name, active, conn_state, version, last_heartbeat, created_at, updated_at
		FROM devices
		WHERE active = true
		ORDER BY board_id
	`)
}

func (r *DeviceRepository) list(ctx context.Context, query string) ([]*domain.Device, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		var d domain.Device
		var lastBeat sql.NullTime
		if err := rows.Scan(
			&d.BoardID,
			&d.BoardIP,
			&d.Name,
			&d.Active,
			&d.ConnState,
			&d.Version,
			&lastBeat,
			&d.CreatedAt,
			&d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		if lastBeat.Valid {
			d.LastHeartbeat = lastBeat.Time
		}
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}

// SaveDevice 新增或更新设备登记
func (r *DeviceRepository) SaveDevice(ctx context.Context, d *domain.Device) error {
	query := `
		INSERT INTO devices (board_id, board_ip, name, active, conn_state, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (board_id) DO UPDATE SET
			board_ip = EXCLUDED.board_ip,
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, d.BoardID, d.BoardIP, d.Name, d.Active, d.ConnState, d.Version); err != nil {
		return fmt.Errorf("failed to save device %s: %w", d.BoardID, err)
	}
	return nil
}

// TouchHeartbeat 心跳到达时更新设备的 IP、版本与心跳时间
func (r *DeviceRepository) TouchHeartbeat(ctx context.Context, boardID, boardIP, version string, at time.Time) error {
	query := `
		UPDATE devices
		SET board_ip = COALESCE(NULLIF($2, ''), board_ip),
		    version = COALESCE(NULLIF($3, ''), version),
		    last_heartbeat = $4,
		    updated_at = NOW()
		WHERE board_id = $1
	`
	result, err := r.db.ExecContext(ctx, query, boardID, boardIP, version, at)
	if err != nil {
		return fmt.Errorf("failed to touch heartbeat for %s: %w", boardID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateConnState 更新连接状态（仅会话管理器调用）
func (r *DeviceRepository) UpdateConnState(ctx context.Context, boardID string, state domain.ConnState) error {
	query := `UPDATE devices SET conn_state = $2, updated_at = NOW() WHERE board_id = $1`
	if _, err := r.db.ExecContext(ctx, query, boardID, state); err != nil {
		return fmt.Errorf("failed to update conn state for %s: %w", boardID, err)
	}
	return nil
}
