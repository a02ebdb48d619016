package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"aibox-gateway/internal/domain"

	"go.uber.org/zap"
)

// AlarmRepository 告警仓库
type AlarmRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlarmRepository 创建告警仓库
func NewAlarmRepository(db *sql.DB, logger *zap.Logger) *AlarmRepository {
	return &AlarmRepository{
		db:     db,
		logger: logger,
	}
}

// AlarmFilters 告警列表查询条件，nil 字段不参与过滤
type AlarmFilters struct {
	BoardID   *string
	AlarmType *string
	Severity  *string
	Delivery  *domain.DeliveryState
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

const alarmColumns = `id, board_id, board_ip, task_session, alarm_type, severity, timestamp_micro, video_id, video_file, result_json, delivery, retry_count, last_error, received_at`

// InsertAlarm 落库一条新告警
func (r *AlarmRepository) InsertAlarm(ctx context.Context, a *domain.Alarm) error {
	query := `
		INSERT INTO alarms (` + alarmColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.BoardID, a.BoardIP, a.TaskSession, a.AlarmType, a.Severity,
		a.TimeStampMicro, a.VideoID, a.VideoFile, a.ResultJSON,
		a.Delivery, a.RetryCount, a.LastError, a.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alarm %s: %w", a.ID, err)
	}
	return nil
}

// GetAlarm 按ID查询告警
func (r *AlarmRepository) GetAlarm(ctx context.Context, id string) (*domain.Alarm, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarms WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)
	a, err := scanAlarm(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query alarm %s: %w", id, err)
	}
	return a, nil
}

func scanAlarm(scan func(...any) error) (*domain.Alarm, error) {
	var a domain.Alarm
	var lastError sql.NullString
	if err := scan(
		&a.ID,
		&a.BoardID,
		&a.BoardIP,
		&a.TaskSession,
		&a.AlarmType,
		&a.Severity,
		&a.TimeStampMicro,
		&a.VideoID,
		&a.VideoFile,
		&a.ResultJSON,
		&a.Delivery,
		&a.RetryCount,
		&lastError,
		&a.ReceivedAt,
	); err != nil {
		return nil, err
	}
	if lastError.Valid {
		a.LastError = lastError.String
	}
	return &a, nil
}

// buildWhereClause 构建告警查询的 WHERE 子句
func (r *AlarmRepository) buildWhereClause(filters AlarmFilters, args *[]any, argN *int) []string {
	var where []string

	if filters.BoardID != nil {
		where = append(where, fmt.Sprintf("board_id = $%d", *argN))
		*args = append(*args, *filters.BoardID)
		*argN++
	}
	if filters.AlarmType != nil {
		where = append(where, fmt.Sprintf("alarm_type = $%d", *argN))
		*args = append(*args, *filters.AlarmType)
		*argN++
	}
	if filters.Severity != nil {
		where = append(where, fmt.Sprintf("severity = $%d", *argN))
		*args = append(*args, *filters.Severity)
		*argN++
	}
	if filters.Delivery != nil {
		where = append(where, fmt.Sprintf("delivery = $%d", *argN))
		*args = append(*args, *filters.Delivery)
		*argN++
	}
	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("received_at >= $%d", *argN))
		*args = append(*args, *filters.StartTime)
		*argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("received_at <= $%d", *argN))
		*args = append(*args, *filters.EndTime)
		*argN++
	}
	return where
}

// ListAlarms 按条件查询告警列表，按设备时间戳倒序
func (r *AlarmRepository) ListAlarms(ctx context.Context, filters AlarmFilters) ([]*domain.Alarm, error) {
	args := []any{}
	argN := 1
	where := r.buildWhereClause(filters, &args, &argN)

	query := `SELECT ` + alarmColumns + ` FROM alarms`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp_micro DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, filters.Limit)
		argN++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argN)
		args = append(args, filters.Offset)
		argN++
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alarms: %w", err)
	}
	defer rows.Close()

	var alarms []*domain.Alarm
	for rows.Next() {
		a, err := scanAlarm(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alarm row: %w", err)
		}
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}

// CountAlarms 按条件统计告警数
func (r *AlarmRepository) CountAlarms(ctx context.Context, filters AlarmFilters) (int, error) {
	args := []any{}
	argN := 1
	where := r.buildWhereClause(filters, &args, &argN)

	query := `SELECT COUNT(*) FROM alarms`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alarms: %w", err)
	}
	return n, nil
}

// UpdateDelivery 更新告警的投递状态与重试信息
func (r *AlarmRepository) UpdateDelivery(ctx context.Context, id string, state domain.DeliveryState, retryCount int, lastError string) error {
	query := `UPDATE alarms SET delivery = $2, retry_count = $3, last_error = $4 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, state, retryCount, lastError)
	if err != nil {
		return fmt.Errorf("failed to update alarm delivery %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListFailedAlarms 查询投递失败的告警（运维处置入口）
func (r *AlarmRepository) ListFailedAlarms(ctx context.Context, limit int) ([]*domain.Alarm, error) {
	failed := domain.DeliveryFailed
	return r.ListAlarms(ctx, AlarmFilters{Delivery: &failed, Limit: limit})
}
