package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aibox-gateway/internal/domain"

	"go.uber.org/zap"
)

// ScheduleRepository 布防时间表仓库。位图以十六进制字符串入库
type ScheduleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewScheduleRepository 创建时间表仓库
func NewScheduleRepository(db *sql.DB, logger *zap.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		db:     db,
		logger: logger,
	}
}

// GetSchedule 按ID查询时间表
func (r *ScheduleRepository) GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error) {
	query := `SELECT id, name, bitmap, created_at, updated_at FROM schedules WHERE id = $1`

	var s domain.Schedule
	var bitmapHex string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.Name, &bitmapHex, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query schedule %d: %w", id, err)
	}

	s.Bitmap, err = domain.ParseBitmapHex(bitmapHex)
	if err != nil {
		return nil, fmt.Errorf("schedule %d has corrupt bitmap: %w", id, err)
	}
	return &s, nil
}

// ListSchedules 查询全部时间表
func (r *ScheduleRepository) ListSchedules(ctx context.Context) ([]*domain.Schedule, error) {
	query := `SELECT id, name, bitmap, created_at, updated_at FROM schedules ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*domain.Schedule
	for rows.Next() {
		var s domain.Schedule
		var bitmapHex string
		if err := rows.Scan(&s.ID, &s.Name, &bitmapHex, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		if s.Bitmap, err = domain.ParseBitmapHex(bitmapHex); err != nil {
			return nil, fmt.Errorf("schedule %d has corrupt bitmap: %w", s.ID, err)
		}
		schedules = append(schedules, &s)
	}
	return schedules, rows.Err()
}

// SaveSchedule 新增或更新时间表。新增时回填生成的ID
func (r *ScheduleRepository) SaveSchedule(ctx context.Context, s *domain.Schedule) error {
	if s.ID == 0 {
		query := `INSERT INTO schedules (name, bitmap, created_at, updated_at) VALUES ($1, $2, NOW(), NOW()) RETURNING id`
		if err := r.db.QueryRowContext(ctx, query, s.Name, s.BitmapHex()).Scan(&s.ID); err != nil {
			return fmt.Errorf("failed to insert schedule %q: %w", s.Name, err)
		}
		return nil
	}

	query := `UPDATE schedules SET name = $2, bitmap = $3, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, s.ID, s.Name, s.BitmapHex())
	if err != nil {
		return fmt.Errorf("failed to update schedule %d: %w", s.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteSchedule 删除时间表。仍被任务引用时拒绝
func (r *ScheduleRepository) DeleteSchedule(ctx context.Context, id int64) error {
	var refs int
	countQuery := `SELECT COUNT(*) FROM alg_tasks WHERE schedule_id = $1 AND status != $2`
	if err := r.db.QueryRowContext(ctx, countQuery, id, domain.TaskDeleted).Scan(&refs); err != nil {
		return fmt.Errorf("failed to count schedule references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("schedule %d is referenced by %d tasks", id, refs)
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
