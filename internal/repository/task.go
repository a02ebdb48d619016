package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"aibox-gateway/internal/domain"

	"go.uber.org/zap"
)

// TaskRepository 算法任务仓库。
// 规则与动态参数以 JSON 列存储，读取时反序列化回领域模型
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository 创建任务仓库
func NewTaskRepository(db *sql.DB, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

const taskColumns = `board_id, alg_task_session, media_name, task_desc, alg_id, sub_alg_ids, rules, params, schedule_id, report_url, status, created_at, updated_at`

func scanTask(scan func(...any) error) (*domain.AlgorithmTask, error) {
	var t domain.AlgorithmTask
	var subAlgs, rules, params []byte
	var scheduleID sql.NullInt64

	if err := scan(
		&t.BoardID,
		&t.AlgTaskSession,
		&t.MediaName,
		&t.TaskDesc,
		&t.AlgID,
		&subAlgs,
		&rules,
		&params,
		&scheduleID,
		&t.ReportURL,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(subAlgs) > 0 {
		if err := json.Unmarshal(subAlgs, &t.SubAlgIDs); err != nil {
			return nil, fmt.Errorf("failed to decode sub alg ids: %w", err)
		}
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &t.Rules); err != nil {
			return nil, fmt.Errorf("failed to decode task rules: %w", err)
		}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &t.Params); err != nil {
			return nil, fmt.Errorf("failed to decode task params: %w", err)
		}
	}
	if scheduleID.Valid {
		t.ScheduleID = &scheduleID.Int64
	}
	return &t, nil
}

// GetTask 查询单个任务
func (r *TaskRepository) GetTask(ctx context.Context, boardID, session string) (*domain.AlgorithmTask, error) {
	query := `SELECT ` + taskColumns + ` FROM alg_tasks WHERE board_id = $1 AND alg_task_session = $2`

	row := r.db.QueryRowContext(ctx, query, boardID, session)
	t, err := scanTask(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query task %s/%s: %w", boardID, session, err)
	}
	return t, nil
}

// ListTasks 查询盒子的全部未删除任务
func (r *TaskRepository) ListTasks(ctx context.Context, boardID string) ([]*domain.AlgorithmTask, error) {
	query := `SELECT ` + taskColumns + ` FROM alg_tasks WHERE board_id = $1 AND status != $2 ORDER BY alg_task_session`
	return r.listTasks(ctx, query, boardID, domain.TaskDeleted)
}

// ListScheduledTasks 查询所有绑定了布防时间表且处于 Running/Paused 的任务（调度循环用）
func (r *TaskRepository) ListScheduledTasks(ctx context.Context) ([]*domain.AlgorithmTask, error) {
	query := `SELECT ` + taskColumns + ` FROM alg_tasks WHERE schedule_id IS NOT NULL AND status IN ($1, $2) ORDER BY board_id, alg_task_session`
	return r.listTasks(ctx, query, domain.TaskRunning, domain.TaskPaused)
}

func (r *TaskRepository) listTasks(ctx context.Context, query string, args ...any) ([]*domain.AlgorithmTask, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.AlgorithmTask
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SaveTask 新增或整体更新任务
func (r *TaskRepository) SaveTask(ctx context.Context, t *domain.AlgorithmTask) error {
	subAlgs, err := json.Marshal(t.SubAlgIDs)
	if err != nil {
		return fmt.Errorf("failed to encode sub alg ids: %w", err)
	}
	rules, err := json.Marshal(t.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode task rules: %w", err)
	}
	params, err := t.MarshalParams()
	if err != nil {
		return fmt.Errorf("failed to encode task params: %w", err)
	}

	var scheduleID sql.NullInt64
	if t.ScheduleID != nil {
		scheduleID = sql.NullInt64{Int64: *t.ScheduleID, Valid: true}
	}

	query := `
		INSERT INTO alg_tasks (board_id, alg_task_session, media_name, task_desc, alg_id, sub_alg_ids, rules, params, schedule_id, report_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (board_id, alg_task_session) DO UPDATE SET
			media_name = EXCLUDED.media_name,
			task_desc = EXCLUDED.task_desc,
			alg_id = EXCLUDED.alg_id,
			sub_alg_ids = EXCLUDED.sub_alg_ids,
			rules = EXCLUDED.rules,
			params = EXCLUDED.params,
			schedule_id = EXCLUDED.schedule_id,
			report_url = EXCLUDED.report_url,
			status = EXCLUDED.status,
			updated_at = NOW()
	`
	_, err = r.db.ExecContext(ctx, query,
		t.BoardID, t.AlgTaskSession, t.MediaName, t.TaskDesc, t.AlgID,
		subAlgs, rules, params, scheduleID, t.ReportURL, t.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to save task %s/%s: %w", t.BoardID, t.AlgTaskSession, err)
	}
	return nil
}

// UpdateTaskStatus 仅更新状态（生命周期转换用）
func (r *TaskRepository) UpdateTaskStatus(ctx context.Context, boardID, session string, status domain.TaskStatus) error {
	query := `UPDATE alg_tasks SET status = $3, updated_at = NOW() WHERE board_id = $1 AND alg_task_session = $2`
	result, err := r.db.ExecContext(ctx, query, boardID, session, status)
	if err != nil {
		return fmt.Errorf("failed to update task status %s/%s: %w", boardID, session, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountActiveTasksByMedia 统计引用指定通道的未删除任务数（通道删除前检查）
func (r *TaskRepository) CountActiveTasksByMedia(ctx context.Context, boardID, mediaName string) (int, error) {
	query := `SELECT COUNT(*) FROM alg_tasks WHERE board_id = $1 AND media_name = $2 AND status != $3`

	var n int
	if err := r.db.QueryRowContext(ctx, query, boardID, mediaName, domain.TaskDeleted).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks for media %s/%s: %w", boardID, mediaName, err)
	}
	return n, nil
}
