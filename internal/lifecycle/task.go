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

// TaskManager 算法任务生命周期管理。
// 所有下发前先做能力校验；创建成功即自动启动；更新会触发盒子侧重启，
// 体现为 Stopped→Running 的短暂状态翻转
type TaskManager struct {
	store     TaskStore
	media     *MediaManager
	validator TaskValidator
	sender    Sender
	timeout   time.Duration
	logger    *zap.Logger
}

// NewTaskManager 创建任务管理器
func NewTaskManager(store TaskStore, media *MediaManager, validator TaskValidator, sender Sender, timeout time.Duration, logger *zap.Logger) *TaskManager {
	return &TaskManager{
		store:     store,
		media:     media,
		validator: validator,
		sender:    sender,
		timeout:   timeout,
		logger:    logger,
	}
}

// Create 创建任务：能力校验 → 通道可绑定检查 → 下发配置 → 落库为 Running
func (m *TaskManager) Create(ctx context.Context, task *domain.AlgorithmTask) error {
	if err := m.validator.ValidateTask(task); err != nil {
		return err
	}
	if err := m.media.Bindable(ctx, task.BoardID, task.MediaName); err != nil {
		return err
	}

	if _, err := m.store.GetTask(ctx, task.BoardID, task.AlgTaskSession); err == nil {
		return fmt.Errorf("task %s/%s already exists: %w", task.BoardID, task.AlgTaskSession, ErrInvalidTransition)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if _, err := m.sender.Send(ctx, task.BoardID, protocol.EventTaskConfig, task.CommandFields(), m.timeout); err != nil {
		return fmt.Errorf("failed to create task %s/%s: %w", task.BoardID, task.AlgTaskSession, err)
	}

	// 配置即启动
	task.Status = domain.TaskRunning
	if err := m.store.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("failed to persist task %s/%s: %w", task.BoardID, task.AlgTaskSession, err)
	}

	m.logger.Info("Algorithm task created",
		zap.String("board_id", task.BoardID),
		zap.String("task_session", task.AlgTaskSession),
		zap.Int("alg_id", task.AlgID),
	)
	return nil
}

// Update 更新任务参数或绑定媒体。Running/Paused 状态下更新会触发盒子
// 重启任务：先落 Stopped 再恢复 Running，状态翻转对外可见
func (m *TaskManager) Update(ctx context.Context, task *domain.AlgorithmTask) error {
	current, err := m.store.GetTask(ctx, task.BoardID, task.AlgTaskSession)
	if err != nil {
		return err
	}
	if current.Status == domain.TaskDeleted {
		return fmt.Errorf("task %s/%s is deleted: %w", task.BoardID, task.AlgTaskSession, ErrInvalidTransition)
	}

	if err := m.validator.ValidateTask(task); err != nil {
		return err
	}
	if task.MediaName != current.MediaName {
		if err := m.media.Bindable(ctx, task.BoardID, task.MediaName); err != nil {
			return err
		}
	}

	restart := current.Status == domain.TaskRunning || current.Status == domain.TaskPaused
	if restart {
		if err := m.store.UpdateTaskStatus(ctx, task.BoardID, task.AlgTaskSession, domain.TaskStopped); err != nil {
			return err
		}
	}

	if _, err := m.sender.Send(ctx, task.BoardID, protocol.EventTaskConfig, task.CommandFields(), m.timeout); err != nil {
		return fmt.Errorf("failed to update task %s/%s: %w", task.BoardID, task.AlgTaskSession, err)
	}

	if restart {
		task.Status = domain.TaskRunning
	} else {
		task.Status = current.Status
	}
	if err := m.store.SaveTask(ctx, task); err != nil {
		return err
	}

	m.logger.Info("Algorithm task updated",
		zap.String("board_id", task.BoardID),
		zap.String("task_session", task.AlgTaskSession),
		zap.Bool("restarted", restart),
	)
	return nil
}

// Stop 停止任务。已停止时为空操作（幂等）
func (m *TaskManager) Stop(ctx context.Context, boardID, session string) error {
	current, err := m.store.GetTask(ctx, boardID, session)
	if err != nil {
		return err
	}
	switch current.Status {
	case domain.TaskStopped:
		return nil
	case domain.TaskDeleted:
		return fmt.Errorf("task %s/%s is deleted: %w", boardID, session, ErrInvalidTransition)
	}

	if err := m.sendControl(ctx, boardID, session, 0); err != nil {
		return err
	}
	return m.store.UpdateTaskStatus(ctx, boardID, session, domain.TaskStopped)
}

// Start 启动已停止的任务
func (m *TaskManager) Start(ctx context.Context, boardID, session string) error {
	current, err := m.store.GetTask(ctx, boardID, session)
	if err != nil {
		return err
	}
	switch current.Status {
	case domain.TaskRunning:
		return nil
	case domain.TaskDeleted:
		return fmt.Errorf("task %s/%s is deleted: %w", boardID, session, ErrInvalidTransition)
	}

	if err := m.sendControl(ctx, boardID, session, 1); err != nil {
		return err
	}
	return m.store.UpdateTaskStatus(ctx, boardID, session, domain.TaskRunning)
}

// Delete 删除任务。运行中的任务先下发停止命令，保证 停止→删除 的顺序约束
func (m *TaskManager) Delete(ctx context.Context, boardID, session string) error {
	current, err := m.store.GetTask(ctx, boardID, session)
	if err != nil {
		return err
	}
	if current.Status == domain.TaskDeleted {
		return nil
	}

	if current.Status == domain.TaskRunning || current.Status == domain.TaskPaused {
		if err := m.sendControl(ctx, boardID, session, 0); err != nil {
			return err
		}
		if err := m.store.UpdateTaskStatus(ctx, boardID, session, domain.TaskStopped); err != nil {
			return err
		}
	}

	fields := map[string]any{"AlgTaskSession": session}
	if _, err := m.sender.Send(ctx, boardID, protocol.EventTaskDelete, fields, m.timeout); err != nil {
		return fmt.Errorf("failed to delete task %s/%s: %w", boardID, session, err)
	}

	if err := m.store.UpdateTaskStatus(ctx, boardID, session, domain.TaskDeleted); err != nil {
		return err
	}

	m.logger.Info("Algorithm task deleted",
		zap.String("board_id", boardID),
		zap.String("task_session", session),
	)
	return nil
}

// Pause 布防时段外暂停任务（调度器触发，非用户命令）。幂等
func (m *TaskManager) Pause(ctx context.Context, boardID, session string) error {
	current, err := m.store.GetTask(ctx, boardID, session)
	if err != nil {
		return err
	}
	if current.Status != domain.TaskRunning {
		return nil
	}

	if err := m.sendControl(ctx, boardID, session, 0); err != nil {
		return err
	}
	if err := m.store.UpdateTaskStatus(ctx, boardID, session, domain.TaskPaused); err != nil {
		return err
	}
	m.logger.Info("Algorithm task paused by schedule",
		zap.String("board_id", boardID),
		zap.String("task_session", session),
	)
	return nil
}

// Resume 进入布防时段恢复任务（调度器触发）。幂等
func (m *TaskManager) Resume(ctx context.Context, boardID, session string) error {
	current, err := m.store.GetTask(ctx, boardID, session)
	if err != nil {
		return err
	}
	if current.Status != domain.TaskPaused {
		return nil
	}

	if err := m.sendControl(ctx, boardID, session, 1); err != nil {
		return err
	}
	if err := m.store.UpdateTaskStatus(ctx, boardID, session, domain.TaskRunning); err != nil {
		return err
	}
	m.logger.Info("Algorithm task resumed by schedule",
		zap.String("board_id", boardID),
		zap.String("task_session", session),
	)
	return nil
}

func (m *TaskManager) sendControl(ctx context.Context, boardID, session string, ctrl int) error {
	fields := map[string]any{
		"AlgTaskSession": session,
		"Ctrl":           ctrl,
	}
	if _, err := m.sender.Send(ctx, boardID, protocol.EventTaskControl, fields, m.timeout); err != nil {
		return fmt.Errorf("failed to control task %s/%s: %w", boardID, session, err)
	}
	return nil
}
