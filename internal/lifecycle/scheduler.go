package lifecycle

import (
	"context"
	"errors"
	"time"

	"aibox-gateway/internal/domain"

	"go.uber.org/zap"
)

// Scheduler 布防调度循环：在每个半小时槽位边界（以及时间表变更时）
// 重新评估所有绑定了时间表的任务，驱动 Running⇄Paused 切换。
// 单个任务的失败（如设备离线）只记录日志，下个边界会重试
type Scheduler struct {
	tasks     TaskStore
	schedules ScheduleStore
	mgr       *TaskManager
	logger    *zap.Logger

	kick chan struct{}
	now  func() time.Time
}

// NewScheduler 创建布防调度器
func NewScheduler(tasks TaskStore, schedules ScheduleStore, mgr *TaskManager, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		tasks:     tasks,
		schedules: schedules,
		mgr:       mgr,
		logger:    logger,
		kick:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Kick 请求立即重新评估（时间表或任务绑定变更后调用）。非阻塞
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run 调度循环，阻塞直到 ctx 取消。启动时先做一次全量评估
func (s *Scheduler) Run(ctx context.Context) {
	s.evaluate(ctx)
	for {
		timer := time.NewTimer(s.untilNextSlot())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-s.kick:
			timer.Stop()
		}
		s.evaluate(ctx)
	}
}

// untilNextSlot 距离下一个半小时边界的时长
func (s *Scheduler) untilNextSlot() time.Duration {
	now := s.now()
	next := now.Truncate(30 * time.Minute).Add(30 * time.Minute)
	return next.Sub(now)
}

// evaluate 全量评估一次所有绑定时间表的任务
func (s *Scheduler) evaluate(ctx context.Context) {
	list, err := s.tasks.ListScheduledTasks(ctx)
	if err != nil {
		s.logger.Error("Failed to list scheduled tasks", zap.Error(err))
		return
	}

	now := s.now()
	for _, task := range list {
		if task.ScheduleID == nil {
			continue
		}
		sched, err := s.schedules.GetSchedule(ctx, *task.ScheduleID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// 时间表被删除的任务保持运行
				continue
			}
			s.logger.Error("Failed to load schedule",
				zap.Int64("schedule_id", *task.ScheduleID),
				zap.Error(err),
			)
			continue
		}

		active := sched.IsActiveAt(now)
		switch {
		case active && task.Status == domain.TaskPaused:
			if err := s.mgr.Resume(ctx, task.BoardID, task.AlgTaskSession); err != nil {
				s.logger.Warn("Failed to resume task on schedule edge",
					zap.String("board_id", task.BoardID),
					zap.String("task_session", task.AlgTaskSession),
					zap.Error(err),
				)
			}
		case !active && task.Status == domain.TaskRunning:
			if err := s.mgr.Pause(ctx, task.BoardID, task.AlgTaskSession); err != nil {
				s.logger.Warn("Failed to pause task on schedule edge",
					zap.String("board_id", task.BoardID),
					zap.String("task_session", task.AlgTaskSession),
					zap.Error(err),
				)
			}
		}
	}
}
