package lifecycle

import (
	"context"
	"errors"
	"time"

	"aibox-gateway/internal/domain"
	"aibox-gateway/internal/protocol"
)

// 生命周期约束错误
var (
	// ErrInUse 媒体通道仍被未删除的任务引用，不可删除
	ErrInUse = errors.New("media channel is referenced by active tasks")
	// ErrMediaUnavailable 媒体通道不存在或处于 Error 状态，任务不可绑定
	ErrMediaUnavailable = errors.New("media channel unavailable for binding")
	// ErrInvalidTransition 当前状态不允许该操作
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Sender 下行命令通道（由关联层实现）。
// 返回的 error 已涵盖超时与设备应用层拒绝两类失败
type Sender interface {
	Send(ctx context.Context, boardID, event string, fields map[string]any, timeout time.Duration) (*protocol.Reply, error)
}

// TaskValidator 任务能力校验（由能力注册表实现）
type TaskValidator interface {
	ValidateTask(task *domain.AlgorithmTask) error
}

// MediaStore 媒体通道持久化接口
type MediaStore interface {
	GetMediaChannel(ctx context.Context, boardID, mediaName string) (*domain.MediaChannel, error)
	UpsertMediaChannel(ctx context.Context, ch *domain.MediaChannel) error
	MarkMediaDeleted(ctx context.Context, boardID, mediaName string) error
	UpdateMediaStatus(ctx context.Context, boardID, mediaName string, status domain.MediaStatus) error
}

// TaskStore 算法任务持久化接口
type TaskStore interface {
	GetTask(ctx context.Context, boardID, session string) (*domain.AlgorithmTask, error)
	SaveTask(ctx context.Context, task *domain.AlgorithmTask) error
	UpdateTaskStatus(ctx context.Context, boardID, session string, status domain.TaskStatus) error
	CountActiveTasksByMedia(ctx context.Context, boardID, mediaName string) (int, error)
	ListScheduledTasks(ctx context.Context) ([]*domain.AlgorithmTask, error)
}

// ScheduleStore 布防时间表读取接口
type ScheduleStore interface {
	GetSchedule(ctx context.Context, id int64) (*domain.Schedule, error)
}
