package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"aibox-gateway/internal/domain"

	"go.uber.org/zap"
)

// ErrQueueFull 投递队列已满且调用方不愿等待
var ErrQueueFull = errors.New("delivery queue full")

// Deliverer 下游通知投递（由 notify 包实现）
type Deliverer interface {
	Notify(ctx context.Context, alarm *domain.Alarm, videoURL string) error
}

// DeliveryStore 投递状态持久化（由告警仓库实现）
type DeliveryStore interface {
	UpdateDelivery(ctx context.Context, id string, state domain.DeliveryState, retryCount int, lastError string) error
}

// deliveryJob 一次待投递的告警
type deliveryJob struct {
	alarm    *domain.Alarm
	videoURL string
}

// RetryQueue 有界投递队列 + 固定工作池。
// 投递失败指数退避重试，超出最大次数置为 FailedPermanently 留给运维。
// 投递失败绝不回灌 ingest 的接收路径
type RetryQueue struct {
	deliverer Deliverer
	store     DeliveryStore
	logger    *zap.Logger

	jobs        chan deliveryJob
	workers     int
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration

	wg sync.WaitGroup
}

// NewRetryQueue 创建投递队列
func NewRetryQueue(deliverer Deliverer, store DeliveryStore, queueSize, workers, maxRetries int, backoffBase, backoffMax time.Duration, logger *zap.Logger) *RetryQueue {
	return &RetryQueue{
		deliverer:   deliverer,
		store:       store,
		logger:      logger,
		jobs:        make(chan deliveryJob, queueSize),
		workers:     workers,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
	}
}

// Start 启动工作池
func (q *RetryQueue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-q.jobs:
					q.deliver(ctx, job)
				}
			}
		}()
	}
}

// Wait 等待工作池退出（ctx 取消后调用）
func (q *RetryQueue) Wait() {
	q.wg.Wait()
}

// Enqueue 入队一条投递任务。队列满时阻塞直到有空位或 ctx 取消
func (q *RetryQueue) Enqueue(ctx context.Context, alarm *domain.Alarm, videoURL string) error {
	select {
	case q.jobs <- deliveryJob{alarm: alarm, videoURL: videoURL}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue 非阻塞入队，队列满时返回 ErrQueueFull
func (q *RetryQueue) TryEnqueue(alarm *domain.Alarm, videoURL string) error {
	select {
	case q.jobs <- deliveryJob{alarm: alarm, videoURL: videoURL}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending 队列中等待投递的任务数
func (q *RetryQueue) Pending() int {
	return len(q.jobs)
}

// deliver 投递一条告警，失败则指数退避重试到上限
func (q *RetryQueue) deliver(ctx context.Context, job deliveryJob) {
	for attempt := 1; ; attempt++ {
		err := q.deliverer.Notify(ctx, job.alarm, job.videoURL)
		if err == nil {
			if uerr := q.store.UpdateDelivery(ctx, job.alarm.ID, domain.DeliveryDelivered, attempt-1, ""); uerr != nil {
				q.logger.Error("Failed to record alarm delivery",
					zap.String("alarm_id", job.alarm.ID),
					zap.Error(uerr),
				)
			}
			return
		}

		q.logger.Warn("Alarm delivery attempt failed",
			zap.String("alarm_id", job.alarm.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt >= q.maxRetries {
			if uerr := q.store.UpdateDelivery(ctx, job.alarm.ID, domain.DeliveryFailed, attempt, err.Error()); uerr != nil {
				q.logger.Error("Failed to record permanent delivery failure",
					zap.String("alarm_id", job.alarm.ID),
					zap.Error(uerr),
				)
			}
			q.logger.Error("Alarm delivery failed permanently",
				zap.String("alarm_id", job.alarm.ID),
				zap.Int("attempts", attempt),
			)
			return
		}

		if uerr := q.store.UpdateDelivery(ctx, job.alarm.ID, domain.DeliveryPending, attempt, err.Error()); uerr != nil {
			q.logger.Error("Failed to record delivery retry",
				zap.String("alarm_id", job.alarm.ID),
				zap.Error(uerr),
			)
		}

		timer := time.NewTimer(q.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// backoff 第 attempt 次失败后的等待时长：base * 2^(attempt-1)，封顶 backoffMax
func (q *RetryQueue) backoff(attempt int) time.Duration {
	d := q.backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.backoffMax {
			return q.backoffMax
		}
	}
	if d > q.backoffMax {
		return q.backoffMax
	}
	return d
}
