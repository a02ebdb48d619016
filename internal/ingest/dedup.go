package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Deduper 告警去重器。
// 以 (BoardId, TaskSession, 微秒时间戳, 告警类型) 为键做 Redis SET NX，
// 滑动窗口内的重复上报（设备重试所致）只确认不重复处理
type Deduper struct {
	redisClient *redis.Client
	keyPrefix   string
	window      time.Duration
	logger      *zap.Logger
}

// NewDeduper 创建去重器
func NewDeduper(redisClient *redis.Client, keyPrefix string, window time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		window:      window,
		logger:      logger,
	}
}

func (d *Deduper) key(boardID, taskSession string, timestampMicro int64, alarmType string) string {
	return fmt.Sprintf("%sdedup:%s:%s:%d:%s", d.keyPrefix, boardID, taskSession, timestampMicro, alarmType)
}

// Forget 撤销去重标记。告警落库失败时调用，
// 设备重试同一条上报时不能被误判为重复而丢失
func (d *Deduper) Forget(ctx context.Context, boardID, taskSession string, timestampMicro int64, alarmType string) {
	if err := d.redisClient.Del(ctx, d.key(boardID, taskSession, timestampMicro, alarmType)).Err(); err != nil {
		d.logger.Warn("Failed to clear dedup marker",
			zap.String("board_id", boardID),
			zap.Int64("timestamp", timestampMicro),
			zap.Error(err),
		)
	}
}

// Seen 判定是否为窗口内的重复告警。
// Redis 不可用时放行（宁可重复投递，不可丢告警），只记日志
func (d *Deduper) Seen(ctx context.Context, boardID, taskSession string, timestampMicro int64, alarmType string) bool {
	fresh, err := d.redisClient.SetNX(ctx, d.key(boardID, taskSession, timestampMicro, alarmType), 1, d.window).Result()
	if err != nil {
		d.logger.Warn("Dedup check failed, accepting alarm",
			zap.String("board_id", boardID),
			zap.Error(err),
		)
		return false
	}
	return !fresh
}
