package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aibox-gateway/internal/domain"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// VideoIndex 视频标识索引：VideoId → 对象存储引用。
// 视频先于告警上传，索引带 TTL，过期未被告警引用的视频条目自然淘汰
type VideoIndex struct {
	redisClient *redis.Client
	keyPrefix   string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewVideoIndex 创建视频索引
func NewVideoIndex(redisClient *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *VideoIndex {
	return &VideoIndex{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		ttl:         ttl,
		logger:      logger,
	}
}

func (v *VideoIndex) key(videoID string) string {
	return v.keyPrefix + "video:" + videoID
}

// Remember 登记视频引用
func (v *VideoIndex) Remember(ctx context.Context, videoID, reference string) error {
	if err := v.redisClient.Set(ctx, v.key(videoID), reference, v.ttl).Err(); err != nil {
		return fmt.Errorf("failed to index video %s: %w", videoID, err)
	}
	return nil
}

// Lookup 取回视频引用。未登记返回 domain.ErrNotFound
func (v *VideoIndex) Lookup(ctx context.Context, videoID string) (string, error) {
	ref, err := v.redisClient.Get(ctx, v.key(videoID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("failed to lookup video %s: %w", videoID, err)
	}
	return ref, nil
}
