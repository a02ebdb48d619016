package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"aibox-gateway/internal/domain"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// BoardState Redis 中镜像的设备在线状态（供平台其它服务读取）
type BoardState struct {
	BoardID       string `json:"board_id"`
	BoardIP       string `json:"board_ip,omitempty"`
	ConnState     string `json:"conn_state"`
	Version       string `json:"version,omitempty"`
	LastHeartbeat int64  `json:"last_heartbeat,omitempty"` // Unix 秒
}

// StateCache 在线状态缓存管理器
type StateCache struct {
	redisClient *redis.Client
	keyPrefix   string
	logger      *zap.Logger
}

// NewStateCache 创建状态缓存
func NewStateCache(redisClient *redis.Client, keyPrefix string, logger *zap.Logger) *StateCache {
	return &StateCache{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		logger:      logger,
	}
}

func (s *StateCache) key(boardID string) string {
	return s.keyPrefix + boardID + ":state"
}

// Publish 写入设备状态镜像。缓存失败只记日志，不影响会话
func (s *StateCache) Publish(ctx context.Context, dev *domain.Device) {
	state := BoardState{
		BoardID:   dev.BoardID,
		BoardIP:   dev.BoardIP,
		ConnState: string(dev.ConnState),
		Version:   dev.Version,
	}
	if !dev.LastHeartbeat.IsZero() {
		state.LastHeartbeat = dev.LastHeartbeat.Unix()
	}

	jsonData, err := json.Marshal(state)
	if err != nil {
		s.logger.Error("Failed to marshal board state", zap.Error(err))
		return
	}

	if err := s.redisClient.Set(ctx, s.key(dev.BoardID), jsonData, 0).Err(); err != nil {
		s.logger.Warn("Failed to cache board state",
			zap.String("board_id", dev.BoardID),
			zap.Error(err),
		)
	}
}

// Get 读取设备状态镜像
func (s *StateCache) Get(ctx context.Context, boardID string) (*BoardState, error) {
	val, err := s.redisClient.Get(ctx, s.key(boardID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("board state not found: %s", boardID)
		}
		return nil, fmt.Errorf("failed to get board state: %w", err)
	}

	var state BoardState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal board state: %w", err)
	}
	return &state, nil
}

// Delete 删除状态镜像（设备注销时调用）
func (s *StateCache) Delete(ctx context.Context, boardID string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.redisClient.Del(ctx, s.key(boardID)).Err(); err != nil {
		s.logger.Warn("Failed to delete board state",
			zap.String("board_id", boardID),
			zap.Error(err),
		)
	}
}
