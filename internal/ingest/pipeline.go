package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aibox-gateway/internal/domain"
	"aibox-gateway/internal/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlarmStore 告警持久化（由告警仓库实现）
type AlarmStore interface {
	InsertAlarm(ctx context.Context, a *domain.Alarm) error
}

// ObjectPutter 对象存储写入（由 storage 包实现）
type ObjectPutter interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Pipeline 告警接收管道：去重 → 视频关联 → 图片落盘 → 持久化 → 投递队列。
// 告警投递优先于视频完整性：VideoFile 未命中索引时降级为无视频告警，
// 绝不因此拒收
type Pipeline struct {
	dedup  *Deduper
	videos *VideoIndex
	store  AlarmStore
	media  ObjectPutter
	queue  *RetryQueue
	logger *zap.Logger

	now func() time.Time
}

// NewPipeline 创建管道。media 可为 nil（不落图片）
func NewPipeline(dedup *Deduper, videos *VideoIndex, store AlarmStore, media ObjectPutter, queue *RetryQueue, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		dedup:  dedup,
		videos: videos,
		store:  store,
		media:  media,
		queue:  queue,
		logger: logger,
		now:    time.Now,
	}
}

// HandleAlarm 处理一条已解析的告警上报。
// 返回 duplicate=true 表示窗口内重复（已确认接收但不重复处理）
func (p *Pipeline) HandleAlarm(ctx context.Context, report *protocol.AlarmReport) (duplicate bool, err error) {
	alarmType := report.AlarmType()

	if p.dedup.Seen(ctx, report.BoardID, report.TaskSession, report.TimeStamp, alarmType) {
		p.logger.Debug("Duplicate alarm acknowledged",
			zap.String("board_id", report.BoardID),
			zap.String("task_session", report.TaskSession),
			zap.Int64("timestamp", report.TimeStamp),
		)
		return true, nil
	}

	alarm := &domain.Alarm{
		ID:             uuid.New().String(),
		BoardID:        report.BoardID,
		BoardIP:        report.BoardIP,
		TaskSession:    report.TaskSession,
		AlarmType:      alarmType,
		Severity:       domain.SeverityForType(alarmType),
		TimeStampMicro: report.TimeStamp,
		VideoFile:      report.VideoFile,
		Delivery:       domain.DeliveryPending,
		ReceivedAt:     p.now(),
	}
	if report.Result != nil {
		alarm.ResultJSON, _ = json.Marshal(report.Result)
	}

	// 视频关联：未命中降级为无视频告警
	videoURL := ""
	if report.VideoFile != "" {
		ref, lerr := p.videos.Lookup(ctx, report.VideoFile)
		switch {
		case lerr == nil:
			alarm.VideoID = report.VideoFile
			videoURL = ref
		case errors.Is(lerr, domain.ErrNotFound):
			p.logger.Warn("Alarm references unknown video, degrading to video-less",
				zap.String("board_id", report.BoardID),
				zap.String("video_file", report.VideoFile),
			)
		default:
			p.logger.Warn("Video lookup failed, degrading to video-less",
				zap.String("board_id", report.BoardID),
				zap.Error(lerr),
			)
		}
	}

	// 内嵌图片落盘（失败不拒收）
	alarm.ImageKeys = p.storeImages(ctx, alarm, report.ImageData)

	if err := p.store.InsertAlarm(ctx, alarm); err != nil {
		// 落库失败必须撤销去重标记：设备收到 5xx 会重试同一条上报，
		// 留着标记会把重试当成重复吞掉，告警就永久丢了
		p.dedup.Forget(ctx, report.BoardID, report.TaskSession, report.TimeStamp, alarmType)
		return false, fmt.Errorf("failed to persist alarm: %w", err)
	}

	if err := p.queue.Enqueue(ctx, alarm, videoURL); err != nil {
		// 已落库，投递留给失败列表处置
		p.logger.Error("Failed to enqueue alarm for delivery",
			zap.String("alarm_id", alarm.ID),
			zap.Error(err),
		)
	}

	p.logger.Info("Alarm accepted",
		zap.String("alarm_id", alarm.ID),
		zap.String("board_id", alarm.BoardID),
		zap.String("alarm_type", alarm.AlarmType),
		zap.String("severity", alarm.Severity),
		zap.Bool("has_video", alarm.VideoID != ""),
	)
	return false, nil
}

// storeImages 将内嵌的 base64 图片写入对象存储
func (p *Pipeline) storeImages(ctx context.Context, alarm *domain.Alarm, images []string) []string {
	if p.media == nil || len(images) == 0 {
		return nil
	}

	var keys []string
	for i, img := range images {
		data, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			p.logger.Warn("Skipping malformed alarm image",
				zap.String("alarm_id", alarm.ID),
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		key := fmt.Sprintf("%s/%s/%d_%d.jpg", alarm.BoardID, alarm.TaskSession, alarm.TimeStampMicro, i)
		if _, err := p.media.Put(ctx, key, "image/jpeg", data); err != nil {
			p.logger.Warn("Failed to store alarm image",
				zap.String("alarm_id", alarm.ID),
				zap.Error(err),
			)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// HandleVideoUpload 处理视频上传：落盘 → 发放 VideoId → 登记索引
func (p *Pipeline) HandleVideoUpload(ctx context.Context, boardID, taskSession, filename string, data []byte) (string, error) {
	videoID := uuid.New().String()
	key := fmt.Sprintf("%s/%s/%s_%s", boardID, taskSession, videoID, filename)

	ref := key
	if p.media != nil {
		var err error
		ref, err = p.media.Put(ctx, key, "video/mp4", data)
		if err != nil {
			return "", fmt.Errorf("failed to store video: %w", err)
		}
	}

	if err := p.videos.Remember(ctx, videoID, ref); err != nil {
		return "", err
	}

	p.logger.Info("Video uploaded",
		zap.String("board_id", boardID),
		zap.String("task_session", taskSession),
		zap.String("video_id", videoID),
		zap.Int("size", len(data)),
	)
	return videoID, nil
}
