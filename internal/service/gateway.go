package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"aibox-gateway/internal/capability"
	"aibox-gateway/internal/config"
	"aibox-gateway/internal/correlator"
	"aibox-gateway/internal/domain"
	"aibox-gateway/internal/ingest"
	"aibox-gateway/internal/lifecycle"
	"aibox-gateway/internal/mqtt"
	"aibox-gateway/internal/notify"
	"aibox-gateway/internal/protocol"
	"aibox-gateway/internal/repository"
	"aibox-gateway/internal/session"
	"aibox-gateway/internal/storage"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// commandPublisher 延迟绑定的命令发布器。
// 关联层与会话管理器互相引用（回复路由 ↔ 命令下发），
// 先以空壳创建关联层，会话管理器就绪后再绑定
type commandPublisher struct {
	manager *session.Manager
}

func (p *commandPublisher) PublishCommand(boardID, event string, payload []byte) error {
	if p.manager == nil {
		return fmt.Errorf("session manager not ready")
	}
	return p.manager.PublishCommand(boardID, event, payload)
}

// nopDeliverer 通知未启用时的空投递：告警直接置为已投递
type nopDeliverer struct{}

func (nopDeliverer) Notify(context.Context, *domain.Alarm, string) error { return nil }

// Gateway AI盒子接入网关（整合各层）
type Gateway struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	deviceRepo   *repository.DeviceRepository
	mediaRepo    *repository.MediaRepository
	taskRepo     *repository.TaskRepository
	scheduleRepo *repository.ScheduleRepository
	alarmRepo    *repository.AlarmRepository

	correlator   *correlator.Correlator
	registry     *session.Registry
	sessions     *session.Manager
	capabilities *capability.Registry
	mediaMgr     *lifecycle.MediaManager
	taskMgr      *lifecycle.TaskManager
	scheduler    *lifecycle.Scheduler

	objectStore *storage.ObjectStore
	retryQueue  *ingest.RetryQueue
	pipeline    *ingest.Pipeline
	httpServer  *ingest.Server
}

// NewGateway 创建网关服务
func NewGateway(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 Repository 层
	deviceRepo := repository.NewDeviceRepository(db, logger)
	mediaRepo := repository.NewMediaRepository(db, logger)
	taskRepo := repository.NewTaskRepository(db, logger)
	scheduleRepo := repository.NewScheduleRepository(db, logger)
	alarmRepo := repository.NewAlarmRepository(db, logger)

	// 4. 控制通道：关联层 + 设备会话管理器
	pub := &commandPublisher{}
	corr := correlator.New(pub, logger)
	registry := session.NewRegistry()
	stateCache := session.NewStateCache(redisClient, cfg.Session.StateKeyPrefix, logger)
	dialer := mqtt.NewPahoDialer(&cfg.MQTT, logger)
	sessions := session.NewManager(cfg, dialer, registry, corr, stateCache, logger)
	pub.manager = sessions

	// 5. 能力注册表与生命周期管理
	cmdTimeout := cfg.Command.DefaultTimeout
	capabilities := capability.NewRegistry(corr, cmdTimeout, logger)
	mediaMgr := lifecycle.NewMediaManager(mediaRepo, taskRepo, corr, cmdTimeout, logger)
	taskMgr := lifecycle.NewTaskManager(taskRepo, mediaMgr, capabilities, corr, cmdTimeout, logger)
	scheduler := lifecycle.NewScheduler(taskRepo, scheduleRepo, taskMgr, logger)

	// 6. 报送面：对象存储、投递队列、接收管道、HTTP 服务
	objectStore := storage.NewObjectStore(cfg.Storage.Endpoint, cfg.Storage.Bucket, cfg.Storage.Timeout, logger)

	var deliverer ingest.Deliverer = nopDeliverer{}
	if cfg.Notify.Enabled {
		deliverer = notify.NewNotifier(cfg.Notify.Endpoint, cfg.Notify.Path, cfg.Notify.Timeout, logger)
	}
	retryQueue := ingest.NewRetryQueue(
		deliverer,
		alarmRepo,
		cfg.Ingest.QueueSize,
		cfg.Ingest.Workers,
		cfg.Ingest.MaxRetries,
		cfg.Ingest.BackoffBase,
		cfg.Ingest.BackoffMax,
		logger,
	)

	dedup := ingest.NewDeduper(redisClient, cfg.Ingest.DedupPrefix, cfg.Ingest.DedupWindow, logger)
	videos := ingest.NewVideoIndex(redisClient, cfg.Ingest.VideoPrefix, cfg.Ingest.VideoTTL, logger)
	pipeline := ingest.NewPipeline(dedup, videos, alarmRepo, objectStore, retryQueue, logger)

	g := &Gateway{
		config:       cfg,
		db:           db,
		redisClient:  redisClient,
		logger:       logger,
		deviceRepo:   deviceRepo,
		mediaRepo:    mediaRepo,
		taskRepo:     taskRepo,
		scheduleRepo: scheduleRepo,
		alarmRepo:    alarmRepo,
		correlator:   corr,
		registry:     registry,
		sessions:     sessions,
		capabilities: capabilities,
		mediaMgr:     mediaMgr,
		taskMgr:      taskMgr,
		scheduler:    scheduler,
		objectStore:  objectStore,
		retryQueue:   retryQueue,
		pipeline:     pipeline,
	}
	sessions.SetHeartbeatFunc(g.onHeartbeat)
	sessions.SetConnectedFunc(g.onConnected)
	// HTTP 心跳与 MQTT 心跳共用同一条副作用路径
	g.httpServer = ingest.NewServer(cfg.HTTP.Addr, pipeline, registry, alarmRepo, capabilities,
		g.onHeartbeat, cfg.Ingest.MaxUploadSize, logger)
	return g, nil
}

// Start 启动网关：加载已激活设备并拉起会话，启动排程循环、
// 投递工作池与上报 HTTP 服务
func (g *Gateway) Start(ctx context.Context) error {
	g.logger.Info("Starting aibox gateway")

	devices, err := g.deviceRepo.ListActiveDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active devices: %w", err)
	}
	for _, dev := range devices {
		g.registry.Put(dev)
	}
	if err := g.sessions.Start(ctx); err != nil {
		return fmt.Errorf("failed to start device sessions: %w", err)
	}

	g.retryQueue.Start(ctx)

	go g.scheduler.Run(ctx)

	go func() {
		if err := g.httpServer.Start(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("Ingest HTTP server exited", zap.Error(err))
		}
	}()

	g.logger.Info("Aibox gateway started",
		zap.Int("devices", len(devices)),
		zap.String("http_addr", g.config.HTTP.Addr),
	)
	return nil
}

// Stop 停止网关（优雅关闭）
func (g *Gateway) Stop() error {
	g.logger.Info("Stopping aibox gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.httpServer.Stop(shutdownCtx); err != nil {
		g.logger.Error("Failed to stop ingest HTTP server", zap.Error(err))
	}

	g.sessions.Stop()
	g.retryQueue.Wait()

	if err := g.db.Close(); err != nil {
		g.logger.Error("Failed to close database", zap.Error(err))
	}
	if err := g.redisClient.Close(); err != nil {
		g.logger.Error("Failed to close redis", zap.Error(err))
	}
	return nil
}

// RegisterDevice 登记并接入一台盒子
func (g *Gateway) RegisterDevice(ctx context.Context, dev *domain.Device) error {
	dev.Active = true
	if err := g.deviceRepo.SaveDevice(ctx, dev); err != nil {
		return err
	}
	g.registry.Put(dev)
	return g.sessions.StartSession(ctx, dev.BoardID)
}

// DeregisterDevice 注销一台盒子：停会话、取消在途命令、标记停用
func (g *Gateway) DeregisterDevice(ctx context.Context, boardID string) error {
	g.sessions.Deregister(ctx, boardID)
	g.capabilities.Forget(boardID)

	dev, err := g.deviceRepo.GetDevice(ctx, boardID)
	if err != nil {
		return err
	}
	dev.Active = false
	dev.ConnState = domain.ConnDisconnected
	return g.deviceRepo.SaveDevice(ctx, dev)
}

// MediaChannels 媒体通道生命周期入口
func (g *Gateway) MediaChannels() *lifecycle.MediaManager { return g.mediaMgr }

// Tasks 算法任务生命周期入口
func (g *Gateway) Tasks() *lifecycle.TaskManager { return g.taskMgr }

// Capabilities 能力注册表入口
func (g *Gateway) Capabilities() *capability.Registry { return g.capabilities }

// KickScheduler 排程变更后立即重算任务的 Running/Paused 状态
func (g *Gateway) KickScheduler() { g.scheduler.Kick() }

// onConnected 连接建立（含重连）后刷新固件版本与能力快照，
// 避免离线期间的固件升级留下过期快照。失败只记录，下次心跳/重连再补
func (g *Gateway) onConnected(boardID string) {
	// 两条命令顺序执行，各自受命令超时约束
	ctx, cancel := context.WithTimeout(context.Background(), 2*g.config.Command.DefaultTimeout)
	defer cancel()

	if _, err := g.capabilities.RefreshVersion(ctx, boardID); err != nil {
		g.logger.Warn("Failed to refresh firmware version on connect",
			zap.String("board_id", boardID),
			zap.Error(err),
		)
	}
	if _, err := g.capabilities.Refresh(ctx, boardID); err != nil {
		g.logger.Warn("Failed to refresh capability on connect",
			zap.String("board_id", boardID),
			zap.Error(err),
		)
	}
}

// onHeartbeat 心跳副作用：遥测入库、固件版本登记、媒体通道状态同步。
// 全部尽力而为，失败只记录
func (g *Gateway) onHeartbeat(hb *protocol.Heartbeat) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := g.deviceRepo.TouchHeartbeat(ctx, hb.BoardID, hb.BoardIP, hb.Version, time.Now()); err != nil {
		g.logger.Warn("Failed to persist heartbeat",
			zap.String("board_id", hb.BoardID),
			zap.Error(err),
		)
	}

	if hb.Version != "" {
		g.capabilities.SetVersion(hb.BoardID, hb.Version)
	}

	for _, m := range hb.MediaList {
		if err := g.mediaMgr.ApplyReportedStatus(ctx, hb.BoardID, m.MediaName, domain.MediaStatus(m.Status)); err != nil {
			g.logger.Warn("Failed to sync reported media status",
				zap.String("board_id", hb.BoardID),
				zap.String("media_name", m.MediaName),
				zap.Error(err),
			)
		}
	}
}
