package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"aibox-gateway/internal/config"
	"aibox-gateway/internal/domain"
	"aibox-gateway/internal/mqtt"
	"aibox-gateway/internal/protocol"

	"go.uber.org/zap"
)

// ReplyRouter 回复路由（由关联层实现）
type ReplyRouter interface {
	HandleReply(topic string, payload []byte) error
	CancelBoard(boardID string)
}

// HeartbeatFunc 心跳副作用回调（遥测入库、媒体/任务状态同步）
type HeartbeatFunc func(hb *protocol.Heartbeat)

// ConnectedFunc 会话进入 Connected 后的回调（能力/版本刷新）。
// 在独立协程中执行，不阻塞会话循环
type ConnectedFunc func(boardID string)

// Manager 设备会话管理器：每个盒子一条独立控制通道连接、
// 一个会话协程负责连接生命周期（连接/重连/退避）与心跳监测。
// 单个设备的故障完全隔离，不影响其它会话
type Manager struct {
	heartbeatInterval time.Duration
	degradedAfter     time.Duration
	offlineAfter      time.Duration
	reconnectBase     time.Duration
	reconnectMax      time.Duration
	clientPrefix      string
	qos               byte

	dialer      mqtt.Dialer
	registry    *Registry
	router      ReplyRouter
	stateCache  *StateCache // 可为 nil（测试或未配置 Redis）
	onHeartbeat HeartbeatFunc
	onConnected ConnectedFunc
	logger      *zap.Logger

	mu       sync.Mutex
	sessions map[string]*deviceSession
	wg       sync.WaitGroup
}

// NewManager 创建会话管理器
func NewManager(
	cfg *config.Config,
	dialer mqtt.Dialer,
	registry *Registry,
	router ReplyRouter,
	stateCache *StateCache,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		heartbeatInterval: cfg.Session.HeartbeatInterval,
		degradedAfter:     cfg.Session.DegradedAfter,
		offlineAfter:      cfg.Session.OfflineAfter,
		reconnectBase:     cfg.Session.ReconnectBase,
		reconnectMax:      cfg.Session.ReconnectMax,
		clientPrefix:      cfg.MQTT.ClientID,
		qos:               cfg.MQTT.QoS,
		dialer:            dialer,
		registry:          registry,
		router:            router,
		stateCache:        stateCache,
		logger:            logger,
		sessions:          make(map[string]*deviceSession),
	}
}

// SetHeartbeatFunc 注册心跳副作用回调（启动前调用）
func (m *Manager) SetHeartbeatFunc(fn HeartbeatFunc) {
	m.onHeartbeat = fn
}

// SetConnectedFunc 注册连接建立回调（启动前调用）
func (m *Manager) SetConnectedFunc(fn ConnectedFunc) {
	m.onConnected = fn
}

// deviceSession 单个设备的会话
type deviceSession struct {
	boardID string
	cancel  context.CancelFunc
	done    chan struct{}
	lost    chan error

	mu       sync.Mutex
	conn     mqtt.Conn
	lastBeat time.Time
}

func (s *deviceSession) setConn(conn mqtt.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *deviceSession) getConn() mqtt.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *deviceSession) markBeat(at time.Time) {
	s.mu.Lock()
	s.lastBeat = at
	s.mu.Unlock()
}

func (s *deviceSession) beatAge(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastBeat)
}

// notifyLost 传输层断开通知（paho 回调线程调用，不阻塞）
func (s *deviceSession) notifyLost(err error) {
	select {
	case s.lost <- err:
	default:
	}
}

// Start 为注册表中所有激活设备启动会话
func (m *Manager) Start(ctx context.Context) error {
	for _, dev := range m.registry.List() {
		if !dev.Active {
			continue
		}
		if err := m.StartSession(ctx, dev.BoardID); err != nil {
			// 单设备失败不阻断启动
			m.logger.Error("Failed to start device session",
				zap.String("board_id", dev.BoardID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// StartSession 启动单个设备会话（设备必须已注册）
func (m *Manager) StartSession(ctx context.Context, boardID string) error {
	if _, ok := m.registry.Get(boardID); !ok {
		return fmt.Errorf("board %s not registered", boardID)
	}

	m.mu.Lock()
	if _, exists := m.sessions[boardID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("session for board %s already running", boardID)
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &deviceSession{
		boardID: boardID,
		cancel:  cancel,
		done:    make(chan struct{}),
		lost:    make(chan error, 1),
	}
	m.sessions[boardID] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(sctx, s)
	return nil
}

// Deregister 注销设备：停止重连循环、取消在途命令、释放会话
func (m *Manager) Deregister(ctx context.Context, boardID string) {
	m.mu.Lock()
	s, ok := m.sessions[boardID]
	if ok {
		delete(m.sessions, boardID)
	}
	m.mu.Unlock()

	if ok {
		s.cancel()
		<-s.done
	}
	m.router.CancelBoard(boardID)
	m.registry.Remove(boardID)
	if m.stateCache != nil {
		m.stateCache.Delete(ctx, boardID)
	}
	m.logger.Info("Device deregistered", zap.String("board_id", boardID))
}

// Stop 停止全部会话
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, s := range m.sessions {
		s.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// PublishCommand 实现 correlator.Publisher：在设备自己的连接上发布命令
func (m *Manager) PublishCommand(boardID, event string, payload []byte) error {
	m.mu.Lock()
	s, ok := m.sessions[boardID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no session for board %s", boardID)
	}

	conn := s.getConn()
	if conn == nil || !conn.IsConnected() {
		return fmt.Errorf("board %s is offline", boardID)
	}
	return conn.Publish(protocol.CommandTopic(boardID, event), m.qos, false, payload)
}

// run 会话主循环：连接 → 订阅 → 监测，断开后按退避重连
func (m *Manager) run(ctx context.Context, s *deviceSession) {
	defer m.wg.Done()
	defer close(s.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			m.setState(ctx, s.boardID, domain.ConnDisconnected)
			return
		}

		m.setState(ctx, s.boardID, domain.ConnConnecting)
		conn, err := m.dialer.Dial(m.clientPrefix+"-"+s.boardID, s.notifyLost)
		if err != nil {
			m.setState(ctx, s.boardID, domain.ConnDisconnected)
			m.logger.Warn("Failed to connect device session",
				zap.String("board_id", s.boardID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			attempt++
			if !m.sleepBackoff(ctx, attempt) {
				return
			}
			continue
		}

		// 订阅该盒子的全部上行主题（回复 + 心跳）
		if err := conn.Subscribe(protocol.CommandTopic(s.boardID, "+"), m.qos, m.makeHandler(s)); err != nil {
			conn.Disconnect()
			m.setState(ctx, s.boardID, domain.ConnDisconnected)
			m.logger.Warn("Failed to subscribe device topics",
				zap.String("board_id", s.boardID),
				zap.Error(err),
			)
			attempt++
			if !m.sleepBackoff(ctx, attempt) {
				return
			}
			continue
		}

		// 传输连接+订阅完成即 Connected，不要求等到首个心跳
		s.setConn(conn)
		s.markBeat(time.Now())
		m.setState(ctx, s.boardID, domain.ConnConnected)
		m.logger.Info("Device session connected", zap.String("board_id", s.boardID))
		attempt = 0

		// 每次连接（含重连）后刷新能力/版本，固件可能在离线期间升级
		if m.onConnected != nil {
			go m.onConnected(s.boardID)
		}

		m.monitor(ctx, s)

		s.setConn(nil)
		conn.Disconnect()
		m.setState(ctx, s.boardID, domain.ConnDisconnected)

		if ctx.Err() != nil {
			return
		}
		attempt++
		if !m.sleepBackoff(ctx, attempt) {
			return
		}
	}
}

// monitor 心跳监测循环。返回即表示本次连接结束（传输断开或心跳彻底丢失）。
// 心跳降级不会取消在途命令，它们由各自的超时兜底
func (m *Manager) monitor(ctx context.Context, s *deviceSession) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-s.lost:
			m.logger.Warn("Device transport lost",
				zap.String("board_id", s.boardID),
				zap.Error(err),
			)
			return
		case <-ticker.C:
			age := s.beatAge(time.Now())
			switch {
			case age > m.degradedAfter+m.offlineAfter:
				// 第二个宽限期也过了，判定离线，走重连
				m.logger.Warn("Device heartbeat lost, reconnecting",
					zap.String("board_id", s.boardID),
					zap.Duration("silence", age),
				)
				return
			case age > m.degradedAfter:
				m.setState(ctx, s.boardID, domain.ConnDegraded)
			}
		}
	}
}

// makeHandler 构造该会话的上行消息处理器，按主题路由
func (m *Manager) makeHandler(s *deviceSession) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		boardID, event, isReply, err := protocol.ParseTopic(topic)
		if err != nil {
			return err
		}
		if boardID != s.boardID {
			return fmt.Errorf("message for board %s on session %s", boardID, s.boardID)
		}
		if isReply {
			return m.router.HandleReply(topic, payload)
		}
		if event == protocol.EventHeartbeat {
			return m.handleHeartbeat(s, payload)
		}
		m.logger.Debug("Ignoring message on unhandled topic", zap.String("topic", topic))
		return nil
	}
}

// handleHeartbeat 心跳副作用：刷新遥测与最后心跳时间（不涉及命令关联）
func (m *Manager) handleHeartbeat(s *deviceSession, payload []byte) error {
	hb, err := protocol.ParseHeartbeat(payload)
	if err != nil {
		return err
	}

	now := time.Now()
	s.markBeat(now)
	m.registry.recordHeartbeat(s.boardID, hb, now)
	m.mirrorState(context.Background(), s.boardID)

	if m.onHeartbeat != nil {
		m.onHeartbeat(hb)
	}
	return nil
}

// setState 写注册表并镜像到 Redis
func (m *Manager) setState(ctx context.Context, boardID string, state domain.ConnState) {
	if !m.registry.setConnState(boardID, state) {
		return
	}
	m.logger.Info("Device connection state changed",
		zap.String("board_id", boardID),
		zap.String("state", string(state)),
	)
	m.mirrorState(ctx, boardID)
}

func (m *Manager) mirrorState(ctx context.Context, boardID string) {
	if m.stateCache == nil {
		return
	}
	if dev, ok := m.registry.Get(boardID); ok {
		m.stateCache.Publish(ctx, &dev)
	}
}

// sleepBackoff 指数退避等待，带随机抖动避免 broker 故障恢复后的重连风暴。
// 返回 false 表示上下文已取消
func (m *Manager) sleepBackoff(ctx context.Context, attempt int) bool {
	d := m.reconnectBase
	for i := 1; i < attempt && d < m.reconnectMax; i++ {
		d *= 2
	}
	if d > m.reconnectMax {
		d = m.reconnectMax
	}
	// 抖动：[0.5d, 1.0d)
	d = d/2 + time.Duration(rand.Int63n(int64(d/2)+1))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
