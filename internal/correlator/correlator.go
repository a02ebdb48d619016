package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aibox-gateway/internal/protocol"

	"go.uber.org/zap"
)

var (
	// ErrBusy 同一 (BoardId, Event) 键已有在途命令。
	// 协议未规定排队还是拒绝，这里选择快速拒绝，避免无界排队
	ErrBusy = errors.New("command already pending for this key")
	// ErrTimeout 超时未收到回复（传输层超时，区别于设备拒绝）
	ErrTimeout = errors.New("command reply timeout")
	// ErrCancelled 设备注销导致在途命令被取消
	ErrCancelled = errors.New("command cancelled")
)

// Publisher 下行命令发布接口（由会话管理器实现）
type Publisher interface {
	PublishCommand(boardID, event string, payload []byte) error
}

type key struct {
	boardID string
	event   string
}

type outcome struct {
	reply *protocol.Reply
	err   error
}

// pendingCommand 在途命令，结果槽只解析一次
type pendingCommand struct {
	key    key
	sentAt time.Time
	done   chan outcome // 容量1，resolve 不阻塞
}

// Correlator 命令关联层：按 (BoardId, Event) 把异步回复匹配到在途命令。
// 同一键同时最多一条在途命令；每条命令恰好解析一次（回复、超时或取消）
type Correlator struct {
	mu      sync.Mutex
	pending map[key]*pendingCommand

	pub    Publisher
	logger *zap.Logger
}

// New 创建关联层
func New(pub Publisher, logger *zap.Logger) *Correlator {
	return &Correlator{
		pending: make(map[key]*pendingCommand),
		pub:     pub,
		logger:  logger,
	}
}

// Send 下发命令并等待回复。
// 返回值约定：
//   - 传输失败/超时/取消 → (nil, err)
//   - 回复 Result.Code != 0 → (reply, *protocol.ResultError)
//   - 成功 → (reply, nil)
//
// 发布成功只是必要条件，回复 Result.Code == 0 才是唯一成功信号。
// 协议约定命令收敛（重发幂等），调用方可在超时后自行重试
func (c *Correlator) Send(ctx context.Context, boardID, event string, fields map[string]any, timeout time.Duration) (*protocol.Reply, error) {
	payload, err := protocol.MarshalCommand(boardID, event, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	k := key{boardID: boardID, event: event}
	p := &pendingCommand{
		key:    k,
		sentAt: time.Now(),
		done:   make(chan outcome, 1),
	}

	// 先注册再发送，避免回复先于注册到达
	c.mu.Lock()
	if _, exists := c.pending[k]; exists {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.pending[k] = p
	c.mu.Unlock()

	if err := c.pub.PublishCommand(boardID, event, payload); err != nil {
		c.resolve(k, outcome{err: fmt.Errorf("failed to publish command: %w", err)})
		res := <-p.done
		return nil, res.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.done:
		if res.err != nil {
			return nil, res.err
		}
		return res.reply, res.reply.Err()
	case <-timer.C:
		c.resolve(k, outcome{err: ErrTimeout})
		res := <-p.done
		if res.err != nil {
			return nil, res.err
		}
		// 超时与回复竞争，回复先到则照常返回
		return res.reply, res.reply.Err()
	case <-ctx.Done():
		c.resolve(k, outcome{err: ErrCancelled})
		res := <-p.done
		if res.err != nil {
			return nil, res.err
		}
		return res.reply, res.reply.Err()
	}
}

// HandleReply 处理 _reply 主题上的回复消息。
// 未匹配到在途命令（或已解析过）的回复记录日志后丢弃，绝不让监听协程崩溃
func (c *Correlator) HandleReply(topic string, payload []byte) error {
	boardID, event, isReply, err := protocol.ParseTopic(topic)
	if err != nil || !isReply {
		c.logger.Warn("Dropping message on unexpected topic",
			zap.String("topic", topic),
		)
		return nil
	}

	k := key{boardID: boardID, event: event}

	reply, parseErr := protocol.ParseReply(payload)
	if parseErr != nil {
		// 负载畸形：按应用层失败解析对应在途命令
		if !c.resolve(k, outcome{err: fmt.Errorf("malformed reply: %w", parseErr)}) {
			c.logger.Warn("Dropping malformed reply with no pending command",
				zap.String("topic", topic),
				zap.Error(parseErr),
			)
		}
		return nil
	}

	if reply.BoardID != "" && reply.BoardID != boardID {
		c.logger.Warn("Dropping reply with mismatched BoardId",
			zap.String("topic", topic),
			zap.String("board_id", reply.BoardID),
		)
		return nil
	}

	if !c.resolve(k, outcome{reply: reply}) {
		c.logger.Debug("Dropping unmatched reply",
			zap.String("board_id", boardID),
			zap.String("event", event),
		)
	}
	return nil
}

// CancelBoard 取消某设备的全部在途命令（设备注销时调用）
func (c *Correlator) CancelBoard(boardID string) {
	c.mu.Lock()
	var keys []key
	for k := range c.pending {
		if k.boardID == boardID {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.resolve(k, outcome{err: ErrCancelled})
	}
}

// PendingCount 在途命令数（测试与运维观测用）
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// resolve 解析在途命令并从表中移除。返回是否命中。
// 移除与投递在同一临界区保证恰好一次
func (c *Correlator) resolve(k key, res outcome) bool {
	c.mu.Lock()
	p, ok := c.pending[k]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.pending, k)
	c.mu.Unlock()

	p.done <- res
	return true
}
