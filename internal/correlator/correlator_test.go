package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aibox-gateway/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePublisher 记录下行命令，可选地模拟盒子回复
type fakePublisher struct {
	mu        sync.Mutex
	published []publishedCmd
	failWith  error
	onPublish func(boardID, event string, payload []byte)
}

type publishedCmd struct {
	boardID string
	event   string
	payload []byte
}

func (f *fakePublisher) setOnPublish(cb func(boardID, event string, payload []byte)) {
	f.mu.Lock()
	f.onPublish = cb
	f.mu.Unlock()
}

func (f *fakePublisher) PublishCommand(boardID, event string, payload []byte) error {
	f.mu.Lock()
	f.published = append(f.published, publishedCmd{boardID, event, payload})
	cb := f.onPublish
	f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if cb != nil {
		cb(boardID, event, payload)
	}
	return nil
}

func replyPayload(t *testing.T, boardID, event string, code int, desc string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"BoardId": boardID,
		"Event":   event,
		"Result":  map[string]any{"Code": code, "Desc": desc},
	})
	require.NoError(t, err)
	return b
}

func TestSend_SuccessReply(t *testing.T) {
	pub := &fakePublisher{}
	c := New(pub, zap.NewNop())

	// 发布后异步回复
	pub.setOnPublish(func(boardID, event string, _ []byte) {
		go c.HandleReply(protocol.ReplyTopic(boardID, event), replyPayload(t, boardID, event, 0, "ok"))
	})

	reply, err := c.Send(context.Background(), "board-1", protocol.EventMediaConfig,
		map[string]any{"MediaName": "cam-01"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "board-1", reply.BoardID)
	assert.Equal(t, 0, c.PendingCount())

	// 下行负载注入了 BoardId/Event
	var sent map[string]any
	require.NoError(t, json.Unmarshal(pub.published[0].payload, &sent))
	assert.Equal(t, "board-1", sent["BoardId"])
	assert.Equal(t, protocol.EventMediaConfig, sent["Event"])
}

func TestSend_ApplicationError(t *testing.T) {
	pub := &fakePublisher{}
	c := New(pub, zap.NewNop())
	pub.setOnPublish(func(boardID, event string, _ []byte) {
		go c.HandleReply(protocol.ReplyTopic(boardID, event), replyPayload(t, boardID, event, 1001, "rejected"))
	})

	reply, err := c.Send(context.Background(), "board-1", protocol.EventTaskConfig, nil, time.Second)
	require.Error(t, err)
	require.NotNil(t, reply) // 传输成功，应用层失败

	var resultErr *protocol.ResultError
	require.ErrorAs(t, err, &resultErr)
	assert.Equal(t, 1001, resultErr.Code)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestSend_Timeout(t *testing.T) {
	pub := &fakePublisher{} // 永不回复
	c := New(pub, zap.NewNop())

	start := time.Now()
	_, err := c.Send(context.Background(), "board-1", protocol.EventTaskConfig, nil, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, c.PendingCount())

	// 迟到的回复不匹配任何在途命令，安静丢弃
	require.NoError(t, c.HandleReply(protocol.ReplyTopic("board-1", protocol.EventTaskConfig),
		replyPayload(t, "board-1", protocol.EventTaskConfig, 0, "late")))
}

func TestSend_BusyKey(t *testing.T) {
	pub := &fakePublisher{}
	c := New(pub, zap.NewNop())

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "board-1", protocol.EventTaskConfig, nil, 2*time.Second)
		firstDone <- err
	}()

	// 等第一条命令进入在途状态
	require.Eventually(t, func() bool { return c.PendingCount() == 1 }, time.Second, 5*time.Millisecond)

	// 同键第二条快速拒绝
	_, err := c.Send(context.Background(), "board-1", protocol.EventTaskConfig, nil, time.Second)
	require.ErrorIs(t, err, ErrBusy)

	// 不同键不受影响：仍可正常下发
	done2 := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "board-1", protocol.EventMediaConfig, nil, 2*time.Second)
		done2 <- err
	}()
	require.Eventually(t, func() bool { return c.PendingCount() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.HandleReply(protocol.ReplyTopic("board-1", protocol.EventMediaConfig),
		replyPayload(t, "board-1", protocol.EventMediaConfig, 0, "")))
	require.NoError(t, <-done2)

	// 解除第一条
	require.NoError(t, c.HandleReply(protocol.ReplyTopic("board-1", protocol.EventTaskConfig),
		replyPayload(t, "board-1", protocol.EventTaskConfig, 0, "")))
	require.NoError(t, <-firstDone)
}

func TestSend_PublishFailure(t *testing.T) {
	pub := &fakePublisher{failWith: errors.New("broker unreachable")}
	c := New(pub, zap.NewNop())

	_, err := c.Send(context.Background(), "board-1", protocol.EventTaskConfig, nil, time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, c.PendingCount())
}

func TestSend_MalformedReply(t *testing.T) {
	pub := &fakePublisher{}
	c := New(pub, zap.NewNop())
	pub.setOnPublish(func(boardID, event string, _ []byte) {
		go c.HandleReply(protocol.ReplyTopic(boardID, event), []byte(`{broken`))
	})

	_, err := c.Send(context.Background(), "board-1", protocol.EventTaskConfig, nil, time.Second)
	require.Error(t, err)
	// 畸形回复按应用层失败解析，不是超时
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestCancelBoard(t *testing.T) {
	pub := &fakePublisher{}
	c := New(pub, zap.NewNop())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, event := range []string{protocol.EventTaskConfig, protocol.EventMediaConfig} {
		wg.Add(1)
		go func(i int, event string) {
			defer wg.Done()
			_, errs[i] = c.Send(context.Background(), "board-1", event, nil, 5*time.Second)
		}(i, event)
	}
	require.Eventually(t, func() bool { return c.PendingCount() == 2 }, time.Second, 5*time.Millisecond)

	// 其它设备的命令不受影响
	otherDone := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "board-2", protocol.EventTaskConfig, nil, 5*time.Second)
		otherDone <- err
	}()
	require.Eventually(t, func() bool { return c.PendingCount() == 3 }, time.Second, 5*time.Millisecond)

	c.CancelBoard("board-1")
	wg.Wait()
	require.ErrorIs(t, errs[0], ErrCancelled)
	require.ErrorIs(t, errs[1], ErrCancelled)

	require.NoError(t, c.HandleReply(protocol.ReplyTopic("board-2", protocol.EventTaskConfig),
		replyPayload(t, "board-2", protocol.EventTaskConfig, 0, "")))
	require.NoError(t, <-otherDone)
}

func TestSend_ExactlyOneResolution(t *testing.T) {
	// 回复与超时竞争时每条命令仍恰好解析一次
	pub := &fakePublisher{}
	c := New(pub, zap.NewNop())

	var resolutions int64
	const rounds = 50
	for i := 0; i < rounds; i++ {
		event := fmt.Sprintf("event_%d", i)
		pub.setOnPublish(func(boardID, ev string, _ []byte) {
			go c.HandleReply(protocol.ReplyTopic(boardID, ev), replyPayload(t, boardID, ev, 0, ""))
		})
		_, err := c.Send(context.Background(), "board-1", event, nil, time.Millisecond)
		if err == nil || errors.Is(err, ErrTimeout) {
			atomic.AddInt64(&resolutions, 1)
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, int64(rounds), resolutions)
	assert.Equal(t, 0, c.PendingCount())
}
