package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"aibox-gateway/internal/domain"
	"aibox-gateway/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMediaFixture() (*MediaManager, *fakeMediaStore, *fakeTaskStore, *fakeSender) {
	media := newFakeMediaStore()
	tasks := newFakeTaskStore()
	sender := newFakeSender()
	mgr := NewMediaManager(media, tasks, sender, time.Second, zap.NewNop())
	return mgr, media, tasks, sender
}

func testChannel() *domain.MediaChannel {
	return &domain.MediaChannel{
		BoardID:   "board-1",
		MediaName: "cam-01",
		MediaURL:  "rtsp://10.0.0.8/stream1",
	}
}

func TestMediaConfigure_CreateSendsCommandAndPersists(t *testing.T) {
	mgr, store, _, sender := newMediaFixture()

	require.NoError(t, mgr.Configure(context.Background(), testChannel()))

	assert.Equal(t, []string{protocol.EventMediaConfig}, sender.events())
	ch, err := store.GetMediaChannel(context.Background(), "board-1", "cam-01")
	require.NoError(t, err)
	assert.Equal(t, domain.MediaInitializing, ch.Status)
}

func TestMediaConfigure_URLChangeRestartsStream(t *testing.T) {
	mgr, store, _, _ := newMediaFixture()
	ctx := context.Background()

	require.NoError(t, mgr.Configure(ctx, testChannel()))
	require.NoError(t, store.UpdateMediaStatus(ctx, "board-1", "cam-01", domain.MediaNormal))

	// 仅描述变更：状态保持
	ch := testChannel()
	ch.MediaDesc = "front gate"
	require.NoError(t, mgr.Configure(ctx, ch))
	got, _ := store.GetMediaChannel(ctx, "board-1", "cam-01")
	assert.Equal(t, domain.MediaNormal, got.Status)

	// URL 变更：回到 Initializing
	ch = testChannel()
	ch.MediaURL = "rtsp://10.0.0.9/stream2"
	require.NoError(t, mgr.Configure(ctx, ch))
	got, _ = store.GetMediaChannel(ctx, "board-1", "cam-01")
	assert.Equal(t, domain.MediaInitializing, got.Status)
}

func TestMediaConfigure_DeviceRejectionDoesNotPersist(t *testing.T) {
	mgr, store, _, sender := newMediaFixture()
	sender.failOn(protocol.EventMediaConfig, &protocol.ResultError{Code: 5, Desc: "bad url"})

	err := mgr.Configure(context.Background(), testChannel())
	require.Error(t, err)

	_, err = store.GetMediaChannel(context.Background(), "board-1", "cam-01")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMediaDelete_InUse(t *testing.T) {
	mgr, _, tasks, sender := newMediaFixture()
	ctx := context.Background()
	require.NoError(t, mgr.Configure(ctx, testChannel()))
	require.NoError(t, tasks.SaveTask(ctx, &domain.AlgorithmTask{
		BoardID: "board-1", AlgTaskSession: "task_1", MediaName: "cam-01", Status: domain.TaskRunning,
	}))

	err := mgr.Delete(ctx, "board-1", "cam-01")
	assert.ErrorIs(t, err, ErrInUse)
	// 删除命令未下发
	assert.NotContains(t, sender.events(), protocol.EventMediaDelete)

	// 引用任务删除后可以删
	require.NoError(t, tasks.UpdateTaskStatus(ctx, "board-1", "task_1", domain.TaskDeleted))
	require.NoError(t, mgr.Delete(ctx, "board-1", "cam-01"))
	assert.Contains(t, sender.events(), protocol.EventMediaDelete)
}

func TestMediaApplyReportedStatus(t *testing.T) {
	mgr, store, _, _ := newMediaFixture()
	ctx := context.Background()
	require.NoError(t, mgr.Configure(ctx, testChannel()))

	require.NoError(t, mgr.ApplyReportedStatus(ctx, "board-1", "cam-01", domain.MediaNormal))
	ch, _ := store.GetMediaChannel(ctx, "board-1", "cam-01")
	assert.Equal(t, domain.MediaNormal, ch.Status)

	// 未知通道上报不报错
	require.NoError(t, mgr.ApplyReportedStatus(ctx, "board-1", "ghost", domain.MediaError))
}

func TestMediaBindable(t *testing.T) {
	mgr, store, _, _ := newMediaFixture()
	ctx := context.Background()
	require.NoError(t, mgr.Configure(ctx, testChannel()))

	assert.NoError(t, mgr.Bindable(ctx, "board-1", "cam-01"))

	require.NoError(t, store.UpdateMediaStatus(ctx, "board-1", "cam-01", domain.MediaError))
	assert.ErrorIs(t, mgr.Bindable(ctx, "board-1", "cam-01"), ErrMediaUnavailable)

	assert.ErrorIs(t, mgr.Bindable(ctx, "board-1", "missing"), ErrMediaUnavailable)
}

func TestMediaDelete_DeviceFailurePropagates(t *testing.T) {
	mgr, _, _, sender := newMediaFixture()
	ctx := context.Background()
	require.NoError(t, mgr.Configure(ctx, testChannel()))

	wantErr := errors.New("command timeout")
	sender.failOn(protocol.EventMediaDelete, wantErr)
	assert.ErrorIs(t, mgr.Delete(ctx, "board-1", "cam-01"), wantErr)
}
