package lifecycle

import (
	"context"
	"testing"
	"time"

	"aibox-gateway/internal/domain"
	"aibox-gateway/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type taskFixture struct {
	mgr    *TaskManager
	media  *fakeMediaStore
	tasks  *fakeTaskStore
	sender *fakeSender
	val    *okValidator
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()
	media := newFakeMediaStore()
	tasks := newFakeTaskStore()
	sender := newFakeSender()
	val := &okValidator{}
	mediaMgr := NewMediaManager(media, tasks, sender, time.Second, zap.NewNop())
	mgr := NewTaskManager(tasks, mediaMgr, val, sender, time.Second, zap.NewNop())

	require.NoError(t, media.UpsertMediaChannel(context.Background(), &domain.MediaChannel{
		BoardID: "board-1", MediaName: "cam-01", MediaURL: "rtsp://10.0.0.8/s1", Status: domain.MediaNormal,
	}))
	return &taskFixture{mgr: mgr, media: media, tasks: tasks, sender: sender, val: val}
}

func newTask() *domain.AlgorithmTask {
	return &domain.AlgorithmTask{
		BoardID:        "board-1",
		AlgTaskSession: "task_1",
		MediaName:      "cam-01",
		AlgID:          1,
	}
}

func TestTaskCreate_AutoStarts(t *testing.T) {
	f := newTaskFixture(t)

	require.NoError(t, f.mgr.Create(context.Background(), newTask()))

	assert.Equal(t, []string{protocol.EventTaskConfig}, f.sender.events())
	assert.Equal(t, domain.TaskRunning, f.tasks.status("board-1", "task_1"))
}

func TestTaskCreate_ValidationGateBlocksSend(t *testing.T) {
	f := newTaskFixture(t)
	f.val.err = assert.AnError

	require.Error(t, f.mgr.Create(context.Background(), newTask()))
	assert.Empty(t, f.sender.events())
}

func TestTaskCreate_RejectsErrorMedia(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	require.NoError(t, f.media.UpdateMediaStatus(ctx, "board-1", "cam-01", domain.MediaError))

	err := f.mgr.Create(ctx, newTask())
	assert.ErrorIs(t, err, ErrMediaUnavailable)
	assert.Empty(t, f.sender.events())
}

func TestTaskCreate_DuplicateSession(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Create(ctx, newTask()))

	err := f.mgr.Create(ctx, newTask())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTaskUpdate_RestartFlap(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Create(ctx, newTask()))

	updated := newTask()
	updated.Params = map[string]any{"threshold": 0.8}
	require.NoError(t, f.mgr.Update(ctx, updated))

	// 更新后回到 Running，且再次下发了配置
	assert.Equal(t, domain.TaskRunning, f.tasks.status("board-1", "task_1"))
	assert.Equal(t, []string{protocol.EventTaskConfig, protocol.EventTaskConfig}, f.sender.events())
}

func TestTaskUpdate_StoppedStaysStopped(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Create(ctx, newTask()))
	require.NoError(t, f.mgr.Stop(ctx, "board-1", "task_1"))

	require.NoError(t, f.mgr.Update(ctx, newTask()))
	assert.Equal(t, domain.TaskStopped, f.tasks.status("board-1", "task_1"))
}

func TestTaskStop_Idempotent(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Create(ctx, newTask()))

	require.NoError(t, f.mgr.Stop(ctx, "board-1", "task_1"))
	before := len(f.sender.events())
	// 重复停止不再下发
	require.NoError(t, f.mgr.Stop(ctx, "board-1", "task_1"))
	assert.Equal(t, before, len(f.sender.events()))
	assert.Equal(t, domain.TaskStopped, f.tasks.status("board-1", "task_1"))
}

func TestTaskDelete_StopsRunningFirst(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Create(ctx, newTask()))

	require.NoError(t, f.mgr.Delete(ctx, "board-1", "task_1"))

	assert.Equal(t, []string{
		protocol.EventTaskConfig,
		protocol.EventTaskControl, // 先停止
		protocol.EventTaskDelete,
	}, f.sender.events())
	assert.Equal(t, domain.TaskDeleted, f.tasks.status("board-1", "task_1"))

	// 重复删除为空操作
	require.NoError(t, f.mgr.Delete(ctx, "board-1", "task_1"))
}

func TestTaskPauseResume_ScheduleDriven(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Create(ctx, newTask()))

	require.NoError(t, f.mgr.Pause(ctx, "board-1", "task_1"))
	assert.Equal(t, domain.TaskPaused, f.tasks.status("board-1", "task_1"))
	// 重复暂停幂等
	require.NoError(t, f.mgr.Pause(ctx, "board-1", "task_1"))

	require.NoError(t, f.mgr.Resume(ctx, "board-1", "task_1"))
	assert.Equal(t, domain.TaskRunning, f.tasks.status("board-1", "task_1"))
	require.NoError(t, f.mgr.Resume(ctx, "board-1", "task_1"))
}

func TestTaskOperationsOnDeleted(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Create(ctx, newTask()))
	require.NoError(t, f.mgr.Delete(ctx, "board-1", "task_1"))

	assert.ErrorIs(t, f.mgr.Stop(ctx, "board-1", "task_1"), ErrInvalidTransition)
	assert.ErrorIs(t, f.mgr.Start(ctx, "board-1", "task_1"), ErrInvalidTransition)
	assert.ErrorIs(t, f.mgr.Update(ctx, newTask()), ErrInvalidTransition)
}
