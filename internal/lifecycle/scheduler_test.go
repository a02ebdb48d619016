package lifecycle

import (
	"context"
	"testing"
	"time"

	"aibox-gateway/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type schedFixture struct {
	sched     *Scheduler
	tasks     *fakeTaskStore
	schedules *fakeScheduleStore
	sender    *fakeSender
}

func newSchedFixture(t *testing.T) *schedFixture {
	t.Helper()
	media := newFakeMediaStore()
	tasks := newFakeTaskStore()
	schedules := newFakeScheduleStore()
	sender := newFakeSender()
	mediaMgr := NewMediaManager(media, tasks, sender, time.Second, zap.NewNop())
	taskMgr := NewTaskManager(tasks, mediaMgr, &okValidator{}, sender, time.Second, zap.NewNop())
	sched := NewScheduler(tasks, schedules, taskMgr, zap.NewNop())
	return &schedFixture{sched: sched, tasks: tasks, schedules: schedules, sender: sender}
}

// mondayAt 返回某个周一的指定时刻
func mondayAt(hour, minute int) time.Time {
	// 2026-08-31 是周一
	return time.Date(2026, 8, 31, hour, minute, 0, 0, time.UTC)
}

func scheduledTask(session string, scheduleID int64, status domain.TaskStatus) *domain.AlgorithmTask {
	return &domain.AlgorithmTask{
		BoardID:        "board-1",
		AlgTaskSession: session,
		MediaName:      "cam-01",
		AlgID:          1,
		ScheduleID:     &scheduleID,
		Status:         status,
	}
}

func TestScheduler_PausesOutsideActiveSlots(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	// 仅周一 09:00-09:30 布防
	sched := &domain.Schedule{ID: 1, Name: "workday", Bitmap: make([]byte, domain.ScheduleBitmapBytes)}
	require.NoError(t, sched.SetSlot(0, 18, true)) // 09:00 = 槽位18
	f.schedules.schedules[1] = sched

	require.NoError(t, f.tasks.SaveTask(ctx, scheduledTask("task_1", 1, domain.TaskRunning)))

	// 10:00 不在布防时段：应暂停
	f.sched.now = func() time.Time { return mondayAt(10, 0) }
	f.sched.evaluate(ctx)
	assert.Equal(t, domain.TaskPaused, f.tasks.status("board-1", "task_1"))

	// 09:10 进入布防时段：应恢复
	f.sched.now = func() time.Time { return mondayAt(9, 10) }
	f.sched.evaluate(ctx)
	assert.Equal(t, domain.TaskRunning, f.tasks.status("board-1", "task_1"))

	// 已在目标状态时再评估不产生命令
	before := len(f.sender.events())
	f.sched.evaluate(ctx)
	assert.Equal(t, before, len(f.sender.events()))
}

func TestScheduler_AlwaysOnKeepsRunning(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()

	always := domain.NewAlwaysOnSchedule("always")
	always.ID = 2
	f.schedules.schedules[2] = always
	require.NoError(t, f.tasks.SaveTask(ctx, scheduledTask("task_2", 2, domain.TaskRunning)))

	f.sched.now = func() time.Time { return mondayAt(3, 0) }
	f.sched.evaluate(ctx)
	assert.Equal(t, domain.TaskRunning, f.tasks.status("board-1", "task_2"))
	assert.Empty(t, f.sender.events())
}

func TestScheduler_MissingScheduleKeepsTaskRunning(t *testing.T) {
	f := newSchedFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tasks.SaveTask(ctx, scheduledTask("task_3", 99, domain.TaskRunning)))

	f.sched.evaluate(ctx)
	assert.Equal(t, domain.TaskRunning, f.tasks.status("board-1", "task_3"))
}

func TestScheduler_KickTriggersReevaluation(t *testing.T) {
	f := newSchedFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := &domain.Schedule{ID: 1, Name: "off", Bitmap: make([]byte, domain.ScheduleBitmapBytes)}
	f.schedules.schedules[1] = sched
	require.NoError(t, f.tasks.SaveTask(ctx, scheduledTask("task_1", 1, domain.TaskRunning)))
	f.sched.now = func() time.Time { return mondayAt(10, 0) }

	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(done)
	}()

	// 启动时的全量评估即应暂停任务
	assert.Eventually(t, func() bool {
		return f.tasks.status("board-1", "task_1") == domain.TaskPaused
	}, time.Second, 10*time.Millisecond)

	// 时间表改为全时段布防后 Kick
	f.schedules.mu.Lock()
	f.schedules.schedules[1] = func() *domain.Schedule {
		s := domain.NewAlwaysOnSchedule("on")
		s.ID = 1
		return s
	}()
	f.schedules.mu.Unlock()
	f.sched.Kick()

	assert.Eventually(t, func() bool {
		return f.tasks.status("board-1", "task_1") == domain.TaskRunning
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestScheduler_UntilNextSlot(t *testing.T) {
	f := newSchedFixture(t)
	f.sched.now = func() time.Time { return mondayAt(9, 10) }
	assert.Equal(t, 20*time.Minute, f.sched.untilNextSlot())
}
