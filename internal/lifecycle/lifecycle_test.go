package lifecycle

import (
	"context"
	"sync"
	"time"

	"aibox-gateway/internal/domain"
	"aibox-gateway/internal/protocol"
)

// sentCommand 记录一次下发
type sentCommand struct {
	BoardID string
	Event   string
	Fields  map[string]any
}

// fakeSender 记录下发命令，可按事件注入失败
type fakeSender struct {
	mu   sync.Mutex
	sent []sentCommand
	errs map[string]error // event → error
}

func newFakeSender() *fakeSender {
	return &fakeSender{errs: make(map[string]error)}
}

func (f *fakeSender) Send(_ context.Context, boardID, event string, fields map[string]any, _ time.Duration) (*protocol.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[event]; err != nil {
		return nil, err
	}
	f.sent = append(f.sent, sentCommand{BoardID: boardID, Event: event, Fields: fields})
	return &protocol.Reply{BoardID: boardID, Event: event, Result: &protocol.Result{Code: 0}}, nil
}

func (f *fakeSender) failOn(event string, err error) {
	f.mu.Lock()
	f.errs[event] = err
	f.mu.Unlock()
}

func (f *fakeSender) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, c := range f.sent {
		out[i] = c.Event
	}
	return out
}

type mediaKey struct{ board, name string }

// fakeMediaStore 内存媒体通道存储
type fakeMediaStore struct {
	mu       sync.Mutex
	channels map[mediaKey]*domain.MediaChannel
}

func newFakeMediaStore() *fakeMediaStore {
	return &fakeMediaStore{channels: make(map[mediaKey]*domain.MediaChannel)}
}

func (s *fakeMediaStore) GetMediaChannel(_ context.Context, boardID, mediaName string) (*domain.MediaChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[mediaKey{boardID, mediaName}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (s *fakeMediaStore) UpsertMediaChannel(_ context.Context, ch *domain.MediaChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ch
	s.channels[mediaKey{ch.BoardID, ch.MediaName}] = &cp
	return nil
}

func (s *fakeMediaStore) MarkMediaDeleted(_ context.Context, boardID, mediaName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[mediaKey{boardID, mediaName}]; ok {
		ch.Deleted = true
	}
	return nil
}

func (s *fakeMediaStore) UpdateMediaStatus(_ context.Context, boardID, mediaName string, status domain.MediaStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[mediaKey{boardID, mediaName}]
	if !ok {
		return domain.ErrNotFound
	}
	ch.Status = status
	return nil
}

type taskKey struct{ board, session string }

// fakeTaskStore 内存任务存储
type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[taskKey]*domain.AlgorithmTask
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[taskKey]*domain.AlgorithmTask)}
}

func (s *fakeTaskStore) GetTask(_ context.Context, boardID, session string) (*domain.AlgorithmTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskKey{boardID, session}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTaskStore) SaveTask(_ context.Context, task *domain.AlgorithmTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[taskKey{task.BoardID, task.AlgTaskSession}] = &cp
	return nil
}

func (s *fakeTaskStore) UpdateTaskStatus(_ context.Context, boardID, session string, status domain.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskKey{boardID, session}]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	return nil
}

func (s *fakeTaskStore) CountActiveTasksByMedia(_ context.Context, boardID, mediaName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.BoardID == boardID && t.MediaName == mediaName && t.Status != domain.TaskDeleted {
			n++
		}
	}
	return n, nil
}

func (s *fakeTaskStore) ListScheduledTasks(_ context.Context) ([]*domain.AlgorithmTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AlgorithmTask
	for _, t := range s.tasks {
		if t.ScheduleID != nil && (t.Status == domain.TaskRunning || t.Status == domain.TaskPaused) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeTaskStore) status(boardID, session string) domain.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskKey{boardID, session}]; ok {
		return t.Status
	}
	return ""
}

// fakeScheduleStore 内存时间表存储
type fakeScheduleStore struct {
	mu        sync.Mutex
	schedules map[int64]*domain.Schedule
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{schedules: make(map[int64]*domain.Schedule)}
}

func (s *fakeScheduleStore) GetSchedule(_ context.Context, id int64) (*domain.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return sched, nil
}

// okValidator 恒通过的校验器
type okValidator struct{ err error }

func (v *okValidator) ValidateTask(_ *domain.AlgorithmTask) error { return v.err }
