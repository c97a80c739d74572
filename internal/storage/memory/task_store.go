package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
)

// ErrTaskTerminal is returned when a transition targets a finished task.
var ErrTaskTerminal = errors.New("task already finished")

// TaskStore is the process-lifetime registry of crawl tasks. One mutex guards
// task state and the cancel functions of running jobs.
type TaskStore struct {
	mu      sync.RWMutex
	tasks   map[string]crawler.TaskInfo
	cancels map[string]context.CancelFunc
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks:   make(map[string]crawler.TaskInfo),
		cancels: make(map[string]context.CancelFunc),
	}
}

// CreateTask registers a new pending task.
func (s *TaskStore) CreateTask(_ context.Context, task crawler.TaskInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return errors.New("task already exists")
	}
	if task.Status == "" {
		task.Status = crawler.JobStatusPending
	}
	s.tasks[task.ID] = task
	return nil
}

// MarkRunning moves a pending task to running. The registered cancel func is
// invoked right away when cancellation was requested while pending.
func (s *TaskStore) MarkRunning(_ context.Context, taskID string, cancel context.CancelFunc, at time.Time) (crawler.TaskInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.TaskInfo{}, fmt.Errorf("task %s: %w", taskID, crawler.ErrNotFound)
	}
	if task.Status.Terminal() {
		return task, ErrTaskTerminal
	}
	task.Status = crawler.JobStatusRunning
	task.StartedAt = pointerTime(at)
	s.tasks[taskID] = task
	if cancel != nil {
		s.cancels[taskID] = cancel
		if task.CancelRequested {
			cancel()
		}
	}
	return task, nil
}

// Finish sets a terminal status exactly once. It reports false when the task
// was already terminal.
func (s *TaskStore) Finish(
	_ context.Context,
	taskID string,
	status crawler.JobStatus,
	message string,
	at time.Time,
) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("%w: %q is not a terminal status", crawler.ErrValidation, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return false, fmt.Errorf("task %s: %w", taskID, crawler.ErrNotFound)
	}
	delete(s.cancels, taskID)
	if task.Status.Terminal() {
		return false, nil
	}
	task.Status = status
	task.Message = message
	task.FinishedAt = pointerTime(at)
	s.tasks[taskID] = task
	return true, nil
}

// RequestCancel flags the task and cancels its running context, if any.
// Finished tasks are returned unchanged.
func (s *TaskStore) RequestCancel(_ context.Context, taskID string) (crawler.TaskInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.TaskInfo{}, fmt.Errorf("task %s: %w", taskID, crawler.ErrNotFound)
	}
	if task.Status.Terminal() {
		return task, nil
	}
	task.CancelRequested = true
	s.tasks[taskID] = task
	if cancel, ok := s.cancels[taskID]; ok {
		cancel()
	}
	return task, nil
}

// CancelRequested reports the task's cancellation flag.
func (s *TaskStore) CancelRequested(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[taskID].CancelRequested
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(_ context.Context, taskID string) (crawler.TaskInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.TaskInfo{}, fmt.Errorf("task %s: %w", taskID, crawler.ErrNotFound)
	}
	return task, nil
}

// ListTasks returns tasks newest first, optionally only non-terminal ones.
func (s *TaskStore) ListTasks(_ context.Context, openOnly bool) []crawler.TaskInfo {
	s.mu.RLock()
	out := make([]crawler.TaskInfo, 0, len(s.tasks))
	for _, task := range s.tasks {
		if openOnly && task.Status.Terminal() {
			continue
		}
		out = append(out, task)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
