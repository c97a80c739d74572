package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
)

func TestTaskStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	task := crawler.TaskInfo{ID: "job-1", RunID: "run-1", SubmittedAt: now}

	require.NoError(t, store.CreateTask(ctx, task))
	require.Error(t, store.CreateTask(ctx, task), "expected duplicate task error")

	got, err := store.GetTask(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPending, got.Status)

	running, err := store.MarkRunning(ctx, "job-1", nil, now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusRunning, running.Status)
	require.NotNil(t, running.StartedAt)

	changed, err := store.Finish(ctx, "job-1", crawler.JobStatusSucceeded, "", now.Add(2*time.Second))
	require.NoError(t, err)
	require.True(t, changed)

	// Terminal states are set exactly once.
	changed, err = store.Finish(ctx, "job-1", crawler.JobStatusFailed, "late", now.Add(3*time.Second))
	require.NoError(t, err)
	require.False(t, changed)
	final, err := store.GetTask(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, final.Status)
	require.Empty(t, final.Message)
	require.Equal(t, now.Add(2*time.Second), *final.FinishedAt)

	_, err = store.MarkRunning(ctx, "job-1", nil, now)
	require.ErrorIs(t, err, ErrTaskTerminal)
}

func TestTaskStoreFinishRejectsNonTerminal(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	require.NoError(t, store.CreateTask(context.Background(), crawler.TaskInfo{ID: "job-1"}))
	_, err := store.Finish(context.Background(), "job-1", crawler.JobStatusRunning, "", time.Now())
	require.ErrorIs(t, err, crawler.ErrValidation)
}

func TestTaskStoreCancelRunningInvokesCancelFunc(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()
	require.NoError(t, store.CreateTask(ctx, crawler.TaskInfo{ID: "job-1"}))

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	_, err := store.MarkRunning(ctx, "job-1", cancel, time.Now())
	require.NoError(t, err)

	task, err := store.RequestCancel(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, task.CancelRequested)
	require.True(t, store.CancelRequested("job-1"))
	require.ErrorIs(t, jobCtx.Err(), context.Canceled)
}

func TestTaskStoreCancelWhilePending(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()
	require.NoError(t, store.CreateTask(ctx, crawler.TaskInfo{ID: "job-1"}))
	_, err := store.RequestCancel(ctx, "job-1")
	require.NoError(t, err)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	_, err = store.MarkRunning(ctx, "job-1", cancel, time.Now())
	require.NoError(t, err)
	require.ErrorIs(t, jobCtx.Err(), context.Canceled, "pending cancellation must reach the job context")
}

func TestTaskStoreCancelUnknownAndFinished(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()
	_, err := store.RequestCancel(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	require.NoError(t, store.CreateTask(ctx, crawler.TaskInfo{ID: "job-1"}))
	_, err = store.Finish(ctx, "job-1", crawler.JobStatusFailed, "boom", time.Now())
	require.NoError(t, err)
	task, err := store.RequestCancel(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, task.CancelRequested)
	require.Equal(t, crawler.JobStatusFailed, task.Status)
}

func TestTaskStoreListTasks(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateTask(ctx, crawler.TaskInfo{ID: id, SubmittedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	_, err := store.Finish(ctx, "b", crawler.JobStatusCancelled, "", base)
	require.NoError(t, err)

	all := store.ListTasks(ctx, false)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[0].ID)

	open := store.ListTasks(ctx, true)
	require.Len(t, open, 2)
	require.Equal(t, []string{"c", "a"}, []string{open[0].ID, open[1].ID})
}
