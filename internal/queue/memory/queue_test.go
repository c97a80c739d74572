package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "job-1"}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "job-1", got.JobID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueFullFailsFast(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "a"}))
	require.Equal(t, 1, q.Len())
	err := q.Enqueue(context.Background(), crawler.QueueItem{JobID: "b"})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	err = NewQueue(1).Enqueue(ctx, crawler.QueueItem{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrQueueClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), crawler.QueueItem{}), ErrQueueClosed)
	// Closing twice should be safe.
	q.Close()
}

func TestQueueDrainReturnsLeftoversAndCloses(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "a"}))
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "b"}))

	left := q.Drain()
	require.Len(t, left, 2)
	require.Equal(t, "a", left[0].JobID)
	require.Equal(t, "b", left[1].JobID)
	require.ErrorIs(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "c"}), ErrQueueClosed)
	require.Empty(t, q.Drain())
}
