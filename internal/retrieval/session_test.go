package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tzxm-crawler/internal/clock/system"
	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
)

func TestRegistryEvictsIdleSessions(t *testing.T) {
	t.Parallel()

	clock := system.NewManual(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	reg := NewRegistry(0, clock)
	reg.Add(&Session{ID: "a"})
	reg.Add(&Session{ID: "b"})

	clock.Advance(10 * time.Minute)
	_, err := reg.Get("a")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	_, err = reg.Get("b")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = reg.Get("a")
	require.NoError(t, err, "a was touched six minutes ago")

	clock.Advance(DefaultSessionTTL + time.Second)
	require.Equal(t, 1, reg.Sweep())
	require.Zero(t, reg.Len())
}

func TestRegistryAddSweepsExpired(t *testing.T) {
	t.Parallel()

	clock := system.NewManual(time.Unix(0, 0))
	reg := NewRegistry(time.Minute, clock)
	reg.Add(&Session{ID: "old"})
	clock.Advance(2 * time.Minute)
	reg.Add(&Session{ID: "new"})
	require.Equal(t, 1, reg.Len())

	reg.Delete("new")
	require.Zero(t, reg.Len())
}

func TestRegistryRunStopsWithContext(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(time.Nanosecond, system.New())
	reg.Add(&Session{ID: "x"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx, time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestAcceptedVerdict(t *testing.T) {
	t.Parallel()

	require.True(t, accepted([]byte(`{"random_flag":"1"}`)))
	require.True(t, accepted([]byte("\xef\xbb\xbf"+`[{"random_flag": 1}]`)))
	require.True(t, accepted([]byte(`callback({"random_flag":"1"})`)))
	require.False(t, accepted([]byte(`{"random_flag":"0"}`)))
	require.False(t, accepted([]byte(`<html>error</html>`)))
}

func TestFileName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "s-9.pdf", fileName("", "s-9"))
	require.Equal(t, "report-final.pdf", fileName("upload/2024/Report Final.PDF", "s-9"))
	require.Equal(t, "s-9.doc", fileName("/files/!!!.doc", "s-9"))
}
