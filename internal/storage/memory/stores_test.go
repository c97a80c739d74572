package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

func TestCheckpointStore(t *testing.T) {
	t.Parallel()

	s := NewCheckpointStore()
	ctx := context.Background()
	_, err := s.GetCheckpoint(ctx, "330100")
	require.ErrorIs(t, err, store.ErrNotFound)

	cp := crawler.Checkpoint{RegionCode: "330100", LastSendID: "s-9", UpdatedAt: time.Unix(10, 0)}
	require.NoError(t, s.SaveCheckpoint(ctx, cp))
	got, err := s.GetCheckpoint(ctx, "330100")
	require.NoError(t, err)
	require.Equal(t, cp, got)

	require.ErrorIs(t, s.SaveCheckpoint(ctx, crawler.Checkpoint{}), crawler.ErrValidation)
}

func TestProjectStoreUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewProjectStore()
	ctx := context.Background()
	discovered := time.Unix(100, 0).UTC()
	created, err := s.UpsertProject(ctx, crawler.DiscoveredProject{
		ProjectID: "p-1", Name: "old", RegionCode: "330100", DiscoveredAt: discovered,
	})
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, s.SaveExtraction(ctx, "p-1", []byte(`{"项目名称":"x"}`), discovered.Add(time.Hour)))

	created, err = s.UpsertProject(ctx, crawler.DiscoveredProject{
		ProjectID: "p-1", Name: "new", RegionCode: "330200", DiscoveredAt: discovered.Add(time.Minute),
	})
	require.NoError(t, err)
	require.False(t, created)

	got, err := s.GetProject(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, "new", got.Name)
	require.Equal(t, "330200", got.RegionCode)
	require.Equal(t, discovered, got.DiscoveredAt)
	require.True(t, got.Parsed)
	require.JSONEq(t, `{"项目名称":"x"}`, string(got.Fields))

	exists, err := s.ProjectExists(ctx, "p-1")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestProjectStoreRawPathAndExtraction(t *testing.T) {
	t.Parallel()

	s := NewProjectStore()
	ctx := context.Background()
	_, err := s.UpsertProject(ctx, crawler.DiscoveredProject{ProjectID: "p-1"})
	require.NoError(t, err)

	require.NoError(t, s.SetRawPath(ctx, "p-1", "file:///data/downloads/p-1/a.pdf"))
	got, err := s.GetProject(ctx, "p-1")
	require.NoError(t, err)
	require.False(t, got.Parsed)
	require.Equal(t, "file:///data/downloads/p-1/a.pdf", got.RawPath)

	require.NoError(t, s.SaveExtraction(ctx, "p-1", []byte(`{}`), time.Unix(5, 0)))
	got, err = s.GetProject(ctx, "p-1")
	require.NoError(t, err)
	require.True(t, got.Parsed)
	require.Empty(t, got.RawPath)
	require.NotNil(t, got.ParsedAt)

	require.NoError(t, s.SetInvalid(ctx, "p-1", true))
	got, err = s.GetProject(ctx, "p-1")
	require.NoError(t, err)
	require.True(t, got.Invalid)

	require.ErrorIs(t, s.SetRawPath(ctx, "missing", "x"), store.ErrNotFound)
}

func TestProjectStoreListAndDelete(t *testing.T) {
	t.Parallel()

	s := NewProjectStore()
	ctx := context.Background()
	base := time.Unix(1000, 0)
	for i, p := range []crawler.DiscoveredProject{
		{ProjectID: "a", RegionCode: "330100"},
		{ProjectID: "b", RegionCode: "330200"},
		{ProjectID: "c", RegionCode: "330100"},
		{ProjectID: "d", RegionCode: "330300"},
	} {
		p.DiscoveredAt = base.Add(time.Duration(i) * time.Minute)
		_, err := s.UpsertProject(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, s.SaveExtraction(ctx, "c", []byte(`{}`), base))

	list, err := s.ListProjects(ctx, crawler.ProjectFilter{Regions: []string{"330100"}})
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a"}, ids(list))

	parsed := false
	list, err = s.ListProjects(ctx, crawler.ProjectFilter{Parsed: &parsed, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, ids(list))

	list, err = s.ListProjects(ctx, crawler.ProjectFilter{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, list)

	n, err := s.DeleteProjects(ctx, []string{"a", "zzz"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.DeleteProjectsByRegion(ctx, []string{"330100", "330300"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	list, err = s.ListProjects(ctx, crawler.ProjectFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids(list))
}

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewRunStore()
	ctx := context.Background()
	started := time.Unix(2000, 0).UTC()
	require.NoError(t, s.CreateRun(ctx, crawler.CrawlRun{
		ID: "run-1", JobID: "job-1", Mode: crawler.ModeFull, Regions: []string{"330100"},
		Status: crawler.JobStatusPending, StartedAt: started,
	}))
	require.Error(t, s.CreateRun(ctx, crawler.CrawlRun{ID: "run-1"}))
	require.NoError(t, s.CreateRun(ctx, crawler.CrawlRun{ID: "run-2", StartedAt: started.Add(time.Minute)}))

	counters := crawler.RunCounters{TotalItems: 5, MatchedProjects: 2, NewProjects: 1}
	require.NoError(t, s.UpdateRunCounters(ctx, "run-1", crawler.JobStatusRunning, counters))
	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, counters, run.Counters)
	require.Nil(t, run.FinishedAt)

	counters.TotalItems = 7
	require.NoError(t, s.FinishRun(ctx, "run-1", crawler.JobStatusCancelled, "", counters, started.Add(time.Hour)))
	// Late counter flushes do not reopen a closed run.
	require.NoError(t, s.UpdateRunCounters(ctx, "run-1", crawler.JobStatusRunning, crawler.RunCounters{}))
	run, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCancelled, run.Status)
	require.Equal(t, 7, run.Counters.TotalItems)
	require.NotNil(t, run.FinishedAt)

	runs, err := s.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].ID)

	_, err = s.GetRun(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func ids(projects []crawler.DiscoveredProject) []string {
	out := make([]string, 0, len(projects))
	for _, p := range projects {
		out = append(out, p.ProjectID)
	}
	return out
}
