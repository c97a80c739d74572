package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tzxm-crawler/internal/clock/system"
	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	memorypublisher "github.com/JakeFAU/tzxm-crawler/internal/publisher/memory"
	"github.com/JakeFAU/tzxm-crawler/internal/storage/memory"
)

type fakeCatalog struct {
	mu          sync.Mutex
	pages       map[string][][]crawler.ItemSummary
	details     map[string]crawler.ProjectDetail
	failures    map[string]int
	errs        map[string]error
	detailCalls []string
	onDetail    func(projectID string)
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		pages:    map[string][][]crawler.ItemSummary{},
		details:  map[string]crawler.ProjectDetail{},
		failures: map[string]int{},
		errs:     map[string]error{},
	}
}

func (f *fakeCatalog) ListRegions(context.Context) ([]crawler.Region, error) {
	return nil, nil
}

func (f *fakeCatalog) ListItems(_ context.Context, region string, page int) (crawler.ItemPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := f.pages[region]
	out := crawler.ItemPage{TotalPages: len(pages)}
	if page < len(pages) {
		out.Items = append([]crawler.ItemSummary(nil), pages[page]...)
	}
	return out, nil
}

func (f *fakeCatalog) GetProjectDetail(ctx context.Context, projectID string) (crawler.ProjectDetail, error) {
	f.mu.Lock()
	f.detailCalls = append(f.detailCalls, projectID)
	hook := f.onDetail
	f.mu.Unlock()
	if hook != nil {
		hook(projectID)
	}
	if err := ctx.Err(); err != nil {
		return crawler.ProjectDetail{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[projectID] > 0 {
		f.failures[projectID]--
		return crawler.ProjectDetail{}, fmt.Errorf("%w: connection reset", crawler.ErrNetwork)
	}
	if err, ok := f.errs[projectID]; ok {
		return crawler.ProjectDetail{}, err
	}
	d, ok := f.details[projectID]
	if !ok {
		return crawler.ProjectDetail{}, fmt.Errorf("project %s: %w", projectID, crawler.ErrNotFound)
	}
	return d, nil
}

func (f *fakeCatalog) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.detailCalls...)
}

// seed publishes count items for region, newest first, pageSize per page. Item
// n has sendid "<prefix>s-00n" and project "<prefix>p-00n"; every project is a
// target unless overridden afterwards.
func (f *fakeCatalog) seed(region, prefix string, count, pageSize int) {
	var pages [][]crawler.ItemSummary
	var page []crawler.ItemSummary
	for n := count; n >= 1; n-- {
		item := crawler.ItemSummary{SendID: sendID(prefix, n), ProjectID: projectID(prefix, n), ItemName: "x"}
		page = append(page, item)
		if len(page) == pageSize {
			pages = append(pages, page)
			page = nil
		}
		if _, ok := f.details[item.ProjectID]; !ok {
			f.details[item.ProjectID] = crawler.ProjectDetail{
				ProjectID: item.ProjectID,
				Name:      "项目" + item.ProjectID,
				Items:     []crawler.ProjectItem{{SendID: item.SendID, ItemName: DefaultTargetCategories[0]}},
			}
		}
	}
	if len(page) > 0 {
		pages = append(pages, page)
	}
	f.mu.Lock()
	f.pages[region] = pages
	f.mu.Unlock()
}

func sendID(prefix string, n int) string    { return fmt.Sprintf("%ss-%03d", prefix, n) }
func projectID(prefix string, n int) string { return fmt.Sprintf("%sp-%03d", prefix, n) }

type recordingCheckpoints struct {
	*memory.CheckpointStore
	mu    sync.Mutex
	saves []string
}

func (r *recordingCheckpoints) SaveCheckpoint(ctx context.Context, cp crawler.Checkpoint) error {
	r.mu.Lock()
	r.saves = append(r.saves, cp.LastSendID)
	r.mu.Unlock()
	return r.CheckpointStore.SaveCheckpoint(ctx, cp)
}

type harness struct {
	catalog     *fakeCatalog
	checkpoints *recordingCheckpoints
	projects    *memory.ProjectStore
	runs        *memory.RunStore
	publisher   *memorypublisher.Publisher
	sleeps      int
	runCount    int
	engine      *Engine
}

func newHarness(t *testing.T, maxAttempts int) *harness {
	t.Helper()
	h := &harness{
		catalog:     newFakeCatalog(),
		checkpoints: &recordingCheckpoints{CheckpointStore: memory.NewCheckpointStore()},
		projects:    memory.NewProjectStore(),
		runs:        memory.NewRunStore(),
		publisher:   memorypublisher.New(),
	}
	retry := crawler.NewFixedRetryPolicy(maxAttempts, time.Second).
		WithSleeper(func(ctx context.Context, _ time.Duration) error {
			h.sleeps++
			return ctx.Err()
		})
	eng, err := New(Dependencies{
		Catalog:     h.catalog,
		Checkpoints: h.checkpoints,
		Projects:    h.projects,
		Runs:        h.runs,
		Publisher:   h.publisher,
		Retry:       retry,
		Clock:       system.NewManual(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)),
	}, Config{DiscoveryTopic: "projects"}, zap.NewNop())
	require.NoError(t, err)
	h.engine = eng
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context, mode crawler.CrawlMode, regions ...string) (crawler.RunCounters, error) {
	t.Helper()
	h.runCount++
	runID := fmt.Sprintf("run-%d", h.runCount)
	require.NoError(t, h.runs.CreateRun(context.Background(), crawler.CrawlRun{
		ID:     runID,
		JobID:  "job-" + runID,
		Mode:   mode,
		Status: crawler.JobStatusRunning,
	}))
	return h.engine.Run(ctx, Job{
		JobID:  "job-" + runID,
		RunID:  runID,
		Params: crawler.JobParameters{Mode: mode, Regions: regions},
	})
}

func (h *harness) checkpoint(t *testing.T, region string) string {
	t.Helper()
	cp, err := h.checkpoints.GetCheckpoint(context.Background(), region)
	require.NoError(t, err)
	return cp.LastSendID
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Dependencies{}, Config{}, nil)
	require.Error(t, err)
}

func TestFullHistoryProcessesOldestToNewest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 7, 3)

	counters, err := h.run(t, context.Background(), crawler.ModeFull, "330100")
	require.NoError(t, err)

	want := make([]string, 0, 7)
	for n := 1; n <= 7; n++ {
		want = append(want, projectID("", n))
	}
	require.Equal(t, want, h.catalog.calls())
	require.Equal(t, sendID("", 7), h.checkpoint(t, "330100"))
	require.Equal(t, crawler.RunCounters{TotalItems: 7, MatchedProjects: 7, NewProjects: 7}, counters)

	stored, err := h.projects.ListProjects(context.Background(), crawler.ProjectFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 7)
	require.Equal(t, "330100", stored[0].RegionCode)
}

func TestIncrementalIsIdempotentWithoutNewData(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 5, 2)

	// No checkpoint yet: incremental falls back to a full scan.
	first, err := h.run(t, context.Background(), crawler.ModeIncremental, "330100")
	require.NoError(t, err)
	require.Equal(t, 5, first.NewProjects)

	for i := 0; i < 2; i++ {
		counters, err := h.run(t, context.Background(), crawler.ModeIncremental, "330100")
		require.NoError(t, err)
		require.Zero(t, counters.NewProjects)
		require.Zero(t, counters.TotalItems)
	}
	require.Len(t, h.catalog.calls(), 5)
	require.Equal(t, sendID("", 5), h.checkpoint(t, "330100"))
}

func TestIncrementalProcessesOnlyNewerItems(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 7, 3)
	_, err := h.run(t, context.Background(), crawler.ModeFull, "330100")
	require.NoError(t, err)

	h.catalog.seed("330100", "", 11, 3)
	before := len(h.catalog.calls())
	counters, err := h.run(t, context.Background(), crawler.ModeIncremental, "330100")
	require.NoError(t, err)

	require.Equal(t, []string{projectID("", 8), projectID("", 9), projectID("", 10), projectID("", 11)},
		h.catalog.calls()[before:])
	require.Equal(t, 4, counters.NewProjects)
	require.Equal(t, sendID("", 11), h.checkpoint(t, "330100"))
}

func TestIncrementalPivotMissingProcessesEverything(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 4, 3)
	require.NoError(t, h.checkpoints.CheckpointStore.SaveCheckpoint(context.Background(), crawler.Checkpoint{
		RegionCode: "330100",
		LastSendID: "deleted-upstream",
	}))

	counters, err := h.run(t, context.Background(), crawler.ModeIncremental, "330100")
	require.NoError(t, err)
	require.Equal(t, 4, counters.TotalItems)
	require.Equal(t, []string{projectID("", 1), projectID("", 2), projectID("", 3), projectID("", 4)}, h.catalog.calls())
	require.Equal(t, sendID("", 4), h.checkpoint(t, "330100"))
}

func TestTransientDetailFailuresAreRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 5)
	h.catalog.seed("330100", "", 3, 10)
	h.catalog.failures[projectID("", 2)] = 4

	counters, err := h.run(t, context.Background(), crawler.ModeFull, "330100")
	require.NoError(t, err)
	require.Zero(t, counters.SkippedItems)
	require.Equal(t, 3, counters.NewProjects)
	require.Equal(t, 4, h.sleeps)
}

func TestExhaustedRetriesSkipItemAndAdvance(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 5)
	h.catalog.seed("330100", "", 3, 10)
	h.catalog.failures[projectID("", 3)] = 5

	counters, err := h.run(t, context.Background(), crawler.ModeFull, "330100")
	require.NoError(t, err)
	require.Equal(t, 1, counters.SkippedItems)
	require.Equal(t, 2, counters.NewProjects)
	require.Equal(t, 3, counters.TotalItems)
	require.Equal(t, sendID("", 3), h.checkpoint(t, "330100"))

	exists, err := h.projects.ProjectExists(context.Background(), projectID("", 3))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestProtocolAndNotFoundDetailsAreSkippedWithoutRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 5)
	h.catalog.seed("330100", "", 3, 10)
	h.catalog.errs[projectID("", 1)] = fmt.Errorf("%w: html body", crawler.ErrProtocol)
	delete(h.catalog.details, projectID("", 2))

	counters, err := h.run(t, context.Background(), crawler.ModeFull, "330100")
	require.NoError(t, err)
	require.Equal(t, 2, counters.SkippedItems)
	require.Equal(t, 1, counters.NewProjects)
	require.Zero(t, h.sleeps)
	require.Equal(t, sendID("", 3), h.checkpoint(t, "330100"))
}

func TestCircuitBreakerAbortsOnlyThatRegion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "a-", 12, 5)
	for n := 1; n <= 12; n++ {
		id := projectID("a-", n)
		h.catalog.details[id] = crawler.ProjectDetail{ProjectID: id, Name: "空"}
	}
	h.catalog.seed("330200", "b-", 2, 5)

	counters, err := h.run(t, context.Background(), crawler.ModeFull, "330100", "330200")
	require.NoError(t, err)
	require.Equal(t, 1, counters.AbortedRegions)
	require.Equal(t, 12, counters.TotalItems) // 10 from the aborted region plus 2
	require.Equal(t, 2, counters.NewProjects)
	require.Equal(t, sendID("a-", 10), h.checkpoint(t, "330100"))
	require.Equal(t, sendID("b-", 2), h.checkpoint(t, "330200"))
}

func TestBreakerStreakResetsOnNonEmptyDetail(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 15, 5)
	for n := 1; n <= 15; n++ {
		if n == 8 {
			continue
		}
		id := projectID("", n)
		h.catalog.details[id] = crawler.ProjectDetail{ProjectID: id}
	}

	counters, err := h.run(t, context.Background(), crawler.ModeFull, "330100")
	require.NoError(t, err)
	require.Zero(t, counters.AbortedRegions)
	require.Equal(t, 15, counters.TotalItems)
	require.Equal(t, 1, counters.NewProjects)
}

func TestExclusionKeywordsFilterButAdvance(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 2, 10)
	d := h.catalog.details[projectID("", 2)]
	d.Name = "分布式光伏发电项目"
	h.catalog.details[projectID("", 2)] = d

	runID := "run-exclude"
	require.NoError(t, h.runs.CreateRun(context.Background(), crawler.CrawlRun{ID: runID}))
	counters, err := h.engine.Run(context.Background(), Job{
		JobID: "job-exclude",
		RunID: runID,
		Params: crawler.JobParameters{
			Mode:            crawler.ModeFull,
			Regions:         []string{"330100"},
			ExcludeKeywords: []string{" 光伏 ,储能"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, counters.FilteredItems)
	require.Equal(t, 1, counters.NewProjects)
	require.Equal(t, sendID("", 2), h.checkpoint(t, "330100"))

	exists, err := h.projects.ProjectExists(context.Background(), projectID("", 2))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestKnownProjectsAreRehitsWithoutDetailFetch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 3, 10)
	_, err := h.projects.UpsertProject(context.Background(), crawler.DiscoveredProject{ProjectID: projectID("", 2)})
	require.NoError(t, err)

	counters, err := h.run(t, context.Background(), crawler.ModeFull, "330100")
	require.NoError(t, err)
	require.Equal(t, []string{projectID("", 1), projectID("", 3)}, h.catalog.calls())
	require.Equal(t, 3, counters.MatchedProjects)
	require.Equal(t, 2, counters.NewProjects)
}

func TestUnmatchedProjectsAreNotStored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 1, 10)
	id := projectID("", 1)
	h.catalog.details[id] = crawler.ProjectDetail{
		ProjectID: id,
		Items:     []crawler.ProjectItem{{ItemName: "建设项目用地预审与选址意见书"}},
	}

	counters, err := h.run(t, context.Background(), crawler.ModeFull, "330100")
	require.NoError(t, err)
	require.Equal(t, crawler.RunCounters{TotalItems: 1}, counters)
	require.Equal(t, sendID("", 1), h.checkpoint(t, "330100"))
}

func TestCancellationStopsBeforeUnfinishedItem(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 6, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.catalog.onDetail = func(id string) {
		if id == projectID("", 4) {
			cancel()
		}
	}

	counters, err := h.run(t, ctx, crawler.ModeFull, "330100", "330200")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 3, counters.TotalItems)
	require.Equal(t, sendID("", 3), h.checkpoint(t, "330100"))

	_, err = h.checkpoints.GetCheckpoint(context.Background(), "330200")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestFullScanNeverMovesCheckpointBackwards(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 7, 3)
	require.NoError(t, h.checkpoints.CheckpointStore.SaveCheckpoint(context.Background(), crawler.Checkpoint{
		RegionCode: "330100",
		LastSendID: sendID("", 5),
	}))

	_, err := h.run(t, context.Background(), crawler.ModeFull, "330100")
	require.NoError(t, err)
	require.Equal(t, []string{sendID("", 5), sendID("", 6), sendID("", 7)}, h.checkpoints.saves)
}

func TestFullScanWithUnknownCheckpointWritesNewestAtEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 4, 3)
	require.NoError(t, h.checkpoints.CheckpointStore.SaveCheckpoint(context.Background(), crawler.Checkpoint{
		RegionCode: "330100",
		LastSendID: "elsewhere",
	}))

	_, err := h.run(t, context.Background(), crawler.ModeFull, "330100")
	require.NoError(t, err)
	require.Equal(t, []string{sendID("", 4)}, h.checkpoints.saves)
}

func TestBreakerAbortBeforeCheckpointKeepsIt(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 15, 5)
	for n := 1; n <= 12; n++ {
		id := projectID("", n)
		h.catalog.details[id] = crawler.ProjectDetail{ProjectID: id, Name: "空"}
	}
	require.NoError(t, h.checkpoints.CheckpointStore.SaveCheckpoint(context.Background(), crawler.Checkpoint{
		RegionCode: "330100",
		LastSendID: sendID("", 14),
	}))

	counters, err := h.run(t, context.Background(), crawler.ModeFull, "330100")
	require.NoError(t, err)
	require.Equal(t, 1, counters.AbortedRegions)
	require.Equal(t, 10, counters.TotalItems)
	require.Empty(t, h.checkpoints.saves)
	require.Equal(t, sendID("", 14), h.checkpoint(t, "330100"))
}

func TestBreakerAbortAfterCheckpointKeepsProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 15, 5)
	for n := 3; n <= 14; n++ {
		id := projectID("", n)
		h.catalog.details[id] = crawler.ProjectDetail{ProjectID: id, Name: "空"}
	}
	require.NoError(t, h.checkpoints.CheckpointStore.SaveCheckpoint(context.Background(), crawler.Checkpoint{
		RegionCode: "330100",
		LastSendID: sendID("", 2),
	}))

	counters, err := h.run(t, context.Background(), crawler.ModeFull, "330100")
	require.NoError(t, err)
	require.Equal(t, 1, counters.AbortedRegions)
	require.Equal(t, 12, counters.TotalItems)
	require.Equal(t, sendID("", 12), h.checkpoint(t, "330100"))
}

func TestNewProjectsArePublishedAndCountersFlushed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	h.catalog.seed("330100", "", 3, 2)

	runID := "run-publish"
	require.NoError(t, h.runs.CreateRun(context.Background(), crawler.CrawlRun{ID: runID, Status: crawler.JobStatusRunning}))
	counters, err := h.engine.Run(context.Background(), Job{
		JobID:  "job-publish",
		RunID:  runID,
		Params: crawler.JobParameters{Mode: crawler.ModeFull, Regions: []string{"330100"}},
	})
	require.NoError(t, err)

	events := h.publisher.ByTopic("projects")
	require.Len(t, events, 3)
	event, ok := events[0].(crawler.DiscoveryEvent)
	require.True(t, ok)
	require.Equal(t, projectID("", 1), event.ProjectID)
	require.Equal(t, "job-publish", event.JobID)

	run, err := h.runs.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, counters, run.Counters)
}

func TestInvalidModeIsRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	_, err := h.engine.Run(context.Background(), Job{Params: crawler.JobParameters{Mode: "sideways"}})
	require.ErrorIs(t, err, crawler.ErrValidation)
}

func TestClassifier(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil, []string{"", "光伏，风电"})
	require.True(t, c.Matches(crawler.ProjectDetail{Items: []crawler.ProjectItem{{ItemName: " " + DefaultTargetCategories[3]}}}))
	require.False(t, c.Matches(crawler.ProjectDetail{}))

	kw, ok := c.Excluded("海上风电场")
	require.True(t, ok)
	require.Equal(t, "风电", kw)
	_, ok = c.Excluded("化工项目")
	require.False(t, ok)

	custom := NewClassifier([]string{"自定义"}, nil)
	require.True(t, custom.Matches(crawler.ProjectDetail{Items: []crawler.ProjectItem{{ItemName: "自定义"}}}))
	require.False(t, custom.Matches(crawler.ProjectDetail{Items: []crawler.ProjectItem{{ItemName: DefaultTargetCategories[0]}}}))
}
