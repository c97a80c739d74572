package mongostore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

func TestProjectFilter(t *testing.T) {
	t.Parallel()

	require.Equal(t, bson.M{}, projectFilter(crawler.ProjectFilter{}))

	parsed := true
	got := projectFilter(crawler.ProjectFilter{Regions: []string{"330100"}, Parsed: &parsed})
	require.Equal(t, bson.M{
		"region_code": bson.M{"$in": []string{"330100"}},
		"parsed":      true,
	}, got)
}

func TestFindOptions(t *testing.T) {
	t.Parallel()

	opts := findOptions(10, 20, "started_at")
	require.EqualValues(t, 10, *opts.Limit)
	require.EqualValues(t, 20, *opts.Skip)
	require.Equal(t, bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: 1}}, opts.Sort)

	opts = findOptions(0, 0, "discovered_at")
	require.Nil(t, opts.Limit)
	require.Nil(t, opts.Skip)
}

func TestProjectDocRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	doc := projectDoc{ProjectID: "p-1", Name: "项目", RegionCode: "330100", DiscoveredAt: now, Fields: `{"a":"b"}`}
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	var decoded projectDoc
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	p := decoded.toProject()
	require.Equal(t, "p-1", p.ProjectID)
	require.Equal(t, []byte(`{"a":"b"}`), p.Fields)
	require.Nil(t, p.ParsedAt)

	require.Nil(t, projectDoc{ProjectID: "p-2"}.toProject().Fields)
}

func TestRunDocConversion(t *testing.T) {
	t.Parallel()

	run := crawler.CrawlRun{
		ID:       "run-1",
		JobID:    "job-1",
		Mode:     crawler.ModeFull,
		Status:   crawler.JobStatusRunning,
		Counters: crawler.RunCounters{TotalItems: 3, AbortedRegions: 1},
	}
	doc := fromRun(run)
	require.Equal(t, []string{}, doc.Regions)
	back := doc.toRun()
	require.Equal(t, run.Counters, back.Counters)
	require.Equal(t, crawler.ModeFull, back.Mode)
}

func TestNotFoundMapping(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, notFound(mongo.ErrNoDocuments, "run", "r"), store.ErrNotFound)
	err := notFound(errors.New("timeout"), "run", "r")
	require.NotErrorIs(t, err, store.ErrNotFound)
}

func TestNewRequiresURI(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
