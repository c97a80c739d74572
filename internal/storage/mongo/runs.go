package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

type countersDoc struct {
	TotalItems      int `bson:"total_items"`
	MatchedProjects int `bson:"matched_projects"`
	NewProjects     int `bson:"new_projects"`
	FilteredItems   int `bson:"filtered_items"`
	SkippedItems    int `bson:"skipped_items"`
	AbortedRegions  int `bson:"aborted_regions"`
}

type runDoc struct {
	ID         string      `bson:"_id"`
	JobID      string      `bson:"job_id"`
	Mode       string      `bson:"mode"`
	Regions    []string    `bson:"regions"`
	Status     string      `bson:"status"`
	ErrorText  string      `bson:"error_text"`
	Counters   countersDoc `bson:"counters"`
	StartedAt  time.Time   `bson:"started_at"`
	FinishedAt *time.Time  `bson:"finished_at,omitempty"`
}

func fromRun(run crawler.CrawlRun) runDoc {
	regions := run.Regions
	if regions == nil {
		regions = []string{}
	}
	return runDoc{
		ID:         run.ID,
		JobID:      run.JobID,
		Mode:       string(run.Mode),
		Regions:    regions,
		Status:     string(run.Status),
		ErrorText:  run.ErrorText,
		Counters:   countersDoc(run.Counters),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
}

func (d runDoc) toRun() crawler.CrawlRun {
	return crawler.CrawlRun{
		ID:         d.ID,
		JobID:      d.JobID,
		Mode:       crawler.CrawlMode(d.Mode),
		Regions:    d.Regions,
		Status:     crawler.JobStatus(d.Status),
		ErrorText:  d.ErrorText,
		Counters:   crawler.RunCounters(d.Counters),
		StartedAt:  d.StartedAt,
		FinishedAt: d.FinishedAt,
	}
}

// CreateRun inserts a run document.
func (s *Store) CreateRun(ctx context.Context, run crawler.CrawlRun) error {
	if _, err := s.runs.InsertOne(ctx, fromRun(run)); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRunCounters overwrites counters and status of an open run.
func (s *Store) UpdateRunCounters(
	ctx context.Context,
	runID string,
	status crawler.JobStatus,
	counters crawler.RunCounters,
) error {
	filter := bson.M{"_id": runID, "finished_at": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{"status": string(status), "counters": countersDoc(counters)}}
	res, err := s.runs.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update run counters: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.runs.CountDocuments(ctx, bson.M{"_id": runID})
	if err != nil {
		return fmt.Errorf("check run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// FinishRun closes a run.
func (s *Store) FinishRun(
	ctx context.Context,
	runID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.RunCounters,
	finishedAt time.Time,
) error {
	update := bson.M{"$set": bson.M{
		"status":      string(status),
		"error_text":  errText,
		"counters":    countersDoc(counters),
		"finished_at": finishedAt,
	}}
	res, err := s.runs.UpdateOne(ctx, bson.M{"_id": runID}, update)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (crawler.CrawlRun, error) {
	var doc runDoc
	if err := s.runs.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc); err != nil {
		return crawler.CrawlRun{}, notFound(err, "run", runID)
	}
	return doc.toRun(), nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]crawler.CrawlRun, error) {
	cursor, err := s.runs.Find(ctx, bson.M{}, findOptions(limit, offset, "started_at"))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer cursor.Close(ctx)

	out := []crawler.CrawlRun{}
	for cursor.Next(ctx) {
		var doc runDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, doc.toRun())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}
