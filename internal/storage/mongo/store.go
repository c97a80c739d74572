// Package mongostore stores checkpoints, projects and runs in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

// Collection names.
const (
	checkpointsCollection = "crawl_checkpoints"
	projectsCollection    = "discovered_projects"
	runsCollection        = "crawl_runs"
)

// Config selects the MongoDB deployment and database.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// Store implements the repositories on three collections.
type Store struct {
	client      *mongo.Client
	checkpoints *mongo.Collection
	projects    *mongo.Collection
	runs        *mongo.Collection
	timeout     time.Duration
}

var (
	_ store.CheckpointStore = (*Store)(nil)
	_ store.ProjectStore    = (*Store)(nil)
	_ store.RunStore        = (*Store)(nil)
)

// New connects, pings and ensures indexes.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "tzxm"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(cfg.Database)
	s := &Store{
		client:      client,
		checkpoints: db.Collection(checkpointsCollection),
		projects:    db.Collection(projectsCollection),
		runs:        db.Collection(runsCollection),
		timeout:     cfg.Timeout,
	}
	if err := s.createIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.projects.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "region_code", Value: 1}, {Key: "discovered_at", Value: -1}}},
		{Keys: bson.D{{Key: "parsed", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create project indexes: %w", err)
	}
	_, err = s.runs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "started_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create run indexes: %w", err)
	}
	return nil
}

// Repositories exposes the store through the store bundle.
func (s *Store) Repositories() store.Repositories {
	return store.Repositories{
		Checkpoints: s,
		Projects:    s,
		Runs:        s,
		Close:       s.Close,
		Ping:        s.Ping,
	}
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() {
	if s == nil || s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_ = s.client.Disconnect(ctx)
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", kind, err)
}

type checkpointDoc struct {
	RegionCode string    `bson:"_id"`
	LastSendID string    `bson:"last_sendid"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

// GetCheckpoint loads a region's checkpoint.
func (s *Store) GetCheckpoint(ctx context.Context, regionCode string) (crawler.Checkpoint, error) {
	var doc checkpointDoc
	if err := s.checkpoints.FindOne(ctx, bson.M{"_id": regionCode}).Decode(&doc); err != nil {
		return crawler.Checkpoint{}, notFound(err, "checkpoint", regionCode)
	}
	return crawler.Checkpoint{RegionCode: doc.RegionCode, LastSendID: doc.LastSendID, UpdatedAt: doc.UpdatedAt}, nil
}

// SaveCheckpoint upserts the region's checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, checkpoint crawler.Checkpoint) error {
	if checkpoint.RegionCode == "" {
		return fmt.Errorf("%w: region code is required", crawler.ErrValidation)
	}
	update := bson.M{"$set": bson.M{"last_sendid": checkpoint.LastSendID, "updated_at": checkpoint.UpdatedAt}}
	_, err := s.checkpoints.UpdateOne(ctx, bson.M{"_id": checkpoint.RegionCode}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
