package crawler

import (
	"context"
	"io"
	"time"
)

// Catalog is the remote catalog as seen by the crawl engine.
type Catalog interface {
	ListRegions(ctx context.Context) ([]Region, error)
	ListItems(ctx context.Context, regionCode string, page int) (ItemPage, error)
	GetProjectDetail(ctx context.Context, projectID string) (ProjectDetail, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	// Delete removes the object behind a URI returned by PutObject.
	Delete(ctx context.Context, uri string) error
}

// Publisher pushes discovery events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job, run and session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
