package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

type projectDoc struct {
	ProjectID    string     `bson:"_id"`
	Name         string     `bson:"name"`
	RegionCode   string     `bson:"region_code"`
	DiscoveredAt time.Time  `bson:"discovered_at"`
	Parsed       bool       `bson:"parsed"`
	ParsedAt     *time.Time `bson:"parsed_at,omitempty"`
	Fields       string     `bson:"fields,omitempty"`
	RawPath      string     `bson:"raw_path,omitempty"`
	Invalid      bool       `bson:"invalid"`
}

func (d projectDoc) toProject() crawler.DiscoveredProject {
	p := crawler.DiscoveredProject{
		ProjectID:    d.ProjectID,
		Name:         d.Name,
		RegionCode:   d.RegionCode,
		DiscoveredAt: d.DiscoveredAt,
		Parsed:       d.Parsed,
		ParsedAt:     d.ParsedAt,
		RawPath:      d.RawPath,
		Invalid:      d.Invalid,
	}
	if d.Fields != "" {
		p.Fields = []byte(d.Fields)
	}
	return p
}

// projectFilter translates a listing filter into a query document.
func projectFilter(filter crawler.ProjectFilter) bson.M {
	q := bson.M{}
	if len(filter.Regions) > 0 {
		q["region_code"] = bson.M{"$in": filter.Regions}
	}
	if filter.Parsed != nil {
		q["parsed"] = *filter.Parsed
	}
	return q
}

func findOptions(limit, offset int, sortKey string) *options.FindOptions {
	opts := options.Find().SetSort(bson.D{{Key: sortKey, Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	return opts
}

// ProjectExists reports whether a project document exists.
func (s *Store) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	n, err := s.projects.CountDocuments(ctx, bson.M{"_id": projectID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check project: %w", err)
	}
	return n > 0, nil
}

// UpsertProject inserts or refreshes a project; parse state is only set on insert.
func (s *Store) UpsertProject(ctx context.Context, project crawler.DiscoveredProject) (bool, error) {
	if project.ProjectID == "" {
		return false, fmt.Errorf("%w: project id is required", crawler.ErrValidation)
	}
	update := bson.M{
		"$set": bson.M{"name": project.Name, "region_code": project.RegionCode},
		"$setOnInsert": bson.M{
			"discovered_at": project.DiscoveredAt,
			"parsed":        false,
			"invalid":       false,
		},
	}
	res, err := s.projects.UpdateOne(ctx, bson.M{"_id": project.ProjectID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("upsert project: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

// GetProject fetches one project.
func (s *Store) GetProject(ctx context.Context, projectID string) (crawler.DiscoveredProject, error) {
	var doc projectDoc
	if err := s.projects.FindOne(ctx, bson.M{"_id": projectID}).Decode(&doc); err != nil {
		return crawler.DiscoveredProject{}, notFound(err, "project", projectID)
	}
	return doc.toProject(), nil
}

// ListProjects returns projects newest discovery first.
func (s *Store) ListProjects(ctx context.Context, filter crawler.ProjectFilter) ([]crawler.DiscoveredProject, error) {
	cursor, err := s.projects.Find(ctx, projectFilter(filter), findOptions(filter.Limit, filter.Offset, "discovered_at"))
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer cursor.Close(ctx)

	out := []crawler.DiscoveredProject{}
	for cursor.Next(ctx) {
		var doc projectDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode project: %w", err)
		}
		out = append(out, doc.toProject())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

// SaveExtraction stores parsed fields, marks the project parsed and clears its raw path.
func (s *Store) SaveExtraction(ctx context.Context, projectID string, fields []byte, parsedAt time.Time) error {
	return s.updateProject(ctx, projectID, bson.M{
		"$set":   bson.M{"fields": string(fields), "parsed": true, "parsed_at": parsedAt},
		"$unset": bson.M{"raw_path": ""},
	})
}

// SetRawPath records where an unparsed document was kept.
func (s *Store) SetRawPath(ctx context.Context, projectID, rawPath string) error {
	return s.updateProject(ctx, projectID, bson.M{"$set": bson.M{"raw_path": rawPath}})
}

// SetInvalid toggles the invalid flag.
func (s *Store) SetInvalid(ctx context.Context, projectID string, invalid bool) error {
	return s.updateProject(ctx, projectID, bson.M{"$set": bson.M{"invalid": invalid}})
}

// DeleteProjects removes projects by id.
func (s *Store) DeleteProjects(ctx context.Context, projectIDs []string) (int, error) {
	if len(projectIDs) == 0 {
		return 0, nil
	}
	res, err := s.projects.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": projectIDs}})
	if err != nil {
		return 0, fmt.Errorf("delete projects: %w", err)
	}
	return int(res.DeletedCount), nil
}

// DeleteProjectsByRegion removes every project in the given regions.
func (s *Store) DeleteProjectsByRegion(ctx context.Context, regionCodes []string) (int, error) {
	if len(regionCodes) == 0 {
		return 0, nil
	}
	res, err := s.projects.DeleteMany(ctx, bson.M{"region_code": bson.M{"$in": regionCodes}})
	if err != nil {
		return 0, fmt.Errorf("delete projects: %w", err)
	}
	return int(res.DeletedCount), nil
}

func (s *Store) updateProject(ctx context.Context, projectID string, update bson.M) error {
	res, err := s.projects.UpdateOne(ctx, bson.M{"_id": projectID}, update)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	return nil
}
