package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

const projectColumns = `project_id, name, region_code, discovered_at, parsed, parsed_at, fields, raw_path, invalid`

// ProjectExists reports whether a project row exists.
func (s *Store) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM discovered_projects WHERE project_id = $1);`, projectID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check project: %w", err)
	}
	return exists, nil
}

// UpsertProject inserts a project or refreshes name and region of an existing one.
func (s *Store) UpsertProject(ctx context.Context, project crawler.DiscoveredProject) (bool, error) {
	if project.ProjectID == "" {
		return false, fmt.Errorf("%w: project id is required", crawler.ErrValidation)
	}
	query := `
		INSERT INTO discovered_projects (project_id, name, region_code, discovered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id) DO UPDATE
		SET name = EXCLUDED.name, region_code = EXCLUDED.region_code
		RETURNING (xmax = 0);
	`
	var created bool
	err := s.pool.QueryRow(ctx, query, project.ProjectID, project.Name, project.RegionCode, project.DiscoveredAt).
		Scan(&created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert project: %w", err)
	}
	return created, nil
}

// GetProject fetches one project row.
func (s *Store) GetProject(ctx context.Context, projectID string) (crawler.DiscoveredProject, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM discovered_projects WHERE project_id = $1;`, projectID)
	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.DiscoveredProject{}, fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
		}
		return crawler.DiscoveredProject{}, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects returns projects newest discovery first.
func (s *Store) ListProjects(ctx context.Context, filter crawler.ProjectFilter) ([]crawler.DiscoveredProject, error) {
	regions := filter.Regions
	if regions == nil {
		regions = []string{}
	}
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT ` + projectColumns + `
		FROM discovered_projects
		WHERE (cardinality($1::text[]) = 0 OR region_code = ANY($1))
		  AND ($2::boolean IS NULL OR parsed = $2)
		ORDER BY discovered_at DESC, project_id
		LIMIT $3 OFFSET $4;
	`
	rows, err := s.pool.Query(ctx, query, regions, filter.Parsed, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	out := []crawler.DiscoveredProject{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return out, nil
}

// SaveExtraction stores parsed fields, marks the project parsed and clears its raw path.
func (s *Store) SaveExtraction(ctx context.Context, projectID string, fields []byte, parsedAt time.Time) error {
	query := `
		UPDATE discovered_projects
		SET fields = $2, parsed = TRUE, parsed_at = $3, raw_path = NULL
		WHERE project_id = $1;
	`
	return s.execOne(ctx, "save extraction", projectID, query, projectID, fields, parsedAt)
}

// SetRawPath records where an unparsed document was kept.
func (s *Store) SetRawPath(ctx context.Context, projectID, rawPath string) error {
	query := `UPDATE discovered_projects SET raw_path = $2 WHERE project_id = $1;`
	return s.execOne(ctx, "set raw path", projectID, query, projectID, rawPath)
}

// SetInvalid toggles the invalid flag.
func (s *Store) SetInvalid(ctx context.Context, projectID string, invalid bool) error {
	query := `UPDATE discovered_projects SET invalid = $2 WHERE project_id = $1;`
	return s.execOne(ctx, "set invalid", projectID, query, projectID, invalid)
}

// DeleteProjects removes projects by id.
func (s *Store) DeleteProjects(ctx context.Context, projectIDs []string) (int, error) {
	if len(projectIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM discovered_projects WHERE project_id = ANY($1);`, projectIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete projects: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteProjectsByRegion removes every project in the given regions.
func (s *Store) DeleteProjectsByRegion(ctx context.Context, regionCodes []string) (int, error) {
	if len(regionCodes) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM discovered_projects WHERE region_code = ANY($1);`, regionCodes)
	if err != nil {
		return 0, fmt.Errorf("failed to delete projects: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) execOne(ctx context.Context, op, projectID, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	return nil
}

func scanProject(row pgx.Row) (crawler.DiscoveredProject, error) {
	var (
		p       crawler.DiscoveredProject
		rawPath *string
	)
	if err := row.Scan(
		&p.ProjectID,
		&p.Name,
		&p.RegionCode,
		&p.DiscoveredAt,
		&p.Parsed,
		&p.ParsedAt,
		&p.Fields,
		&rawPath,
		&p.Invalid,
	); err != nil {
		return crawler.DiscoveredProject{}, err
	}
	if rawPath != nil {
		p.RawPath = *rawPath
	}
	return p, nil
}
