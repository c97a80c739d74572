package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

// ProjectStore keeps discovered projects in memory.
type ProjectStore struct {
	mu       sync.RWMutex
	projects map[string]crawler.DiscoveredProject
}

var _ store.ProjectStore = (*ProjectStore)(nil)

// NewProjectStore constructs a ProjectStore.
func NewProjectStore() *ProjectStore {
	return &ProjectStore{projects: make(map[string]crawler.DiscoveredProject)}
}

// ProjectExists reports whether the project id is known.
func (s *ProjectStore) ProjectExists(_ context.Context, projectID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.projects[projectID]
	return ok, nil
}

// UpsertProject inserts a project or refreshes its name and region.
func (s *ProjectStore) UpsertProject(_ context.Context, project crawler.DiscoveredProject) (bool, error) {
	if project.ProjectID == "" {
		return false, fmt.Errorf("%w: project id is required", crawler.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.projects[project.ProjectID]
	if ok {
		existing.Name = project.Name
		existing.RegionCode = project.RegionCode
		s.projects[project.ProjectID] = existing
		return false, nil
	}
	project.Fields = cloneBytes(project.Fields)
	s.projects[project.ProjectID] = project
	return true, nil
}

// GetProject fetches one project.
func (s *ProjectStore) GetProject(_ context.Context, projectID string) (crawler.DiscoveredProject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return crawler.DiscoveredProject{}, fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	p.Fields = cloneBytes(p.Fields)
	return p, nil
}

// ListProjects returns projects newest discovery first.
func (s *ProjectStore) ListProjects(_ context.Context, filter crawler.ProjectFilter) ([]crawler.DiscoveredProject, error) {
	regions := make(map[string]bool, len(filter.Regions))
	for _, r := range filter.Regions {
		regions[r] = true
	}
	s.mu.RLock()
	out := make([]crawler.DiscoveredProject, 0, len(s.projects))
	for _, p := range s.projects {
		if len(regions) > 0 && !regions[p.RegionCode] {
			continue
		}
		if filter.Parsed != nil && p.Parsed != *filter.Parsed {
			continue
		}
		p.Fields = cloneBytes(p.Fields)
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].ProjectID < out[j].ProjectID
		}
		return out[i].DiscoveredAt.After(out[j].DiscoveredAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []crawler.DiscoveredProject{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// SaveExtraction stores fields, marks the project parsed and clears its raw path.
func (s *ProjectStore) SaveExtraction(_ context.Context, projectID string, fields []byte, parsedAt time.Time) error {
	return s.update(projectID, func(p *crawler.DiscoveredProject) {
		p.Fields = cloneBytes(fields)
		p.Parsed = true
		p.ParsedAt = pointerTime(parsedAt)
		p.RawPath = ""
	})
}

// SetRawPath records where an unparsed document was kept.
func (s *ProjectStore) SetRawPath(_ context.Context, projectID, rawPath string) error {
	return s.update(projectID, func(p *crawler.DiscoveredProject) {
		p.RawPath = rawPath
	})
}

// SetInvalid toggles the invalid flag.
func (s *ProjectStore) SetInvalid(_ context.Context, projectID string, invalid bool) error {
	return s.update(projectID, func(p *crawler.DiscoveredProject) {
		p.Invalid = invalid
	})
}

// DeleteProjects removes projects by id and returns how many existed.
func (s *ProjectStore) DeleteProjects(_ context.Context, projectIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range projectIDs {
		if _, ok := s.projects[id]; ok {
			delete(s.projects, id)
			n++
		}
	}
	return n, nil
}

// DeleteProjectsByRegion removes every project in the given regions.
func (s *ProjectStore) DeleteProjectsByRegion(_ context.Context, regionCodes []string) (int, error) {
	regions := make(map[string]bool, len(regionCodes))
	for _, r := range regionCodes {
		regions[r] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, p := range s.projects {
		if regions[p.RegionCode] {
			delete(s.projects, id)
			n++
		}
	}
	return n, nil
}

func (s *ProjectStore) update(projectID string, fn func(p *crawler.DiscoveredProject)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("project %s: %w", projectID, store.ErrNotFound)
	}
	fn(&p)
	s.projects[projectID] = p
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
