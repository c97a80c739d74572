package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/extract"
)

type projectDTO struct {
	ProjectID    string          `json:"project_id"`
	Name         string          `json:"name"`
	RegionCode   string          `json:"region_code"`
	DiscoveredAt time.Time       `json:"discovered_at"`
	Parsed       bool            `json:"parsed"`
	ParsedAt     *time.Time      `json:"parsed_at,omitempty"`
	RawPath      string          `json:"raw_path,omitempty"`
	Invalid      bool            `json:"invalid"`
	Fields       json.RawMessage `json:"fields,omitempty"`
}

func toProjectDTO(p crawler.DiscoveredProject) projectDTO {
	dto := projectDTO{
		ProjectID:    p.ProjectID,
		Name:         p.Name,
		RegionCode:   p.RegionCode,
		DiscoveredAt: p.DiscoveredAt,
		Parsed:       p.Parsed,
		ParsedAt:     p.ParsedAt,
		RawPath:      p.RawPath,
		Invalid:      p.Invalid,
	}
	if len(p.Fields) > 0 && json.Valid(p.Fields) {
		dto.Fields = json.RawMessage(p.Fields)
	}
	return dto
}

// projectFilter reads region (repeatable or comma separated), parsed, limit
// and offset.
func projectFilter(r *http.Request, paged bool) (crawler.ProjectFilter, error) {
	q := r.URL.Query()
	var filter crawler.ProjectFilter
	for _, raw := range append(q["region"], q["regions"]...) {
		for _, code := range strings.Split(raw, ",") {
			if code = strings.TrimSpace(code); code != "" {
				filter.Regions = append(filter.Regions, code)
			}
		}
	}
	if raw := q.Get("parsed"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid parsed flag", crawler.ErrValidation)
		}
		filter.Parsed = &parsed
	}
	if paged {
		limit, offset, err := parseLimitOffset(r, defaultProjectLimit, maxProjectLimit)
		if err != nil {
			return filter, fmt.Errorf("%w: %v", crawler.ErrValidation, err)
		}
		filter.Limit, filter.Offset = limit, offset
	}
	return filter, nil
}

// listProjects handles GET /v1/projects?region=&parsed=&limit=&offset=.
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	filter, err := projectFilter(r, true)
	if err != nil {
		s.fail(w, "list projects", err)
		return
	}
	projects, err := s.deps.Projects.ListProjects(r.Context(), filter)
	if err != nil {
		s.fail(w, "list projects", err)
		return
	}
	out := make([]projectDTO, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectDTO(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

// exportProjects handles GET /v1/projects/export as CSV with one column per
// extracted field.
func (s *Server) exportProjects(w http.ResponseWriter, r *http.Request) {
	filter, err := projectFilter(r, false)
	if err != nil {
		s.fail(w, "export projects", err)
		return
	}
	projects, err := s.deps.Projects.ListProjects(r.Context(), filter)
	if err != nil {
		s.fail(w, "export projects", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=valuable_projects.csv")
	w.WriteHeader(http.StatusOK)
	// BOM so spreadsheet tools detect UTF-8.
	_, _ = w.Write([]byte("\xef\xbb\xbf"))

	cw := csv.NewWriter(w)
	header := append([]string{"project_id", "name", "region_code", "discovered_at", "parsed", "invalid"}, extract.Names()...)
	_ = cw.Write(header)
	for _, p := range projects {
		var fields extract.Fields
		if len(p.Fields) > 0 {
			if err := json.Unmarshal(p.Fields, &fields); err != nil {
				s.logger.Warn("skip undecodable fields in export")
			}
		}
		row := append([]string{
			p.ProjectID,
			p.Name,
			p.RegionCode,
			p.DiscoveredAt.Format(time.RFC3339),
			strconv.FormatBool(p.Parsed),
			strconv.FormatBool(p.Invalid),
		}, fields.Values()...)
		if err := cw.Write(row); err != nil {
			s.logger.Warn("export write failed")
			return
		}
	}
	cw.Flush()
}

type deleteProjectsRequest struct {
	ProjectIDs []string `json:"project_ids"`
	Regions    []string `json:"regions"`
}

// deleteProjects handles DELETE /v1/projects with either project ids or
// region codes.
func (s *Server) deleteProjects(w http.ResponseWriter, r *http.Request) {
	var req deleteProjectsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "delete projects", err)
		return
	}
	var (
		deleted int
		err     error
	)
	switch {
	case len(req.ProjectIDs) > 0 && len(req.Regions) > 0:
		err = fmt.Errorf("%w: give project_ids or regions, not both", crawler.ErrValidation)
	case len(req.ProjectIDs) > 0:
		deleted, err = s.deps.Projects.DeleteProjects(r.Context(), req.ProjectIDs)
	case len(req.Regions) > 0:
		deleted, err = s.deps.Projects.DeleteProjectsByRegion(r.Context(), req.Regions)
	default:
		err = fmt.Errorf("%w: project_ids or regions is required", crawler.ErrValidation)
	}
	if err != nil {
		s.fail(w, "delete projects", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// getFields handles GET /v1/projects/{project_id}/fields. Unparsed projects
// report parsed=false and no fields.
func (s *Server) getFields(w http.ResponseWriter, r *http.Request) {
	project, err := s.deps.Projects.GetProject(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		s.fail(w, "get fields", err)
		return
	}
	dto := toProjectDTO(project)
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id": dto.ProjectID,
		"parsed":     dto.Parsed,
		"parsed_at":  dto.ParsedAt,
		"fields":     dto.Fields,
	})
}

// getDetail handles GET /v1/projects/{project_id}/detail with a live portal
// lookup, used to pick the sub-item to retrieve.
func (s *Server) getDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Catalog.GetProjectDetail(r.Context(), chi.URLParam(r, "project_id"))
	if err != nil {
		s.fail(w, "get detail", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detail": detail})
}

type invalidRequest struct {
	Invalid *bool `json:"invalid"`
}

// markInvalid handles POST /v1/projects/{project_id}/invalid. An empty body
// marks the project invalid.
func (s *Server) markInvalid(w http.ResponseWriter, r *http.Request) {
	invalid := true
	if r.ContentLength != 0 {
		var req invalidRequest
		if err := decodeJSON(r, &req); err != nil {
			s.fail(w, "mark invalid", err)
			return
		}
		if req.Invalid != nil {
			invalid = *req.Invalid
		}
	}
	projectID := chi.URLParam(r, "project_id")
	if err := s.deps.Projects.SetInvalid(r.Context(), projectID, invalid); err != nil {
		s.fail(w, "mark invalid", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "invalid": invalid})
}
