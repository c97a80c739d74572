// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values exposed through the task registry.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CrawlMode selects the scan strategy for a job.
type CrawlMode string

// Supported scan strategies.
const (
	ModeFull        CrawlMode = "full"
	ModeIncremental CrawlMode = "incremental"
)

// Valid reports whether the mode is one of the supported strategies.
func (m CrawlMode) Valid() bool {
	return m == ModeFull || m == ModeIncremental
}

// Region is one node of the remote administrative-area tree.
type Region struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Name     string `json:"name"`
}

// RegionNode is a region with its direct children, used for tree views.
type RegionNode struct {
	Region
	Children []RegionNode `json:"children,omitempty"`
}

// ItemSummary is one catalog entry returned by an itemList page.
type ItemSummary struct {
	SendID    string `json:"sendid"`
	ProjectID string `json:"project_id"`
	ItemName  string `json:"item_name"`
	DealTime  string `json:"deal_time"`
}

// ItemPage is one page of the catalog plus the derived page count.
type ItemPage struct {
	Items      []ItemSummary `json:"items"`
	TotalPages int           `json:"total_pages"`
}

// ProjectItem is one approval item attached to a project.
type ProjectItem struct {
	SendID   string `json:"sendid"`
	ItemName string `json:"item_name"`
	URL      string `json:"url,omitempty"`
}

// ProjectDetail is the full record for a project as served by the catalog.
type ProjectDetail struct {
	ProjectID string        `json:"project_id"`
	Name      string        `json:"name"`
	Code      string        `json:"code"`
	Items     []ProjectItem `json:"items"`
}

// Checkpoint is the per-region resumption point for incremental scans.
type Checkpoint struct {
	RegionCode string    `json:"region_code"`
	LastSendID string    `json:"last_sendid"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DiscoveredProject is the persisted record of a matching project.
type DiscoveredProject struct {
	ProjectID    string     `json:"project_id"`
	Name         string     `json:"name"`
	RegionCode   string     `json:"region_code"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	Parsed       bool       `json:"parsed"`
	ParsedAt     *time.Time `json:"parsed_at,omitempty"`
	Fields       []byte     `json:"-"`
	RawPath      string     `json:"raw_path,omitempty"`
	Invalid      bool       `json:"invalid"`
}

// ProjectFilter narrows project listings.
type ProjectFilter struct {
	Regions []string
	// Parsed filters on parse state when non-nil.
	Parsed *bool
	Limit  int
	Offset int
}

// RunCounters accumulate per-run item statistics.
type RunCounters struct {
	TotalItems      int `json:"total_items"`
	MatchedProjects int `json:"matched_projects"`
	NewProjects     int `json:"new_projects"`
	FilteredItems   int `json:"filtered_items"`
	SkippedItems    int `json:"skipped_items"`
	AbortedRegions  int `json:"aborted_regions"`
}

// Add folds other into c.
func (c *RunCounters) Add(other RunCounters) {
	c.TotalItems += other.TotalItems
	c.MatchedProjects += other.MatchedProjects
	c.NewProjects += other.NewProjects
	c.FilteredItems += other.FilteredItems
	c.SkippedItems += other.SkippedItems
	c.AbortedRegions += other.AbortedRegions
}

// CrawlRun is the append-only audit row created for every job.
type CrawlRun struct {
	ID         string      `json:"id"`
	JobID      string      `json:"job_id"`
	Mode       CrawlMode   `json:"mode"`
	Regions    []string    `json:"regions"`
	Status     JobStatus   `json:"status"`
	ErrorText  string      `json:"error_text,omitempty"`
	Counters   RunCounters `json:"counters"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// JobParameters captures what a client asks a crawl job to do.
type JobParameters struct {
	Mode            CrawlMode `json:"mode" mapstructure:"mode"`
	Regions         []string  `json:"regions" mapstructure:"regions"`
	ExcludeKeywords []string  `json:"exclude_keywords,omitempty" mapstructure:"exclude_keywords"`
}

// TaskInfo is the in-process view of a job's lifecycle.
type TaskInfo struct {
	ID              string        `json:"id"`
	RunID           string        `json:"run_id"`
	Status          JobStatus     `json:"status"`
	CancelRequested bool          `json:"cancel_requested"`
	Message         string        `json:"message,omitempty"`
	Params          JobParameters `json:"params"`
	SubmittedAt     time.Time     `json:"submitted_at"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	FinishedAt      *time.Time    `json:"finished_at,omitempty"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	RunID     string
	Params    JobParameters
	Submitted int64
}

// DiscoveryEvent is published whenever a new matching project is stored.
type DiscoveryEvent struct {
	ProjectID  string    `json:"project_id"`
	Name       string    `json:"name"`
	RegionCode string    `json:"region_code"`
	JobID      string    `json:"job_id"`
	RunID      string    `json:"run_id"`
	Discovered time.Time `json:"discovered_at"`
}
