package engine

import (
	"strings"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
)

// DefaultTargetCategories are the enterprise investment filing and approval
// item types that make a project worth keeping.
var DefaultTargetCategories = []string{
	"企业投资（含外商投资）项目备案（基本建设）",
	"企业投资（含外商投资）项目备案（技术改造）",
	"企业投资（含外商投资）项目核准（基本建设）",
	"企业投资（含外商投资）项目核准（技术改造）",
}

// Classifier decides whether a project detail is a target and whether its name
// is excluded.
type Classifier struct {
	targets map[string]struct{}
	exclude []string
}

// NewClassifier builds a classifier. An empty target list selects the defaults.
func NewClassifier(targets, exclude []string) Classifier {
	if len(targets) == 0 {
		targets = DefaultTargetCategories
	}
	c := Classifier{targets: make(map[string]struct{}, len(targets))}
	for _, t := range targets {
		if t = strings.TrimSpace(t); t != "" {
			c.targets[t] = struct{}{}
		}
	}
	c.exclude = CleanKeywords(exclude)
	return c
}

// Matches reports whether any sub-item belongs to a target category.
func (c Classifier) Matches(detail crawler.ProjectDetail) bool {
	for _, item := range detail.Items {
		if _, ok := c.targets[strings.TrimSpace(item.ItemName)]; ok {
			return true
		}
	}
	return false
}

// Excluded returns the first exclusion keyword contained in name.
func (c Classifier) Excluded(name string) (string, bool) {
	for _, kw := range c.exclude {
		if strings.Contains(name, kw) {
			return kw, true
		}
	}
	return "", false
}

// CleanKeywords trims keywords, splits comma-joined entries and drops blanks.
func CleanKeywords(in []string) []string {
	var out []string
	for _, raw := range in {
		for _, kw := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '，' }) {
			if kw = strings.TrimSpace(kw); kw != "" {
				out = append(out, kw)
			}
		}
	}
	return out
}
