package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
)

// RegionLister fetches the flat region list from the portal.
type RegionLister interface {
	ListRegions(ctx context.Context) ([]crawler.Region, error)
}

// RegionCache keeps the region list in memory and, when a path is set, on
// disk. Regions are immutable once fetched, so only Refresh goes back to the
// portal.
type RegionCache struct {
	path   string
	lister RegionLister
	logger *zap.Logger

	mu      sync.Mutex
	regions []crawler.Region
}

// NewRegionCache builds a cache backed by path (may be empty for memory only).
func NewRegionCache(path string, lister RegionLister, logger *zap.Logger) *RegionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegionCache{path: path, lister: lister, logger: logger.Named("regions")}
}

// Regions returns the cached list, loading from disk or the portal on first use.
func (c *RegionCache) Regions(ctx context.Context) ([]crawler.Region, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.regions != nil {
		return c.regions, nil
	}
	if loaded, err := c.readFile(); err == nil {
		c.regions = loaded
		return loaded, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("region cache unreadable, refetching", zap.String("path", c.path), zap.Error(err))
	}
	return c.refreshLocked(ctx)
}

// Refresh refetches regions from the portal and rewrites the cache file.
func (c *RegionCache) Refresh(ctx context.Context) ([]crawler.Region, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

// Tree returns the city-level region tree.
func (c *RegionCache) Tree(ctx context.Context, refresh bool) ([]crawler.RegionNode, error) {
	var (
		regions []crawler.Region
		err     error
	)
	if refresh {
		regions, err = c.Refresh(ctx)
	} else {
		regions, err = c.Regions(ctx)
	}
	if err != nil {
		return nil, err
	}
	return BuildTree(regions), nil
}

// DisplayNames maps each code to a "parent/child" label. Codes missing from
// the cache map to themselves. It never fetches from the portal.
func (c *RegionCache) DisplayNames(codes []string) map[string]string {
	c.mu.Lock()
	regions := c.regions
	c.mu.Unlock()
	if regions == nil {
		if loaded, err := c.readFile(); err == nil {
			regions = loaded
		}
	}
	byID := make(map[string]crawler.Region, len(regions))
	for _, r := range regions {
		byID[r.ID] = r
	}
	out := make(map[string]string, len(codes))
	for _, code := range codes {
		r, ok := byID[code]
		if !ok {
			out[code] = code
			continue
		}
		label := r.Name
		if parent, ok := byID[r.ParentID]; ok && parent.Name != r.Name {
			label = parent.Name + "/" + r.Name
		}
		out[code] = label
	}
	return out
}

func (c *RegionCache) refreshLocked(ctx context.Context) ([]crawler.Region, error) {
	regions, err := c.lister.ListRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	c.regions = regions
	if err := c.writeFile(regions); err != nil {
		c.logger.Warn("write region cache", zap.String("path", c.path), zap.Error(err))
	}
	c.logger.Info("regions refreshed", zap.Int("count", len(regions)))
	return regions, nil
}

func (c *RegionCache) readFile() ([]crawler.Region, error) {
	if c.path == "" {
		return nil, fs.ErrNotExist
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read region cache: %w", err)
	}
	var regions []crawler.Region
	if err := json.Unmarshal(data, &regions); err != nil {
		return nil, fmt.Errorf("decode region cache: %w", err)
	}
	return regions, nil
}

func (c *RegionCache) writeFile(regions []crawler.Region) error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return fmt.Errorf("create region cache dir: %w", err)
	}
	data, err := json.MarshalIndent(regions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode region cache: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write region cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace region cache: %w", err)
	}
	return nil
}

// BuildTree links the flat list into a tree and returns the city level: the
// children of every root (province) node, in input order.
func BuildTree(regions []crawler.Region) []crawler.RegionNode {
	children := make(map[string][]crawler.Region, len(regions))
	known := make(map[string]bool, len(regions))
	for _, r := range regions {
		known[r.ID] = true
	}
	var roots []crawler.Region
	for _, r := range regions {
		switch {
		case r.ParentID == "":
			roots = append(roots, r)
		case known[r.ParentID]:
			children[r.ParentID] = append(children[r.ParentID], r)
		}
	}

	var build func(r crawler.Region, seen map[string]bool) crawler.RegionNode
	build = func(r crawler.Region, seen map[string]bool) crawler.RegionNode {
		node := crawler.RegionNode{Region: r}
		if seen[r.ID] {
			return node
		}
		seen[r.ID] = true
		for _, child := range children[r.ID] {
			node.Children = append(node.Children, build(child, seen))
		}
		return node
	}

	cities := []crawler.RegionNode{}
	for _, root := range roots {
		seen := map[string]bool{root.ID: true}
		for _, child := range children[root.ID] {
			cities = append(cities, build(child, seen))
		}
	}
	return cities
}
