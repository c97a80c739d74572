// Package catalog translates catalog operations (regions, item pages, project
// details) into calls against the portal's publicannouncement endpoint.
package catalog

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/tzxm-crawler/internal/fetcher/colly"
)

// Portal constants.
const (
	DefaultBaseURL = "https://tzxm.zjzwfw.gov.cn"
	// PageSize is fixed by the portal; the itemList response only reports a record count.
	PageSize = 10

	endpointPath = "/publicannouncement.do"
	listPagePath = "/tzxmweb/zwtpages/resultsPublicity/notice_of_publicity_new.html"
	userAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// Doer executes one portal exchange.
type Doer interface {
	Do(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Client implements crawler.Catalog. It never retries; retry policy belongs to the engine.
type Client struct {
	doer    Doer
	baseURL string
	logger  *zap.Logger
}

var _ crawler.Catalog = (*Client)(nil)

// New builds a Client. An empty baseURL selects the public portal.
func New(doer Doer, baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		doer:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.Named("catalog"),
	}
}

// BaseURL returns the portal origin the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Endpoint builds the endpoint URL for a method plus optional extra query values.
func (c *Client) Endpoint(method string, extra url.Values) string {
	q := url.Values{}
	q.Set("method", method)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return c.baseURL + endpointPath + "?" + q.Encode()
}

// DefaultHeaders mirrors what the portal's own list page sends.
func DefaultHeaders(baseURL string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	h.Set("Origin", baseURL)
	h.Set("Referer", baseURL+listPagePath)
	return h
}

// ListRegions returns the flat administrative-area list.
func (c *Client) ListRegions(ctx context.Context) ([]crawler.Region, error) {
	body, err := c.post(ctx, "getxzTreeNodes", nil, url.Values{})
	if err != nil {
		return nil, err
	}
	return decodeRegions(body)
}

// ListItems fetches one page of a region's catalog. Page 0 doubles as a probe
// for the page count.
func (c *Client) ListItems(ctx context.Context, regionCode string, page int) (crawler.ItemPage, error) {
	form := url.Values{}
	form.Set("pageFlag", "")
	form.Set("pageNo", strconv.Itoa(page))
	form.Set("area_code", regionCode)
	form.Set("area_flag", "0")
	form.Set("deal_code", "")
	form.Set("item_name", "")

	body, err := c.post(ctx, "itemList", nil, form)
	if err != nil {
		return crawler.ItemPage{}, err
	}
	items, count, err := decodeItemPage(body)
	if err != nil {
		return crawler.ItemPage{}, err
	}
	return crawler.ItemPage{Items: items, TotalPages: TotalPages(count)}, nil
}

// GetProjectDetail fetches a project's detail. An empty payload yields
// crawler.ErrNotFound.
func (c *Client) GetProjectDetail(ctx context.Context, projectID string) (crawler.ProjectDetail, error) {
	body, err := c.post(ctx, "projectDetail", url.Values{"projectuuid": {projectID}}, url.Values{})
	if err != nil {
		return crawler.ProjectDetail{}, err
	}
	detail, err := decodeProjectDetail(body)
	if err != nil {
		return crawler.ProjectDetail{}, fmt.Errorf("project %s: %w", projectID, err)
	}
	if detail.ProjectID == "" {
		detail.ProjectID = projectID
	}
	return detail, nil
}

// TotalPages converts the portal's record count into a page count.
func TotalPages(count int) int {
	if count <= 0 {
		return 0
	}
	return int(math.Ceil(float64(count) / float64(PageSize)))
}

func (c *Client) post(ctx context.Context, method string, query, form url.Values) ([]byte, error) {
	endpoint := c.Endpoint(method, query)
	resp, err := c.doer.Do(ctx, collyfetcher.Request{
		Method:  http.MethodPost,
		URL:     endpoint,
		Form:    form,
		Headers: DefaultHeaders(c.baseURL),
	})
	if err != nil {
		c.logger.Debug("catalog call failed", zap.String("method", method), zap.Error(err))
		return nil, err
	}
	return resp.Body, nil
}
