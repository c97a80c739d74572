package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
)

// flexString accepts JSON strings, numbers, booleans and null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	case b[0] == '{' || b[0] == '[':
		return fmt.Errorf("expected scalar, got %c", b[0])
	default:
		*f = flexString(b)
	}
	return nil
}

func (f flexString) String() string {
	return strings.TrimSpace(string(f))
}

type wireRegion struct {
	ID   flexString `json:"id"`
	Name flexString `json:"name"`
	PID  flexString `json:"pId"`
}

type wireItem struct {
	SendID    flexString `json:"SENDID"`
	ProjectID flexString `json:"projectuuid"`
	ItemName  flexString `json:"ITEM_NAME"`
	DealTime  flexString `json:"DEAL_TIME"`
}

type wireItemPage struct {
	ItemList []wireItem `json:"itemList"`
	Counts   flexString `json:"counts"`
}

type wireProjectItem struct {
	SendID   flexString `json:"sendid"`
	ItemName flexString `json:"item_name"`
	URL      flexString `json:"url"`
}

type wireProjectDetail struct {
	ProjectUUID      flexString        `json:"projectuuid"`
	ProjectUUIDCamel flexString        `json:"projectUUID"`
	Name             flexString        `json:"apply_project_name"`
	Code             flexString        `json:"project_code"`
	Items            []wireProjectItem `json:"itemListInfoVo"`
}

// decodeArray parses a body that must be a JSON array, whatever the declared
// content type was.
func decodeArray(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimPrefix(bytes.TrimSpace(body), []byte("\xef\xbb\xbf"))
	var arr []json.RawMessage
	if err := json.Unmarshal(body, &arr); err != nil || arr == nil {
		return nil, fmt.Errorf("%w: expected JSON array (body %q)", crawler.ErrProtocol, snippet(body))
	}
	return arr, nil
}

func decodeRegions(body []byte) ([]crawler.Region, error) {
	arr, err := decodeArray(body)
	if err != nil {
		return nil, err
	}
	regions := make([]crawler.Region, 0, len(arr))
	for i, raw := range arr {
		var w wireRegion
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("%w: region %d: %v", crawler.ErrProtocol, i, err)
		}
		regions = append(regions, crawler.Region{
			ID:       w.ID.String(),
			ParentID: w.PID.String(),
			Name:     w.Name.String(),
		})
	}
	return regions, nil
}

func decodeItemPage(body []byte) ([]crawler.ItemSummary, int, error) {
	arr, err := decodeArray(body)
	if err != nil {
		return nil, 0, err
	}
	if len(arr) == 0 {
		return nil, 0, fmt.Errorf("%w: empty item list response", crawler.ErrProtocol)
	}
	var page wireItemPage
	if err := json.Unmarshal(arr[0], &page); err != nil {
		return nil, 0, fmt.Errorf("%w: item list payload: %v", crawler.ErrProtocol, err)
	}
	count := 0
	if c := page.Counts.String(); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: counts %q is not an integer", crawler.ErrProtocol, c)
		}
		count = n
	}
	items := make([]crawler.ItemSummary, 0, len(page.ItemList))
	for _, it := range page.ItemList {
		items = append(items, crawler.ItemSummary{
			SendID:    it.SendID.String(),
			ProjectID: it.ProjectID.String(),
			ItemName:  it.ItemName.String(),
			DealTime:  it.DealTime.String(),
		})
	}
	return items, count, nil
}

func decodeProjectDetail(body []byte) (crawler.ProjectDetail, error) {
	arr, err := decodeArray(body)
	if err != nil {
		return crawler.ProjectDetail{}, err
	}
	if len(arr) == 0 {
		return crawler.ProjectDetail{}, crawler.ErrNotFound
	}
	var w wireProjectDetail
	if err := json.Unmarshal(arr[0], &w); err != nil {
		return crawler.ProjectDetail{}, fmt.Errorf("%w: project detail payload: %v", crawler.ErrProtocol, err)
	}
	id := w.ProjectUUID.String()
	if id == "" {
		id = w.ProjectUUIDCamel.String()
	}
	detail := crawler.ProjectDetail{
		ProjectID: id,
		Name:      w.Name.String(),
		Code:      w.Code.String(),
		Items:     make([]crawler.ProjectItem, 0, len(w.Items)),
	}
	for _, it := range w.Items {
		detail.Items = append(detail.Items, crawler.ProjectItem{
			SendID:   it.SendID.String(),
			ItemName: it.ItemName.String(),
			URL:      it.URL.String(),
		})
	}
	return detail, nil
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
}
