package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/JakeFAU/tzxm-crawler/internal/catalog"
	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/tzxm-crawler/internal/fetcher/colly"
)

const detailPagePath = "/tzxmweb/zwtpages/resultsPublicity/notice_of_publicity_content_new.html"

// sessionCookies are the only cookies the portal ties a captcha to.
var sessionCookies = []string{"JSESSIONID", "SERVERID"}

// portal speaks the captcha and download methods of the announcement endpoint.
type portal struct {
	doer    catalog.Doer
	catalog *catalog.Client
	clock   crawler.Clock
}

func (p *portal) endpoint(method string, extra url.Values) string {
	return p.catalog.Endpoint(method, extra)
}

func (p *portal) referer(projectID, sendID string) string {
	q := url.Values{}
	q.Set("pUid", projectID)
	q.Set("sendid", sendID)
	return p.catalog.BaseURL() + detailPagePath + "?" + q.Encode()
}

func (p *portal) headers(s *Session) http.Header {
	h := catalog.DefaultHeaders(p.catalog.BaseURL())
	if s.Referer != "" {
		h.Set("Referer", s.Referer)
	}
	if cookie := collyfetcher.CookieHeader(sessionCookies, s.cookies); cookie != "" {
		h.Set("Cookie", cookie)
	}
	return h
}

// establish opens a remote session through the projectDetail call and keeps
// the session cookies it sets.
func (p *portal) establish(ctx context.Context, s *Session) error {
	resp, err := p.doer.Do(ctx, collyfetcher.Request{
		Method:  http.MethodPost,
		URL:     p.endpoint("projectDetail", url.Values{"projectuuid": {s.ProjectID}}),
		Form:    url.Values{},
		Headers: p.headers(s),
	})
	if err != nil {
		return fmt.Errorf("establish session: %w", err)
	}
	p.keepCookies(s, resp)
	return nil
}

// challenge fetches a fresh captcha image bound to the session cookies.
func (p *portal) challenge(ctx context.Context, s *Session) ([]byte, error) {
	h := p.headers(s)
	h.Set("Accept", "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8")
	resp, err := p.doer.Do(ctx, collyfetcher.Request{
		Method:  http.MethodGet,
		URL:     p.endpoint("publicCheckContent", url.Values{"t": {millis(p.clock.Now())}}),
		Headers: h,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch challenge: %w", err)
	}
	p.keepCookies(s, resp)
	if len(resp.Body) == 0 {
		return nil, fmt.Errorf("%w: empty challenge image", crawler.ErrProtocol)
	}
	return resp.Body, nil
}

// checkRandom submits a candidate code and reports whether the portal accepted it.
func (p *portal) checkRandom(ctx context.Context, s *Session, code string) (bool, error) {
	resp, err := p.doer.Do(ctx, collyfetcher.Request{
		Method:  http.MethodPost,
		URL:     p.endpoint("CheckRandom", nil),
		Form:    url.Values{"Txtidcode": {code}},
		Headers: p.headers(s),
	})
	if err != nil {
		return false, fmt.Errorf("check code: %w", err)
	}
	p.keepCookies(s, resp)
	return accepted(resp.Body), nil
}

// downFile fetches a document with the accepted code.
func (p *portal) downFile(ctx context.Context, s *Session, sendID, flag string) ([]byte, http.Header, error) {
	q := url.Values{}
	q.Set("sendid", sendID)
	q.Set("flag", flag)
	q.Set("Txtidcode", s.code)
	h := p.headers(s)
	h.Set("Accept", "*/*")
	resp, err := p.doer.Do(ctx, collyfetcher.Request{
		Method:  http.MethodGet,
		URL:     p.endpoint("downFile", q),
		Headers: h,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("download %s: %w", sendID, err)
	}
	if len(resp.Body) == 0 {
		return nil, nil, fmt.Errorf("%w: download %s: empty body", crawler.ErrProtocol, sendID)
	}
	return resp.Body, resp.Headers, nil
}

func (p *portal) keepCookies(s *Session, resp collyfetcher.Response) {
	for name, value := range collyfetcher.SetCookies(resp.Headers) {
		for _, wanted := range sessionCookies {
			if name == wanted && value != "" {
				s.cookies[name] = value
			}
		}
	}
}

// accepted reads the random_flag verdict. The body is JSON in practice but is
// served as text/html, so a literal match backs up the decode.
func accepted(body []byte) bool {
	body = bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")))
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		return flagSet(obj["random_flag"])
	}
	var arr []map[string]any
	if err := json.Unmarshal(body, &arr); err == nil {
		return len(arr) > 0 && flagSet(arr[0]["random_flag"])
	}
	return bytes.Contains(body, []byte(`"random_flag":"1"`))
}

func flagSet(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "1"
	case float64:
		return t == 1
	default:
		return false
	}
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
