// Package collyfetcher executes single form/GET exchanges against the portal
// using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Request describes one exchange with the portal.
type Request struct {
	Method  string
	URL     string
	Form    url.Values
	Headers http.Header
}

// Response is what came back from the portal.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Waiter throttles outgoing requests.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher runs requests through a Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       Waiter
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	// Session cookies are managed explicitly by callers through headers.
	c.DisableCookies()
	c.WithTransport(newHTTPTransport())
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.MaxBodySize = cfg.MaxBodySize

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
	}
}

// Do executes request. Transport failures and non-2xx statuses are reported
// as crawler.ErrNetwork; context cancellation is returned as is.
func (f *Fetcher) Do(ctx context.Context, request Request) (Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return Response{}, err
		}
	}
	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request, &fetchErr); err != nil {
		return Response{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request Request,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
			if r.Headers != nil {
				result.Headers = r.Headers.Clone()
			}
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, request Request, fetchErr *error) error {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	var body *bytes.Reader
	hdr := http.Header{}
	if request.Form != nil {
		body = bytes.NewReader([]byte(request.Form.Encode()))
		hdr.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}

	done := make(chan error, 1)
	go func() {
		if body == nil {
			done <- collector.Request(method, request.URL, nil, nil, hdr)
			return
		}
		done <- collector.Request(method, request.URL, body, nil, hdr)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s %s canceled: %w", method, request.URL, ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("%w: %s %s: %v", crawler.ErrNetwork, method, request.URL, *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("%w: %s %s: %v", crawler.ErrNetwork, method, request.URL, err)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// SetCookies returns the name=value pairs from a response's Set-Cookie headers.
func SetCookies(headers http.Header) map[string]string {
	out := map[string]string{}
	resp := http.Response{Header: headers}
	for _, c := range resp.Cookies() {
		out[c.Name] = c.Value
	}
	return out
}

// CookieHeader renders cookies in a stable order for a Cookie header.
func CookieHeader(names []string, values map[string]string) string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if v, ok := values[name]; ok && v != "" {
			parts = append(parts, name+"="+v)
		}
	}
	return strings.Join(parts, "; ")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
