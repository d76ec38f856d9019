// Package httpclient implements the HTTP Client component (spec.md §4.2):
// a cookie-jar-sharing, proxy-rotating, UA-rotating requester built on a
// cloned gocolly collector, following the teacher's
// internal/fetcher/colly/fetcher.go shape.
package httpclient

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Laque-Maranda12/yandex-reviews/internal/reviews"
)

type userAgent struct {
	value     string
	chromium  bool
	platform  string // Windows, macOS, Linux — only meaningful when chromium
}

var userAgents = []userAgent{
	{value: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", chromium: true, platform: "Windows"},
	{value: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", chromium: true, platform: "macOS"},
	{value: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", chromium: true, platform: "Linux"},
	{value: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0", chromium: false},
	{value: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15", chromium: false},
}

const defaultTimeout = 20 * time.Second

// Config controls the shared collector, proxy rotation, and the floor rate
// limit applied across every request this Client issues — independent of
// the Paginator's own page-delay pauses, this protects against bursts
// caused by retries or proxy failover (spec.md §4.2).
type Config struct {
	Proxies           []string
	Timeout           time.Duration
	RequestsPerSecond float64
	Logger            *zap.Logger
}

const defaultRequestsPerSecond = 2.0

// Client implements reviews.HTTPClient.
type Client struct {
	cfg       Config
	base      *colly.Collector
	transport http.RoundTripper
	limiter   *rate.Limiter
	proxyIdx  int
	uaIdx     int
	logger    *zap.Logger
}

// New builds a Client with a fresh cookie jar and a random starting UA.
func New(cfg Config) *Client {
	c := colly.NewCollector(colly.Async(false))
	transport := newTransport()
	c.WithTransport(transport)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	return &Client{
		cfg:       cfg,
		base:      c,
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		uaIdx:     rand.Intn(len(userAgents)),
		logger:    logger,
	}
}

// Get issues a single GET, returning a soft-null Response on any transport
// error (spec.md §4.2 "Treats any transport error as a soft null return").
func (c *Client) Get(ctx context.Context, targetURL string, query map[string]string, extraHeaders http.Header, timeout time.Duration) (*reviews.Response, error) {
	if timeout == 0 {
		timeout = defaultTimeout
		if c.cfg.Timeout != 0 {
			timeout = c.cfg.Timeout
		}
	}

	full, err := withQuery(targetURL, query)
	if err != nil {
		c.logger.Warn("httpclient: malformed url, returning soft null", zap.Error(err))
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Warn("httpclient: rate limit wait canceled, returning soft null", zap.Error(err))
		return nil, nil
	}

	collector := c.base.Clone()
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(c.transportWithProxy())

	ua := c.currentUA()
	collector.UserAgent = ua.value

	var result *reviews.Response
	var callErr error

	collector.OnRequest(func(r *colly.Request) {
		c.applyHeaders(r, ua, extraHeaders)
	})
	collector.OnResponse(func(r *colly.Response) {
		result = &reviews.Response{
			StatusCode: r.StatusCode,
			Headers:    cloneHeader(*r.Headers),
			Body:       append([]byte(nil), r.Body...),
			URL:        r.Request.URL.String(),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		callErr = err
	})

	done := make(chan error, 1)
	go func() { done <- collector.Visit(full) }()

	select {
	case <-ctx.Done():
		c.logger.Warn("httpclient: context canceled, returning soft null", zap.Error(ctx.Err()))
		return nil, nil
	case err := <-done:
		if err != nil {
			c.logger.Warn("httpclient: visit failed, returning soft null", zap.Error(err))
			return nil, nil
		}
	}
	if callErr != nil {
		c.logger.Warn("httpclient: response error, returning soft null", zap.Error(callErr))
		return nil, nil
	}
	return result, nil
}

// RotateProxy advances the round-robin proxy index.
func (c *Client) RotateProxy() {
	if len(c.cfg.Proxies) == 0 {
		return
	}
	c.proxyIdx = (c.proxyIdx + 1) % len(c.cfg.Proxies)
}

// ResetIdentity wipes the cookie jar and selects a fresh random UA
// (spec.md §4.3 resetSession).
func (c *Client) ResetIdentity() {
	c.base = colly.NewCollector(colly.Async(false))
	c.base.WithTransport(c.transport)
	c.uaIdx = rand.Intn(len(userAgents))
}

func (c *Client) currentUA() userAgent {
	return userAgents[c.uaIdx%len(userAgents)]
}

func (c *Client) applyHeaders(r *colly.Request, ua userAgent, extra http.Header) {
	r.Headers.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	if ua.chromium {
		r.Headers.Set("Sec-Ch-Ua", chromiumSecChUa())
		r.Headers.Set("Sec-Ch-Ua-Mobile", "?0")
		r.Headers.Set("Sec-Ch-Ua-Platform", fmt.Sprintf("%q", ua.platform))
	}
	for k, values := range extra {
		for _, v := range values {
			r.Headers.Add(k, v)
		}
	}
}

func chromiumSecChUa() string {
	return `"Chromium";v="124", "Google Chrome";v="124", "Not-A.Brand";v="99"`
}

func (c *Client) transportWithProxy() http.RoundTripper {
	if len(c.cfg.Proxies) == 0 {
		return c.transport
	}
	proxyURL, err := url.Parse(c.cfg.Proxies[c.proxyIdx%len(c.cfg.Proxies)])
	if err != nil {
		return c.transport
	}
	base := newTransport()
	base.Proxy = http.ProxyURL(proxyURL)
	return base
}

func newTransport() *http.Transport {
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

func withQuery(targetURL string, query map[string]string) (string, error) {
	if len(query) == 0 {
		return targetURL, nil
	}
	u, err := url.Parse(targetURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func cloneHeader(h http.Header) http.Header {
	return h.Clone()
}
