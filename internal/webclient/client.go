// Package webclient provides the shared HTTP client for every non-browser
// fetch the pipeline makes: geocoding lookups, street-level imagery, map
// tiles, and the mail API. It wraps a Colly collector so requests get
// connection pooling, a consistent User-Agent, and per-domain pacing.
package webclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// transportTimeout is the hard ceiling for any single request. Per-call
// deadlines come from the caller's context; this only prevents a wedged
// connection from outliving every caller.
const transportTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	DomainDelay   time.Duration
	MaxBodyBytes  int64
}

// Response is the outcome of a single request. Body is fully read; responses
// larger than the configured cap arrive truncated.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Client issues HTTP requests through a cloned Colly collector per call.
type Client struct {
	cfg    Config
	base   *colly.Collector
	limits *domainLimiter
	logger *zap.Logger
}

// New builds a Client. The base collector is cloned for every request, so the
// Client is safe for concurrent use.
func New(cfg Config, logger *zap.Logger) *Client {
	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.AllowURLRevisit = true
	// Non-2xx responses flow through OnResponse so callers can inspect the
	// status themselves. OnError is left for transport failures only.
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = int(cfg.MaxBodyBytes)
	}
	c.WithTransport(newHTTPTransport())
	// Clones share the HTTP backend, so the timeout is set once here rather
	// than per request.
	c.SetRequestTimeout(transportTimeout)

	return &Client{
		cfg:    cfg,
		base:   c,
		limits: newDomainLimiter(cfg.DomainDelay),
		logger: logger,
	}
}

// Get fetches rawURL. Extra headers are added to the request verbatim.
func (c *Client) Get(ctx context.Context, rawURL string, headers http.Header) (Response, error) {
	return c.do(ctx, rawURL, headers, func(collector *colly.Collector) error {
		return collector.Visit(rawURL)
	})
}

// PostJSON sends body to rawURL as an application/json POST.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body []byte, headers http.Header) (Response, error) {
	merged := http.Header{}
	for key, values := range headers {
		merged[key] = values
	}
	merged.Set("Content-Type", "application/json")
	return c.do(ctx, rawURL, merged, func(collector *colly.Collector) error {
		return collector.PostRaw(rawURL, body)
	})
}

func (c *Client) do(ctx context.Context, rawURL string, headers http.Header, visit func(*colly.Collector) error) (Response, error) {
	if err := c.limits.Wait(ctx, rawURL); err != nil {
		return Response{}, err
	}

	collector := c.base.Clone()

	var (
		result   Response
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- visit(collector)
	}()

	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("fetch %s canceled: %w", rawURL, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return Response{}, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		if err != nil && result.StatusCode == 0 {
			return Response{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		c.logger.Debug("fetched",
			zap.String("url", rawURL),
			zap.Int("status", result.StatusCode),
			zap.Int("bytes", len(result.Body)),
		)
		return result, nil
	}
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
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
