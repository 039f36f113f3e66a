package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-shops/config"
)

// Response is the raw outcome of one fetch.
type Response struct {
	URL        *url.URL
	StatusCode int
	Body       []byte
}

// Session is the network resource a Scraper owns between Open and Close.
// Fetch is called sequentially.
type Session interface {
	Fetch(ctx context.Context, target string) (*Response, error)
	Close() error
}

// SessionFactory opens a session for cfg. A nil transport selects the default.
type SessionFactory func(cfg config.ScraperConfig, transport http.RoundTripper) (Session, error)

type collySession struct {
	collector *colly.Collector
	transport http.RoundTripper

	mu      sync.Mutex
	ctx     context.Context
	resp    *Response
	status  int
	referer string
	fetchMu sync.Mutex
}

// NewCollySession builds a synchronous colly collector configured from cfg.
func NewCollySession(cfg config.ScraperConfig, transport http.RoundTripper) (Session, error) {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt

	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	collector.WithTransport(transport)

	if cfg.ProxyURL != "" {
		if err := collector.SetProxy(cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}
	s := &collySession{
		collector: collector,
		transport: transport,
	}

	headers := cfg.Clone().Headers
	collector.OnRequest(func(r *colly.Request) {
		for k, v := range headers {
			r.Headers.Set(k, v)
		}
		s.mu.Lock()
		ctx, referer := s.ctx, s.referer
		s.mu.Unlock()
		if referer != "" && r.Headers.Get("Referer") == "" {
			r.Headers.Set("Referer", referer)
		}
		if ctx != nil && ctx.Err() != nil {
			r.Abort()
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		s.mu.Lock()
		s.resp = &Response{
			URL:        r.Request.URL,
			StatusCode: r.StatusCode,
			Body:       r.Body,
		}
		s.mu.Unlock()
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r == nil {
			return
		}
		s.mu.Lock()
		s.status = r.StatusCode
		s.mu.Unlock()
	})

	return s, nil
}

// Fetch performs one blocking GET bound to ctx. The previously fetched URL
// is sent as Referer. On a non-success status it returns the error together
// with a Response carrying only the status code.
func (s *collySession) Fetch(ctx context.Context, target string) (*Response, error) {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.ctx = ctx
	s.resp = nil
	s.status = 0
	s.mu.Unlock()

	s.collector.Context = ctx
	visitErr := s.collector.Visit(target)
	s.collector.Context = context.Background()

	s.mu.Lock()
	resp, status := s.resp, s.status
	s.ctx = nil
	if resp != nil {
		s.referer = resp.URL.String()
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if visitErr != nil {
		if status != 0 {
			return &Response{StatusCode: status}, visitErr
		}
		return nil, visitErr
	}
	if resp == nil {
		return nil, errors.New("no response received")
	}
	return resp, nil
}

// Close drops idle keep-alive connections held by the transport.
func (s *collySession) Close() error {
	type idleCloser interface {
		CloseIdleConnections()
	}
	if c, ok := s.transport.(idleCloser); ok {
		c.CloseIdleConnections()
	}
	return nil
}
