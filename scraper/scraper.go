package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-shops/config"
	"github.com/aluiziolira/go-scrape-shops/models"
	"github.com/aluiziolira/go-scrape-shops/parser"
)

// Scraper drives the shared lifecycle (session, pagination, retries,
// per-item isolation and accounting) for one Adapter.
//
// A Scraper owns exactly one session between Open and Close and runs at
// most one Scrape at a time. Independent instances share nothing and may
// run concurrently.
type Scraper struct {
	adapter    Adapter
	newSession SessionFactory
	transport  http.RoundTripper
	Metrics    *Metrics

	cfgMu sync.Mutex
	cfg   config.ScraperConfig

	sessMu  sync.Mutex
	session Session

	running atomic.Bool
}

// Option customizes a Scraper.
type Option func(*Scraper)

// WithTransport replaces the HTTP transport used by the default session.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Scraper) {
		s.transport = rt
	}
}

// WithSessionFactory replaces how sessions are opened.
func WithSessionFactory(f SessionFactory) Option {
	return func(s *Scraper) {
		s.newSession = f
	}
}

// WithMetrics replaces the metrics bundle. Passing nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Scraper) {
		s.Metrics = m
	}
}

// New builds a scraper for adapter configured from cfg.
func New(adapter Adapter, cfg config.ScraperConfig, opts ...Option) *Scraper {
	s := &Scraper{
		adapter:    adapter,
		newSession: NewCollySession,
		cfg:        cfg.Clone(),
		Metrics:    NewMetrics(adapter.Name()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the adapter's site tag.
func (s *Scraper) Name() string {
	return s.adapter.Name()
}

// Adapter returns the site adapter.
func (s *Scraper) Adapter() Adapter {
	return s.adapter
}

// Config returns a copy of the current settings.
func (s *Scraper) Config() config.ScraperConfig {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg.Clone()
}

// Configure mutates the settings. It fails while a scrape is running.
func (s *Scraper) Configure(fn func(*config.ScraperConfig)) error {
	if s.running.Load() {
		return ErrScrapeInProgress
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	fn(&s.cfg)
	return nil
}

// SetMaxPages overrides the pagination limit.
func (s *Scraper) SetMaxPages(n int) error {
	return s.Configure(func(cfg *config.ScraperConfig) {
		cfg.MaxPages = n
	})
}

// Open acquires the network session. Calling Open on an open scraper is a no-op.
func (s *Scraper) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	cfg := s.Config()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	if s.session != nil {
		return nil
	}
	session, err := s.newSession(cfg, s.transport)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	s.session = session
	slog.Debug("session opened", slog.String("site", s.adapter.Name()))
	return nil
}

// Close releases the session. It is safe to call more than once; the
// underlying session is closed exactly once per Open.
func (s *Scraper) Close() error {
	s.sessMu.Lock()
	session := s.session
	s.session = nil
	s.sessMu.Unlock()

	if session == nil {
		return nil
	}
	slog.Debug("session closed", slog.String("site", s.adapter.Name()))
	return session.Close()
}

func (s *Scraper) currentSession() Session {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	return s.session
}

// Run opens a session, scrapes rawURL and releases the session on every
// exit path, including panics.
func (s *Scraper) Run(ctx context.Context, rawURL string) (*models.ScrapeResult, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Warn("close session", slog.String("site", s.adapter.Name()), slog.Any("error", err))
		}
	}()
	return s.Scrape(ctx, rawURL)
}

// scrapeRun is the mutable state of one Scrape call.
type scrapeRun struct {
	cfg     config.ScraperConfig
	session Session
	breaker *breaker
	result  *models.ScrapeResult
	seen    map[string]struct{}
}

// Scrape walks the result pages of rawURL and returns the aggregated
// result. Fetch and extraction failures are recorded in the result; the
// returned error is reserved for invalid input, a missing session, an
// overlapping call, and cancellation (ErrCancelled, partial data dropped).
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (*models.ScrapeResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrScrapeInProgress
	}
	defer s.running.Store(false)

	cfg := s.Config()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	base, err := url.Parse(rawURL)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	session := s.currentSession()
	if session == nil {
		return nil, ErrSessionClosed
	}

	run := &scrapeRun{
		cfg:     cfg,
		session: session,
		breaker: newBreaker(cfg.MaxConsecutiveFailures),
		result:  models.NewScrapeResult(s.adapter.Name(), rawURL),
		seen:    make(map[string]struct{}),
	}
	result := run.result
	site := s.adapter.Name()

	slog.Info("scrape started",
		slog.String("site", site),
		slog.String("url", rawURL),
		slog.Int("max_pages", cfg.MaxPages),
	)

	cur := newCursor(cfg.MaxPages)
	for ; cur.more(); cur.advance() {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		if cur.page > 1 {
			if err := sleepContext(ctx, politeDelay(cfg)); err != nil {
				return nil, cancelled(err)
			}
		}

		pageURL, err := s.adapter.BuildPageURL(rawURL, cur.page)
		if err != nil {
			s.recordPageError(run, cur.page, rawURL, "build_url", err)
			break
		}

		page, err := s.fetchPage(ctx, run, pageURL, cur.page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, cancelled(ctx.Err())
			}
			s.recordPageError(run, cur.page, pageURL, errorTypeLabel(err), err)
			break
		}
		result.PagesVisited++
		s.Metrics.IncPages()

		items, err := s.listItems(page)
		if err != nil {
			s.recordPageError(run, cur.page, pageURL, "parse", err)
			break
		}
		if len(items) == 0 {
			slog.Info("no listing items, stopping",
				slog.String("site", site),
				slog.Int("page", cur.page),
			)
			break
		}

		before := result.Successful
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, cancelled(err)
			}
			s.processItem(ctx, run, item)
		}
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}

		slog.Info("page scraped",
			slog.String("site", site),
			slog.Int("page", cur.page),
			slog.Int("items", len(items)),
			slog.Int("extracted", result.Successful-before),
		)

		if run.breaker.open() {
			slog.Warn("circuit open, stopping pagination",
				slog.String("site", site),
				slog.Int("page", cur.page),
				slog.Int("consecutive_failures", cfg.MaxConsecutiveFailures),
			)
			break
		}
		if p, ok := s.adapter.(Paginator); ok {
			cur.hasNext = p.HasNextPage(page)
		}
	}

	result.Finalize(time.Now())
	slog.Info("scrape finished",
		slog.String("site", site),
		slog.Int("pages", result.PagesVisited),
		slog.Int("successful", result.Successful),
		slog.Int("failed", result.Failed),
		slog.Float64("success_rate", result.SuccessRate()),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

func (s *Scraper) recordPageError(run *scrapeRun, page int, pageURL, category string, err error) {
	msg := fmt.Sprintf("page %d (%s): %v", page, pageURL, err)
	run.result.RecordPageError(category, msg)
	s.Metrics.IncError(category)
	slog.Error("page failed",
		slog.String("site", s.adapter.Name()),
		slog.Int("page", page),
		slog.String("url", pageURL),
		slog.String("category", category),
		slog.Any("error", err),
	)
}

func (s *Scraper) fetchPage(ctx context.Context, run *scrapeRun, target string, number int) (*Page, error) {
	resp, err := s.fetch(ctx, run, target)
	if err != nil {
		return nil, err
	}
	pageURL := resp.URL
	if pageURL == nil {
		pageURL, _ = url.Parse(target)
	}
	return NewPage(number, pageURL, resp.StatusCode, resp.Body), nil
}

// fetch issues a GET with bounded retries and capped exponential backoff.
// Only transient failures are retried.
func (s *Scraper) fetch(ctx context.Context, run *scrapeRun, target string) (*Response, error) {
	for attempt := 0; ; attempt++ {
		if !run.breaker.allow() {
			return nil, ErrCircuitOpen
		}

		start := time.Now()
		resp, err := run.session.Fetch(ctx, target)
		s.Metrics.ObserveDuration(time.Since(start))

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if err == nil && (status == 0 || isSuccess(status)) {
			s.Metrics.IncRequest("ok")
			run.breaker.success()
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		classified := classifyError(err, status)
		s.Metrics.IncRequest("error")
		if !retryable(classified) || attempt >= run.cfg.MaxRetries {
			run.breaker.failure()
			return nil, classified
		}

		delay := backoff(run.cfg, attempt+1)
		run.result.Retries++
		s.Metrics.IncRetries()
		slog.Debug("retrying fetch",
			slog.String("url", target),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("category", errorTypeLabel(classified)),
		)
		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (s *Scraper) listItems(page *Page) (items []Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrExtractionPanic, r)
		}
	}()
	items, err = s.adapter.ExtractListingItems(page)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Page == nil {
			items[i].Page = page
		}
		if items[i].Position == 0 {
			items[i].Position = i + 1
		}
	}
	return items, nil
}

// processItem performs one isolated extraction attempt and records its outcome.
func (s *Scraper) processItem(ctx context.Context, run *scrapeRun, item Item) {
	result := run.result
	product, err := s.extractItem(ctx, run, item)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		category := errorTypeLabel(err)
		result.RecordFailure(category, fmt.Sprintf("%s: %v", item.Label(), err))
		s.Metrics.IncItems("failed")
		s.Metrics.IncError(category)
		slog.Error("item extraction failed",
			slog.String("site", s.adapter.Name()),
			slog.String("item", item.Label()),
			slog.String("category", category),
			slog.Any("error", err),
		)
		return
	}

	key := product.Key()
	if _, dup := run.seen[key]; dup {
		result.Duplicates++
		s.Metrics.IncItems("duplicate")
		slog.Debug("duplicate product dropped", slog.String("item", item.Label()), slog.String("id", product.ID))
		return
	}
	run.seen[key] = struct{}{}
	result.RecordSuccess(product)
	s.Metrics.IncItems("success")
	slog.Debug("product extracted", slog.String("id", product.ID), slog.String("title", product.Title))
}

func (s *Scraper) extractItem(ctx context.Context, run *scrapeRun, item Item) (*models.Product, error) {
	product, err := s.safeExtract(item)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("%w: adapter returned no record", ErrInvalidProduct)
	}

	if da, ok := s.adapter.(DetailAdapter); ok && da.NeedsDetail(product) {
		product, err = s.enrich(ctx, run, da, product)
		if err != nil {
			return nil, err
		}
	}

	if product.Site == "" {
		product.Site = s.adapter.Name()
	}
	if product.ScrapedAt.IsZero() {
		product.ScrapedAt = time.Now()
	}
	if product.Images == nil {
		product.Images = []string{}
	}
	if err := parser.ValidateProduct(product); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProduct, err)
	}
	return product, nil
}

func (s *Scraper) safeExtract(item Item) (p *models.Product, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = fmt.Errorf("%w: %v", ErrExtractionPanic, r)
		}
	}()
	return s.adapter.ExtractProduct(item)
}

// enrich fetches the product detail page, pausing politely first.
func (s *Scraper) enrich(ctx context.Context, run *scrapeRun, da DetailAdapter, p *models.Product) (out *models.Product, err error) {
	if err := sleepContext(ctx, politeDelay(run.cfg)); err != nil {
		return nil, err
	}
	resp, err := s.fetch(ctx, run, p.URL)
	if err != nil {
		return nil, fmt.Errorf("detail page: %w", err)
	}
	pageURL := resp.URL
	if pageURL == nil {
		pageURL, _ = url.Parse(p.URL)
	}
	page := NewPage(0, pageURL, resp.StatusCode, resp.Body)

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrExtractionPanic, r)
		}
	}()
	out, err = da.ExtractDetail(p, page)
	if err != nil {
		return nil, fmt.Errorf("detail page: %w", err)
	}
	if out == nil {
		return nil, errors.New("detail page: adapter returned no record")
	}
	return out, nil
}
