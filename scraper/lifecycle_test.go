package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-shops/config"
	"github.com/aluiziolira/go-scrape-shops/models"
	"github.com/aluiziolira/go-scrape-shops/parser"
)

// fakeSession serves canned bodies and counts how often it is released.
type fakeSession struct {
	mu      sync.Mutex
	pages   map[string]string
	status  map[string]int
	fetched []string
	closes  int
}

func newFakeSession() *fakeSession {
	return &fakeSession{pages: map[string]string{}, status: map[string]int{}}
}

func (f *fakeSession) Fetch(ctx context.Context, target string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, target)
	if code, ok := f.status[target]; ok {
		return &Response{StatusCode: code}, errors.New(http.StatusText(code))
	}
	body, ok := f.pages[target]
	if !ok {
		return &Response{StatusCode: http.StatusNotFound}, errors.New("Not Found")
	}
	u, _ := url.Parse(target)
	return &Response{URL: u, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeSession) wasFetched(target string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.fetched, target)
}

func (f *fakeSession) factory() SessionFactory {
	return func(config.ScraperConfig, http.RoundTripper) (Session, error) {
		return f, nil
	}
}

type exploding struct{ shopAdapter }

func (exploding) BuildPageURL(string, int) (string, error) {
	panic("page url template missing")
}

// cancelOnItem cancels the scrape context while extracting the named item.
type cancelOnItem struct {
	shopAdapter
	ref    string
	cancel context.CancelFunc
}

func (c cancelOnItem) ExtractProduct(item Item) (*models.Product, error) {
	if item.Ref == c.ref {
		c.cancel()
	}
	return c.shopAdapter.ExtractProduct(item)
}

// detailShop needs a detail fetch for every product lacking a price.
type detailShop struct{ shopAdapter }

func (detailShop) NeedsDetail(p *models.Product) bool { return p.Price == nil }

func (detailShop) ExtractDetail(p *models.Product, page *Page) (*models.Product, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, err
	}
	out := *p
	out.Price = parser.ParsePrice(doc.Find("#price").Text(), "USD")
	return &out, nil
}

func priceless(ids ...string) string {
	body := "<html><body>"
	for _, id := range ids {
		body += fmt.Sprintf(`<div class="item" data-id="%s"><a class="title" href="/p/%s">Product %s</a></div>`, id, id, id)
	}
	return body + "</body></html>"
}

func TestRunReleasesSessionOnSuccess(t *testing.T) {
	sess := newFakeSession()
	sess.pages[pageURL(1)] = buildListing(false, "a")
	cfg := testConfig()
	cfg.MaxPages = 1

	s := New(shopAdapter{}, cfg, WithSessionFactory(sess.factory()))
	result, err := s.Run(context.Background(), shopBase)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Successful != 1 {
		t.Fatalf("successful = %d, want 1", result.Successful)
	}
	if got := sess.closeCount(); got != 1 {
		t.Fatalf("closes = %d, want 1", got)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if got := sess.closeCount(); got != 1 {
		t.Fatalf("closes after second Close = %d, want 1", got)
	}
}

func TestRunReleasesSessionOnPanic(t *testing.T) {
	sess := newFakeSession()
	s := New(exploding{}, testConfig(), WithSessionFactory(sess.factory()))

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("expected the adapter panic to propagate")
			}
		}()
		_, _ = s.Run(context.Background(), shopBase)
	}()

	if got := sess.closeCount(); got != 1 {
		t.Fatalf("closes = %d, want 1", got)
	}
}

func TestRunCancelledMidScrape(t *testing.T) {
	sess := newFakeSession()
	sess.pages[pageURL(1)] = buildListing(true, "a", "b", "c")
	sess.pages[pageURL(2)] = buildListing(false, "d")
	cfg := testConfig()
	cfg.MaxPages = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(cancelOnItem{ref: "b", cancel: cancel}, cfg, WithSessionFactory(sess.factory()))

	result, err := s.Run(ctx, shopBase)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if result != nil {
		t.Fatalf("partial result returned: %+v", result)
	}
	if got := sess.closeCount(); got != 1 {
		t.Fatalf("closes = %d, want 1", got)
	}
	if sess.wasFetched(pageURL(2)) {
		t.Fatalf("page 2 fetched after cancellation")
	}
}

func TestScrapeWaitsBetweenPages(t *testing.T) {
	sess := newFakeSession()
	sess.pages[pageURL(1)] = buildListing(true, "a")
	sess.pages[pageURL(2)] = buildListing(false, "b")
	cfg := testConfig()
	cfg.MaxPages = 2
	cfg.DelayMin = 50 * time.Millisecond
	cfg.DelayMax = 50 * time.Millisecond

	s := New(shopAdapter{}, cfg, WithSessionFactory(sess.factory()))
	start := time.Now()
	result, err := s.Run(context.Background(), shopBase)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.PagesVisited != 2 {
		t.Fatalf("pages visited = %d, want 2", result.PagesVisited)
	}
	if elapsed < 50*time.Millisecond {
		t.Fatalf("scrape took %v, want at least the 50ms politeness delay", elapsed)
	}
}

func TestScrapeCancelledDuringDelay(t *testing.T) {
	sess := newFakeSession()
	sess.pages[pageURL(1)] = buildListing(true, "a")
	sess.pages[pageURL(2)] = buildListing(false, "b")
	cfg := testConfig()
	cfg.MaxPages = 2
	cfg.DelayMin = 5 * time.Second
	cfg.DelayMax = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	s := New(shopAdapter{}, cfg, WithSessionFactory(sess.factory()))
	start := time.Now()
	_, err := s.Run(ctx, shopBase)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cancellation took %v", elapsed)
	}
	if sess.wasFetched(pageURL(2)) {
		t.Fatalf("page 2 fetched after cancellation")
	}
	if got := sess.closeCount(); got != 1 {
		t.Fatalf("closes = %d, want 1", got)
	}
}

func TestScrapeRequiresOpenSession(t *testing.T) {
	s := New(shopAdapter{}, testConfig(), WithSessionFactory(newFakeSession().factory()))
	if _, err := s.Scrape(context.Background(), shopBase); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("before open: expected ErrSessionClosed, got %v", err)
	}

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Scrape(context.Background(), shopBase); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("after close: expected ErrSessionClosed, got %v", err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	var opened int
	sess := newFakeSession()
	s := New(shopAdapter{}, testConfig(), WithSessionFactory(func(config.ScraperConfig, http.RoundTripper) (Session, error) {
		opened++
		return sess, nil
	}))

	for i := 0; i < 2; i++ {
		if err := s.Open(context.Background()); err != nil {
			t.Fatalf("open %d: %v", i+1, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if opened != 1 || sess.closeCount() != 1 {
		t.Fatalf("opened=%d closes=%d, want 1/1", opened, sess.closeCount())
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 0
	s := New(shopAdapter{}, cfg, WithSessionFactory(newFakeSession().factory()))

	if err := s.Open(context.Background()); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestScrapeRejectsRelativeURL(t *testing.T) {
	sess := newFakeSession()
	s := New(shopAdapter{}, testConfig(), WithSessionFactory(sess.factory()))
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := s.Scrape(context.Background(), "/search?q=phone"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
	if len(sess.fetched) != 0 {
		t.Fatalf("fetched %v for an invalid url", sess.fetched)
	}
}

func TestSetMaxPagesApplies(t *testing.T) {
	sess := newFakeSession()
	for i := 1; i <= 4; i++ {
		sess.pages[pageURL(i)] = buildListing(true, fmt.Sprintf("p%d", i))
	}
	s := New(shopAdapter{}, testConfig(), WithSessionFactory(sess.factory()))
	if err := s.SetMaxPages(2); err != nil {
		t.Fatalf("set max pages: %v", err)
	}

	result, err := s.Run(context.Background(), shopBase)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.PagesVisited != 2 || s.Config().MaxPages != 2 {
		t.Fatalf("pages visited=%d max pages=%d, want 2/2", result.PagesVisited, s.Config().MaxPages)
	}
}

func TestConfigureRefusedWhileRunning(t *testing.T) {
	s := New(shopAdapter{}, testConfig(), WithSessionFactory(newFakeSession().factory()))
	s.running.Store(true)
	defer s.running.Store(false)

	if err := s.SetMaxPages(1); !errors.Is(err, ErrScrapeInProgress) {
		t.Fatalf("SetMaxPages: expected ErrScrapeInProgress, got %v", err)
	}
	if _, err := s.Scrape(context.Background(), shopBase); !errors.Is(err, ErrScrapeInProgress) {
		t.Fatalf("Scrape: expected ErrScrapeInProgress, got %v", err)
	}
}

func TestDetailPageCompletesRecord(t *testing.T) {
	sess := newFakeSession()
	sess.pages[pageURL(1)] = priceless("a")
	sess.pages["http://shop.test/p/a"] = `<html><body><span id="price">$12.50</span></body></html>`
	cfg := testConfig()
	cfg.MaxPages = 1

	s := New(detailShop{}, cfg, WithSessionFactory(sess.factory()))
	result, err := s.Run(context.Background(), shopBase)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Products) != 1 {
		t.Fatalf("products = %d, want 1", len(result.Products))
	}
	price := result.Products[0].Price
	if price == nil || price.Amount != 12.5 || price.Currency != "USD" {
		t.Fatalf("price = %+v, want 12.5 USD", price)
	}
}

func TestBreakerOpensAfterConsecutiveDetailFailures(t *testing.T) {
	sess := newFakeSession()
	sess.pages[pageURL(1)] = priceless("a", "b", "c", "d", "e")
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		sess.status["http://shop.test/p/"+id] = http.StatusServiceUnavailable
	}
	sess.pages[pageURL(2)] = priceless("f")
	cfg := testConfig()
	cfg.MaxPages = 2
	cfg.MaxRetries = 0
	cfg.MaxConsecutiveFailures = 3

	s := New(detailShop{}, cfg, WithSessionFactory(sess.factory()))
	result, err := s.Run(context.Background(), shopBase)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Successful != 0 || result.Failed != 5 {
		t.Fatalf("successful=%d failed=%d, want 0/5", result.Successful, result.Failed)
	}
	if len(result.Errors) != 5 {
		t.Fatalf("errors = %d, want one per failed item: %v", len(result.Errors), result.Errors)
	}
	if result.ErrorsByType["server_error"] != 3 || result.ErrorsByType["circuit_open"] != 2 {
		t.Fatalf("errors by type = %v", result.ErrorsByType)
	}
	if result.PagesVisited != 1 {
		t.Fatalf("pages visited = %d, want 1", result.PagesVisited)
	}
	if sess.wasFetched(pageURL(2)) || sess.wasFetched("http://shop.test/p/d") {
		t.Fatalf("fetched after the breaker opened: %v", sess.fetched)
	}
}

func TestIndependentScrapersRunConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]*models.ScrapeResult, 4)
	errs := make([]error, 4)
	for i := range results {
		sess := newFakeSession()
		sess.pages[pageURL(1)] = buildListing(false, fmt.Sprintf("x%d", i), fmt.Sprintf("y%d", i))
		cfg := testConfig()
		cfg.MaxPages = 1
		s := New(shopAdapter{}, cfg, WithSessionFactory(sess.factory()))

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Run(context.Background(), shopBase)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("scraper %d: %v", i, errs[i])
		}
		if results[i].Successful != 2 || results[i].Products[0].ID != fmt.Sprintf("x%d", i) {
			t.Fatalf("scraper %d: successful=%d first=%s", i, results[i].Successful, results[i].Products[0].ID)
		}
	}
}
