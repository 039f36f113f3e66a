package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-shops/config"
	"github.com/aluiziolira/go-scrape-shops/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.Product
	closed      bool
	validateErr error
}

func (mw *mockWriter) Write(products []*models.Product) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	copyBatch := make([]*models.Product, len(products))
	copy(copyBatch, products)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

func (mw *mockWriter) ids() []string {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	var out []string
	for _, batch := range mw.batches {
		for _, p := range batch {
			out = append(out, p.ID)
		}
	}
	return out
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(products []*models.Product) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

func (bw *blockingWriter) Validate() error {
	return nil
}

type failingWriter struct{ mockWriter }

func (fw *failingWriter) Write([]*models.Product) error {
	return errors.New("disk full")
}

func product(id string) *models.Product {
	return &models.Product{
		ID:        id,
		Site:      "testshop",
		Title:     "Product " + id,
		URL:       "http://example.test/p/" + id,
		Images:    []string{},
		ScrapedAt: time.Now(),
	}
}

func TestPipelineProcessValidationAndDedup(t *testing.T) {
	cfg := config.DefaultConfig().Output
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	valid := product("1")
	invalid := product("2")
	invalid.Title = ""
	duplicate := product("1")

	if err := p.Process(valid, invalid, duplicate); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 1 {
		t.Fatalf("written products = %d, want 1", got)
	}

	metrics := p.GetMetrics()
	validation, ok := metrics["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation["invalid_record"] == 0 {
		t.Fatalf("expected invalid_record validation error")
	}
	if validation["duplicate_product"] == 0 {
		t.Fatalf("expected duplicate_product validation error")
	}
	if processed := metrics["processed_products"].(int64); processed != 1 {
		t.Fatalf("processed = %d, want 1", processed)
	}
}

func TestPipelineSameIDDifferentSiteIsNotDuplicate(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, config.DefaultConfig().Output)
	p.Start(1)

	other := product("1")
	other.Site = "othershop"
	if err := p.Process(product("1"), other); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := writer.totalWritten(); got != 2 {
		t.Fatalf("written products = %d, want 2", got)
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	cfg := config.DefaultConfig().Output
	cfg.BatchSize = 64
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	for i := 0; i < 65; i++ {
		if err := p.Process(product(strconv.Itoa(i))); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelineSingleWorkerPreservesOrder(t *testing.T) {
	cfg := config.DefaultConfig().Output
	cfg.BatchSize = 3
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	var want []string
	for i := 0; i < 10; i++ {
		id := strconv.Itoa(i)
		want = append(want, id)
		if err := p.Process(product(id)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := strings.Join(writer.ids(), ","); got != strings.Join(want, ",") {
		t.Fatalf("order = %s, want %s", got, strings.Join(want, ","))
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, config.DefaultConfig().Output)
	p.Start(2)

	for i := 0; i < 100; i++ {
		if err := p.Process(product(strconv.Itoa(i + 200))); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 100 {
		t.Fatalf("written products = %d, want 100", got)
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := NewPipeline(context.Background(), &mockWriter{}, config.DefaultConfig().Output)
	p.Start(1)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := p.Process(product("1")); !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestPipelineWriteErrorSurfaces(t *testing.T) {
	cfg := config.DefaultConfig().Output
	cfg.BatchSize = 1
	p := NewPipeline(context.Background(), &failingWriter{}, cfg)
	p.Start(1)

	_ = p.Process(product("1"))
	err := p.Close()
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig().Output
	cfg.BatchSize = 1

	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := NewPipeline(context.Background(), writer, cfg)
	p.Start(1)

	if err := p.Process(product("blocked")); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}

func TestExportResult(t *testing.T) {
	dir := t.TempDir()
	result := models.NewScrapeResult("amazon", "https://www.amazon.com/s?k=x")
	result.StartedAt = time.Date(2025, 3, 9, 14, 5, 7, 0, time.UTC)
	result.RecordSuccess(fullProduct())
	result.RecordSuccess(sparseProduct())

	cfg := config.DefaultConfig().Output
	cfg.Dir = dir

	paths, err := ExportResult(context.Background(), result, cfg, "")
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	want := []string{
		filepath.Join(dir, "amazon_20250309_140507.csv"),
		filepath.Join(dir, "amazon_20250309_140507.jsonl"),
	}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for _, path := range paths {
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			t.Fatalf("%s missing or empty", path)
		}
	}
}

func TestExportResultSingleFormat(t *testing.T) {
	dir := t.TempDir()
	result := models.NewScrapeResult("daraz", "https://www.daraz.pk/catalog/?q=x")
	result.RecordSuccess(fullProduct())

	cfg := config.DefaultConfig().Output
	cfg.Dir = dir
	cfg.Formats = []string{"json"}

	paths, err := ExportResult(context.Background(), result, cfg, "earbuds")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(paths) != 1 || paths[0] != filepath.Join(dir, "earbuds.jsonl") {
		t.Fatalf("paths = %v", paths)
	}
}

func TestExportResultRejectsEmpty(t *testing.T) {
	result := models.NewScrapeResult("amazon", "https://www.amazon.com/s?k=x")
	cfg := config.DefaultConfig().Output
	cfg.Dir = t.TempDir()

	if _, err := ExportResult(context.Background(), result, cfg, ""); !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("expected ErrNothingToExport, got %v", err)
	}
}

func TestPipelineLeavesInputRecordsUntouched(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), writer, config.DefaultConfig().Output)
	p.Start(1)

	original := product("1")
	original.Title = "  Wireless \n Earbuds "
	original.ScrapedAt = time.Time{}
	if err := p.Process(original); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if original.Title != "  Wireless \n Earbuds " || !original.ScrapedAt.IsZero() {
		t.Fatalf("input record mutated: title=%q scraped_at=%v", original.Title, original.ScrapedAt)
	}
	written := writer.batches[0][0]
	if written == original {
		t.Fatalf("pipeline wrote the caller's record instead of a copy")
	}
	if written.Title != "Wireless Earbuds" || written.ScrapedAt.IsZero() {
		t.Fatalf("written record not normalized: title=%q scraped_at=%v", written.Title, written.ScrapedAt)
	}
}
