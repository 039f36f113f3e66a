package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-shops/config"
	"github.com/aluiziolira/go-scrape-shops/models"
)

// ErrNothingToExport is returned when a result holds no products.
var ErrNothingToExport = errors.New("pipeline: no products to export")

// DefaultName is the export file stem for result: <source>_<YYYYmmdd_HHMMSS>.
func DefaultName(result *models.ScrapeResult) string {
	started := result.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	return fmt.Sprintf("%s_%s", result.Source, started.Format("20060102_150405"))
}

// ExportResult writes result's products through a single-worker pipeline
// into dir and returns the written paths. An empty name selects
// DefaultName.
func ExportResult(ctx context.Context, result *models.ScrapeResult, cfg config.OutputConfig, name string) ([]string, error) {
	if result == nil || len(result.Products) == 0 {
		return nil, ErrNothingToExport
	}
	if name == "" {
		name = DefaultName(result)
	}
	formats := cfg.Formats
	if len(formats) == 0 {
		formats = []string{"csv", "json"}
	}

	sinks, err := Sinks(cfg.Dir, name, formats)
	if err != nil {
		return nil, err
	}
	writer, err := OpenSinks(sinks)
	if err != nil {
		return nil, err
	}

	p := NewPipeline(ctx, writer, cfg)
	p.Start(1)
	p.StartMetricsReporting(cfg.ProgressInterval)
	procErr := p.Process(result.Products...)
	closeErr := p.Close()

	var validateErr error
	if procErr == nil && closeErr == nil {
		validateErr = writer.Validate()
	}
	if err := errors.Join(procErr, closeErr, validateErr, writer.Close()); err != nil {
		return nil, fmt.Errorf("export %s: %w", name, err)
	}

	paths := make([]string, 0, len(sinks))
	for _, sink := range sinks {
		paths = append(paths, sink.Path)
	}
	slog.Info("results exported",
		slog.String("source", result.Source),
		slog.Any("files", paths),
		slog.Any("pipeline", p.GetMetrics()),
	)
	return paths, nil
}
