package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-shops/models"
)

// Sink is one export target.
type Sink struct {
	Format string
	Path   string
}

var sinkExtensions = map[string]string{
	"csv":  ".csv",
	"json": ".jsonl",
}

// Sinks resolves formats into targets under dir named name, in format
// order. Repeated formats collapse into one sink.
func Sinks(dir, name string, formats []string) ([]Sink, error) {
	var sinks []Sink
	seen := make(map[string]bool, len(formats))
	for _, f := range formats {
		format := strings.ToLower(strings.TrimSpace(f))
		ext, ok := sinkExtensions[format]
		if !ok {
			return nil, fmt.Errorf("unsupported export format %q", f)
		}
		if seen[format] {
			continue
		}
		seen[format] = true
		sinks = append(sinks, Sink{Format: format, Path: filepath.Join(dir, name+ext)})
	}
	if len(sinks) == 0 {
		return nil, errors.New("no export format selected")
	}
	return sinks, nil
}

// Open creates the writer for s.
func (s Sink) Open() (OutputWriter, error) {
	switch s.Format {
	case "csv":
		return NewCSVWriter(s.Path)
	case "json":
		return NewJSONWriter(s.Path)
	}
	return nil, fmt.Errorf("unsupported export format %q", s.Format)
}

// MultiWriter hands every batch to each of its writers in turn. A failing
// writer does not stop the batch from reaching the others.
type MultiWriter struct {
	mu      sync.Mutex
	writers []OutputWriter
}

// NewMultiWriter fans out to writers.
func NewMultiWriter(writers ...OutputWriter) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// OpenSinks opens a writer per sink. Writers already opened are closed
// when a later one fails.
func OpenSinks(sinks []Sink) (*MultiWriter, error) {
	writers := make([]OutputWriter, 0, len(sinks))
	for _, s := range sinks {
		w, err := s.Open()
		if err != nil {
			for _, opened := range writers {
				opened.Close() //nolint:errcheck
			}
			return nil, fmt.Errorf("open %s sink: %w", s.Format, err)
		}
		writers = append(writers, w)
	}
	return NewMultiWriter(writers...), nil
}

func (mw *MultiWriter) each(fn func(OutputWriter) error) error {
	var errs []error
	for _, w := range mw.writers {
		if err := fn(w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Write passes products to every writer.
func (mw *MultiWriter) Write(products []*models.Product) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.each(func(w OutputWriter) error { return w.Write(products) })
}

// Close closes every writer.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.each(OutputWriter.Close)
}

// Validate checks every writer's output.
func (mw *MultiWriter) Validate() error {
	return mw.each(OutputWriter.Validate)
}
