package scraper

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-shops/config"
)

// Constructor builds a fresh adapter.
type Constructor func() Adapter

// Registry maps domain patterns to adapter constructors. A host matches
// the first registered pattern it contains, so "daraz" serves daraz.pk,
// daraz.com.bd and pk.daraz.pk alike.
type Registry struct {
	cfg *config.Config

	mu       sync.RWMutex
	patterns []string
	ctors    map[string]Constructor
}

// NewRegistry returns an empty registry whose scrapers are configured from
// cfg. A nil cfg selects config.DefaultConfig.
func NewRegistry(cfg *config.Config) *Registry {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Registry{
		cfg:   cfg,
		ctors: make(map[string]Constructor),
	}
}

// Register adds or replaces the constructor for pattern. A replaced
// pattern keeps its original position.
func (r *Registry) Register(pattern string, ctor Constructor) {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" || ctor == nil {
		return
	}

	r.mu.Lock()
	if _, ok := r.ctors[pattern]; !ok {
		r.patterns = append(r.patterns, pattern)
	}
	r.ctors[pattern] = ctor
	r.mu.Unlock()

	slog.Info("registered scraper", slog.String("pattern", pattern))
}

// SupportedDomains lists patterns in registration order.
func (r *Registry) SupportedDomains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.patterns))
	copy(out, r.patterns)
	return out
}

// Create returns a scraper for rawURL. Malformed URLs and unmatched hosts
// yield an error wrapping ErrUnsupported.
func (r *Registry) Create(rawURL string, opts ...Option) (*Scraper, error) {
	host, err := hostOf(rawURL)
	if err != nil {
		slog.Error("invalid url", slog.String("url", rawURL), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	pattern, ctor := r.lookup(host)
	if ctor == nil {
		slog.Error("no scraper available for domain",
			slog.String("domain", host),
			slog.String("supported", strings.Join(r.SupportedDomains(), ", ")),
		)
		return nil, fmt.Errorf("%w: no scraper for domain %q", ErrUnsupported, host)
	}

	adapter := ctor()
	slog.Info("dispatching scraper",
		slog.String("domain", host),
		slog.String("pattern", pattern),
		slog.String("adapter", adapter.Name()),
	)
	return New(adapter, r.cfg.ForSite(pattern), opts...), nil
}

func (r *Registry) lookup(host string) (string, Constructor) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patterns {
		if strings.Contains(host, p) {
			return p, r.ctors[p]
		}
	}
	return "", nil
}

// hostOf returns the lowercased host of rawURL without a leading "www.".
func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return strings.TrimPrefix(host, "www."), nil
}
