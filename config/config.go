package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ScraperConfig holds the per-adapter tunables read at construction time.
type ScraperConfig struct {
	MaxPages               int               `yaml:"max_pages"`
	DelayMin               time.Duration     `yaml:"delay_min"`
	DelayMax               time.Duration     `yaml:"delay_max"`
	Timeout                time.Duration     `yaml:"timeout"`
	MaxRetries             int               `yaml:"max_retries"`
	RetryBackoff           time.Duration     `yaml:"retry_backoff"`
	RetryBackoffMax        time.Duration     `yaml:"retry_backoff_max"`
	MaxConsecutiveFailures int               `yaml:"max_consecutive_failures"`
	UserAgent              string            `yaml:"user_agent"`
	Headers                map[string]string `yaml:"headers"`
	ProxyURL               string            `yaml:"proxy_url"`
	RespectRobotsTxt       bool              `yaml:"respect_robots_txt"`
}

// SiteOverride replaces individual scraper settings for one site.
// Nil fields keep the global value.
type SiteOverride struct {
	MaxPages   *int           `yaml:"max_pages"`
	DelayMin   *time.Duration `yaml:"delay_min"`
	DelayMax   *time.Duration `yaml:"delay_max"`
	Timeout    *time.Duration `yaml:"timeout"`
	MaxRetries *int           `yaml:"max_retries"`
	UserAgent  *string        `yaml:"user_agent"`
}

// OutputConfig controls file exports.
type OutputConfig struct {
	Dir           string   `yaml:"dir"`
	Formats       []string `yaml:"formats"`
	DedupeMaxSize int      `yaml:"dedupe_max_size"`
	BatchSize     int      `yaml:"batch_size"`
	// ProgressInterval enables periodic pipeline progress logs when positive.
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// DatabaseConfig controls result persistence.
type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config holds application configuration.
type Config struct {
	Scraper     ScraperConfig           `yaml:"scraper"`
	Sites       map[string]SiteOverride `yaml:"sites"`
	Output      OutputConfig            `yaml:"output"`
	Database    DatabaseConfig          `yaml:"database"`
	MetricsAddr string                  `yaml:"metrics_addr"`
	Verbose     bool                    `yaml:"verbose"`
}

// DefaultScraperConfig returns polite defaults suitable for public storefronts.
func DefaultScraperConfig() ScraperConfig {
	return ScraperConfig{
		MaxPages:               5,
		DelayMin:               1 * time.Second,
		DelayMax:               3 * time.Second,
		Timeout:                30 * time.Second,
		MaxRetries:             3,
		RetryBackoff:           500 * time.Millisecond,
		RetryBackoffMax:        8 * time.Second,
		MaxConsecutiveFailures: 3,
		UserAgent:              "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		Headers: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
	}
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Scraper: DefaultScraperConfig(),
		Sites:   map[string]SiteOverride{},
		Output: OutputConfig{
			Dir:           "output",
			Formats:       []string{"csv", "json"},
			DedupeMaxSize: 100000,
			BatchSize:     64,
		},
		Database: DatabaseConfig{
			Enabled: true,
			Path:    "data/products.db",
		},
	}
}

// ForSite returns the scraper settings for name with any site override applied.
// The returned value shares no mutable state with c.
func (c *Config) ForSite(name string) ScraperConfig {
	sc := c.Scraper.Clone()
	o, ok := c.Sites[name]
	if !ok {
		return sc
	}
	if o.MaxPages != nil {
		sc.MaxPages = *o.MaxPages
	}
	if o.DelayMin != nil {
		sc.DelayMin = *o.DelayMin
	}
	if o.DelayMax != nil {
		sc.DelayMax = *o.DelayMax
	}
	if o.Timeout != nil {
		sc.Timeout = *o.Timeout
	}
	if o.MaxRetries != nil {
		sc.MaxRetries = *o.MaxRetries
	}
	if o.UserAgent != nil {
		sc.UserAgent = *o.UserAgent
	}
	return sc
}

// Clone returns a deep copy.
func (sc ScraperConfig) Clone() ScraperConfig {
	out := sc
	if sc.Headers != nil {
		out.Headers = make(map[string]string, len(sc.Headers))
		for k, v := range sc.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// Validate ensures the scraper settings are coherent.
func (sc ScraperConfig) Validate() error {
	if sc.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if sc.DelayMin < 0 || sc.DelayMax < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if sc.DelayMax < sc.DelayMin {
		return fmt.Errorf("delay max (%s) cannot be below delay min (%s)", sc.DelayMax, sc.DelayMin)
	}
	if sc.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if sc.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if sc.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if sc.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if sc.RetryBackoffMax > 0 && sc.RetryBackoff > sc.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", sc.RetryBackoff, sc.RetryBackoffMax)
	}
	if sc.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("max consecutive failures must be positive")
	}
	if sc.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if sc.ProxyURL != "" {
		u, err := url.Parse(sc.ProxyURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid proxy URL %q", sc.ProxyURL)
		}
	}
	return nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if err := c.Scraper.Validate(); err != nil {
		return fmt.Errorf("scraper: %w", err)
	}
	for name := range c.Sites {
		if err := c.ForSite(name).Validate(); err != nil {
			return fmt.Errorf("sites.%s: %w", name, err)
		}
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	for _, f := range c.Output.Formats {
		switch strings.ToLower(f) {
		case "csv", "json":
		default:
			return fmt.Errorf("output format must be csv or json, got %q", f)
		}
	}
	if c.Output.DedupeMaxSize < 0 {
		return fmt.Errorf("dedupe max size cannot be negative")
	}
	if c.Output.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty when the database is enabled")
	}
	return nil
}
