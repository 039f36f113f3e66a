package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvDuration parses key as a Go duration string ("10s", "500ms").
func EnvDuration(key string) (time.Duration, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// ApplyEnv overrides c with SCRAPER_* environment variables.
func (c *Config) ApplyEnv() error {
	if n, ok, err := EnvInt("SCRAPER_MAX_PAGES"); err != nil {
		return err
	} else if ok {
		c.Scraper.MaxPages = n
	}
	if n, ok, err := EnvInt("SCRAPER_MAX_RETRIES"); err != nil {
		return err
	} else if ok {
		c.Scraper.MaxRetries = n
	}
	if d, ok, err := EnvDuration("SCRAPER_TIMEOUT"); err != nil {
		return err
	} else if ok {
		c.Scraper.Timeout = d
	}
	if v, ok := EnvString("SCRAPER_USER_AGENT"); ok {
		c.Scraper.UserAgent = v
	}
	if v, ok := EnvString("SCRAPER_PROXY_URL"); ok {
		c.Scraper.ProxyURL = v
	}
	if v, ok := EnvString("SCRAPER_OUTPUT_DIR"); ok {
		c.Output.Dir = v
	}
	if v, ok := EnvString("SCRAPER_DB_PATH"); ok {
		c.Database.Path = v
	}
	if v, ok := EnvString("SCRAPER_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	return nil
}
