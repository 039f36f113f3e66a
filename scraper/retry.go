package scraper

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/aluiziolira/go-scrape-shops/config"
)

// backoff returns the capped exponential delay before retry number attempt (1-based).
func backoff(cfg config.ScraperConfig, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := cfg.RetryBackoffMax; max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return delay
}

// politeDelay picks a delay uniformly within the configured bounds.
func politeDelay(cfg config.ScraperConfig) time.Duration {
	if cfg.DelayMax <= 0 {
		return 0
	}
	spread := cfg.DelayMax - cfg.DelayMin
	if spread <= 0 {
		return cfg.DelayMin
	}
	return cfg.DelayMin + rand.N(spread+1)
}

// sleepContext waits for d or until ctx ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// breaker opens after threshold consecutive failed fetches. A success
// closes it again. It is owned by a single scrape call.
type breaker struct {
	threshold   int
	consecutive int
}

func newBreaker(threshold int) *breaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &breaker{threshold: threshold}
}

func (b *breaker) allow() bool {
	return b.consecutive < b.threshold
}

func (b *breaker) success() {
	b.consecutive = 0
}

func (b *breaker) failure() {
	b.consecutive++
}

func (b *breaker) open() bool {
	return !b.allow()
}

// cursor tracks pagination within one scrape call.
type cursor struct {
	page    int
	limit   int
	hasNext bool
}

func newCursor(limit int) *cursor {
	return &cursor{page: 1, limit: limit, hasNext: true}
}

// more reports whether the current page may be visited.
func (c *cursor) more() bool {
	return c.hasNext && c.page <= c.limit
}

func (c *cursor) advance() {
	c.page++
}
