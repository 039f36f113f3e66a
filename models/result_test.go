package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrapeResultAccounting(t *testing.T) {
	r := NewScrapeResult("amazon", "https://www.amazon.com/s?k=laptop")

	r.RecordSuccess(&Product{ID: "A1", Site: "amazon", Title: "One"})
	r.RecordSuccess(&Product{ID: "A2", Site: "amazon", Title: "Two"})
	r.RecordFailure("missing_field", "item 3: missing title")
	r.RecordPageError("timeout", "page 2: timeout")

	assert.Equal(t, 3, r.Attempts())
	assert.Equal(t, r.Successful+r.Failed, r.Attempts())
	assert.Equal(t, 2, r.TotalScraped())
	assert.Len(t, r.Errors, 2)
	assert.Equal(t, 1, r.ErrorsByType["missing_field"])
	assert.Equal(t, 1, r.ErrorsByType["timeout"])
	assert.InDelta(t, 66.67, r.SuccessRate(), 0.001)
}

func TestScrapeResultSuccessRateWithoutAttempts(t *testing.T) {
	r := NewScrapeResult("daraz", "https://www.daraz.pk/laptops/")
	r.RecordPageError("connection", "page 1: refused")

	assert.Zero(t, r.Attempts())
	assert.Zero(t, r.SuccessRate())
}

func TestScrapeResultFinalize(t *testing.T) {
	r := NewScrapeResult("amazon", "")
	r.Finalize(r.StartedAt.Add(1500 * time.Millisecond))
	assert.Equal(t, 1500*time.Millisecond, r.Duration)
}

func TestProductDiscount(t *testing.T) {
	p := &Product{
		Price:         &Money{Amount: 75, Currency: "USD"},
		OriginalPrice: &Money{Amount: 100, Currency: "USD"},
	}
	got, ok := p.Discount()
	require.True(t, ok)
	assert.InDelta(t, 25.0, got, 0.0001)

	p.OriginalPrice = nil
	_, ok = p.Discount()
	assert.False(t, ok)
}
