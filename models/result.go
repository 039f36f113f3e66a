package models

import (
	"math"
	"time"
)

// ScrapeResult holds the overall result of one scrape call.
//
// Successful+Failed always equals the number of item extraction attempts.
// An item whose site+id repeats an earlier record is not an attempt: it is
// dropped and tallied in Duplicates. Errors holds one entry per failed item
// and per failed page.
type ScrapeResult struct {
	Source       string
	URL          string
	Products     []*Product
	Successful   int
	Failed       int
	Duplicates   int
	Errors       []string
	ErrorsByType map[string]int
	PagesVisited int
	Retries      int
	StartedAt    time.Time
	Duration     time.Duration
}

// NewScrapeResult returns an empty result stamped with the start time.
func NewScrapeResult(source, url string) *ScrapeResult {
	return &ScrapeResult{
		Source:       source,
		URL:          url,
		Products:     []*Product{},
		Errors:       []string{},
		ErrorsByType: make(map[string]int),
		StartedAt:    time.Now(),
	}
}

// RecordSuccess appends p and counts the attempt as successful.
func (r *ScrapeResult) RecordSuccess(p *Product) {
	r.Products = append(r.Products, p)
	r.Successful++
}

// RecordFailure counts a failed item attempt.
func (r *ScrapeResult) RecordFailure(category, msg string) {
	r.Failed++
	r.addError(category, msg)
}

// RecordPageError records a page-level failure. It is not an item attempt.
func (r *ScrapeResult) RecordPageError(category, msg string) {
	r.addError(category, msg)
}

func (r *ScrapeResult) addError(category, msg string) {
	r.Errors = append(r.Errors, msg)
	if category == "" {
		category = "other"
	}
	r.ErrorsByType[category]++
}

// Finalize stamps the elapsed duration.
func (r *ScrapeResult) Finalize(now time.Time) {
	r.Duration = now.Sub(r.StartedAt)
}

// Attempts is the number of item extractions tried.
func (r *ScrapeResult) Attempts() int {
	return r.Successful + r.Failed
}

// TotalScraped is the number of records held.
func (r *ScrapeResult) TotalScraped() int {
	return len(r.Products)
}

// SuccessRate is successful/attempts as a percentage rounded to two decimals.
func (r *ScrapeResult) SuccessRate() float64 {
	attempts := r.Attempts()
	if attempts == 0 {
		return 0
	}
	rate := float64(r.Successful) / float64(attempts) * 100
	return math.Round(rate*100) / 100
}
