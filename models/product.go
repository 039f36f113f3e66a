// Package models defines data structures for the scraper.
package models

import "time"

// Money is a normalized price.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Product represents one listing item scraped from a storefront.
// Fields the page does not provide are nil and serialize as null.
type Product struct {
	ID            string    `csv:"id" json:"id"`
	Site          string    `csv:"site" json:"site"`
	Title         string    `csv:"title" json:"title"`
	Price         *Money    `csv:"price" json:"price"`
	OriginalPrice *Money    `csv:"original_price" json:"original_price"`
	Rating        *float64  `csv:"rating" json:"rating"`
	ReviewCount   *int      `csv:"review_count" json:"review_count"`
	URL           string    `csv:"url" json:"url"`
	ImageURL      *string   `csv:"image_url" json:"image_url"`
	Images        []string  `csv:"images" json:"images"`
	Available     *bool     `csv:"available" json:"available"`
	Seller        *string   `csv:"seller" json:"seller"`
	ScrapedAt     time.Time `csv:"scraped_at" json:"scraped_at"`
}

// Key identifies a product within one scrape.
func (p *Product) Key() string {
	return p.Site + "|" + p.ID
}

// Discount returns the percentage saved against the original price, if both are known.
func (p *Product) Discount() (float64, bool) {
	if p.Price == nil || p.OriginalPrice == nil || p.OriginalPrice.Amount <= 0 {
		return 0, false
	}
	if p.OriginalPrice.Amount <= p.Price.Amount {
		return 0, false
	}
	return (1 - p.Price.Amount/p.OriginalPrice.Amount) * 100, true
}
