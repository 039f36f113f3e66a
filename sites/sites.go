// Package sites wires the built-in storefront adapters into a registry.
package sites

import (
	"github.com/aluiziolira/go-scrape-shops/config"
	"github.com/aluiziolira/go-scrape-shops/scraper"
	"github.com/aluiziolira/go-scrape-shops/sites/amazon"
	"github.com/aluiziolira/go-scrape-shops/sites/daraz"
)

// NewRegistry returns a registry serving every built-in storefront.
func NewRegistry(cfg *config.Config) *scraper.Registry {
	r := scraper.NewRegistry(cfg)
	r.Register(amazon.Name, amazon.New)
	r.Register(daraz.Name, daraz.New)
	return r
}
