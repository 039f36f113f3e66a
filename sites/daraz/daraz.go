// Package daraz reads Daraz catalog pages. Listings are rendered client
// side from a JSON blob assigned to window.pageData, so items are read
// from that blob instead of the markup.
package daraz

import (
	"errors"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"github.com/aluiziolira/go-scrape-shops/models"
	"github.com/aluiziolira/go-scrape-shops/parser"
	"github.com/aluiziolira/go-scrape-shops/scraper"
)

// Name is the site tag stamped on Daraz records.
const Name = "daraz"

const pageDataMarker = "window.pageData"

// ErrNoPageData is returned for catalog pages without an embedded listing blob.
var ErrNoPageData = errors.New("daraz: page data not found")

// Adapter implements scraper.Adapter and scraper.Paginator for Daraz storefronts.
type Adapter struct{}

var _ scraper.Paginator = Adapter{}

// New returns a Daraz adapter.
func New() scraper.Adapter {
	return Adapter{}
}

func (Adapter) Name() string { return Name }

// BuildPageURL sets the "page" query parameter.
func (Adapter) BuildPageURL(baseURL string, page int) (string, error) {
	return scraper.PageQueryURL(baseURL, "page", page)
}

// pageData returns the JSON assigned to window.pageData.
func pageData(page *scraper.Page) (string, error) {
	doc, err := page.Document()
	if err != nil {
		return "", err
	}
	var blob string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		idx := strings.Index(text, pageDataMarker)
		if idx < 0 {
			return true
		}
		text = text[idx+len(pageDataMarker):]
		start := strings.Index(text, "{")
		if start < 0 {
			return false
		}
		// Only the first value: the same script often assigns more globals.
		if r := gjson.Parse(text[start:]); r.IsObject() {
			blob = r.Raw
		}
		return false
	})
	if blob == "" || !gjson.Valid(blob) {
		return "", ErrNoPageData
	}
	return blob, nil
}

// ExtractListingItems returns one item per entry of mods.listItems.
func (Adapter) ExtractListingItems(page *scraper.Page) ([]scraper.Item, error) {
	blob, err := pageData(page)
	if err != nil {
		return nil, err
	}
	var items []scraper.Item
	gjson.Get(blob, "mods.listItems").ForEach(func(_, value gjson.Result) bool {
		items = append(items, scraper.Item{
			Ref: value.Get("itemId").String(),
			Raw: value.Raw,
		})
		return true
	})
	return items, nil
}

// ExtractProduct reads one listItems entry.
func (Adapter) ExtractProduct(item scraper.Item) (*models.Product, error) {
	if item.Raw == "" {
		return nil, scraper.MissingField("item")
	}
	r := gjson.Parse(item.Raw)

	title := parser.CleanText(r.Get("name").String())
	if title == "" {
		return nil, scraper.MissingField("name")
	}
	productURL := ""
	if item.Page != nil {
		productURL = item.Page.AbsoluteURL(r.Get("productUrl").String())
	}
	if productURL == "" {
		return nil, scraper.MissingField("productUrl")
	}

	currency := ""
	if item.Page != nil && item.Page.URL != nil {
		currency = parser.CurrencyForHost(item.Page.URL.Hostname())
	}

	p := &models.Product{
		ID:            r.Get("itemId").String(),
		Site:          Name,
		Title:         title,
		URL:           productURL,
		Price:         parser.ParsePrice(r.Get("price").String(), currency),
		OriginalPrice: parser.ParsePrice(r.Get("originalPrice").String(), currency),
		Images:        []string{},
	}
	if p.ID == "" {
		p.ID = parser.DeriveID(productURL)
	}
	if rating, ok := parser.ParseRating(r.Get("ratingScore").String()); ok && rating > 0 {
		p.Rating = &rating
	}
	if count, ok := parser.ParseCount(r.Get("review").String()); ok {
		p.ReviewCount = &count
	}
	if img := item.Page.AbsoluteURL(r.Get("image").String()); img != "" {
		p.ImageURL = &img
		p.Images = append(p.Images, img)
	}
	r.Get("thumbs.#.image").ForEach(func(_, v gjson.Result) bool {
		if img := item.Page.AbsoluteURL(v.String()); img != "" && !slices.Contains(p.Images, img) {
			p.Images = append(p.Images, img)
		}
		return true
	})
	if stock := r.Get("inStock"); stock.Exists() {
		available := stock.Bool()
		p.Available = &available
	}
	if seller := parser.CleanText(r.Get("sellerName").String()); seller != "" {
		p.Seller = &seller
	}
	return p, nil
}

// HasNextPage compares the page position against mainInfo.totalResults.
// Without totals it keeps going and lets an empty page end the scrape.
func (Adapter) HasNextPage(page *scraper.Page) bool {
	blob, err := pageData(page)
	if err != nil {
		return false
	}
	info := gjson.Get(blob, "mainInfo")
	total := info.Get("totalResults").Int()
	size := info.Get("pageSize").Int()
	if total <= 0 || size <= 0 {
		return gjson.Get(blob, "mods.listItems.#").Int() > 0
	}
	current := info.Get("page").Int()
	if current <= 0 {
		current = int64(page.Number)
	}
	return current*size < total
}
