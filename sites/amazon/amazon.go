// Package amazon reads Amazon search result pages.
package amazon

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-shops/models"
	"github.com/aluiziolira/go-scrape-shops/parser"
	"github.com/aluiziolira/go-scrape-shops/scraper"
)

// Name is the site tag stamped on Amazon records.
const Name = "amazon"

const (
	cardSelector       = `div[data-component-type="s-search-result"]`
	nextSelector       = ".s-pagination-next"
	disabledNextClass  = "s-pagination-disabled"
	listPriceSelector  = ".a-price.a-text-price .a-offscreen"
	ratingSelector     = ".a-icon-alt"
	imageSelector      = "img.s-image"
	unavailableMarker  = "currently unavailable"
	detailPriceFeature = "#corePrice_feature_div .a-offscreen"
)

// Adapter implements scraper.Adapter, scraper.Paginator and
// scraper.DetailAdapter for Amazon storefronts.
type Adapter struct{}

var (
	_ scraper.Paginator     = Adapter{}
	_ scraper.DetailAdapter = Adapter{}
)

// New returns an Amazon adapter.
func New() scraper.Adapter {
	return Adapter{}
}

func (Adapter) Name() string { return Name }

// BuildPageURL sets the "page" query parameter.
func (Adapter) BuildPageURL(baseURL string, page int) (string, error) {
	return scraper.PageQueryURL(baseURL, "page", page)
}

// ExtractListingItems returns one item per organic search result card.
// Placeholder cards without an ASIN are skipped.
func (Adapter) ExtractListingItems(page *scraper.Page) ([]scraper.Item, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, err
	}
	var items []scraper.Item
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		asin := strings.TrimSpace(card.AttrOr("data-asin", ""))
		if asin == "" {
			return
		}
		items = append(items, scraper.Item{Ref: asin, Selection: card})
	})
	return items, nil
}

// ExtractProduct reads one search result card.
func (Adapter) ExtractProduct(item scraper.Item) (*models.Product, error) {
	card := item.Selection
	if card == nil {
		return nil, scraper.MissingField("card")
	}

	title := parser.CleanText(card.Find("h2 span").First().Text())
	if title == "" {
		title = parser.CleanText(card.Find("h2").First().Text())
	}
	if title == "" {
		return nil, scraper.MissingField("title")
	}

	href := card.Find("h2 a").First().AttrOr("href", "")
	if href == "" {
		href = card.Find("a.s-no-outline").First().AttrOr("href", "")
	}
	if href == "" && item.Ref != "" {
		href = "/dp/" + item.Ref
	}
	productURL := item.Page.AbsoluteURL(href)
	if productURL == "" {
		return nil, scraper.MissingField("url")
	}

	fallback := hostCurrency(item.Page)
	p := &models.Product{
		ID:            item.Ref,
		Site:          Name,
		Title:         title,
		URL:           productURL,
		Price:         parser.ParsePrice(currentPrice(card), fallback),
		OriginalPrice: parser.ParsePrice(card.Find(listPriceSelector).First().Text(), fallback),
		Images:        []string{},
	}
	if p.ID == "" {
		p.ID = parser.DeriveID(productURL)
	}

	if rating, ok := parser.ParseRating(card.Find(ratingSelector).First().Text()); ok {
		p.Rating = &rating
	}
	if count, ok := reviewCount(card); ok {
		p.ReviewCount = &count
	}
	if src := card.Find(imageSelector).First().AttrOr("src", ""); src != "" {
		img := item.Page.AbsoluteURL(src)
		if img != "" {
			p.ImageURL = &img
			p.Images = append(p.Images, img)
		}
	}
	if strings.Contains(strings.ToLower(card.Text()), unavailableMarker) {
		available := false
		p.Available = &available
	}
	return p, nil
}

// currentPrice is the first price block that is not the struck-through list price.
func currentPrice(card *goquery.Selection) string {
	return card.Find(".a-price").Not(".a-text-price").First().Find(".a-offscreen").First().Text()
}

func reviewCount(card *goquery.Selection) (int, bool) {
	for _, sel := range []string{
		`a[href*="customerReviews"] span`,
		"span.s-underline-text",
		`span[aria-label$="ratings"]`,
	} {
		node := card.Find(sel).First()
		text := node.Text()
		if text == "" {
			text = node.AttrOr("aria-label", "")
		}
		if n, ok := parser.ParseCount(text); ok {
			return n, true
		}
	}
	return 0, false
}

func hostCurrency(page *scraper.Page) string {
	if page == nil || page.URL == nil {
		return ""
	}
	return parser.CurrencyForHost(page.URL.Hostname())
}

// HasNextPage reports whether the results footer offers an enabled next link.
func (Adapter) HasNextPage(page *scraper.Page) bool {
	doc, err := page.Document()
	if err != nil {
		return false
	}
	next := doc.Find(nextSelector).First()
	return next.Length() > 0 && !next.HasClass(disabledNextClass)
}

// NeedsDetail asks for the product page when the card carried no price.
func (Adapter) NeedsDetail(p *models.Product) bool {
	return p.Price == nil
}

// ExtractDetail fills price, list price, availability and image from a
// product detail page. Fields already known are kept.
func (Adapter) ExtractDetail(p *models.Product, page *scraper.Page) (*models.Product, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, err
	}
	out := *p
	out.Images = append([]string(nil), p.Images...)
	fallback := hostCurrency(page)

	if out.Price == nil {
		for _, sel := range []string{detailPriceFeature, ".priceToPay .a-offscreen", "#priceblock_ourprice"} {
			if price := parser.ParsePrice(doc.Find(sel).First().Text(), fallback); price != nil {
				out.Price = price
				break
			}
		}
	}
	if out.OriginalPrice == nil {
		out.OriginalPrice = parser.ParsePrice(doc.Find(`span[data-a-strike="true"] .a-offscreen`).First().Text(), fallback)
	}
	if out.Available == nil {
		if text := strings.ToLower(parser.CleanText(doc.Find("#availability").Text())); text != "" {
			available := strings.Contains(text, "in stock") && !strings.Contains(text, "unavailable")
			out.Available = &available
		}
	}
	if out.ImageURL == nil {
		img := doc.Find("#landingImage").First()
		src := img.AttrOr("data-old-hires", "")
		if src == "" {
			src = img.AttrOr("src", "")
		}
		if abs := page.AbsoluteURL(src); abs != "" {
			out.ImageURL = &abs
			out.Images = append(out.Images, abs)
		}
	}
	return &out, nil
}
