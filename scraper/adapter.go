package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-shops/models"
)

// Adapter is the markup-specific half of a site scraper. Implementations
// hold no lifecycle state; the Scraper drives them.
type Adapter interface {
	// Name is the site-of-origin tag stamped on every record.
	Name() string
	// BuildPageURL returns the URL of the given 1-based results page.
	// It must be pure so retries can call it repeatedly.
	BuildPageURL(baseURL string, page int) (string, error)
	// ExtractListingItems returns one handle per product entry on the page.
	// An empty slice means there are no more results.
	ExtractListingItems(page *Page) ([]Item, error)
	// ExtractProduct turns one handle into a record. It returns a
	// *FieldError when title or URL is missing; optional fields stay nil.
	ExtractProduct(item Item) (*models.Product, error)
}

// Paginator is implemented by adapters that can tell from a page whether
// another results page follows.
type Paginator interface {
	HasNextPage(page *Page) bool
}

// DetailAdapter is implemented by adapters whose listing pages can be too
// sparse. For records where NeedsDetail reports true the Scraper fetches
// the product URL under the same retry rules as listing pages and passes
// the page to ExtractDetail, which returns the completed record.
type DetailAdapter interface {
	NeedsDetail(p *models.Product) bool
	ExtractDetail(p *models.Product, page *Page) (*models.Product, error)
}

// Page is one fetched document.
type Page struct {
	Number     int
	URL        *url.URL
	StatusCode int
	Body       []byte

	once sync.Once
	doc  *goquery.Document
	err  error
}

// NewPage wraps a fetched body.
func NewPage(number int, pageURL *url.URL, status int, body []byte) *Page {
	return &Page{Number: number, URL: pageURL, StatusCode: status, Body: body}
}

// Document parses the body as HTML on first use.
func (p *Page) Document() (*goquery.Document, error) {
	p.once.Do(func() {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
		if err != nil {
			p.err = fmt.Errorf("parse html: %w", err)
			return
		}
		if p.URL != nil {
			doc.Url = p.URL
		}
		p.doc = doc
	})
	return p.doc, p.err
}

// AbsoluteURL resolves href against the page URL. It returns "" for empty
// or unparsable references.
func (p *Page) AbsoluteURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if p.URL == nil {
		if ref.IsAbs() {
			return ref.String()
		}
		return ""
	}
	abs := p.URL.ResolveReference(ref)
	if abs.Scheme == "" {
		abs.Scheme = p.URL.Scheme
	}
	return abs.String()
}

// Item is an opaque handle to one listing entry. Markup-backed adapters set
// Selection; adapters that read embedded JSON set Raw.
type Item struct {
	Page      *Page
	Position  int
	Ref       string
	Selection *goquery.Selection
	Raw       string
}

// Label identifies the item in error messages.
func (it Item) Label() string {
	page := 0
	if it.Page != nil {
		page = it.Page.Number
	}
	if it.Ref != "" {
		return fmt.Sprintf("page %d item %d (%s)", page, it.Position, it.Ref)
	}
	return fmt.Sprintf("page %d item %d", page, it.Position)
}

// PageQueryURL returns baseURL with the query parameter param set to page.
// Page 1 drops the parameter so the first request matches the caller's URL.
func PageQueryURL(baseURL, param string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("invalid page %d", page)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	if page == 1 {
		q.Del(param)
	} else {
		q.Set(param, strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
