package parser

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-shops/models"
)

// ValidateProduct ensures an adapter captured the required fields.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("product missing title")
	}
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("product missing url for %s", p.Title)
	}
	u, err := url.Parse(p.URL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("product url %q is not absolute", p.URL)
	}
	if p.ID == "" {
		return fmt.Errorf("product missing id for %s", p.Title)
	}
	return nil
}

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var numberRegex = regexp.MustCompile(`\d[\d.,]*`)

// currency markers ordered so longer tokens win over their prefixes.
var currencyMarkers = []struct {
	token string
	code  string
}{
	{"US$", "USD"},
	{"Rs.", "PKR"},
	{"Rs", "PKR"},
	{"AED", "AED"},
	{"SAR", "SAR"},
	{"USD", "USD"},
	{"EUR", "EUR"},
	{"GBP", "GBP"},
	{"PKR", "PKR"},
	{"BDT", "BDT"},
	{"LKR", "LKR"},
	{"NPR", "NPR"},
	{"INR", "INR"},
	{"CA$", "CAD"},
	{"A$", "AUD"},
	{"৳", "BDT"},
	{"₹", "INR"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"$", "USD"},
}

// DetectCurrency returns the ISO code for the first currency marker in text.
func DetectCurrency(text string) string {
	for _, m := range currencyMarkers {
		if strings.Contains(text, m.token) {
			return m.code
		}
	}
	return ""
}

// ParseAmount extracts the first number in text. Both "1,299.00" and
// "1.299,00" read as 1299: the last separator is the decimal mark when it
// is followed by one or two digits, or when both separator kinds appear.
func ParseAmount(text string) (float64, bool) {
	found := strings.TrimRight(numberRegex.FindString(text), ".,")
	if found == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(normalizeNumber(found), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func normalizeNumber(s string) string {
	last := strings.LastIndexAny(s, ".,")
	if last < 0 {
		return s
	}
	sep := s[last]
	decimal := strings.ContainsAny(s, ".") && strings.ContainsAny(s, ",")
	if !decimal && strings.Count(s, string(sep)) == 1 {
		decimal = len(s)-last-1 <= 2
	}
	if !decimal {
		return strings.NewReplacer(",", "", ".", "").Replace(s)
	}
	intPart := strings.NewReplacer(",", "", ".", "").Replace(s[:last])
	return intPart + "." + s[last+1:]
}

// ParsePrice turns text such as "$1,079.00", "Rs. 2,550" or "1.299,00 €" into Money.
// fallbackCurrency is used when the text carries no marker.
func ParsePrice(text, fallbackCurrency string) *models.Money {
	amount, ok := ParseAmount(text)
	if !ok {
		return nil
	}
	currency := DetectCurrency(text)
	if currency == "" {
		currency = fallbackCurrency
	}
	return &models.Money{Amount: amount, Currency: currency}
}

var ratingRegex = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:out of|/)\s*5`)

// ParseRating reads ratings such as "4.5 out of 5 stars" or a bare "4.3".
// Values outside 0..5 are rejected.
func ParseRating(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	var v float64
	if m := ratingRegex.FindStringSubmatch(text); m != nil {
		parsed, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		v = parsed
	} else {
		parsed, ok := ParseAmount(text)
		if !ok {
			return 0, false
		}
		v = parsed
	}
	if v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

var countRegex = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*([KkMm])?\b`)

// ParseCount reads integers such as "(1,234)" or "2.1K".
func ParseCount(text string) (int, bool) {
	m := countRegex.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		amount *= 1000
	case "M":
		amount *= 1000000
	}
	return int(math.Round(amount)), true
}

var tldCurrencies = []struct {
	suffix string
	code   string
}{
	{".com.bd", "BDT"},
	{".com.np", "NPR"},
	{".com.mm", "MMK"},
	{".co.uk", "GBP"},
	{".com.au", "AUD"},
	{".com", "USD"},
	{".pk", "PKR"},
	{".lk", "LKR"},
	{".ae", "AED"},
	{".sa", "SAR"},
	{".in", "INR"},
	{".ca", "CAD"},
	{".de", "EUR"},
	{".fr", "EUR"},
	{".it", "EUR"},
	{".es", "EUR"},
	{".jp", "JPY"},
}

// CurrencyForHost guesses the storefront currency from the host's public suffix.
func CurrencyForHost(host string) string {
	host = strings.ToLower(host)
	for _, t := range tldCurrencies {
		if strings.HasSuffix(host, t.suffix) {
			return t.code
		}
	}
	return ""
}

// DeriveID builds a stable identifier from the product URL for sites that
// expose no SKU. Query and fragment are ignored.
func DeriveID(rawURL string) string {
	key := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		key = strings.ToLower(u.Host) + u.EscapedPath()
	}
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}
