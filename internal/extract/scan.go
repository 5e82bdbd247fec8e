package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pricewatcher/internal/currency"
)

// titleSelectors are tried in order; first non-empty match wins.
var titleSelectors = []string{
	"meta[property='og:title']",
	"h1[data-testid='title']",
	"h1.product-title",
	"h1.ui-pdp-title",
	"#productTitle",
	"h1",
	"title",
}

// priceSelectors are tried in order; first match that parses to a price
// wins. Attribute-carrying selectors are checked on content/value first.
var priceSelectors = []string{
	"meta[property='product:price:amount']",
	"meta[itemprop='price']",
	"[itemprop='price']",
	"[data-testid='price']",
	".a-price .a-offscreen",
	".ui-pdp-price__second-line .andes-money-amount__fraction",
	".andes-money-amount__fraction",
	".price-tag-fraction",
	".product-price",
	".price__current",
	".price",
}

var currencyMetaSelectors = []string{
	"meta[property='product:price:currency']",
	"meta[itemprop='priceCurrency']",
	"[itemprop='priceCurrency']",
}

var (
	jsonLDOffersPrice = regexp.MustCompile(`"offers"[^}]*"price"\s*:\s*"?([0-9][0-9.,]*)"?`)
	jsonLDPrice       = regexp.MustCompile(`"price"\s*:\s*"?([0-9][0-9.,]*)"?`)
	jsonLDCurrency    = regexp.MustCompile(`"priceCurrency"\s*:\s*"([A-Z]{3})"`)
	jsonLDName        = regexp.MustCompile(`"name"\s*:\s*"([^"]+)"`)
)

// ScanHTML runs the ordered selector scan over an HTML document. It never
// fails: anything it cannot find is simply absent from the result, and an
// unparsable price yields a nil price while the title may still be
// salvaged.
func ScanHTML(html string) Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}
	}
	return scanDocument(doc)
}

func scanDocument(doc *goquery.Document) Result {
	var result Result

	for _, selector := range titleSelectors {
		if title := selectText(doc, selector); title != "" {
			result.Title = title
			break
		}
	}

	for _, selector := range priceSelectors {
		text := selectText(doc, selector)
		if text == "" {
			continue
		}
		if price, code := currency.Parse(text); price != nil {
			result.Price = price
			result.Currency = code
			break
		}
	}

	if result.Currency == "" {
		for _, selector := range currencyMetaSelectors {
			if code := strings.ToUpper(selectText(doc, selector)); len(code) == 3 {
				result.Currency = code
				break
			}
		}
	}

	// JSON-LD fallback for script-embedded product data.
	if result.Price == nil || result.Title == "" {
		scanJSONLD(doc, &result)
	}

	return result
}

func scanJSONLD(doc *goquery.Document, result *Result) {
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()

		if result.Price == nil {
			matches := jsonLDOffersPrice.FindStringSubmatch(text)
			if len(matches) < 2 {
				matches = jsonLDPrice.FindStringSubmatch(text)
			}
			if len(matches) > 1 {
				if price, code := currency.Parse(matches[1]); price != nil {
					result.Price = price
					if result.Currency == "" {
						result.Currency = code
					}
				}
			}
		}

		if result.Currency == "" {
			if matches := jsonLDCurrency.FindStringSubmatch(text); len(matches) > 1 {
				result.Currency = matches[1]
			}
		}

		if result.Title == "" {
			if matches := jsonLDName.FindStringSubmatch(text); len(matches) > 1 {
				result.Title = strings.TrimSpace(matches[1])
			}
		}

		return result.Price == nil || result.Title == ""
	})
}

func selectText(doc *goquery.Document, selector string) string {
	selection := doc.Find(selector).First()
	if selection.Length() == 0 {
		return ""
	}
	if content, ok := selection.Attr("content"); ok && strings.TrimSpace(content) != "" {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(selection.Text())
}
