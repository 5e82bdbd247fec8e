// Package currency parses free-form price text scraped from product pages
// into integer minor-currency units.
package currency

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// symbolCodes maps the small fixed set of recognised currency symbols to ISO
// codes. Longer symbols must sort before their prefixes (R$ before $).
var symbolCodes = []struct {
	Symbol string
	Code   string
}{
	{"R$", "BRL"},
	{"US$", "USD"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
}

var isoCodes = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "BRL": true,
	"JPY": true, "CAD": true, "AUD": true, "CHF": true,
}

// minorExponent returns the number of minor-unit digits for a currency.
func minorExponent(code string) int32 {
	if code == "JPY" {
		return 0
	}
	return 2
}

var numberPattern = regexp.MustCompile(`\d[\d.,\s]*\d|\d`)

// Parse extracts a price in minor units and an ISO currency code from raw
// text such as "R$ 1.234,56", "$1,299.00" or "1299 USD". The price is nil
// when no parsable number is present; the currency is empty when no symbol
// or code is recognised. Parsing never fails hard.
func Parse(raw string) (*int64, string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, ""
	}

	code := detectCurrency(text)

	match := numberPattern.FindString(text)
	if match == "" {
		return nil, code
	}

	normalized := normalizeNumber(match)
	value, err := decimal.NewFromString(normalized)
	if err != nil {
		return nil, code
	}

	exp := minorExponent(code)
	minor := value.Shift(exp).Round(0).IntPart()
	if minor < 0 {
		return nil, code
	}
	return &minor, code
}

func detectCurrency(text string) string {
	for _, sc := range symbolCodes {
		if strings.Contains(text, sc.Symbol) {
			return sc.Code
		}
	}
	upper := strings.ToUpper(text)
	for _, token := range strings.FieldsFunc(upper, func(r rune) bool {
		return r < 'A' || r > 'Z'
	}) {
		if isoCodes[token] {
			return token
		}
	}
	return ""
}

// normalizeNumber resolves thousands/decimal separator ambiguity:
// "1.234,56" and "1,234.56" both become "1234.56"; a lone separator
// followed by exactly two digits is decimal, otherwise thousands.
func normalizeNumber(s string) string {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if decimalLike(s, lastComma) {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if !decimalLike(s, lastDot) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	return s
}

func decimalLike(s string, sep int) bool {
	frac := len(s) - sep - 1
	return strings.Count(s, s[sep:sep+1]) == 1 && (frac == 1 || frac == 2)
}
