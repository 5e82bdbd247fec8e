package currency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		minor    int64
		currency string
	}{
		{"dollar symbol", "$1,299.99", 129999, "USD"},
		{"euro comma decimal", "€1.299,99", 129999, "EUR"},
		{"pound plain", "£24.50", 2450, "GBP"},
		{"yen no minor units", "¥1,500", 1500, "JPY"},
		{"real before dollar", "R$ 3.499,90", 349990, "BRL"},
		{"iso code prefix", "USD 49.99", 4999, "USD"},
		{"iso code suffix", "49,99 EUR", 4999, "EUR"},
		{"bare integer", "1500", 150000, ""},
		{"thousands only", "1.500", 150000, ""},
		{"decimal only", "15.99", 1599, ""},
		{"single trailing digit", "15.9", 1590, ""},
		{"embedded in text", "Now only $89.00 while stocks last", 8900, "USD"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			minor, cur := Parse(tc.raw)
			require.NotNil(t, minor, "expected a price in %q", tc.raw)
			assert.Equal(t, tc.minor, *minor)
			assert.Equal(t, tc.currency, cur)
		})
	}
}

func TestParseNoPrice(t *testing.T) {
	for _, raw := range []string{"", "out of stock", "$", "price on request"} {
		minor, _ := Parse(raw)
		assert.Nil(t, minor, "expected no price in %q", raw)
	}
}
