package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		amount   float64
		currency string
		ok       bool
	}{
		{"german euro", "1.519,99 €", 1519.99, "EUR", true},
		{"swedish dash", "4 995:-", 4995, "SEK", true},
		{"swedish kr nbsp", "12\u00a0499 kr", 12499, "SEK", true},
		{"currency prefix", "SEK 12 499", 12499, "SEK", true},
		{"comma decimal", "89,90 €", 89.90, "EUR", true},
		{"comma thousands", "$1,299", 1299, "USD", true},
		{"dot decimal", "£19.99", 19.99, "GBP", true},
		{"dot thousands", "2.499 €", 2499, "EUR", true},
		{"english mixed", "1,234.56 USD", 1234.56, "USD", true},
		{"many groups", "1.234.567 €", 1234567, "EUR", true},
		{"narrow nbsp", "1\u202f299 kr", 1299, "SEK", true},
		{"bare number", "499", 499, "", true},
		{"no amount", "Im Angebot", 0, "", false},
		{"empty", "", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, currency, ok := ParsePrice(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.amount, amount, 0.001)
			assert.Equal(t, tt.currency, currency)
		})
	}
}
