package sites

import (
	"regexp"
	"strconv"
	"strings"
)

var amountPattern = regexp.MustCompile(`\d[\d\s.,]*`)

var currencySymbols = []struct {
	token string
	code  string
}{
	{"€", "EUR"},
	{"eur", "EUR"},
	{"sek", "SEK"},
	{"kr", "SEK"},
	{":-", "SEK"},
	{"nok", "NOK"},
	{"dkk", "DKK"},
	{"£", "GBP"},
	{"gbp", "GBP"},
	{"$", "USD"},
	{"usd", "USD"},
}

// ParsePrice reads an amount and currency from shop price text such as
// "1.519,99 €", "4 995:-" or "SEK 12 499". ok is false when no amount is
// present. The currency is "" when the text carries none.
func ParsePrice(text string) (amount float64, currency string, ok bool) {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = strings.ReplaceAll(text, "\u202f", " ")

	lower := strings.ToLower(text)
	for _, c := range currencySymbols {
		if strings.Contains(lower, c.token) {
			currency = c.code
			break
		}
	}

	// "4 995:-" ends in a dash that is not a decimal part.
	text = strings.ReplaceAll(text, ":-", "")
	raw := amountPattern.FindString(text)
	if raw == "" {
		return 0, currency, false
	}

	amount, ok = parseAmount(raw)
	return amount, currency, ok
}

func parseAmount(raw string) (float64, bool) {
	s := strings.Join(strings.Fields(raw), "")
	s = strings.TrimRight(s, ".,")

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
		s = normalizeSeparator(s, ",")
	case lastDot >= 0:
		s = normalizeSeparator(s, ".")
	}

	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return val, true
}

// normalizeSeparator decides whether sep is a decimal mark or a thousands
// separator. A single separator followed by exactly three digits is read as
// thousands.
func normalizeSeparator(s, sep string) string {
	parts := strings.Split(s, sep)
	last := parts[len(parts)-1]
	if len(parts) > 2 || len(last) == 3 {
		return strings.Join(parts, "")
	}
	return strings.Join(parts, ".")
}
