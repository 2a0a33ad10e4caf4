package shipping

import (
	"strconv"
	"strings"
	"unicode"
)

// NormalizePostcode strips whitespace and upper-cases.
func NormalizePostcode(postcode string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, postcode)
}

// IsStockholmPostcode reports whether the first three characters of the
// normalized postcode are digits in the range 100-199.
func IsStockholmPostcode(postcode string) bool {
	p := NormalizePostcode(postcode)
	if len(p) < 3 {
		return false
	}
	prefix := p[:3]
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return false
		}
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return false
	}
	return n >= 100 && n <= 199
}

// matchPostcode applies WooCommerce zone postcode rules: exact match,
// trailing "*" wildcard, or a numeric "from...to" range.
func matchPostcode(pattern, postcode string) bool {
	pattern = NormalizePostcode(pattern)
	postcode = NormalizePostcode(postcode)
	if pattern == "" || postcode == "" {
		return false
	}
	if from, to, ok := strings.Cut(pattern, "..."); ok {
		lo, errLo := strconv.Atoi(from)
		hi, errHi := strconv.Atoi(to)
		n, errN := strconv.Atoi(postcode)
		if errLo != nil || errHi != nil || errN != nil {
			return false
		}
		return n >= lo && n <= hi
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(postcode, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == postcode
}
