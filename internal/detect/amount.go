package detect

import (
	"regexp"
	"strconv"
	"strings"
)

// Extraction rules in priority order. The first rule that matches wins;
// later rules are not attempted.
var (
	// currency marker followed by digits with thousand separators
	currencyRe = regexp.MustCompile(`(?i)(idr|rp)\s*([0-9][0-9.,]*)`)
	// grouped digits without a marker: 1-3 digits then separator triples
	groupedRe = regexp.MustCompile(`[0-9]{1,3}(?:[.,][0-9]{3})+`)
	// bare run of 4-12 digits, the most ambiguous fallback
	bareRe = regexp.MustCompile(`(?:^|[^0-9])([0-9]{4,12})(?:[^0-9]|$)`)
)

// ExtractAmount runs the rule cascade over notification text and
// returns the amount in whole rupiah. The second return is false when
// no monetary amount is recognized, which is an expected outcome, not
// an error.
func ExtractAmount(content string) (int64, bool) {
	if m := currencyRe.FindStringSubmatch(content); m != nil {
		return cleanAmount(m[2])
	}
	if m := groupedRe.FindString(content); m != "" {
		return cleanAmount(m)
	}
	if m := bareRe.FindStringSubmatch(content); m != nil {
		return cleanAmount(m[1])
	}
	return 0, false
}

// cleanAmount reduces a matched token to a non-negative integer.
// Amounts are integer-only: a trailing .00/,00 fractional suffix is
// dropped, then every remaining non-digit is stripped.
func cleanAmount(raw string) (int64, bool) {
	if strings.HasSuffix(raw, ".00") || strings.HasSuffix(raw, ",00") {
		raw = raw[:len(raw)-3]
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
