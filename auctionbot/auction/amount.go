package auction

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var amountRegex = regexp.MustCompile(`(\d+)(k)?`)

// ParseAmount extracts a bid amount from free-form message text. Thousands
// separators and currency tokens are stripped, the first integer run wins,
// and an immediately following "k" multiplies by 1000 ("7.5k" is not a form
// the marketplace uses; "5k" is).
func ParseAmount(text string) (int64, error) {
	cleaned := strings.ToLower(text)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.ReplaceAll(cleaned, "upx", "")
	cleaned = strings.ReplaceAll(cleaned, "$", "")

	m := amountRegex.FindStringSubmatch(cleaned)
	if m == nil {
		return 0, ErrNoAmountFound
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if m[2] == "k" {
		if n > math.MaxInt64/1000 {
			return 0, ErrInvalidAmount
		}
		n *= 1000
	}
	return n, nil
}
