// Package market provides the instrument reference: the stock catalog,
// the MOEX ISS price feed client, and the periodic price refresher.
package market

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxTickerLen is the longest ticker symbol accepted at the boundary.
const MaxTickerLen = 10

// tickerRegex matches exchange ticker symbols: letters and digits,
// starting with a letter. Example: SBER, X5, SNGSP.
var tickerRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]*$`)

// ErrInvalidTicker is returned for malformed ticker symbols.
var ErrInvalidTicker = errors.New("market: invalid ticker symbol")

// NormalizeTicker trims and uppercases a ticker symbol and validates its
// shape. Trade requests carry tickers in any case; storage keys are
// always the normalized form.
func NormalizeTicker(raw string) (string, error) {
	ticker := strings.ToUpper(strings.TrimSpace(raw))
	if ticker == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTicker)
	}
	if len(ticker) > MaxTickerLen {
		return "", fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidTicker, ticker, MaxTickerLen)
	}
	if !tickerRegex.MatchString(ticker) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTicker, ticker)
	}
	return ticker, nil
}
