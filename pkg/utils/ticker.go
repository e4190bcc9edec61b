// Package utils provides common utility functions for peerscope.
package utils

import (
	"strings"
)

// Index list files (scraped from Wikipedia) use the exchange's class-share
// notation; Yahoo Finance uses a dash.
var classShareSeparators = []string{".", "/"}

// NormalizeTicker normalizes a user-input ticker to the canonical upper-case form.
// It handles uppercasing, whitespace and a leading "$".
func NormalizeTicker(ticker string) string {
	ticker = strings.TrimSpace(strings.ToUpper(ticker))

	// Remove $ prefix if present (common in pasted watchlists)
	ticker = strings.TrimPrefix(ticker, "$")

	return strings.TrimSpace(ticker)
}

// ParseTickerList splits free-text, comma-separated input into normalized,
// de-duplicated tickers, preserving first-seen order.
// e.g., " aapl, msft,,AAPL " → ["AAPL", "MSFT"]
func ParseTickerList(input string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(input, ",") {
		t := NormalizeTicker(part)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ToYahooTicker converts a listing symbol to Yahoo Finance format.
// Class shares such as "BRK.B" or "BF/B" become "BRK-B" / "BF-B".
// Index symbols (leading "^") are returned unchanged.
func ToYahooTicker(ticker string) string {
	ticker = NormalizeTicker(ticker)
	if strings.HasPrefix(ticker, "^") {
		return ticker
	}
	for _, sep := range classShareSeparators {
		ticker = strings.ReplaceAll(ticker, sep, "-")
	}
	return ticker
}

// IsIndex reports whether the symbol is a Yahoo index symbol (e.g. "^GSPC").
func IsIndex(ticker string) bool {
	return strings.HasPrefix(NormalizeTicker(ticker), "^")
}
