// Package models defines the core data structures shared across peerscope.
package models

// Fundamentals is the point-in-time fundamentals record captured for one ticker.
// Ratios are stored as the provider reports them: EarningsGrowth and ROE are
// fractions (0.12 == 12%), not percentages.
type Fundamentals struct {
	Symbol         string  `json:"symbol"`                    // e.g., "AAPL"
	Name           string  `json:"name"`                      // company display name
	Sector         string  `json:"sector,omitempty"`          // GICS sector when known
	Price          float64 `json:"price"`                     // last price, quote currency
	TrailingPE     float64 `json:"trailing_pe,omitempty"`     // 0 when not meaningful
	MarketCap      float64 `json:"market_cap"`                // raw value, not formatted
	EarningsGrowth float64 `json:"earnings_growth,omitempty"` // yoy, fraction
	PriceToBook    float64 `json:"price_to_book,omitempty"`
	ROE            float64 `json:"roe,omitempty"` // return on equity, fraction
}

// Enriched is a Fundamentals record with the market-cap share metrics the
// chart views size their markers by.
type Enriched struct {
	Fundamentals
	SectorTotalMarketCap float64 `json:"sector_total_market_cap"`
	MarketCapSharePct    float64 `json:"market_cap_share_pct"`
}
