// Package peers derives sector-relative metrics from a snapshot: each stock's
// share of its sector's total market cap, marker sizes for bubble charts, and
// how a stock's ratios compare with its peers.
package peers

import (
	"sort"
	"strings"

	"github.com/seenimoa/peerscope/pkg/models"
)

// Derive enriches the records of a snapshot with market-cap share metrics.
//
// With an empty sectorFilter every record is included and the total is taken
// over the whole snapshot. Otherwise only records whose sector matches the
// filter (case-insensitively) are included, and the total is over them.
// The result is ordered by symbol and is never nil.
func Derive(records map[string]models.Fundamentals, sectorFilter string) []models.Enriched {
	sectorFilter = strings.TrimSpace(sectorFilter)

	out := make([]models.Enriched, 0, len(records))
	for _, rec := range records {
		if sectorFilter != "" && !strings.EqualFold(strings.TrimSpace(rec.Sector), sectorFilter) {
			continue
		}
		out = append(out, models.Enriched{Fundamentals: rec})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })

	// Summed in symbol order; float addition over map order is not repeatable.
	total := 0.0
	for _, e := range out {
		total += e.MarketCap
	}

	for i := range out {
		out[i].SectorTotalMarketCap = total
		if total != 0 {
			out[i].MarketCapSharePct = out[i].MarketCap / total * 100
		}
	}
	return out
}

// BubbleSizes maps each record's market-cap share linearly onto a marker
// diameter in [minPx, maxPx]. The largest share gets maxPx; a zero share gets
// minPx.
func BubbleSizes(enriched []models.Enriched, minPx, maxPx float64) []float64 {
	if maxPx < minPx {
		minPx, maxPx = maxPx, minPx
	}

	sizes := make([]float64, len(enriched))
	maxShare := 0.0
	for _, e := range enriched {
		if e.MarketCapSharePct > maxShare {
			maxShare = e.MarketCapSharePct
		}
	}

	for i, e := range enriched {
		if maxShare == 0 || e.MarketCapSharePct <= 0 {
			sizes[i] = minPx
			continue
		}
		sizes[i] = minPx + (maxPx-minPx)*e.MarketCapSharePct/maxShare
	}
	return sizes
}
