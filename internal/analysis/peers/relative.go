package peers

import (
	"fmt"
	"sort"

	"github.com/seenimoa/peerscope/pkg/models"
)

// RelativeMetric places one ratio of a target stock among its peers.
type RelativeMetric struct {
	Metric      string  `json:"metric"`
	TargetValue float64 `json:"target_value"`
	PeerAvg     float64 `json:"peer_avg"`
	PeerMedian  float64 `json:"peer_median"`
	Percentile  float64 `json:"percentile"` // 0-100, higher is better
	Peers       int     `json:"peers"`
}

// Comparison summarises a target stock against its sector peers.
type Comparison struct {
	Symbol  string           `json:"symbol"`
	Sector  string           `json:"sector"`
	Metrics []RelativeMetric `json:"metrics"`
	Summary string           `json:"summary"`
}

type metricExtractor struct {
	name string
	fn   func(models.Fundamentals) float64
	// lower is better (P/E, P/B); false means higher is better.
	lowerBetter bool
}

var extractors = []metricExtractor{
	{"P/E", func(f models.Fundamentals) float64 { return f.TrailingPE }, true},
	{"P/B", func(f models.Fundamentals) float64 { return f.PriceToBook }, true},
	{"ROE", func(f models.Fundamentals) float64 { return f.ROE }, false},
	{"Earnings Growth", func(f models.Fundamentals) float64 { return f.EarningsGrowth }, false},
}

// Compare ranks target against the other members of its sector in enriched.
// Metrics the target lacks, or that no peer reports, are omitted.
func Compare(target models.Fundamentals, enriched []models.Enriched) Comparison {
	c := Comparison{Symbol: target.Symbol, Sector: target.Sector}

	var peers []models.Fundamentals
	for _, e := range enriched {
		if e.Symbol != target.Symbol {
			peers = append(peers, e.Fundamentals)
		}
	}

	for _, ext := range extractors {
		tv := ext.fn(target)
		if tv == 0 {
			continue
		}

		var vals []float64
		for _, p := range peers {
			if v := ext.fn(p); v != 0 {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}

		worse := 0
		for _, v := range vals {
			if ext.lowerBetter && v > tv || !ext.lowerBetter && v < tv {
				worse++
			}
		}

		c.Metrics = append(c.Metrics, RelativeMetric{
			Metric:      ext.name,
			TargetValue: tv,
			PeerAvg:     avgFloat(vals),
			PeerMedian:  medianFloat(vals),
			Percentile:  float64(worse) / float64(len(vals)) * 100,
			Peers:       len(vals),
		})
	}

	c.Summary = buildSummary(c)
	return c
}

func buildSummary(c Comparison) string {
	if len(c.Metrics) == 0 {
		return fmt.Sprintf("%s: not enough peer data to compare", c.Symbol)
	}
	var sum float64
	for _, m := range c.Metrics {
		sum += m.Percentile
	}
	pctile := sum / float64(len(c.Metrics))

	switch {
	case pctile >= 80:
		return c.Symbol + " ranks in the top quintile of its sector"
	case pctile >= 60:
		return c.Symbol + " ranks above average in its sector"
	case pctile >= 40:
		return c.Symbol + " ranks average in its sector"
	case pctile >= 20:
		return c.Symbol + " ranks below average in its sector"
	default:
		return c.Symbol + " ranks in the bottom quintile of its sector"
	}
}

func avgFloat(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func medianFloat(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
