package dashboard

import (
	"fmt"
	"strings"

	"github.com/seenimoa/peerscope/internal/analysis/peers"
	"github.com/seenimoa/peerscope/pkg/models"
	"github.com/seenimoa/peerscope/pkg/utils"
)

// View names a preset chart.
type View string

const (
	ViewPE     View = "pe"
	ViewBubble View = "bubble"
	ViewPBROE  View = "pb_roe"
	ViewSharpe View = "sharpe"
)

// ViewInfo describes a view for menus.
type ViewInfo struct {
	ID    View   `json:"id"`
	Title string `json:"title"`
}

// Views lists the available views in menu order.
var Views = []ViewInfo{
	{ViewPE, "Trailing P/E across sector peers"},
	{ViewBubble, "P/E vs earnings growth, sized by market-cap share"},
	{ViewPBROE, "Price-to-book vs ROE, sized by market-cap share"},
	{ViewSharpe, "Sharpe ratio: simulated portfolios vs sector benchmarks"},
}

// ParseView resolves a view name. An empty name selects ViewPE.
func ParseView(s string) (View, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ViewPE, nil
	}
	for _, v := range Views {
		if string(v.ID) == s {
			return v.ID, nil
		}
	}
	return "", fmt.Errorf("%w: unknown view %q", ErrInvalidRequest, s)
}

// point is one plotted record.
type point struct {
	x, y float64
	size float64
	e    models.Enriched
}

// buildFigure renders enriched records as the chosen view. Records missing a
// value the view plots are left out; if none remain, ErrNoData is returned.
func buildFigure(view View, enriched []models.Enriched, highlight map[string]bool, sector, index string) (*Figure, error) {
	sizes := peers.BubbleSizes(enriched, bubbleMinPx, bubbleMaxPx)

	var xf func(models.Enriched) float64
	var yf func(models.Enriched) float64
	var layout Layout
	switch view {
	case ViewPE:
		yf = func(e models.Enriched) float64 { return e.TrailingPE }
		layout = Layout{
			Title: Text{fmt.Sprintf("P/E Scatter Plot for %s Sector (Benchmark: %s)", sector, index)},
			XAxis: Axis{Title: Text{"Ticker"}, Type: "category"},
			YAxis: Axis{Title: Text{"Trailing P/E Ratio"}},
		}
	case ViewBubble:
		xf = func(e models.Enriched) float64 { return utils.FractionToPct(e.EarningsGrowth) }
		yf = func(e models.Enriched) float64 { return e.TrailingPE }
		layout = Layout{
			Title: Text{fmt.Sprintf("P/E vs Earnings Growth for %s Sector (Benchmark: %s)", sector, index)},
			XAxis: Axis{Title: Text{"Earnings Growth (%)"}},
			YAxis: Axis{Title: Text{"Trailing P/E Ratio"}},
		}
	case ViewPBROE:
		xf = func(e models.Enriched) float64 { return utils.FractionToPct(e.ROE) }
		yf = func(e models.Enriched) float64 { return e.PriceToBook }
		layout = Layout{
			Title: Text{fmt.Sprintf("Price-to-Book vs ROE for %s Sector (Benchmark: %s)", sector, index)},
			XAxis: Axis{Title: Text{"Return on Equity (%)"}},
			YAxis: Axis{Title: Text{"Price-to-Book"}},
		}
	default:
		return nil, fmt.Errorf("%w: unknown view %q", ErrInvalidRequest, view)
	}
	layout.HoverMode = "closest"

	var pts []point
	for i, e := range enriched {
		p := point{y: yf(e), size: sizes[i], e: e}
		if p.y == 0 {
			continue
		}
		if xf != nil {
			if p.x = xf(e); p.x == 0 {
				continue
			}
		}
		pts = append(pts, p)
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: nothing to plot for %s in sector %q", ErrNoData, view, sector)
	}

	tr := Trace{
		Type:         "scatter",
		Mode:         "markers+text",
		Name:         sector,
		Y:            make([]float64, len(pts)),
		Text:         make([]string, len(pts)),
		TextPosition: "top center",
		CustomData:   make([]string, len(pts)),
	}
	colors := make([]string, len(pts))
	for i, p := range pts {
		tr.Y[i] = p.y
		tr.Text[i] = p.e.Symbol
		tr.CustomData[i] = fmt.Sprintf("%s (%.1f%% of sector)", utils.FormatUSDCompact(p.e.MarketCap), p.e.MarketCapSharePct)
		colors[i] = colorPeer
		if highlight[p.e.Symbol] {
			colors[i] = colorUser
		}
	}

	if view == ViewPE {
		tr.X = tr.Text
		tr.Marker = Marker{Size: 10, Color: colors}
		tr.HoverTemplate = "Ticker: %{text}<br>Trailing P/E: %{y}<br>Market cap: %{customdata}<extra></extra>"
	} else {
		xs := make([]float64, len(pts))
		ms := make([]float64, len(pts))
		for i, p := range pts {
			xs[i] = p.x
			ms[i] = p.size
		}
		tr.X = xs
		tr.Marker = Marker{Size: ms, Color: colors, SizeMode: "diameter", Opacity: 0.7}
		tr.HoverTemplate = fmt.Sprintf("Ticker: %%{text}<br>%s: %%{x:.2f}<br>%s: %%{y:.2f}<br>Market cap: %%{customdata}<extra></extra>",
			layout.XAxis.Title.Text, layout.YAxis.Title.Text)
	}

	return &Figure{Data: []Trace{tr}, Layout: layout}, nil
}
