package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/peerscope/internal/analysis/portfolio"
	"github.com/seenimoa/peerscope/internal/marketdata"
	"github.com/seenimoa/peerscope/pkg/models"
	"github.com/seenimoa/peerscope/pkg/utils"
)

// PortfolioSummary reports the max-Sharpe portfolio of the user's tickers.
type PortfolioSummary struct {
	Symbols   []string            `json:"symbols"`
	Best      portfolio.Portfolio `json:"best"`
	Simulated int                 `json:"simulated"`
	From      time.Time           `json:"from"`
	To        time.Time           `json:"to"`
	Days      int                 `json:"days"` // shared trading days
}

// renderSharpe simulates random weightings of the user's tickers over their
// shared price history and plots them against the annualized risk and return
// of each sector peer. Tickers without history are dropped with a warning.
func (s *Service) renderSharpe(ctx context.Context, index string, tickers []string, resp *Response) (*Response, error) {
	resp.Records = []models.Enriched{}

	sector, peerSymbols, err := s.resolvePeers(index, tickers, resp)
	if err != nil {
		return nil, err
	}
	resp.Sector = sector

	symbols := append(append([]string{}, tickers...), peerSymbols...)
	res, err := s.fetcher.History(ctx, symbols, s.historyStart, s.now())
	if res != nil {
		resp.warnFailures(res.Failures)
	}
	if err != nil {
		if errors.Is(err, marketdata.ErrAllSymbolsFailed) {
			return nil, fmt.Errorf("%w: no price history available for %s", ErrNoData, strings.Join(tickers, ", "))
		}
		return nil, fmt.Errorf("fetch price history: %w", err)
	}

	var held []string
	for _, t := range tickers {
		if _, ok := res.Series[t]; ok {
			held = append(held, t)
		} else {
			resp.warn("%s has no price history and is left out of the portfolio", t)
		}
	}
	if len(held) == 0 {
		return nil, fmt.Errorf("%w: no price history available for %s", ErrNoData, strings.Join(tickers, ", "))
	}

	dates, prices := portfolio.Align(res.Series, held)
	returns := make([][]float64, len(prices))
	for i, p := range prices {
		returns[i] = portfolio.DailyReturns(p)
	}
	sim, err := portfolio.Simulate(held, returns, s.portfolios, s.newRand())
	if err != nil {
		if errors.Is(err, portfolio.ErrInsufficientData) {
			return nil, fmt.Errorf("%w: %v", ErrNoData, err)
		}
		return nil, err
	}
	resp.Portfolio = &PortfolioSummary{
		Symbols:   held,
		Best:      sim.BestPortfolio(),
		Simulated: len(sim.Portfolios),
		From:      dates[0],
		To:        dates[len(dates)-1],
		Days:      len(dates),
	}

	bench := make(map[string][]models.OHLCV, len(peerSymbols))
	for _, sym := range peerSymbols {
		sym = utils.NormalizeTicker(sym)
		if bars, ok := res.Series[sym]; ok {
			bench[sym] = bars
		}
	}
	resp.Benchmarks = portfolio.Benchmarks(bench)
	if sector != "" && len(resp.Benchmarks) == 0 {
		resp.warn("no %s constituent has enough price history to serve as a benchmark", sector)
	}

	s.logger.Debug("sharpe view",
		zap.Strings("symbols", held),
		zap.Int("days", len(dates)),
		zap.Int("benchmarks", len(resp.Benchmarks)),
		zap.Float64("best_sharpe", resp.Portfolio.Best.Sharpe),
	)

	resp.Figure = sharpeFigure(sim, resp.Benchmarks)
	return resp, nil
}

// sharpeFigure plots the simulated portfolios colored by Sharpe ratio, the
// best of them as a star, and the sector benchmarks as labelled diamonds.
func sharpeFigure(sim *portfolio.Simulation, benchmarks []portfolio.Benchmark) *Figure {
	n := len(sim.Portfolios)
	vols := make([]float64, n)
	rets := make([]float64, n)
	sharpes := make([]float64, n)
	for i, p := range sim.Portfolios {
		vols[i] = p.Volatility
		rets[i] = p.Return
		sharpes[i] = p.Sharpe
	}

	best := sim.BestPortfolio()
	mix := make([]string, len(sim.Symbols))
	for i, sym := range sim.Symbols {
		mix[i] = fmt.Sprintf("%s %.1f%%", sym, best.Weights[i]*100)
	}

	traces := []Trace{
		{
			Type: "scatter",
			Mode: "markers",
			Name: "User Portfolio Simulation",
			X:    vols,
			Y:    rets,
			Marker: Marker{
				Size:       5,
				Color:      sharpes,
				ColorScale: "RdYlBu",
				ShowScale:  true,
				ColorBar:   &ColorBar{Title: Text{"Sharpe Ratio"}},
			},
			HoverTemplate: "Volatility: %{x:.1%}<br>Return: %{y:.1%}<br>Sharpe: %{marker.color:.2f}<extra></extra>",
		},
		{
			Type:          "scatter",
			Mode:          "markers",
			Name:          "Max Sharpe Ratio",
			X:             []float64{best.Volatility},
			Y:             []float64{best.Return},
			Text:          []string{strings.Join(mix, ", ")},
			Marker:        Marker{Size: 15, Color: colorUser, Symbol: "star"},
			HoverTemplate: fmt.Sprintf("Max Sharpe %.2f<br>%%{text}<br>Volatility: %%{x:.1%%}<br>Return: %%{y:.1%%}<extra></extra>", best.Sharpe),
		},
	}

	if len(benchmarks) > 0 {
		bt := Trace{
			Type:          "scatter",
			Mode:          "markers+text",
			Name:          "Sector Benchmarks",
			X:             make([]float64, len(benchmarks)),
			Y:             make([]float64, len(benchmarks)),
			Text:          make([]string, len(benchmarks)),
			TextPosition:  "top center",
			Marker:        Marker{Size: 10, Color: colorBench, Symbol: "diamond"},
			HoverTemplate: "Ticker: %{text}<br>Volatility: %{x:.1%}<br>Return: %{y:.1%}<extra></extra>",
		}
		xs := bt.X.([]float64)
		for i, b := range benchmarks {
			xs[i] = b.Volatility
			bt.Y[i] = b.Return
			bt.Text[i] = b.Symbol
		}
		traces = append(traces, bt)
	}

	return &Figure{
		Data: traces,
		Layout: Layout{
			Title:     Text{"Sharpe Ratio Analysis: User Portfolio vs. Sector Benchmarks"},
			XAxis:     Axis{Title: Text{"Annualized Volatility"}, TickFormat: ".0%"},
			YAxis:     Axis{Title: Text{"Annualized Return"}, TickFormat: ".0%"},
			HoverMode: "closest",
		},
	}
}
