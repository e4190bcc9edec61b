// Package portfolio measures risk and return from daily price history:
// annualized return and volatility per stock, the Sharpe ratio, and a Monte
// Carlo search over portfolio weights for the best Sharpe ratio.
package portfolio

import (
	"math"
	"sort"
	"time"

	"github.com/seenimoa/peerscope/pkg/models"
)

// TradingDays is the number of sessions used to annualize daily figures.
const TradingDays = 252

// ────────────────────────────────────────────────────────────────────
// Price series
// ────────────────────────────────────────────────────────────────────

// Align keeps the dates on which every symbol has a positive price and
// returns them with one price column per symbol, in symbols order.
func Align(series map[string][]models.OHLCV, symbols []string) ([]time.Time, [][]float64) {
	if len(symbols) == 0 {
		return nil, nil
	}

	byDay := make([]map[time.Time]float64, len(symbols))
	for i, sym := range symbols {
		byDay[i] = make(map[time.Time]float64, len(series[sym]))
		for _, bar := range series[sym] {
			if p := bar.Price(); p > 0 {
				byDay[i][day(bar.Timestamp)] = p
			}
		}
	}

	var dates []time.Time
	for d := range byDay[0] {
		shared := true
		for _, m := range byDay[1:] {
			if _, ok := m[d]; !ok {
				shared = false
				break
			}
		}
		if shared {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	columns := make([][]float64, len(symbols))
	for i := range symbols {
		columns[i] = make([]float64, len(dates))
		for j, d := range dates {
			columns[i][j] = byDay[i][d]
		}
	}
	return dates, columns
}

// day truncates t to its UTC calendar date.
func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DailyReturns returns the simple return between consecutive prices. A
// non-positive previous price yields a zero return.
func DailyReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return returns
}

// ────────────────────────────────────────────────────────────────────
// Statistics
// ────────────────────────────────────────────────────────────────────

// Mean is the arithmetic mean, 0 for no data.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// StdDev is the sample standard deviation, 0 for fewer than two values.
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	m := Mean(data)
	sumSq := 0.0
	for _, v := range data {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(data)-1)) // sample stddev
}

// Covariance returns the sample covariance matrix of equally long return
// columns.
func Covariance(columns [][]float64) [][]float64 {
	n := len(columns)
	means := make([]float64, n)
	for i, c := range columns {
		means[i] = Mean(c)
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			obs := len(columns[i])
			if obs < 2 {
				continue
			}
			sum := 0.0
			for k := 0; k < obs; k++ {
				sum += (columns[i][k] - means[i]) * (columns[j][k] - means[j])
			}
			cov[i][j] = sum / float64(obs-1)
			cov[j][i] = cov[i][j]
		}
	}
	return cov
}

// Annualized scales daily returns to a yearly mean return and volatility.
func Annualized(returns []float64) (ret, vol float64) {
	return Mean(returns) * TradingDays, StdDev(returns) * math.Sqrt(TradingDays)
}

// Sharpe is the annualized Sharpe ratio of daily returns against a yearly
// risk-free rate. It is 0 when the returns do not vary.
func Sharpe(returns []float64, riskFreeRate float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	dailyRf := riskFreeRate / TradingDays
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - dailyRf
	}

	sd := StdDev(excess)
	if sd == 0 {
		return 0
	}
	return (Mean(excess) / sd) * math.Sqrt(TradingDays)
}

// ────────────────────────────────────────────────────────────────────
// Benchmarks
// ────────────────────────────────────────────────────────────────────

// Benchmark is one stock's annualized risk and return.
type Benchmark struct {
	Symbol     string  `json:"symbol"`
	Return     float64 `json:"return"`
	Volatility float64 `json:"volatility"`
	Sharpe     float64 `json:"sharpe"`
}

// Benchmarks measures each series on its own dates. Series with fewer than
// two returns are left out. The result is ordered by symbol.
func Benchmarks(series map[string][]models.OHLCV) []Benchmark {
	out := make([]Benchmark, 0, len(series))
	for sym, bars := range series {
		prices := make([]float64, 0, len(bars))
		for _, bar := range bars {
			if p := bar.Price(); p > 0 {
				prices = append(prices, p)
			}
		}
		returns := DailyReturns(prices)
		if len(returns) < 2 {
			continue
		}
		ret, vol := Annualized(returns)
		out = append(out, Benchmark{Symbol: sym, Return: ret, Volatility: vol, Sharpe: Sharpe(returns, 0)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
