package portfolio

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// DefaultPortfolios is the number of random weightings a simulation draws.
const DefaultPortfolios = 25000

// ErrInsufficientData is returned when the returns cannot support a
// simulation.
var ErrInsufficientData = errors.New("insufficient price history")

// Portfolio is one weighting of the simulated symbols with its annualized
// figures. Sharpe assumes a zero risk-free rate.
type Portfolio struct {
	Weights    []float64 `json:"weights"`
	Return     float64   `json:"return"`
	Volatility float64   `json:"volatility"`
	Sharpe     float64   `json:"sharpe"`
}

// Simulation is the outcome of Simulate. Best indexes the portfolio with the
// highest Sharpe ratio, the first one on ties.
type Simulation struct {
	Symbols    []string    `json:"symbols"`
	Portfolios []Portfolio `json:"-"`
	Best       int         `json:"-"`
}

// BestPortfolio returns the max-Sharpe portfolio.
func (s *Simulation) BestPortfolio() Portfolio {
	return s.Portfolios[s.Best]
}

// Simulate draws n random long-only weightings of the symbols and scores each
// from the mean and covariance of the daily returns. returns[i] holds the
// aligned daily returns of symbols[i].
func Simulate(symbols []string, returns [][]float64, n int, rng *rand.Rand) (*Simulation, error) {
	if len(symbols) == 0 || len(symbols) != len(returns) {
		return nil, fmt.Errorf("%w: %d symbols with %d return series", ErrInsufficientData, len(symbols), len(returns))
	}
	for i, r := range returns {
		if len(r) < 2 {
			return nil, fmt.Errorf("%w: %s has %d daily returns", ErrInsufficientData, symbols[i], len(r))
		}
		if len(r) != len(returns[0]) {
			return nil, fmt.Errorf("%w: return series are not aligned", ErrInsufficientData)
		}
	}
	if n <= 0 {
		return nil, fmt.Errorf("portfolio count must be positive, got %d", n)
	}

	means := make([]float64, len(returns))
	for i, r := range returns {
		means[i] = Mean(r)
	}
	cov := Covariance(returns)

	sim := &Simulation{Symbols: symbols, Portfolios: make([]Portfolio, n)}
	for k := range sim.Portfolios {
		w := randomWeights(len(symbols), rng)
		p := score(w, means, cov)
		sim.Portfolios[k] = p
		if p.Sharpe > sim.Portfolios[sim.Best].Sharpe {
			sim.Best = k
		}
	}
	return sim, nil
}

// randomWeights draws uniform weights and normalizes them to sum to 1.
func randomWeights(n int, rng *rand.Rand) []float64 {
	w := make([]float64, n)
	sum := 0.0
	for i := range w {
		w[i] = rng.Float64()
		sum += w[i]
	}
	for i := range w {
		if sum == 0 {
			w[i] = 1 / float64(n)
			continue
		}
		w[i] /= sum
	}
	return w
}

// score annualizes the portfolio's mean return and its volatility
// sqrt(wᵀΣw).
func score(w, means []float64, cov [][]float64) Portfolio {
	ret := 0.0
	for i := range w {
		ret += means[i] * w[i]
	}
	variance := 0.0
	for i := range w {
		for j := range w {
			variance += w[i] * cov[i][j] * w[j]
		}
	}

	p := Portfolio{
		Weights:    w,
		Return:     ret * TradingDays,
		Volatility: math.Sqrt(math.Max(variance, 0)) * math.Sqrt(TradingDays),
	}
	if p.Volatility > 0 {
		p.Sharpe = p.Return / p.Volatility
	}
	return p
}
