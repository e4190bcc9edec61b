// Package dashboard turns a user request (tickers, index, view, fetch flag)
// into chart data. It decides whether a fresh fetch is due, falls back to the
// previous snapshot when fetching fails, and derives the sector metrics the
// chosen view plots.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/peerscope/internal/analysis/peers"
	"github.com/seenimoa/peerscope/internal/analysis/portfolio"
	"github.com/seenimoa/peerscope/internal/marketdata"
	"github.com/seenimoa/peerscope/internal/snapshot"
	"github.com/seenimoa/peerscope/pkg/models"
	"github.com/seenimoa/peerscope/pkg/utils"
)

// ErrInvalidRequest is returned for requests that cannot be served as given.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNoData is returned when no snapshot, sector or plottable value is
// available for a request.
var ErrNoData = errors.New("no data")

// maxFailureWarnings caps the per-symbol warnings listed for one fetch.
const maxFailureWarnings = 10

// Catalog is the subset of the index catalog the dashboard reads.
type Catalog interface {
	Lookup(id, symbol string) (models.IndexConstituent, bool, error)
	Peers(id string, sectors ...string) ([]models.IndexConstituent, error)
}

// Store is the subset of the snapshot store the dashboard reads.
type Store interface {
	IsStale(threshold time.Duration) (bool, error)
	LoadLatestUsable() (*snapshot.Snapshot, []string, error)
}

// Fetcher fetches symbols and saves them as a snapshot, and fetches daily
// price history without saving it.
type Fetcher interface {
	Fetch(ctx context.Context, symbols []string) (*marketdata.FetchResult, error)
	History(ctx context.Context, symbols []string, from, to time.Time) (*marketdata.HistoryResult, error)
}

// Request is one chart request.
type Request struct {
	Tickers string `json:"tickers"` // comma separated
	Index   string `json:"index"`
	View    string `json:"view"`
	Fetch   bool   `json:"fetch"`
}

// Response carries the figure and everything the user should be told about
// how it was produced.
type Response struct {
	View        View               `json:"view"`
	Sector      string             `json:"sector"`
	Tickers     []string           `json:"tickers"`
	Figure      *Figure            `json:"figure"`
	Records     []models.Enriched  `json:"records"`
	Comparisons []peers.Comparison `json:"comparisons,omitempty"`
	Snapshot    *snapshot.Meta     `json:"snapshot,omitempty"`
	Stale       bool               `json:"stale"`
	Fetched     bool               `json:"fetched"`
	Warnings    []string           `json:"warnings"`

	// Sharpe view only.
	Portfolio  *PortfolioSummary     `json:"portfolio,omitempty"`
	Benchmarks []portfolio.Benchmark `json:"benchmarks,omitempty"`
}

// Service answers chart requests.
type Service struct {
	catalog    Catalog
	store      Store
	fetcher    Fetcher
	staleAfter time.Duration
	now        func() time.Time
	logger     *zap.Logger

	historyStart time.Time
	portfolios   int
	newRand      func() *rand.Rand
}

// Option customises a Service.
type Option func(*Service)

// WithSharpe sets the first day of price history the sharpe view reads and
// how many portfolios it simulates. Zero values keep the defaults.
func WithSharpe(historyStart time.Time, portfolios int) Option {
	return func(s *Service) {
		if !historyStart.IsZero() {
			s.historyStart = historyStart
		}
		if portfolios > 0 {
			s.portfolios = portfolios
		}
	}
}

// DefaultHistoryStart is the first day of price history the sharpe view reads.
var DefaultHistoryStart = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

// New creates a Service. A nil logger discards output.
func New(catalog Catalog, store Store, fetcher Fetcher, staleAfter time.Duration, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		catalog:      catalog,
		store:        store,
		fetcher:      fetcher,
		staleAfter:   staleAfter,
		now:          time.Now,
		logger:       logger.Named("dashboard"),
		historyStart: DefaultHistoryStart,
		portfolios:   portfolio.DefaultPortfolios,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Render serves one request.
//
// The sector is taken from the first ticker: its row in the chosen index, or
// failing that the sector recorded in the snapshot. A fetch runs when the
// request asks for one, the store is stale, or the newest snapshot lacks the
// first ticker; fetch problems are reported as warnings and the newest usable
// snapshot is shown instead. The sharpe view reads price history and no
// snapshot.
func (s *Service) Render(ctx context.Context, req Request) (*Response, error) {
	tickers := utils.ParseTickerList(req.Tickers)
	if len(tickers) == 0 {
		return nil, fmt.Errorf("%w: please enter at least one ticker symbol", ErrInvalidRequest)
	}
	view, err := ParseView(req.View)
	if err != nil {
		return nil, err
	}

	resp := &Response{View: view, Tickers: tickers, Warnings: []string{}}
	if view == ViewSharpe {
		return s.renderSharpe(ctx, req.Index, tickers, resp)
	}

	sector, peerSymbols, err := s.resolvePeers(req.Index, tickers, resp)
	if err != nil {
		return nil, err
	}

	stale, err := s.store.IsStale(s.staleAfter)
	if err != nil {
		return nil, fmt.Errorf("check staleness: %w", err)
	}
	if req.Fetch || stale || !s.latestHas(tickers[0]) {
		s.fetch(ctx, append(append([]string{}, tickers...), peerSymbols...), resp)
	}

	snap, skipped, err := s.store.LoadLatestUsable()
	for _, id := range skipped {
		resp.warn("snapshot %s is corrupt and was skipped", id)
	}
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return nil, fmt.Errorf("%w: no snapshot available; fetch data first", ErrNoData)
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	meta := snap.Meta()
	resp.Snapshot = &meta
	resp.Stale = resp.Snapshot.Age(s.now()) > s.staleAfter
	if resp.Stale {
		resp.warn("showing snapshot %s captured %s ago", snap.ID, utils.FormatAge(resp.Snapshot.Age(s.now())))
	}

	if sector == "" {
		if rec, ok := snap.Records[tickers[0]]; ok {
			sector = rec.Sector
		}
	}
	if sector == "" {
		return nil, fmt.Errorf("%w: sector information not available for %s", ErrNoData, tickers[0])
	}
	resp.Sector = sector

	highlight := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		highlight[t] = true
	}

	resp.Records = peers.Derive(snap.Records, sector)
	inSector := make(map[string]bool, len(resp.Records))
	for _, e := range resp.Records {
		inSector[e.Symbol] = true
	}
	for _, t := range tickers {
		rec, ok := snap.Records[t]
		switch {
		case !ok:
			resp.warn("%s is not in snapshot %s", t, snap.ID)
		case !inSector[t]:
			resp.warn("%s is outside the %s sector and is not plotted", t, sector)
		default:
			resp.Comparisons = append(resp.Comparisons, peers.Compare(rec, resp.Records))
		}
	}

	resp.Figure, err = buildFigure(view, resp.Records, highlight, sector, req.Index)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// resolvePeers finds the first ticker's sector in the index and the symbols of
// that sector's constituents.
func (s *Service) resolvePeers(index string, tickers []string, resp *Response) (string, []string, error) {
	if index == "" {
		resp.warn("no index selected; sector peers are not fetched")
		return "", nil, nil
	}

	ic, ok, err := s.catalog.Lookup(index, tickers[0])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if !ok || ic.Sector == "" {
		resp.warn("%s is not a constituent of %s; sector peers are not fetched", tickers[0], index)
		return "", nil, nil
	}

	constituents, err := s.catalog.Peers(index, ic.Sector)
	if err != nil {
		return "", nil, err
	}
	syms := make([]string, 0, len(constituents))
	for _, c := range constituents {
		syms = append(syms, c.Symbol)
	}
	return ic.Sector, syms, nil
}

// latestHas reports whether the newest usable snapshot holds symbol.
func (s *Service) latestHas(symbol string) bool {
	snap, _, err := s.store.LoadLatestUsable()
	if err != nil {
		return false
	}
	_, ok := snap.Records[symbol]
	return ok
}

// fetch runs the fetcher and turns every problem into a warning.
func (s *Service) fetch(ctx context.Context, symbols []string, resp *Response) {
	res, err := s.fetcher.Fetch(ctx, symbols)
	if res != nil {
		resp.warnFailures(res.Failures)
	}
	if err != nil {
		s.logger.Warn("fetch failed; using previous snapshot", zap.Error(err))
		if errors.Is(err, marketdata.ErrAllSymbolsFailed) {
			resp.warn("fetch failed for all %d symbols; showing the previous snapshot", len(symbols))
		} else {
			resp.warn("fetch failed (%v); showing the previous snapshot", err)
		}
		return
	}
	resp.Fetched = true
}

// warnFailures lists per-symbol failures, at most maxFailureWarnings of them.
func (r *Response) warnFailures(failures []marketdata.SymbolFailure) {
	for i, f := range failures {
		if i == maxFailureWarnings {
			r.warn("... and %d more symbols failed", len(failures)-i)
			return
		}
		r.warn("%s: %s", f.Symbol, f.Reason)
	}
}

func (r *Response) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
