// Package app wires the catalog, snapshot store, market data fetcher and
// dashboard together from a Config. Both the CLI and the HTTP server build
// on it.
package app

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/seenimoa/peerscope/internal/catalog"
	"github.com/seenimoa/peerscope/internal/config"
	"github.com/seenimoa/peerscope/internal/dashboard"
	"github.com/seenimoa/peerscope/internal/marketdata"
	"github.com/seenimoa/peerscope/internal/snapshot"
)

// App holds the long-lived components of a running process.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Catalog   *catalog.Catalog
	Store     *snapshot.Store
	Provider  marketdata.Provider
	Fetcher   *marketdata.Fetcher
	Dashboard *dashboard.Service
}

// Option customises App construction.
type Option func(*options)

type options struct {
	httpClient *http.Client
	storeOpts  []snapshot.Option
}

// WithHTTPClient sets the client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithStoreOptions passes options through to the snapshot store.
func WithStoreOptions(opts ...snapshot.Option) Option {
	return func(o *options) { o.storeOpts = append(o.storeOpts, opts...) }
}

// New builds an App from cfg. A nil logger discards output.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Catalog:  catalog.New(cfg.Data.IndexDir),
		Store:    snapshot.NewStore(cfg.Data.SnapshotDir, o.storeOpts...),
		Provider: marketdata.NewYahoo(cfg.Fetch.BaseURL, o.httpClient),
	}
	// One fetcher per process so that every caller shares its rate limit.
	a.Fetcher = a.newFetcher()
	// Validate has already rejected a malformed start date; zero keeps the default.
	start, _ := cfg.Sharpe.Start()
	a.Dashboard = dashboard.New(a.Catalog, a.Store, a.Fetcher, cfg.Data.StaleAfter, logger,
		dashboard.WithSharpe(start, cfg.Sharpe.Portfolios))
	return a
}

// newFetcher returns a fetcher that stamps catalog sectors onto its records.
func (a *App) newFetcher() *marketdata.Fetcher {
	return marketdata.NewFetcher(a.Provider, a.Store, marketdata.Options{
		Timeout:     a.Config.Fetch.ProviderTimeout,
		Concurrency: a.Config.Fetch.Concurrency,
		RatePerSec:  a.Config.Fetch.RatePerSec,
		Sector:      a.sectorOf,
	}, a.Logger)
}

// Refresher returns an index list refresher writing into the catalog directory.
func (a *App) Refresher() *catalog.Refresher {
	return catalog.NewRefresher(a.Config.Data.IndexDir, nil, a.Logger)
}

// sectorOf looks a symbol up in every index list and returns the first GICS
// sector found. Lists that fail to load are skipped.
func (a *App) sectorOf(symbol string) string {
	ids, err := a.Catalog.List()
	if err != nil {
		return ""
	}
	for _, id := range ids {
		ic, ok, err := a.Catalog.Lookup(id, symbol)
		if err != nil {
			a.Logger.Debug("index list unavailable", zap.String("index", id), zap.Error(err))
			continue
		}
		if ok && ic.Sector != "" {
			return ic.Sector
		}
	}
	return ""
}

// WithPeers returns symbols followed by every other constituent of index that
// shares a GICS sector with one of them. Symbols absent from the index add no peers.
// An empty index returns symbols unchanged.
func (a *App) WithPeers(index string, symbols []string) ([]string, error) {
	if index == "" || len(symbols) == 0 {
		return symbols, nil
	}

	var sectors []string
	for _, sym := range symbols {
		ic, ok, err := a.Catalog.Lookup(index, sym)
		if err != nil {
			return nil, err
		}
		if ok && ic.Sector != "" {
			sectors = append(sectors, ic.Sector)
		}
	}
	if len(sectors) == 0 {
		return symbols, nil
	}

	constituents, err := a.Catalog.Peers(index, sectors...)
	if err != nil {
		return nil, err
	}
	out := append([]string(nil), symbols...)
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		seen[sym] = true
	}
	for _, c := range constituents {
		if !seen[c.Symbol] {
			seen[c.Symbol] = true
			out = append(out, c.Symbol)
		}
	}
	return out, nil
}
