package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/seenimoa/peerscope/internal/snapshot"
	"github.com/seenimoa/peerscope/pkg/models"
	"github.com/seenimoa/peerscope/pkg/utils"
)

// Saver persists a set of records as a new snapshot.
type Saver interface {
	Save(records map[string]models.Fundamentals) (*snapshot.Snapshot, error)
}

// SectorFunc returns the sector to stamp on a symbol's record, or "" to keep
// the provider's value.
type SectorFunc func(symbol string) string

// Options tunes a Fetcher. Zero values take the defaults below.
type Options struct {
	Timeout     time.Duration // per provider call
	Concurrency int           // in-flight provider calls
	RatePerSec  float64       // client-side request rate
	Sector      SectorFunc
}

// Defaults applied by NewFetcher.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultConcurrency = 5
	DefaultRatePerSec  = 5.0
)

// SymbolFailure records why one symbol is missing from a snapshot.
type SymbolFailure struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// FetchResult is the outcome of a fetch. Snapshot is nil when nothing was
// persisted.
type FetchResult struct {
	Snapshot *snapshot.Snapshot `json:"snapshot,omitempty"`
	Failures []SymbolFailure    `json:"failures"`
}

// Fetcher fans a symbol list out to a Provider and saves the successes.
type Fetcher struct {
	provider Provider
	store    Saver
	opts     Options
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewFetcher creates a fetcher. A nil logger discards output.
func NewFetcher(provider Provider, store Saver, opts Options, logger *zap.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = DefaultRatePerSec
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	burst := int(opts.RatePerSec)
	if burst < 1 {
		burst = 1
	}

	return &Fetcher{
		provider: provider,
		store:    store,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), burst),
		logger:   logger.Named("fetcher"),
	}
}

type outcome[T any] struct {
	value T
	err   error
}

// Fetch retrieves every symbol once and saves the successes as one snapshot.
//
// Per-symbol failures are reported in FetchResult.Failures and never abort the
// run. If every symbol fails, the returned error wraps ErrAllSymbolsFailed and
// each symbol's error; the result still lists the failures. Cancellation of
// ctx aborts the run without saving.
func (f *Fetcher) Fetch(ctx context.Context, symbols []string) (*FetchResult, error) {
	syms := normalize(symbols)
	if len(syms) == 0 {
		return nil, ErrNoSymbols
	}

	start := time.Now()
	outcomes := fanOut(ctx, f, syms, f.fundamentals)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch aborted: %w", err)
	}

	records := make(map[string]models.Fundamentals, len(syms))
	result := &FetchResult{Failures: []SymbolFailure{}}
	var errs []error
	for i, sym := range syms {
		o := outcomes[i]
		if o.err != nil {
			result.Failures = append(result.Failures, SymbolFailure{Symbol: sym, Reason: o.err.Error(), Err: o.err})
			errs = append(errs, fmt.Errorf("%s: %w", sym, o.err))
			f.logger.Debug("symbol failed", zap.String("symbol", sym), zap.Error(o.err))
			continue
		}
		records[sym] = *o.value
	}
	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].Symbol < result.Failures[j].Symbol
	})

	if len(records) == 0 {
		f.logger.Warn("all symbols failed",
			zap.String("provider", f.provider.Name()),
			zap.Int("symbols", len(syms)),
		)
		return result, fmt.Errorf("%w (%d symbols): %w", ErrAllSymbolsFailed, len(syms), errors.Join(errs...))
	}

	snap, err := f.store.Save(records)
	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	result.Snapshot = snap

	f.logger.Info("snapshot saved",
		zap.String("id", snap.ID),
		zap.String("provider", f.provider.Name()),
		zap.Int("fetched", len(records)),
		zap.Int("failed", len(result.Failures)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// fanOut runs call once per symbol with at most Concurrency calls in flight
// and returns the outcomes in symbol order.
func fanOut[T any](ctx context.Context, f *Fetcher, syms []string, call func(context.Context, string) (T, error)) []outcome[T] {
	outcomes := make([]outcome[T], len(syms))

	var g errgroup.Group
	g.SetLimit(f.opts.Concurrency)
	for i, sym := range syms {
		g.Go(func() error {
			outcomes[i] = callOne(ctx, f, sym, call)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// callOne makes the single provider call for sym under the rate limit and the
// per-call timeout.
func callOne[T any](ctx context.Context, f *Fetcher, sym string, call func(context.Context, string) (T, error)) outcome[T] {
	if utils.IsIndex(sym) {
		return outcome[T]{err: fmt.Errorf("%w: %s is an index, not a company", ErrTickerNotFound, sym)}
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return outcome[T]{err: fmt.Errorf("rate limiter: %w", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	v, err := call(callCtx, sym)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return outcome[T]{err: fmt.Errorf("timed out after %s: %w", f.opts.Timeout, err)}
		}
		return outcome[T]{err: err}
	}
	return outcome[T]{value: v}
}

// fundamentals fetches one record and stamps it with the requested symbol and
// the annotated sector.
func (f *Fetcher) fundamentals(ctx context.Context, sym string) (*models.Fundamentals, error) {
	rec, err := f.provider.Fundamentals(ctx, sym)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: empty record", ErrMalformedResponse)
	}

	out := *rec
	out.Symbol = sym
	if f.opts.Sector != nil {
		if s := f.opts.Sector(sym); s != "" {
			out.Sector = s
		}
	}
	return &out, nil
}

// normalize upper-cases, trims and de-duplicates symbols, keeping first-seen
// order.
func normalize(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = utils.NormalizeTicker(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
