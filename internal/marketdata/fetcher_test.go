package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/peerscope/internal/snapshot"
	"github.com/seenimoa/peerscope/pkg/models"
)

// fakeProvider answers from a fixed table; symbols in fail return their error.
type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	delay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeProvider(fail map[string]error) *fakeProvider {
	return &fakeProvider{calls: make(map[string]int), fail: fail}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error) {
	p.mu.Lock()
	p.calls[symbol]++
	p.mu.Unlock()

	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		cur := p.maxInFlight.Load()
		if n <= cur || p.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err, ok := p.fail[symbol]; ok {
		return nil, err
	}
	return &models.Fundamentals{
		Symbol:    "IGNORED",
		Name:      symbol + " Corp",
		Sector:    "Provider Sector",
		Price:     10,
		MarketCap: 100,
	}, nil
}

func (p *fakeProvider) callCount(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[symbol]
}

// countingSaver wraps a real store and counts saves.
type countingSaver struct {
	store *snapshot.Store
	saves int
	err   error
}

func (s *countingSaver) Save(records map[string]models.Fundamentals) (*snapshot.Snapshot, error) {
	s.saves++
	if s.err != nil {
		return nil, s.err
	}
	return s.store.Save(records)
}

func newSaver(t *testing.T) *countingSaver {
	t.Helper()
	return &countingSaver{store: snapshot.NewStore(t.TempDir())}
}

var fastOpts = Options{Timeout: time.Second, Concurrency: 4, RatePerSec: 1000}

func TestFetchAllSucceed(t *testing.T) {
	p := newFakeProvider(nil)
	saver := newSaver(t)
	f := NewFetcher(p, saver, fastOpts, nil)

	res, err := f.Fetch(context.Background(), []string{"msft", " AAPL ", "MSFT", "", "goog"})
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot)

	assert.Equal(t, []string{"AAPL", "GOOG", "MSFT"}, res.Snapshot.Symbols())
	assert.Empty(t, res.Failures)
	assert.Equal(t, 1, saver.saves)

	for _, sym := range []string{"AAPL", "GOOG", "MSFT"} {
		assert.Equalf(t, 1, p.callCount(sym), "calls for %s", sym)
		assert.Equal(t, sym, res.Snapshot.Records[sym].Symbol, "record keyed by requested symbol")
	}

	loaded, err := saver.store.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, res.Snapshot.ID, loaded.ID)
}

func TestFetchNewIDIsGreaterThanPrior(t *testing.T) {
	saver := newSaver(t)
	f := NewFetcher(newFakeProvider(nil), saver, fastOpts, nil)

	first, err := f.Fetch(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := f.Fetch(context.Background(), []string{"AAPL"})
	require.NoError(t, err)

	assert.Greater(t, second.Snapshot.ID, first.Snapshot.ID)
}

func TestFetchPartialFailure(t *testing.T) {
	p := newFakeProvider(map[string]error{
		"ZZZZ": fmt.Errorf("%w: ZZZZ", ErrTickerNotFound),
		"BAD":  fmt.Errorf("%w: broken", ErrMalformedResponse),
	})
	saver := newSaver(t)
	f := NewFetcher(p, saver, fastOpts, zapTestLogger(t))

	res, err := f.Fetch(context.Background(), []string{"ZZZZ", "AAPL", "BAD", "MSFT"})
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, res.Snapshot.Symbols())
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "BAD", res.Failures[0].Symbol, "failures sorted by symbol")
	assert.Equal(t, "ZZZZ", res.Failures[1].Symbol)
	assert.True(t, errors.Is(res.Failures[1].Err, ErrTickerNotFound))
	assert.Contains(t, res.Failures[1].Reason, "ticker not found")
	assert.Equal(t, 1, saver.saves)
}

func TestFetchAllFail(t *testing.T) {
	p := newFakeProvider(map[string]error{
		"AAPL": errors.New("boom"),
		"MSFT": fmt.Errorf("%w: MSFT", ErrTickerNotFound),
	})
	saver := newSaver(t)
	f := NewFetcher(p, saver, fastOpts, nil)

	res, err := f.Fetch(context.Background(), []string{"AAPL", "MSFT"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllSymbolsFailed))
	assert.True(t, errors.Is(err, ErrTickerNotFound), "per-symbol reasons are wrapped")
	assert.Contains(t, err.Error(), "boom")

	require.NotNil(t, res)
	assert.Nil(t, res.Snapshot)
	assert.Len(t, res.Failures, 2)
	assert.Zero(t, saver.saves)

	latest, err := saver.store.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest, "nothing persisted")
}

func TestFetchSkipsIndexSymbols(t *testing.T) {
	p := newFakeProvider(nil)
	f := NewFetcher(p, newSaver(t), fastOpts, nil)

	res, err := f.Fetch(context.Background(), []string{"^GSPC", "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, res.Snapshot.Symbols())
	require.Len(t, res.Failures, 1)
	assert.True(t, errors.Is(res.Failures[0].Err, ErrTickerNotFound))
	assert.Zero(t, p.callCount("^GSPC"), "provider not called for index symbols")
}

func TestFetchNoSymbols(t *testing.T) {
	saver := newSaver(t)
	f := NewFetcher(newFakeProvider(nil), saver, fastOpts, nil)

	for _, in := range [][]string{nil, {}, {" ", ""}} {
		_, err := f.Fetch(context.Background(), in)
		assert.True(t, errors.Is(err, ErrNoSymbols))
	}
	assert.Zero(t, saver.saves)
}

func TestFetchTimeoutIsPerSymbol(t *testing.T) {
	p := newFakeProvider(nil)
	p.delay = time.Second
	saver := newSaver(t)
	f := NewFetcher(p, saver, Options{Timeout: 20 * time.Millisecond, Concurrency: 2, RatePerSec: 1000}, nil)

	res, err := f.Fetch(context.Background(), []string{"AAPL", "MSFT"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllSymbolsFailed))
	require.Len(t, res.Failures, 2)
	assert.Contains(t, res.Failures[0].Reason, "timed out")
	assert.True(t, errors.Is(res.Failures[0].Err, context.DeadlineExceeded))
}

func TestFetchRespectsConcurrencyLimit(t *testing.T) {
	p := newFakeProvider(nil)
	p.delay = 10 * time.Millisecond
	f := NewFetcher(p, newSaver(t), Options{Timeout: time.Second, Concurrency: 2, RatePerSec: 1000}, nil)

	syms := make([]string, 10)
	for i := range syms {
		syms[i] = fmt.Sprintf("S%d", i)
	}
	_, err := f.Fetch(context.Background(), syms)
	require.NoError(t, err)
	assert.LessOrEqual(t, p.maxInFlight.Load(), int32(2))
}

func TestFetchCancelled(t *testing.T) {
	saver := newSaver(t)
	f := NewFetcher(newFakeProvider(nil), saver, fastOpts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, []string{"AAPL"})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, saver.saves)
}

func TestFetchSaveError(t *testing.T) {
	saver := newSaver(t)
	saver.err = snapshot.ErrConflict
	f := NewFetcher(newFakeProvider(nil), saver, fastOpts, nil)

	_, err := f.Fetch(context.Background(), []string{"AAPL"})
	assert.True(t, errors.Is(err, snapshot.ErrConflict))
}

func TestFetchSectorOverride(t *testing.T) {
	gics := map[string]string{"AAPL": "Information Technology"}
	opts := fastOpts
	opts.Sector = func(sym string) string { return gics[sym] }
	f := NewFetcher(newFakeProvider(nil), newSaver(t), opts, nil)

	res, err := f.Fetch(context.Background(), []string{"AAPL", "ABC"})
	require.NoError(t, err)
	assert.Equal(t, "Information Technology", res.Snapshot.Records["AAPL"].Sector)
	assert.Equal(t, "Provider Sector", res.Snapshot.Records["ABC"].Sector, "provider value kept when unknown")
}

func TestNewFetcherDefaults(t *testing.T) {
	f := NewFetcher(newFakeProvider(nil), newSaver(t), Options{}, nil)
	assert.Equal(t, DefaultTimeout, f.opts.Timeout)
	assert.Equal(t, DefaultConcurrency, f.opts.Concurrency)
	assert.Equal(t, DefaultRatePerSec, f.opts.RatePerSec)
	assert.Equal(t, 5, f.limiter.Burst())
}

func TestFetchPartitionProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("snapshot symbols and failures partition the input", prop.ForAll(
		func(n int, failMask []bool) bool {
			syms := make([]string, n)
			fail := make(map[string]error)
			for i := range syms {
				syms[i] = fmt.Sprintf("T%02d", i)
				if i < len(failMask) && failMask[i] {
					fail[syms[i]] = errors.New("nope")
				}
			}

			saver := &countingSaver{store: snapshot.NewStore(t.TempDir())}
			res, err := NewFetcher(newFakeProvider(fail), saver, fastOpts, nil).Fetch(context.Background(), syms)

			if len(fail) == n {
				return errors.Is(err, ErrAllSymbolsFailed) && saver.saves == 0 && len(res.Failures) == n
			}
			if err != nil || saver.saves != 1 {
				return false
			}

			var got []string
			got = append(got, res.Snapshot.Symbols()...)
			for _, fl := range res.Failures {
				if _, ok := res.Snapshot.Records[fl.Symbol]; ok {
					return false
				}
				got = append(got, fl.Symbol)
			}
			sort.Strings(got)
			return len(res.Failures) == len(fail) && fmt.Sprint(got) == fmt.Sprint(syms)
		},
		gen.IntRange(1, 20),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
