package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seenimoa/peerscope/pkg/models"
	"github.com/seenimoa/peerscope/pkg/utils"
)

// HistoryProvider fetches daily price bars for a single symbol. Like Provider,
// one invocation is one upstream call.
type HistoryProvider interface {
	History(ctx context.Context, symbol string, from, to time.Time) ([]models.OHLCV, error)
}

// ErrHistoryUnsupported is returned by Fetcher.History when its provider has
// no price history.
var ErrHistoryUnsupported = errors.New("provider does not serve price history")

// HistoryResult holds the bars of every symbol that succeeded, oldest first.
type HistoryResult struct {
	Series   map[string][]models.OHLCV `json:"series"`
	Failures []SymbolFailure           `json:"failures"`
}

// History fetches daily bars between from and to for every symbol. It shares
// the fan-out, rate limit and per-call timeout of Fetch but persists nothing.
// A symbol with no bars counts as a failure. If every symbol fails, the
// returned error wraps ErrAllSymbolsFailed and the result lists the failures.
func (f *Fetcher) History(ctx context.Context, symbols []string, from, to time.Time) (*HistoryResult, error) {
	hp, ok := f.provider.(HistoryProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHistoryUnsupported, f.provider.Name())
	}
	syms := normalize(symbols)
	if len(syms) == 0 {
		return nil, ErrNoSymbols
	}

	start := time.Now()
	outcomes := fanOut(ctx, f, syms, func(ctx context.Context, sym string) ([]models.OHLCV, error) {
		bars, err := hp.History(ctx, sym, from, to)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			return nil, fmt.Errorf("%w: no price history for %s", ErrTickerNotFound, sym)
		}
		return bars, nil
	})

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("history aborted: %w", err)
	}

	result := &HistoryResult{Series: make(map[string][]models.OHLCV, len(syms)), Failures: []SymbolFailure{}}
	var errs []error
	for i, sym := range syms {
		o := outcomes[i]
		if o.err != nil {
			result.Failures = append(result.Failures, SymbolFailure{Symbol: sym, Reason: o.err.Error(), Err: o.err})
			errs = append(errs, fmt.Errorf("%s: %w", sym, o.err))
			continue
		}
		result.Series[sym] = o.value
	}
	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].Symbol < result.Failures[j].Symbol
	})

	if len(result.Series) == 0 {
		return result, fmt.Errorf("%w (%d symbols): %w", ErrAllSymbolsFailed, len(syms), errors.Join(errs...))
	}

	f.logger.Info("history fetched",
		zap.String("provider", f.provider.Name()),
		zap.Int("fetched", len(result.Series)),
		zap.Int("failed", len(result.Failures)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// --- Yahoo Finance v8 chart types ---

type yfChartResponse struct {
	Chart struct {
		Result []yfChartResult `json:"result"`
		Error  *yfError        `json:"error"`
	} `json:"chart"`
}

type yfChartResult struct {
	Meta struct {
		Symbol   string `json:"symbol"`
		Currency string `json:"currency"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote    []yfOHLCV    `json:"quote"`
		AdjClose []yfAdjClose `json:"adjclose"`
	} `json:"indicators"`
}

type yfOHLCV struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*int64   `json:"volume"`
}

type yfAdjClose struct {
	AdjClose []*float64 `json:"adjclose"`
}

// History fetches daily bars from the v8 chart endpoint.
func (y *Yahoo) History(ctx context.Context, symbol string, from, to time.Time) ([]models.OHLCV, error) {
	symbol = utils.NormalizeTicker(symbol)
	yfTicker := utils.ToYahooTicker(symbol)

	u := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d",
		y.baseURL, url.PathEscape(yfTicker), from.Unix(), to.Unix())

	body, err := doGet(ctx, y.client, u, map[string]string{
		"Accept": "application/json",
	})
	if err != nil {
		var httpErr *ErrHTTP
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, symbol)
		}
		return nil, fmt.Errorf("yfinance chart %s: %w", yfTicker, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp yfChartResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse chart %s: %v", ErrMalformedResponse, yfTicker, err)
	}

	if e := resp.Chart.Error; e != nil {
		if strings.EqualFold(e.Code, "Not Found") {
			return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, symbol)
		}
		return nil, fmt.Errorf("yfinance chart error: %s", e.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, symbol)
	}

	return parseCandles(resp.Chart.Result[0]), nil
}

// parseCandles zips the chart's parallel arrays into bars. Bars without a
// close (halts, the partial current day) are dropped.
func parseCandles(result yfChartResult) []models.OHLCV {
	if len(result.Indicators.Quote) == 0 {
		return nil
	}

	q := result.Indicators.Quote[0]
	var adjCloses []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adjCloses = result.Indicators.AdjClose[0].AdjClose
	}

	candles := make([]models.OHLCV, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(q.Close) || q.Close[i] == nil {
			continue
		}
		c := models.OHLCV{
			Timestamp: time.Unix(ts, 0).UTC(),
			Close:     *q.Close[i],
		}
		if i < len(q.Open) && q.Open[i] != nil {
			c.Open = *q.Open[i]
		}
		if i < len(q.High) && q.High[i] != nil {
			c.High = *q.High[i]
		}
		if i < len(q.Low) && q.Low[i] != nil {
			c.Low = *q.Low[i]
		}
		if i < len(q.Volume) && q.Volume[i] != nil {
			c.Volume = *q.Volume[i]
		}
		if i < len(adjCloses) && adjCloses[i] != nil {
			c.AdjClose = *adjCloses[i]
		}
		candles = append(candles, c)
	}
	return candles
}
