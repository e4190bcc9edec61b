package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/seenimoa/peerscope/pkg/models"
	"github.com/seenimoa/peerscope/pkg/utils"
)

// DefaultYahooBaseURL is the public Yahoo Finance API host.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

// summaryModules are the quoteSummary modules a fundamentals record is built from.
const summaryModules = "price,summaryDetail,defaultKeyStatistics,financialData,assetProfile"

// Yahoo implements Provider using the Yahoo Finance quoteSummary endpoint.
type Yahoo struct {
	baseURL string
	client  *http.Client
}

// NewYahoo creates a Yahoo Finance provider. An empty baseURL uses the public
// host; a nil client uses DefaultHTTPClient.
func NewYahoo(baseURL string, client *http.Client) *Yahoo {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	if client == nil {
		client = DefaultHTTPClient
	}
	return &Yahoo{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name returns the provider name.
func (y *Yahoo) Name() string { return "Yahoo Finance" }

// --- Yahoo Finance v10 quoteSummary types ---

type yfSummaryResponse struct {
	QuoteSummary struct {
		Result []yfSummaryResult `json:"result"`
		Error  *yfError          `json:"error"`
	} `json:"quoteSummary"`
}

type yfSummaryResult struct {
	Price                *yfPrice                `json:"price"`
	SummaryDetail        *yfSummaryDetail        `json:"summaryDetail"`
	DefaultKeyStatistics *yfDefaultKeyStatistics `json:"defaultKeyStatistics"`
	FinancialData        *yfFinancialData        `json:"financialData"`
	AssetProfile         *yfAssetProfile         `json:"assetProfile"`
}

type yfPrice struct {
	Symbol             string   `json:"symbol"`
	ShortName          string   `json:"shortName"`
	LongName           string   `json:"longName"`
	RegularMarketPrice yfFinVal `json:"regularMarketPrice"`
	MarketCap          yfFinVal `json:"marketCap"`
}

type yfSummaryDetail struct {
	TrailingPE yfFinVal `json:"trailingPE"`
	MarketCap  yfFinVal `json:"marketCap"`
}

type yfDefaultKeyStatistics struct {
	PriceToBook    yfFinVal `json:"priceToBook"`
	EarningsGrowth yfFinVal `json:"earningsQuarterlyGrowth"`
}

type yfFinancialData struct {
	CurrentPrice   yfFinVal `json:"currentPrice"`
	EarningsGrowth yfFinVal `json:"earningsGrowth"`
	ReturnOnEquity yfFinVal `json:"returnOnEquity"`
}

type yfAssetProfile struct {
	Sector   string `json:"sector"`
	Industry string `json:"industry"`
}

// yfFinVal is Yahoo's {raw, fmt} number wrapper. Absent values decode as an
// empty object, leaving Raw at zero.
type yfFinVal struct {
	Raw float64 `json:"raw"`
	Fmt string  `json:"fmt"`
}

type yfError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Fundamentals fetches one quoteSummary document and maps it to a record keyed
// by the symbol as given, not by Yahoo's spelling of it.
func (y *Yahoo) Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error) {
	symbol = utils.NormalizeTicker(symbol)
	yfTicker := utils.ToYahooTicker(symbol)

	u := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=%s",
		y.baseURL, url.PathEscape(yfTicker), summaryModules)

	body, err := doGet(ctx, y.client, u, map[string]string{
		"Accept": "application/json",
	})
	if err != nil {
		var httpErr *ErrHTTP
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, symbol)
		}
		return nil, fmt.Errorf("yfinance quoteSummary %s: %w", yfTicker, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp yfSummaryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse quoteSummary %s: %v", ErrMalformedResponse, yfTicker, err)
	}

	if e := resp.QuoteSummary.Error; e != nil {
		if strings.EqualFold(e.Code, "Not Found") {
			return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, symbol)
		}
		return nil, fmt.Errorf("yfinance API error: %s", e.Description)
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTickerNotFound, symbol)
	}

	return toFundamentals(symbol, resp.QuoteSummary.Result[0])
}

// toFundamentals maps a quoteSummary result. The price module is required;
// every other module is optional and leaves its fields at zero when absent.
func toFundamentals(symbol string, r yfSummaryResult) (*models.Fundamentals, error) {
	if r.Price == nil {
		return nil, fmt.Errorf("%w: %s: missing price module", ErrMalformedResponse, symbol)
	}

	f := &models.Fundamentals{
		Symbol:    symbol,
		Name:      coalesce(r.Price.LongName, r.Price.ShortName, symbol),
		Price:     r.Price.RegularMarketPrice.Raw,
		MarketCap: r.Price.MarketCap.Raw,
	}

	if sd := r.SummaryDetail; sd != nil {
		f.TrailingPE = sd.TrailingPE.Raw
		if f.MarketCap == 0 {
			f.MarketCap = sd.MarketCap.Raw
		}
	}
	if ks := r.DefaultKeyStatistics; ks != nil {
		f.PriceToBook = ks.PriceToBook.Raw
		f.EarningsGrowth = ks.EarningsGrowth.Raw
	}
	if fd := r.FinancialData; fd != nil {
		if f.Price == 0 {
			f.Price = fd.CurrentPrice.Raw
		}
		if fd.EarningsGrowth.Raw != 0 {
			f.EarningsGrowth = fd.EarningsGrowth.Raw
		}
		f.ROE = fd.ReturnOnEquity.Raw
	}
	if ap := r.AssetProfile; ap != nil {
		f.Sector = strings.TrimSpace(ap.Sector)
	}

	return f, nil
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
