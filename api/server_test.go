package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seenimoa/peerscope/internal/app"
	"github.com/seenimoa/peerscope/internal/catalog"
	"github.com/seenimoa/peerscope/internal/config"
	"github.com/seenimoa/peerscope/internal/dashboard"
	"github.com/seenimoa/peerscope/internal/marketdata"
	"github.com/seenimoa/peerscope/internal/snapshot"
	"github.com/seenimoa/peerscope/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

const testIndexCSV = `Symbol,Security,GICS Sector,GICS Sub-Industry
AAPL,Apple Inc.,Information Technology,Technology Hardware
MSFT,Microsoft,Information Technology,Systems Software
XOM,ExxonMobil,Energy,Integrated Oil & Gas
`

// yahooCaps is the fake provider's universe: symbol -> market cap.
var yahooCaps = map[string]float64{"AAPL": 300, "MSFT": 700, "XOM": 400}

func fakeYahoo(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sym, ok := strings.CutPrefix(r.URL.Path, "/v8/finance/chart/"); ok {
			writeChart(w, sym)
			return
		}
		sym := strings.TrimPrefix(r.URL.Path, "/v10/finance/quoteSummary/")
		mcap, ok := yahooCaps[sym]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"quoteSummary":{"result":null,"error":{"code":"Not Found","description":"Quote not found"}}}`)
			return
		}
		fmt.Fprintf(w, `{"quoteSummary":{"result":[{
			"price":{"symbol":%q,"shortName":"%s Inc","regularMarketPrice":{"raw":100},"marketCap":{"raw":%g}},
			"summaryDetail":{"trailingPE":{"raw":25}},
			"defaultKeyStatistics":{"priceToBook":{"raw":4}},
			"financialData":{"earningsGrowth":{"raw":0.1},"returnOnEquity":{"raw":0.3}},
			"assetProfile":{"sector":"Provider Sector"}}]}}`, sym, sym, mcap)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// writeChart serves 60 daily closes for symbols in yahooCaps, each moving
// up and down by its own amounts.
func writeChart(w http.ResponseWriter, sym string) {
	mcap, ok := yahooCaps[sym]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`)
		return
	}
	up, down := mcap/20000, mcap/40000
	start := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)
	ts := make([]string, 60)
	closes := make([]string, 60)
	price := 100.0
	for i := range ts {
		if i%2 == 1 {
			price *= 1 + up
		} else if i > 0 {
			price *= 1 - down
		}
		ts[i] = fmt.Sprint(start.AddDate(0, 0, i).Unix())
		closes[i] = fmt.Sprintf("%.4f", price)
	}
	fmt.Fprintf(w, `{"chart":{"result":[{"meta":{"symbol":%q},"timestamp":[%s],
		"indicators":{"quote":[{"close":[%s]}]}}],"error":null}}`,
		sym, strings.Join(ts, ","), strings.Join(closes, ","))
}

func testServer(t *testing.T) *Server {
	t.Helper()
	yahoo := fakeYahoo(t)

	cfg := &config.Config{
		Data: config.DataConfig{
			IndexDir:    t.TempDir(),
			SnapshotDir: t.TempDir(),
			StaleAfter:  96 * time.Hour,
		},
		Fetch: config.FetchConfig{
			BaseURL:         yahoo.URL,
			ProviderTimeout: 2 * time.Second,
			Concurrency:     2,
			RatePerSec:      100,
		},
		API:    config.APIConfig{Host: "127.0.0.1", Port: 8080},
		Sharpe: config.SharpeConfig{Portfolios: 200},
	}
	if err := os.WriteFile(filepath.Join(cfg.Data.IndexDir, "SP500_Index.csv"), []byte(testIndexCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	return NewServer(app.New(cfg, nil, app.WithHTTPClient(yahoo.Client())))
}

func do(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

// decodeData decodes the envelope and unmarshals its data into v.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) APIResponse {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if v != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, v); err != nil {
			t.Fatalf("failed to decode data: %v", err)
		}
	}
	return APIResponse{Success: env.Success, Error: env.Error}
}

func seedSnapshot(t *testing.T, srv *Server) *snapshot.Snapshot {
	t.Helper()
	snap, err := srv.app.Store.Save(map[string]models.Fundamentals{
		"AAPL": {Symbol: "AAPL", Sector: "Information Technology", MarketCap: 100, TrailingPE: 20},
		"MSFT": {Symbol: "MSFT", Sector: "Information Technology", MarketCap: 300, TrailingPE: 30},
		"XOM":  {Symbol: "XOM", Sector: "Energy", MarketCap: 600, TrailingPE: 10},
	})
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

// ════════════════════════════════════════════════════════════════════
// Health / config / UI
// ════════════════════════════════════════════════════════════════════

func TestHealth(t *testing.T) {
	srv := testServer(t)
	for _, path := range []string{"/health", "/api/v1/health"} {
		rec := do(t, srv, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		var data map[string]string
		resp := decodeData(t, rec, &data)
		if !resp.Success || data["status"] != "ok" || data["market_status"] == "" {
			t.Errorf("%s: unexpected body %+v %+v", path, resp, data)
		}
	}
}

func TestGetConfig(t *testing.T) {
	srv := testServer(t)
	rec := do(t, srv, http.MethodGet, "/api/v1/config", nil)
	var cfg ConfigResponse
	decodeData(t, rec, &cfg)
	if cfg.StaleAfter != "96h0m0s" || cfg.Concurrency != 2 || cfg.Portfolios != 200 {
		t.Errorf("config = %+v", cfg)
	}
}

func TestServesUI(t *testing.T) {
	srv := testServer(t)
	for _, path := range []string{"/", "/some/client/route"} {
		rec := do(t, srv, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "<title>peerscope</title>") {
			t.Errorf("%s: body is not the UI", path)
		}
	}

	srv.SetServeUI(false)
	if rec := do(t, srv, http.MethodGet, "/", nil); rec.Code != http.StatusNotFound {
		t.Errorf("UI disabled: status = %d, want 404", rec.Code)
	}
}

// ════════════════════════════════════════════════════════════════════
// Indices
// ════════════════════════════════════════════════════════════════════

func TestListIndices(t *testing.T) {
	srv := testServer(t)
	broken := filepath.Join(srv.app.Config.Data.IndexDir, "Broken.csv")
	if err := os.WriteFile(broken, []byte("Ticker\nAAPL\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := do(t, srv, http.MethodGet, "/api/v1/indices", nil)
	var infos []models.IndexInfo
	decodeData(t, rec, &infos)
	if len(infos) != 1 || infos[0].ID != "SP500_Index" || infos[0].Constituents != 3 {
		t.Errorf("indices = %+v", infos)
	}
}

func TestGetIndex(t *testing.T) {
	srv := testServer(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/indices/SP500_Index?sector=energy", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var detail IndexDetail
	decodeData(t, rec, &detail)
	if len(detail.Constituents) != 1 || detail.Constituents[0].Symbol != "XOM" {
		t.Errorf("constituents = %+v", detail.Constituents)
	}
	if len(detail.Info.Sectors) != 2 {
		t.Errorf("sectors = %v", detail.Info.Sectors)
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/indices/Nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing index: status = %d, want 404", rec.Code)
	}
}

// ════════════════════════════════════════════════════════════════════
// Snapshots
// ════════════════════════════════════════════════════════════════════

func TestSnapshotsEmpty(t *testing.T) {
	srv := testServer(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/snapshots", nil)
	var list SnapshotList
	decodeData(t, rec, &list)
	if !list.Stale || len(list.Snapshots) != 0 || list.Latest != nil {
		t.Errorf("list = %+v", list)
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/snapshots/latest", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("latest on empty store: status = %d, want 404", rec.Code)
	}
}

func TestSnapshotEndpoints(t *testing.T) {
	srv := testServer(t)
	snap := seedSnapshot(t, srv)

	rec := do(t, srv, http.MethodGet, "/api/v1/snapshots", nil)
	var list SnapshotList
	decodeData(t, rec, &list)
	if list.Stale || len(list.Snapshots) != 1 || list.Latest.ID != snap.ID {
		t.Errorf("list = %+v", list)
	}

	type snapData struct {
		ID      string            `json:"id"`
		Stale   bool              `json:"stale"`
		Records []models.Enriched `json:"records"`
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/snapshots/latest", nil)
	var latest snapData
	decodeData(t, rec, &latest)
	if latest.ID != snap.ID || len(latest.Records) != 3 {
		t.Fatalf("latest = %+v", latest)
	}
	if latest.Records[0].MarketCapSharePct != 10 {
		t.Errorf("AAPL share = %v, want 10", latest.Records[0].MarketCapSharePct)
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/snapshots/"+snap.ID+"?sector=Information%20Technology", nil)
	var filtered snapData
	decodeData(t, rec, &filtered)
	if len(filtered.Records) != 2 || filtered.Records[0].MarketCapSharePct != 25 {
		t.Errorf("filtered = %+v", filtered.Records)
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/snapshots/snapshot-20000101T000000.000000000Z", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing snapshot: status = %d, want 404", rec.Code)
	}
}

func TestCorruptSnapshotIsServerError(t *testing.T) {
	srv := testServer(t)
	id := snapshot.NewID(time.Now())
	path := filepath.Join(srv.app.Config.Data.SnapshotDir, id+".json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := do(t, srv, http.MethodGet, "/api/v1/snapshots/"+id, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// ════════════════════════════════════════════════════════════════════
// Fetch / view
// ════════════════════════════════════════════════════════════════════

func TestFetchWithPeers(t *testing.T) {
	srv := testServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/fetch", FetchRequest{Tickers: "aapl, ZZZZ", Index: "SP500_Index"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var fr FetchResponse
	decodeData(t, rec, &fr)

	if fr.Fetched != 2 {
		t.Errorf("fetched = %d, want AAPL and MSFT", fr.Fetched)
	}
	if len(fr.Failures) != 1 || fr.Failures[0].Symbol != "ZZZZ" {
		t.Errorf("failures = %+v", fr.Failures)
	}

	snap, err := srv.app.Store.LoadLatest()
	if err != nil {
		t.Fatal(err)
	}
	if snap.ID != fr.Snapshot.ID {
		t.Errorf("snapshot id = %s, want %s", snap.ID, fr.Snapshot.ID)
	}
	if got := snap.Records["MSFT"].Sector; got != "Information Technology" {
		t.Errorf("MSFT sector = %q, want catalog sector", got)
	}
}

func TestFetchErrors(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"bad json", `{"tickers":`, http.StatusBadRequest},
		{"unknown field", `{"symbols":"AAPL"}`, http.StatusBadRequest},
		{"no tickers", FetchRequest{Tickers: " , "}, http.StatusBadRequest},
		{"unknown index", FetchRequest{Tickers: "AAPL", Index: "Nope"}, http.StatusNotFound},
		{"all fail", FetchRequest{Tickers: "ZZZZ,YYYY"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/v1/fetch", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			var fr FetchResponse
			resp := decodeData(t, rec, &fr)
			if resp.Success || resp.Error == "" {
				t.Errorf("expected error envelope, got %+v", resp)
			}
			if tt.want == http.StatusBadGateway && len(fr.Failures) != 2 {
				t.Errorf("failures = %+v", fr.Failures)
			}
		})
	}

	if latest, _ := srv.app.Store.Latest(); latest != nil {
		t.Errorf("nothing should be persisted, found %s", latest.ID)
	}
}

func TestView(t *testing.T) {
	srv := testServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/view", dashboard.Request{Tickers: "MSFT", Index: "SP500_Index", View: "bubble"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp dashboard.Response
	decodeData(t, rec, &resp)
	if !resp.Fetched {
		t.Error("empty store should trigger a fetch")
	}
	if resp.Sector != "Information Technology" || len(resp.Records) != 2 {
		t.Errorf("sector = %q, records = %d", resp.Sector, len(resp.Records))
	}
	if resp.Figure == nil || len(resp.Figure.Data) != 1 {
		t.Fatalf("figure = %+v", resp.Figure)
	}
	if resp.Records[1].MarketCapSharePct != 70 {
		t.Errorf("MSFT share = %v, want 70", resp.Records[1].MarketCapSharePct)
	}
}

func TestViewSharpe(t *testing.T) {
	srv := testServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/view", dashboard.Request{Tickers: "AAPL,XOM", Index: "SP500_Index", View: "sharpe"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp dashboard.Response
	decodeData(t, rec, &resp)
	if resp.Snapshot != nil || resp.Fetched {
		t.Errorf("sharpe view touched snapshots: %+v", resp.Snapshot)
	}
	if resp.Portfolio == nil || resp.Portfolio.Simulated != 200 || resp.Portfolio.Days != 60 {
		t.Fatalf("portfolio = %+v", resp.Portfolio)
	}
	if len(resp.Benchmarks) != 2 || resp.Benchmarks[0].Symbol != "AAPL" || resp.Benchmarks[1].Symbol != "MSFT" {
		t.Errorf("benchmarks = %+v", resp.Benchmarks)
	}
	if resp.Figure == nil || len(resp.Figure.Data) != 3 {
		t.Fatalf("figure = %+v", resp.Figure)
	}

	snaps, err := srv.app.Store.List()
	if err != nil || len(snaps) != 0 {
		t.Errorf("snapshots = %v, %v; want none", snaps, err)
	}
}

func TestViewErrors(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name string
		req  dashboard.Request
		want int
	}{
		{"no tickers", dashboard.Request{Index: "SP500_Index"}, http.StatusBadRequest},
		{"bad view", dashboard.Request{Tickers: "AAPL", View: "bogus"}, http.StatusBadRequest},
		{"no history", dashboard.Request{Tickers: "ZZZZ", View: "sharpe"}, http.StatusNotFound},
		{"unknown index", dashboard.Request{Tickers: "AAPL", Index: "Nope"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/v1/view", tt.req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestListViews(t *testing.T) {
	srv := testServer(t)
	rec := do(t, srv, http.MethodGet, "/api/v1/views", nil)
	var views []dashboard.ViewInfo
	decodeData(t, rec, &views)
	if len(views) != 4 || views[0].ID != dashboard.ViewPE || views[3].ID != dashboard.ViewSharpe {
		t.Errorf("views = %+v", views)
	}
}

// ════════════════════════════════════════════════════════════════════
// Error mapping
// ════════════════════════════════════════════════════════════════════

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", catalog.ErrNotFound), http.StatusNotFound},
		{snapshot.ErrNotFound, http.StatusNotFound},
		{dashboard.ErrNoData, http.StatusNotFound},
		{dashboard.ErrInvalidRequest, http.StatusBadRequest},
		{marketdata.ErrNoSymbols, http.StatusBadRequest},
		{catalog.ErrMissingColumn, http.StatusBadRequest},
		{snapshot.ErrConflict, http.StatusConflict},
		{fmt.Errorf("%w: x", marketdata.ErrAllSymbolsFailed), http.StatusBadGateway},
		{snapshot.ErrCorrupt, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
