package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/peerscope/internal/config"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Data: config.DataConfig{
			IndexDir:    t.TempDir(),
			SnapshotDir: t.TempDir(),
			StaleAfter:  96 * time.Hour,
		},
		Fetch: config.FetchConfig{
			BaseURL:         baseURL,
			ProviderTimeout: time.Second,
			Concurrency:     2,
			RatePerSec:      100,
		},
	}
}

func TestFetcherStampsCatalogSector(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quoteSummary":{"result":[{"price":{"shortName":"X","marketCap":{"raw":10}},"assetProfile":{"sector":"Technology"}}]}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	cfg := testConfig(t, ts.URL)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Data.IndexDir, "Broken.csv"), []byte("Ticker\nAAPL\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Data.IndexDir, "SP500_Index.csv"),
		[]byte("Symbol,GICS Sector\nAAPL,Information Technology\n"), 0o644))

	a := New(cfg, nil, WithHTTPClient(ts.Client()))
	res, err := a.Fetcher.Fetch(context.Background(), []string{"AAPL", "IBM"})
	require.NoError(t, err)

	assert.Equal(t, "Information Technology", res.Snapshot.Records["AAPL"].Sector)
	assert.Equal(t, "Technology", res.Snapshot.Records["IBM"].Sector)

	latest, err := a.Store.Latest()
	require.NoError(t, err)
	assert.Equal(t, res.Snapshot.ID, latest.ID)
}

func TestRefresherWritesIntoIndexDir(t *testing.T) {
	cfg := testConfig(t, "")
	a := New(cfg, nil)
	assert.Equal(t, cfg.Data.IndexDir, a.Catalog.Dir())
	assert.NotNil(t, a.Refresher())
	assert.NotNil(t, a.Dashboard)
	assert.Equal(t, "Yahoo Finance", a.Provider.Name())
}

func TestWithPeers(t *testing.T) {
	cfg := testConfig(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Data.IndexDir, "SP500_Index.csv"),
		[]byte("Symbol,GICS Sector\nAAPL,Information Technology\nMSFT,Information Technology\nXOM,Energy\n"), 0o644))
	a := New(cfg, nil)

	got, err := a.WithPeers("SP500_Index", []string{"MSFT", "ZZZZ"})
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT", "ZZZZ", "AAPL"}, got)

	got, err = a.WithPeers("SP500_Index", []string{"ZZZZ"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ZZZZ"}, got, "no sector, no peers")

	got, err = a.WithPeers("", []string{"XOM"})
	require.NoError(t, err)
	assert.Equal(t, []string{"XOM"}, got)

	_, err = a.WithPeers("Nope", []string{"XOM"})
	assert.Error(t, err)
}
