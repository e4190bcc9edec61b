package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sp500CSV = `Symbol,Security,GICS Sector,GICS Sub-Industry,Headquarters Location,Date added
AAPL,Apple Inc.,Information Technology,Technology Hardware,"Cupertino, California",1982-11-30
MSFT,Microsoft,Information Technology,Systems Software,"Redmond, Washington",1994-06-01
XOM,ExxonMobil,Energy,Integrated Oil & Gas,"Spring, Texas",1957-03-04
JPM,JPMorgan Chase,Financials,Diversified Banks,"New York City, New York",1975-06-30
,Blank Row,Energy,Nothing,,
aapl,Apple duplicate,Energy,Wrong,,
`

func writeIndex(t *testing.T, dir, id, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".csv"), []byte(content), 0o644))
}

func TestParse(t *testing.T) {
	got, err := Parse(strings.NewReader(sp500CSV))
	require.NoError(t, err)
	require.Len(t, got, 4, "blank and duplicate symbols are skipped")

	assert.Equal(t, "AAPL", got[0].Symbol)
	assert.Equal(t, "Apple Inc.", got[0].Name)
	assert.Equal(t, "Information Technology", got[0].Sector)
	assert.Equal(t, "Technology Hardware", got[0].SubIndustry)
	assert.Equal(t, "JPM", got[3].Symbol)
}

func TestParseToleratesMissingSector(t *testing.T) {
	got, err := Parse(strings.NewReader("symbol,Extra\nibm,x\n"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "IBM", got[0].Symbol)
	assert.Empty(t, got[0].Sector)
}

func TestParseMissingSymbolColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("Ticker,GICS Sector\nAAPL,Information Technology\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumn))
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(strings.NewReader(""))
	assert.True(t, errors.Is(err, ErrMissingColumn))
}

func TestParseStripsBOM(t *testing.T) {
	got, err := Parse(strings.NewReader("\ufeffSymbol,GICS Sector\nAAPL,Information Technology\n"))
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestCatalogList(t *testing.T) {
	dir := t.TempDir()
	writeIndex(t, dir, "SP500_Index", sp500CSV)
	writeIndex(t, dir, "Russell_1000_Index", sp500CSV)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.csv"), 0o755))

	ids, err := New(dir).List()
	require.NoError(t, err)
	assert.Equal(t, []string{"Russell_1000_Index", "SP500_Index"}, ids)
}

func TestCatalogListMissingDir(t *testing.T) {
	ids, err := New(filepath.Join(t.TempDir(), "nope")).List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCatalogLoadNotFound(t *testing.T) {
	c := New(t.TempDir())
	for _, id := range []string{"missing", "", "../etc/passwd", ".hidden"} {
		_, err := c.Load(id)
		assert.Truef(t, errors.Is(err, ErrNotFound), "Load(%q) = %v, want ErrNotFound", id, err)
	}
}

func TestCatalogLoadCaches(t *testing.T) {
	dir := t.TempDir()
	writeIndex(t, dir, "SP500_Index", sp500CSV)
	c := New(dir)

	first, err := c.Load("SP500_Index")
	require.NoError(t, err)
	require.Len(t, first, 4)

	// Edits on disk are not visible until restart.
	writeIndex(t, dir, "SP500_Index", "Symbol\nONLY\n")
	second, err := c.Load("SP500_Index")
	require.NoError(t, err)
	assert.Len(t, second, 4)

	// A fresh catalog (process restart) sees the new content.
	fresh, err := New(dir).Load("SP500_Index")
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
}

func TestCatalogParseErrorNotCached(t *testing.T) {
	dir := t.TempDir()
	writeIndex(t, dir, "Broken", "Ticker\nAAPL\n")
	c := New(dir)

	_, err := c.Load("Broken")
	require.True(t, errors.Is(err, ErrMissingColumn))

	writeIndex(t, dir, "Broken", "Symbol\nAAPL\n")
	got, err := c.Load("Broken")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCatalogSectorsLookupPeers(t *testing.T) {
	dir := t.TempDir()
	writeIndex(t, dir, "SP500_Index", sp500CSV)
	c := New(dir)

	sectors, err := c.Sectors("SP500_Index")
	require.NoError(t, err)
	assert.Equal(t, []string{"Information Technology", "Energy", "Financials"}, sectors)

	ic, ok, err := c.Lookup("SP500_Index", " msft ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Information Technology", ic.Sector)

	_, ok, err = c.Lookup("SP500_Index", "TSLA")
	require.NoError(t, err)
	assert.False(t, ok)

	peers, err := c.Peers("SP500_Index", "information technology", "Financials")
	require.NoError(t, err)
	var syms []string
	for _, p := range peers {
		syms = append(syms, p.Symbol)
	}
	assert.Equal(t, []string{"AAPL", "MSFT", "JPM"}, syms)

	info, err := c.Info("SP500_Index")
	require.NoError(t, err)
	assert.Equal(t, 4, info.Constituents)
	assert.Len(t, info.Sectors, 3)
}
