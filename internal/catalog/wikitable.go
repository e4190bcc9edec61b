package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Source names a Wikipedia page holding an index constituent table.
type Source struct {
	ID  string // index identifier, used as the CSV base name
	URL string
}

// DefaultSources are the index lists the application ships with.
var DefaultSources = []Source{
	{ID: "Russell_1000_Index", URL: "https://en.wikipedia.org/wiki/Russell_1000_Index"},
	{ID: "SP500_Index", URL: "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"},
}

// ErrNoSymbolTable is returned when a page has no wikitable with a Symbol column.
var ErrNoSymbolTable = errors.New("no wikitable with a Symbol column")

const userAgent = "peerscope/1.0 (index list refresher)"

// footnoteRe matches citation markers like "[12]" or "[a]".
var footnoteRe = regexp.MustCompile(`\[[^\]]*\]`)

// Refresher downloads index constituent tables from Wikipedia and writes them
// into the catalog directory.
type Refresher struct {
	dir    string
	client *http.Client
	logger *zap.Logger
}

// NewRefresher creates a refresher writing into dir. A nil client uses a
// client with a 30s timeout; a nil logger discards output.
func NewRefresher(dir string, client *http.Client, logger *zap.Logger) *Refresher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{dir: dir, client: client, logger: logger}
}

// Refresh downloads src and replaces <dir>/<src.ID>.csv. It returns the number
// of data rows written.
func (r *Refresher) Refresh(ctx context.Context, src Source) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP GET %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, src.URL, string(body))
	}

	header, rows, err := ExtractSymbolTable(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", src.ID, err)
	}

	if err := r.write(src.ID, header, rows); err != nil {
		return 0, err
	}

	r.logger.Info("index list refreshed",
		zap.String("index", src.ID),
		zap.String("url", src.URL),
		zap.Int("rows", len(rows)),
	)
	return len(rows), nil
}

// ExtractSymbolTable parses an HTML page and returns the header and data rows
// of the first table with class "wikitable" whose header contains "Symbol".
func ExtractSymbolTable(r io.Reader) ([]string, [][]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("parse HTML: %w", err)
	}

	var header []string
	var rows [][]string
	doc.Find("table.wikitable").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		var h []string
		table.Find("tr").First().Find("th").Each(func(_ int, th *goquery.Selection) {
			h = append(h, cleanCell(th.Text()))
		})
		if findColumn(h, ColSymbol) < 0 {
			return true
		}

		header = h
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := tr.Find("td")
			if cells.Length() == 0 {
				return
			}
			row := make([]string, 0, len(h))
			cells.Each(func(_ int, td *goquery.Selection) {
				row = append(row, cleanCell(td.Text()))
			})
			rows = append(rows, row)
		})
		return false
	})

	if header == nil {
		return nil, nil, ErrNoSymbolTable
	}
	return header, rows, nil
}

// write replaces the CSV for id via a temp file in the same directory.
func (r *Refresher) write(id string, header []string, rows [][]string) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	dest := filepath.Join(r.dir, id+fileExt)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("install %s: %w", dest, err)
	}
	return nil
}

func cleanCell(s string) string {
	s = footnoteRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
