package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/seenimoa/peerscope/pkg/models"
)

// Column headers recognised in index list files. Matching is case-insensitive.
const (
	ColSymbol      = "Symbol"
	ColSector      = "GICS Sector"
	ColSubIndustry = "GICS Sub-Industry"
	ColSecurity    = "Security"
)

// ErrMissingColumn is returned when a required column header is absent.
var ErrMissingColumn = errors.New("missing required column")

// Parse reads an index list in CSV form. Only the Symbol column is required;
// unknown columns are ignored. Blank symbols are skipped and duplicate symbols
// keep their first row.
func Parse(r io.Reader) ([]models.IndexConstituent, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s (empty file)", ErrMissingColumn, ColSymbol)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	symIdx := findColumn(header, ColSymbol)
	if symIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, ColSymbol)
	}
	sectorIdx := findColumn(header, ColSector)
	subIdx := findColumn(header, ColSubIndustry)
	nameIdx := findColumn(header, ColSecurity)

	var out []models.IndexConstituent
	seen := make(map[string]bool)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		sym := strings.ToUpper(field(row, symIdx))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true

		out = append(out, models.IndexConstituent{
			Symbol:      sym,
			Name:        field(row, nameIdx),
			Sector:      field(row, sectorIdx),
			SubIndustry: field(row, subIdx),
		})
	}
	return out, nil
}

// findColumn returns the index of a column name in the header, or -1.
func findColumn(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
