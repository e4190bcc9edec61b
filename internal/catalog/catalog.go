// Package catalog loads index constituent lists (one CSV file per index) and
// caches them for the life of the process.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/seenimoa/peerscope/pkg/models"
)

// fileExt is the extension of index list files.
const fileExt = ".csv"

// ErrNotFound is returned when an index identifier has no backing file.
var ErrNotFound = errors.New("index not found")

// Catalog reads index lists from a directory. Parsed lists are cached per
// identifier and never invalidated; a restart picks up edited files.
type Catalog struct {
	dir string

	mu    sync.RWMutex
	cache map[string][]models.IndexConstituent
}

// New creates a catalog rooted at dir.
func New(dir string) *Catalog {
	return &Catalog{
		dir:   dir,
		cache: make(map[string][]models.IndexConstituent),
	}
}

// Dir returns the directory the catalog reads from.
func (c *Catalog) Dir() string { return c.dir }

// List returns the identifiers of all available index lists, sorted.
// A missing directory yields an empty list.
func (c *Catalog) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index dir %s: %w", c.dir, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(ids)
	return ids, nil
}

// Load returns the constituents of the index in file order.
// The returned slice is shared; callers must not modify it.
func (c *Catalog) Load(id string) ([]models.IndexConstituent, error) {
	c.mu.RLock()
	cached, ok := c.cache[id]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	path, err := c.path(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("open index %s: %w", id, err)
	}
	defer f.Close()

	constituents, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse index %s: %w", id, err)
	}

	c.mu.Lock()
	// Another request may have loaded it meanwhile; keep the first copy.
	if existing, ok := c.cache[id]; ok {
		constituents = existing
	} else {
		c.cache[id] = constituents
	}
	c.mu.Unlock()

	return constituents, nil
}

// Info summarises an index list.
func (c *Catalog) Info(id string) (*models.IndexInfo, error) {
	constituents, err := c.Load(id)
	if err != nil {
		return nil, err
	}
	return &models.IndexInfo{
		ID:           id,
		Constituents: len(constituents),
		Sectors:      sectorsOf(constituents),
	}, nil
}

// Sectors returns the distinct sectors of an index in first-seen order.
func (c *Catalog) Sectors(id string) ([]string, error) {
	constituents, err := c.Load(id)
	if err != nil {
		return nil, err
	}
	return sectorsOf(constituents), nil
}

// Lookup returns the constituent row for symbol, if the index contains it.
func (c *Catalog) Lookup(id, symbol string) (models.IndexConstituent, bool, error) {
	constituents, err := c.Load(id)
	if err != nil {
		return models.IndexConstituent{}, false, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, ic := range constituents {
		if ic.Symbol == symbol {
			return ic, true, nil
		}
	}
	return models.IndexConstituent{}, false, nil
}

// Peers returns the constituents belonging to any of the given sectors,
// matched case-insensitively, in file order.
func (c *Catalog) Peers(id string, sectors ...string) ([]models.IndexConstituent, error) {
	constituents, err := c.Load(id)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(sectors))
	for _, s := range sectors {
		want[strings.ToLower(strings.TrimSpace(s))] = true
	}

	var peers []models.IndexConstituent
	for _, ic := range constituents {
		if ic.Sector != "" && want[strings.ToLower(ic.Sector)] {
			peers = append(peers, ic)
		}
	}
	return peers, nil
}

// path maps an identifier to its file, rejecting anything that could escape
// the catalog directory.
func (c *Catalog) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return filepath.Join(c.dir, id+fileExt), nil
}

func sectorsOf(constituents []models.IndexConstituent) []string {
	seen := make(map[string]bool)
	var sectors []string
	for _, ic := range constituents {
		if ic.Sector == "" || seen[ic.Sector] {
			continue
		}
		seen[ic.Sector] = true
		sectors = append(sectors, ic.Sector)
	}
	return sectors
}
