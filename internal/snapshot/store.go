package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/seenimoa/peerscope/pkg/models"
)

// Store reads and writes snapshots under a single directory.
type Store struct {
	dir string
	now func() time.Time

	// mu serialises saves within the process. Cross-process safety comes from
	// the link-into-place write, which fails if the target exists.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for identifiers and staleness checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store rooted at dir. The directory is created lazily on
// the first save.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.dir }

// List returns the metadata of every snapshot in the directory, oldest first.
// Files not following the naming scheme are ignored.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot dir %s: %w", s.dir, err)
	}

	var metas []Meta
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := idFromFileName(e.Name())
		if !ok {
			continue
		}
		t, _ := ParseID(id)
		metas = append(metas, Meta{ID: id, CapturedAt: t})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
	return metas, nil
}

// Latest returns the newest snapshot's metadata, or nil if the store is empty.
// The capture time comes from the identifier without opening the file; Load
// rejects files whose captured_at disagrees with it.
func (s *Store) Latest() (*Meta, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, nil
	}
	m := metas[len(metas)-1]
	return &m, nil
}

// IsStale reports whether a fresh fetch is due: true when the store is empty
// or the newest capture is older than threshold.
func (s *Store) IsStale(threshold time.Duration) (bool, error) {
	m, err := s.Latest()
	if err != nil {
		return false, err
	}
	if m == nil {
		return true, nil
	}
	return m.Age(s.now()) > threshold, nil
}

// Load reads a snapshot by identifier. It never returns partial data.
func (s *Store) Load(id string) (*Snapshot, error) {
	if _, err := ParseID(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	return decode(id, data)
}

// LoadLatest loads the newest snapshot. An empty store yields ErrNotFound.
func (s *Store) LoadLatest() (*Snapshot, error) {
	m, err := s.Latest()
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrNotFound
	}
	return s.Load(m.ID)
}

// LoadLatestUsable walks snapshots newest first and returns the first one that
// loads, together with the identifiers skipped as corrupt.
func (s *Store) LoadLatestUsable() (*Snapshot, []string, error) {
	metas, err := s.List()
	if err != nil {
		return nil, nil, err
	}

	var skipped []string
	for i := len(metas) - 1; i >= 0; i-- {
		snap, err := s.Load(metas[i].ID)
		if err == nil {
			return snap, skipped, nil
		}
		if !errors.Is(err, ErrCorrupt) {
			return nil, skipped, err
		}
		skipped = append(skipped, metas[i].ID)
	}
	return nil, skipped, ErrNotFound
}

// Save persists records as a new snapshot stamped with the store's clock.
// Records with a blank Symbol take their key; a Symbol that differs from its
// key is rejected.
func (s *Store) Save(records map[string]models.Fundamentals) (*Snapshot, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}

	copied := make(map[string]models.Fundamentals, len(records))
	for key, rec := range records {
		if rec.Symbol == "" {
			rec.Symbol = key
		}
		if rec.Symbol != key {
			return nil, fmt.Errorf("record key %q does not match symbol %q", key, rec.Symbol)
		}
		copied[key] = rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	capturedAt := s.now().UTC()
	snap := &Snapshot{
		ID:         NewID(capturedAt),
		CapturedAt: capturedAt,
		Records:    copied,
	}

	latest, err := s.Latest()
	if err != nil {
		return nil, err
	}
	if latest != nil && snap.ID <= latest.ID {
		return nil, fmt.Errorf("%w: %s is not newer than %s", ErrConflict, snap.ID, latest.ID)
	}

	if err := s.write(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// write stages the encoded snapshot in a temp file and hard-links it to its
// final name. Linking fails if the name is taken, so nothing is overwritten.
func (s *Store) write(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+snap.ID+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Link(tmp.Name(), s.path(snap.ID)); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s already exists", ErrConflict, snap.ID)
		}
		return fmt.Errorf("install snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

// fileSnapshot mirrors Snapshot with optional fields so that absent values can
// be told apart from zero values.
type fileSnapshot struct {
	ID         string                          `json:"id"`
	CapturedAt *time.Time                      `json:"captured_at"`
	Records    map[string]*models.Fundamentals `json:"records"`
}

func decode(id string, data []byte) (*Snapshot, error) {
	var f fileSnapshot
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	if f.ID != id {
		return nil, fmt.Errorf("%w: %s: file declares id %q", ErrCorrupt, id, f.ID)
	}
	if f.CapturedAt == nil || f.CapturedAt.IsZero() {
		return nil, fmt.Errorf("%w: %s: missing captured_at", ErrCorrupt, id)
	}
	// List and Latest date snapshots by their id, so the two must agree.
	if NewID(*f.CapturedAt) != id {
		return nil, fmt.Errorf("%w: %s: captured_at %s does not match the id",
			ErrCorrupt, id, f.CapturedAt.UTC().Format(time.RFC3339Nano))
	}
	if f.Records == nil {
		return nil, fmt.Errorf("%w: %s: missing records", ErrCorrupt, id)
	}

	records := make(map[string]models.Fundamentals, len(f.Records))
	for key, rec := range f.Records {
		if rec == nil {
			return nil, fmt.Errorf("%w: %s: null record %q", ErrCorrupt, id, key)
		}
		if rec.Symbol != key {
			return nil, fmt.Errorf("%w: %s: record %q has symbol %q", ErrCorrupt, id, key, rec.Symbol)
		}
		records[key] = *rec
	}

	return &Snapshot{
		ID:         f.ID,
		CapturedAt: f.CapturedAt.UTC(),
		Records:    records,
	}, nil
}
