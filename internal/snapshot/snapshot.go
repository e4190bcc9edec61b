// Package snapshot persists timestamped captures of per-ticker fundamentals as
// JSON files in a directory. Captures are append-only: a file, once written,
// is never replaced.
package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/seenimoa/peerscope/pkg/models"
)

// --- Sentinel errors ---

// ErrNotFound is returned when a snapshot identifier has no backing file,
// or when the store holds no snapshot at all.
var ErrNotFound = errors.New("snapshot not found")

// ErrCorrupt is returned when a snapshot file cannot be decoded or fails
// validation.
var ErrCorrupt = errors.New("snapshot corrupt")

// ErrConflict is returned when a save would overwrite an existing snapshot or
// would not become the newest one.
var ErrConflict = errors.New("snapshot conflict")

// ErrEmpty is returned when saving a snapshot with no records.
var ErrEmpty = errors.New("snapshot has no records")

const (
	idPrefix = "snapshot-"
	idLayout = "20060102T150405.000000000Z"
	fileExt  = ".json"
)

// Meta identifies a snapshot without its records.
type Meta struct {
	ID         string    `json:"id"`
	CapturedAt time.Time `json:"captured_at"`
}

// Snapshot is an immutable capture of fundamentals keyed by symbol.
type Snapshot struct {
	ID         string                         `json:"id"`
	CapturedAt time.Time                      `json:"captured_at"`
	Records    map[string]models.Fundamentals `json:"records"`
}

// Meta returns the identifying part of the snapshot.
func (s *Snapshot) Meta() Meta {
	return Meta{ID: s.ID, CapturedAt: s.CapturedAt}
}

// Symbols returns the record keys in sorted order.
func (s *Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.Records))
	for sym := range s.Records {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Age reports how long ago the snapshot was captured relative to now.
func (m Meta) Age(now time.Time) time.Duration {
	return now.Sub(m.CapturedAt)
}

// NewID formats the identifier for a capture instant. Identifiers are fixed
// width, so lexical order equals time order.
func NewID(t time.Time) string {
	return idPrefix + t.UTC().Format(idLayout)
}

// ParseID extracts the capture instant from an identifier.
func ParseID(id string) (time.Time, error) {
	rest, ok := strings.CutPrefix(id, idPrefix)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid snapshot id %q", id)
	}
	t, err := time.Parse(idLayout, rest)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid snapshot id %q: %w", id, err)
	}
	// Reject non-canonical spellings so that lexical order stays meaningful.
	if t.Format(idLayout) != rest {
		return time.Time{}, fmt.Errorf("invalid snapshot id %q", id)
	}
	return t, nil
}

// idFromFileName returns the identifier for a directory entry, or false if the
// name does not follow the naming scheme.
func idFromFileName(name string) (string, bool) {
	id, ok := strings.CutSuffix(name, fileExt)
	if !ok {
		return "", false
	}
	if _, err := ParseID(id); err != nil {
		return "", false
	}
	return id, true
}
