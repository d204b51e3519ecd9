package dictionary

import (
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/metrics"
)

// Entry is a dictionary record. Entries are never mutated after load.
type Entry struct {
	Definition string   `json:"definition"`
	Synonyms   []string `json:"synonyms"`
	Category   string   `json:"category"`
}

// snapshot is one complete, immutable version of the dictionary table
type snapshot struct {
	entries  map[string]Entry
	metadata map[string]any
	source   string
	modTime  time.Time
	digest   uint64
	loadedAt time.Time
}

// Info describes the live snapshot
type Info struct {
	Source   string         `json:"source"`
	Count    int            `json:"count"`
	ModTime  time.Time      `json:"mod_time"`
	LoadedAt time.Time      `json:"loaded_at"`
	Metadata map[string]any `json:"metadata"`
}

// Store serves lookups from an in-memory snapshot of a JSON dictionary file.
// Readers never block: the live snapshot is swapped atomically on reload.
type Store struct {
	path    string
	logger  *slog.Logger
	loader  *loader
	metrics *metrics.Metrics

	current  atomic.Pointer[snapshot]
	reloadMu sync.Mutex
}

// Option configures a Store
type Option func(*Store)

// WithMetrics records entry counts and reload results on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// Normalize returns the dictionary key for word: trimmed and lowercased.
func Normalize(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

// New loads the dictionary at path. The initial load must succeed.
func New(path string, logger *slog.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger,
		loader: newLoader(logger),
	}
	for _, opt := range opts {
		opt(s)
	}

	modTime, err := s.loader.stat(path)
	if err != nil {
		return nil, err
	}
	data, digest, err := s.loader.read(path)
	if err != nil {
		return nil, err
	}
	snap, err := s.loader.parse(path, data)
	if err != nil {
		return nil, err
	}
	snap.modTime = modTime
	snap.digest = digest
	snap.loadedAt = time.Now()
	s.current.Store(snap)

	if s.metrics != nil {
		s.metrics.SetDictionaryEntries(len(snap.entries))
	}

	logger.Info("Dictionary loaded",
		slog.String("path", path),
		slog.Int("entries", len(snap.entries)),
	)

	return s, nil
}

// Lookup returns the definition of word.
func (s *Store) Lookup(word string) (string, bool) {
	entry, ok := s.current.Load().entries[Normalize(word)]
	if !ok {
		return "", false
	}
	return entry.Definition, true
}

// Entry returns the full record for word.
func (s *Store) Entry(word string) (Entry, bool) {
	entry, ok := s.current.Load().entries[Normalize(word)]
	if !ok {
		return Entry{}, false
	}
	entry.Synonyms = slices.Clone(entry.Synonyms)
	return entry, true
}

// WordsByCategory returns the sorted words whose category equals category.
func (s *Store) WordsByCategory(category string) []string {
	words := []string{}
	for word, entry := range s.current.Load().entries {
		if entry.Category == category {
			words = append(words, word)
		}
	}
	slices.Sort(words)
	return words
}

// Count returns the number of entries in the live snapshot.
func (s *Store) Count() int {
	return len(s.current.Load().entries)
}

// Metadata returns a copy of the dictionary metadata.
func (s *Store) Metadata() map[string]any {
	return maps.Clone(s.current.Load().metadata)
}

// Source returns the path the dictionary is loaded from.
func (s *Store) Source() string {
	return s.path
}

// Info describes the live snapshot.
func (s *Store) Info() Info {
	snap := s.current.Load()
	return Info{
		Source:   snap.source,
		Count:    len(snap.entries),
		ModTime:  snap.modTime,
		LoadedAt: snap.loadedAt,
		Metadata: maps.Clone(snap.metadata),
	}
}

// Reload re-reads the source and reports whether the store is in a good state.
// A failed reload keeps the previous snapshot.
func (s *Store) Reload() bool {
	_, err := s.ReloadWithError()
	return err == nil
}

// ReloadWithError re-reads the source. changed reports whether a new snapshot was
// swapped in. The source is skipped when its modification time is not newer than
// the last successful load, and content with an unchanged digest only advances
// the modification marker.
func (s *Store) ReloadWithError() (changed bool, err error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	defer func() {
		s.recordReload(changed, err)
	}()

	current := s.current.Load()

	modTime, err := s.loader.stat(s.path)
	if err != nil {
		return false, err
	}
	if !modTime.After(current.modTime) {
		s.logger.Debug("Dictionary unchanged, skipping reload", slog.String("path", s.path))
		return false, nil
	}

	data, digest, err := s.loader.read(s.path)
	if err != nil {
		return false, err
	}
	if digest == current.digest {
		next := *current
		next.modTime = modTime
		s.current.Store(&next)
		s.logger.Debug("Dictionary touched without content change", slog.String("path", s.path))
		return false, nil
	}

	snap, err := s.loader.parse(s.path, data)
	if err != nil {
		return false, err
	}
	snap.modTime = modTime
	snap.digest = digest
	snap.loadedAt = time.Now()
	s.current.Store(snap)

	s.logger.Info("Dictionary reloaded",
		slog.String("path", s.path),
		slog.Int("previous_entries", len(current.entries)),
		slog.Int("entries", len(snap.entries)),
	)

	return true, nil
}

func (s *Store) recordReload(changed bool, err error) {
	if err != nil {
		s.logger.Error("Error reloading dictionary",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
	}
	if s.metrics == nil {
		return
	}
	switch {
	case err != nil:
		s.metrics.RecordReload(metrics.ReloadFailed)
	case changed:
		s.metrics.RecordReload(metrics.ReloadUpdated)
		s.metrics.SetDictionaryEntries(s.Count())
	default:
		s.metrics.RecordReload(metrics.ReloadUnchanged)
	}
}
