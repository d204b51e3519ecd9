package dictionary

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-playground/validator/v10"
)

// document is the on-disk layout:
// {"metadata": {...}, "entries": [{"word": ..., "definition": ..., "synonyms": [...], "category": ...}]}
type document struct {
	Entries  *[]json.RawMessage `json:"entries"`
	Metadata map[string]any     `json:"metadata"`
}

// sourceRecord keeps the optional fields raw so a wrongly typed value falls back
// to its default instead of failing the record.
type sourceRecord struct {
	Word       string          `json:"word"`
	Definition string          `json:"definition"`
	Synonyms   json.RawMessage `json:"synonyms"`
	Category   json.RawMessage `json:"category"`
}

func (r sourceRecord) synonyms() []string {
	var synonyms []string
	if len(r.Synonyms) == 0 || json.Unmarshal(r.Synonyms, &synonyms) != nil || synonyms == nil {
		return []string{}
	}
	return synonyms
}

func (r sourceRecord) category() string {
	var category string
	if len(r.Category) == 0 || json.Unmarshal(r.Category, &category) != nil {
		return ""
	}
	return category
}

// record is the trimmed view of a source record that must pass validation to be kept
type record struct {
	Word       string `validate:"required"`
	Definition string `validate:"required"`
}

// loader reads and validates dictionary files into snapshots.
type loader struct {
	logger   *slog.Logger
	validate *validator.Validate
}

func newLoader(logger *slog.Logger) *loader {
	return &loader{
		logger:   logger,
		validate: validator.New(),
	}
}

// stat returns the modification time of path, mapping a missing file to ErrSourceNotFound.
func (l *loader) stat(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, &LoadError{Path: path, Err: ErrSourceNotFound}
		}
		return time.Time{}, &LoadError{Path: path, Err: err}
	}
	if info.IsDir() {
		return time.Time{}, &LoadError{Path: path, Err: fmt.Errorf("%w: path is a directory", ErrInvalidSchema)}
	}
	return info.ModTime(), nil
}

// read returns the file contents and their digest.
func (l *loader) read(path string) ([]byte, uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, &LoadError{Path: path, Err: ErrSourceNotFound}
		}
		return nil, 0, &LoadError{Path: path, Err: fmt.Errorf("failed to read dictionary file: %w", err)}
	}
	return data, xxhash.Sum64(data), nil
}

// parse builds a complete snapshot from raw file contents.
func (l *loader) parse(path string, data []byte) (*snapshot, error) {
	if !json.Valid(data) {
		var syntaxErr *json.SyntaxError
		err := json.Unmarshal(data, new(any))
		if errors.As(err, &syntaxErr) {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("%w: %v at offset %d", ErrMalformedJSON, err, syntaxErr.Offset)}
		}
		return nil, &LoadError{Path: path, Err: fmt.Errorf("%w: %v", ErrMalformedJSON, err)}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("%w: %v", ErrInvalidSchema, err)}
	}
	if doc.Entries == nil {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("%w: expected 'entries' key", ErrInvalidSchema)}
	}

	entries := make(map[string]Entry, len(*doc.Entries))
	skipped := 0
	for i, raw := range *doc.Entries {
		var src sourceRecord
		if err := json.Unmarshal(raw, &src); err != nil {
			skipped++
			l.logger.Debug("Skipping dictionary entry",
				slog.Int("index", i),
				slog.String("reason", err.Error()),
			)
			continue
		}

		word := Normalize(src.Word)
		if err := l.validate.Struct(record{Word: word, Definition: strings.TrimSpace(src.Definition)}); err != nil {
			skipped++
			l.logger.Debug("Skipping dictionary entry",
				slog.Int("index", i),
				slog.String("word", src.Word),
				slog.String("reason", err.Error()),
			)
			continue
		}

		entries[word] = Entry{
			Definition: src.Definition,
			Synonyms:   src.synonyms(),
			Category:   src.category(),
		}
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	if skipped > 0 {
		l.logger.Info("Skipped invalid dictionary entries",
			slog.String("path", path),
			slog.Int("skipped", skipped),
		)
	}

	return &snapshot{
		entries:  entries,
		metadata: metadata,
		source:   path,
	}, nil
}
