package dictionary

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashem-cruncher/multithreaded-dictionary-udp/internal/metrics"
)

const catDictionary = `{"entries":[{"word":"cat","definition":"a small domesticated feline"}]}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeDictionary(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// bumpModTime pushes the file's modification time strictly past any earlier load.
func bumpModTime(t *testing.T, path string, offset time.Duration) {
	t.Helper()
	future := time.Now().Add(offset)
	require.NoError(t, os.Chtimes(path, future, future))
}

func newTestStore(t *testing.T, content string, opts ...Option) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dictionary.json")
	writeDictionary(t, path, content)
	store, err := New(path, testLogger(), opts...)
	require.NoError(t, err)
	return store, path
}

func TestNewLoadErrors(t *testing.T) {
	tests := []struct {
		name        string
		content     *string
		expectError error
		errorMsg    string
	}{
		{
			name:        "missing file",
			content:     nil,
			expectError: ErrSourceNotFound,
		},
		{
			name:        "malformed json",
			content:     ptr(`{"entries": [`),
			expectError: ErrMalformedJSON,
		},
		{
			name:        "empty file",
			content:     ptr(``),
			expectError: ErrMalformedJSON,
		},
		{
			name:        "missing entries key",
			content:     ptr(`{"metadata": {"version": 1}}`),
			expectError: ErrInvalidSchema,
			errorMsg:    "expected 'entries' key",
		},
		{
			name:        "document is an array",
			content:     ptr(`[{"word":"cat","definition":"feline"}]`),
			expectError: ErrInvalidSchema,
		},
		{
			name:        "entries is an object",
			content:     ptr(`{"entries": {"cat": "feline"}}`),
			expectError: ErrInvalidSchema,
		},
		{
			name:        "metadata is not an object",
			content:     ptr(`{"entries": [], "metadata": "v1"}`),
			expectError: ErrInvalidSchema,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "dictionary.json")
			if tt.content != nil {
				writeDictionary(t, path, *tt.content)
			}

			store, err := New(path, testLogger())
			require.Error(t, err)
			assert.Nil(t, store)
			assert.ErrorIs(t, err, tt.expectError)

			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, path, loadErr.Path)
			if tt.errorMsg != "" {
				assert.Contains(t, err.Error(), tt.errorMsg)
			}
		})
	}
}

func TestCountSkipsInvalidEntries(t *testing.T) {
	store, _ := newTestStore(t, `{"entries":[
		{"word":"cat","definition":"a small domesticated feline"},
		{"word":"","definition":"no word"},
		{"word":"   ","definition":"blank word"},
		{"word":"dog","definition":""},
		{"word":"emu","definition":"   "},
		{"word":"fox"},
		{"definition":"orphan"},
		"ant",
		{"word":7,"definition":"a number"},
		{"word":" Owl ","definition":"a nocturnal bird","synonyms":["hooter"],"category":"birds"}
	]}`)

	assert.Equal(t, 2, store.Count())
}

func TestMistypedOptionalFieldsFallBackToDefaults(t *testing.T) {
	store, _ := newTestStore(t, `{"entries":[
		{"word":"cat","definition":"a small domesticated feline","synonyms":["kitty"],"category":"animal"},
		{"word":"dog","definition":"a canine","synonyms":"hound"},
		{"word":"owl","definition":"a bird","category":7},
		{"word":"emu","definition":"a flightless bird","synonyms":null,"category":null}
	]}`)

	require.Equal(t, 4, store.Count())

	dog, ok := store.Entry("dog")
	require.True(t, ok)
	assert.Equal(t, "a canine", dog.Definition)
	assert.Equal(t, []string{}, dog.Synonyms)

	owl, ok := store.Entry("owl")
	require.True(t, ok)
	assert.Equal(t, "", owl.Category)

	emu, ok := store.Entry("emu")
	require.True(t, ok)
	assert.Equal(t, []string{}, emu.Synonyms)
	assert.Equal(t, "", emu.Category)

	cat, ok := store.Entry("cat")
	require.True(t, ok)
	assert.Equal(t, []string{"kitty"}, cat.Synonyms)
	assert.Equal(t, "animal", cat.Category)
}

func TestDuplicateNormalizedWordsLastWins(t *testing.T) {
	store, _ := newTestStore(t, `{"entries":[
		{"word":"Cat","definition":"first"},
		{"word":"cat ","definition":"second"}
	]}`)

	assert.Equal(t, 1, store.Count())
	definition, ok := store.Lookup("cat")
	require.True(t, ok)
	assert.Equal(t, "second", definition)
}

func TestLookupNormalization(t *testing.T) {
	store, _ := newTestStore(t, catDictionary)

	for _, word := range []string{"cat", " Cat ", "CAT", "\tcAt\n"} {
		t.Run(fmt.Sprintf("%q", word), func(t *testing.T) {
			definition, ok := store.Lookup(word)
			require.True(t, ok)
			assert.Equal(t, "a small domesticated feline", definition)
		})
	}

	_, ok := store.Lookup("zzz")
	assert.False(t, ok)
	_, ok = store.Lookup("")
	assert.False(t, ok)
}

func TestEntry(t *testing.T) {
	store, _ := newTestStore(t, `{"entries":[
		{"word":"cat","definition":"a small domesticated feline"},
		{"word":"owl","definition":"a nocturnal bird","synonyms":["hooter","night bird"],"category":"birds"}
	]}`)

	entry, ok := store.Entry(" OWL")
	require.True(t, ok)
	assert.Equal(t, Entry{
		Definition: "a nocturnal bird",
		Synonyms:   []string{"hooter", "night bird"},
		Category:   "birds",
	}, entry)

	// Defaults for absent optional fields
	entry, ok = store.Entry("cat")
	require.True(t, ok)
	assert.Equal(t, []string{}, entry.Synonyms)
	assert.Equal(t, "", entry.Category)

	// Returned synonyms do not alias the snapshot
	entry, _ = store.Entry("owl")
	entry.Synonyms[0] = "changed"
	again, _ := store.Entry("owl")
	assert.Equal(t, "hooter", again.Synonyms[0])

	_, ok = store.Entry("zzz")
	assert.False(t, ok)
}

func TestWordsByCategory(t *testing.T) {
	store, _ := newTestStore(t, `{"entries":[
		{"word":"owl","definition":"a nocturnal bird","category":"birds"},
		{"word":"emu","definition":"a flightless bird","category":"birds"},
		{"word":"cat","definition":"a small domesticated feline","category":"mammals"},
		{"word":"rock","definition":"a stone"}
	]}`)

	assert.Equal(t, []string{"emu", "owl"}, store.WordsByCategory("birds"))
	assert.Equal(t, []string{"cat"}, store.WordsByCategory("mammals"))
	assert.Equal(t, []string{"rock"}, store.WordsByCategory(""))
	assert.Empty(t, store.WordsByCategory("fish"))
}

func TestMetadata(t *testing.T) {
	store, path := newTestStore(t, `{"metadata":{"version":2,"language":"en"},"entries":[]}`)

	metadata := store.Metadata()
	assert.Equal(t, map[string]any{"version": 2.0, "language": "en"}, metadata)
	metadata["version"] = 3.0
	assert.Equal(t, 2.0, store.Metadata()["version"])

	info := store.Info()
	assert.Equal(t, path, info.Source)
	assert.Equal(t, 0, info.Count)
	assert.False(t, info.LoadedAt.IsZero())

	noMeta, _ := newTestStore(t, catDictionary)
	assert.Equal(t, map[string]any{}, noMeta.Metadata())
}

func TestReload(t *testing.T) {
	t.Run("unchanged source", func(t *testing.T) {
		store, _ := newTestStore(t, catDictionary)

		changed, err := store.ReloadWithError()
		require.NoError(t, err)
		assert.False(t, changed)
		assert.True(t, store.Reload())
		assert.Equal(t, 1, store.Count())
	})

	t.Run("newer valid content", func(t *testing.T) {
		store, path := newTestStore(t, catDictionary)

		writeDictionary(t, path, `{"entries":[
			{"word":"cat","definition":"a feline"},
			{"word":"dog","definition":"a canine"}
		]}`)
		bumpModTime(t, path, time.Hour)

		assert.True(t, store.Reload())
		assert.Equal(t, 2, store.Count())
		definition, ok := store.Lookup("cat")
		require.True(t, ok)
		assert.Equal(t, "a feline", definition)
	})

	t.Run("new content with an old modification time is ignored", func(t *testing.T) {
		store, path := newTestStore(t, catDictionary)

		writeDictionary(t, path, `{"entries":[{"word":"dog","definition":"a canine"}]}`)
		bumpModTime(t, path, -time.Hour)

		assert.True(t, store.Reload())
		_, ok := store.Lookup("cat")
		assert.True(t, ok)
	})

	t.Run("invalid content keeps previous table", func(t *testing.T) {
		store, path := newTestStore(t, catDictionary)
		before := store.Info()

		writeDictionary(t, path, `{"entries": [ broken`)
		bumpModTime(t, path, time.Hour)
		assert.False(t, store.Reload())

		writeDictionary(t, path, `{"words": []}`)
		bumpModTime(t, path, 2*time.Hour)
		changed, err := store.ReloadWithError()
		assert.False(t, changed)
		assert.ErrorIs(t, err, ErrInvalidSchema)

		after := store.Info()
		assert.Equal(t, before, after)
		definition, ok := store.Lookup("cat")
		require.True(t, ok)
		assert.Equal(t, "a small domesticated feline", definition)

		// A later valid write recovers
		writeDictionary(t, path, `{"entries":[{"word":"dog","definition":"a canine"}]}`)
		bumpModTime(t, path, 3*time.Hour)
		assert.True(t, store.Reload())
		_, ok = store.Lookup("dog")
		assert.True(t, ok)
	})

	t.Run("missing source", func(t *testing.T) {
		store, path := newTestStore(t, catDictionary)
		require.NoError(t, os.Remove(path))

		changed, err := store.ReloadWithError()
		assert.False(t, changed)
		assert.ErrorIs(t, err, ErrSourceNotFound)
		assert.Equal(t, 1, store.Count())
	})

	t.Run("touched without content change", func(t *testing.T) {
		store, path := newTestStore(t, catDictionary)
		loadedAt := store.Info().LoadedAt

		bumpModTime(t, path, time.Hour)
		changed, err := store.ReloadWithError()
		require.NoError(t, err)
		assert.False(t, changed)

		info := store.Info()
		assert.Equal(t, loadedAt, info.LoadedAt)
		assert.True(t, info.ModTime.After(loadedAt))
	})
}

func TestReloadMetrics(t *testing.T) {
	m := metrics.NewMetrics(nil)
	store, path := newTestStore(t, catDictionary, WithMetrics(m))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DictionaryEntries))

	store.Reload()
	writeDictionary(t, path, `{"entries":[{"word":"a","definition":"x"},{"word":"b","definition":"y"}]}`)
	bumpModTime(t, path, time.Hour)
	store.Reload()
	writeDictionary(t, path, `not json`)
	bumpModTime(t, path, 2*time.Hour)
	store.Reload()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DictionaryReloads.WithLabelValues(metrics.ReloadUnchanged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DictionaryReloads.WithLabelValues(metrics.ReloadUpdated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DictionaryReloads.WithLabelValues(metrics.ReloadFailed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DictionaryEntries))
}

func TestConcurrentLookupsDuringReload(t *testing.T) {
	small := buildDictionary("small", 10)
	large := buildDictionary("large", 50)
	store, path := newTestStore(t, small)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				count := store.Count()
				assert.Contains(t, []int{10, 50}, count)
				if definition, ok := store.Lookup("word-0"); ok {
					assert.True(t, definition == "small" || definition == "large")
				}
			}
		}()
	}

	for i := 1; i <= 20; i++ {
		content := small
		if i%2 == 1 {
			content = large
		}
		writeDictionary(t, path, content)
		bumpModTime(t, path, time.Duration(i)*time.Minute)
		require.True(t, store.Reload())
	}

	close(stop)
	wg.Wait()
	assert.Equal(t, 10, store.Count())
}

func buildDictionary(definition string, n int) string {
	entries := make([]string, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, fmt.Sprintf(`{"word":"word-%d","definition":%q}`, i, definition))
	}
	return `{"entries":[` + strings.Join(entries, ",") + `]}`
}

func ptr(s string) *string {
	return &s
}
