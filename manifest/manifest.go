// Package manifest reads and writes artifact manifests.
//
// A manifest is a TOML mapping from artifact name to a table describing the
// artifact's content hash and download sources:
//
//	[SomeData]
//	content-hash = "66d3a32d1e343a4c8525078bcf25442b2011a1fa"
//	lazy = true
//
//	  [[SomeData.download]]
//	  url = "https://example.com/somedata.tar.gz"
//	  sha256 = "c0ffee..."
//
// Keys the package does not recognize are carried in [Entry.Metadata] and
// re-emitted verbatim by Save, so manifests written by other tools survive a
// rewrite. A name may also map to an array of platform variant tables; see
// the variant selection rule on [Load].
package manifest

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	toml "github.com/pelletier/go-toml/v2"
)

// ErrParse is returned when a manifest cannot be decoded. Parse failures are
// fatal: callers must not retry them.
var ErrParse = errors.New("manifest parse error")

// Keys recognized by the package. Everything else is opaque metadata.
const (
	keyContentHash = "content-hash"
	keyLazy        = "lazy"
	keyOS          = "os"
	keyArch        = "arch"
	keyDownload    = "download"
	keyURL         = "url"
	keySHA256      = "sha256"
)

// Source is one download location for an artifact. SHA256 is the expected
// hex digest of the downloaded file; empty means no verification.
type Source struct {
	URL    string
	SHA256 string
}

// Entry is a single named artifact. Entries are immutable once loaded; the
// builder operations construct replacements rather than mutating in place.
type Entry struct {
	Name        string
	ContentHash string
	Lazy        bool
	OS          string
	Arch        string
	Sources     []Source
	Metadata    map[string]any
}

// Manifest is the parsed form of a manifest file.
//
// The raw decoded document is retained alongside the typed entry view, so
// Save re-emits what it does not understand unchanged. In particular a
// platform variant array survives a rewrite whole, even though the entry
// view exposes only the variant selected for the running platform.
type Manifest struct {
	// Path is the file this manifest was loaded from, for diagnostics.
	Path string

	entries map[string]*Entry
	order   []string

	// raw is the decoded document Save writes back. Mutations through Set
	// and Remove are applied here as well as to the entry view.
	raw map[string]any

	// variantIdx records, for entries decoded from a variant array, which
	// array element the entry view was built from.
	variantIdx map[string]int
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{
		entries:    map[string]*Entry{},
		raw:        map[string]any{},
		variantIdx: map[string]int{},
	}
}

// Load reads and parses the manifest at path.
//
// When a name maps to an array of variant tables, the variant whose os/arch
// selectors match the running platform is chosen; a missing selector matches
// anything, and if no variant matches the first one is used.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes manifest data. The path is used only for diagnostics.
func Parse(data []byte, path string) (*Manifest, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}

	m := New()
	m.Path = path
	m.raw = raw
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		table, idx, err := variantTable(raw[name], runtime.GOOS, runtime.GOARCH)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: entry %q: %v", ErrParse, path, name, err)
		}
		entry, err := entryFromTable(name, table)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: entry %q: %v", ErrParse, path, name, err)
		}
		m.entries[name] = entry
		m.order = append(m.order, name)
		if idx >= 0 {
			m.variantIdx[name] = idx
		}
	}
	return m, nil
}

// Save writes the manifest to path, creating parent directories as needed.
// The raw decoded document is what gets written, so unrecognized keys and
// unselected platform variants are re-emitted unchanged; lazy=false is
// recorded by omission.
func (m *Manifest) Save(path string) error {
	data, err := toml.Marshal(m.raw)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// Entry returns the named entry.
func (m *Manifest) Entry(name string) (*Entry, bool) {
	entry, ok := m.entries[name]
	return entry, ok
}

// Names returns all entry names in load order.
func (m *Manifest) Names() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Set inserts or replaces an entry. For an entry decoded from a variant
// array, only the selected variant's table is replaced; the other variants
// are left as loaded.
func (m *Manifest) Set(entry *Entry) {
	if _, exists := m.entries[entry.Name]; !exists {
		m.order = append(m.order, entry.Name)
	}
	m.entries[entry.Name] = entry
	m.setRaw(entry.Name, entry.toTable())
}

func (m *Manifest) setRaw(name string, table map[string]any) {
	if idx, ok := m.variantIdx[name]; ok {
		switch arr := m.raw[name].(type) {
		case []map[string]any:
			if idx < len(arr) {
				arr[idx] = table
				return
			}
		case []any:
			if idx < len(arr) {
				arr[idx] = table
				return
			}
		}
	}
	m.raw[name] = table
}

// Remove deletes the named entry, reporting whether it was present. For a
// variant-array entry the whole array is removed.
func (m *Manifest) Remove(name string) bool {
	if _, ok := m.entries[name]; !ok {
		return false
	}
	delete(m.entries, name)
	delete(m.raw, name)
	delete(m.variantIdx, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

func (e *Entry) toTable() map[string]any {
	table := make(map[string]any, len(e.Metadata)+5)
	maps.Copy(table, e.Metadata)
	if e.ContentHash != "" {
		table[keyContentHash] = e.ContentHash
	}
	if e.Lazy {
		table[keyLazy] = true
	}
	if e.OS != "" {
		table[keyOS] = e.OS
	}
	if e.Arch != "" {
		table[keyArch] = e.Arch
	}
	if len(e.Sources) > 0 {
		downloads := make([]map[string]any, 0, len(e.Sources))
		for _, src := range e.Sources {
			d := map[string]any{keyURL: src.URL}
			if src.SHA256 != "" {
				d[keySHA256] = src.SHA256
			}
			downloads = append(downloads, d)
		}
		table[keyDownload] = downloads
	}
	return table
}

func entryFromTable(name string, table map[string]any) (*Entry, error) {
	entry := &Entry{Name: name, Metadata: map[string]any{}}
	for key, value := range table {
		switch key {
		case keyContentHash:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string", keyContentHash)
			}
			entry.ContentHash = s
		case keyLazy:
			b, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("%s must be a boolean", keyLazy)
			}
			entry.Lazy = b
		case keyOS:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string", keyOS)
			}
			entry.OS = s
		case keyArch:
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string", keyArch)
			}
			entry.Arch = s
		case keyDownload:
			sources, err := sourcesFromValue(value)
			if err != nil {
				return nil, err
			}
			entry.Sources = sources
		default:
			entry.Metadata[key] = value
		}
	}
	return entry, nil
}

func sourcesFromValue(value any) ([]Source, error) {
	tables, err := tableList(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keyDownload, err)
	}
	sources := make([]Source, 0, len(tables))
	for _, t := range tables {
		url, ok := t[keyURL].(string)
		if !ok || url == "" {
			return nil, fmt.Errorf("%s entry missing %s", keyDownload, keyURL)
		}
		src := Source{URL: url}
		if raw, present := t[keySHA256]; present {
			sum, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a string", keySHA256)
			}
			src.SHA256 = sum
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func tableList(value any) ([]map[string]any, error) {
	switch v := value.(type) {
	case []map[string]any:
		return v, nil
	case []any:
		tables := make([]map[string]any, 0, len(v))
		for _, item := range v {
			t, ok := item.(map[string]any)
			if !ok {
				return nil, errors.New("expected an array of tables")
			}
			tables = append(tables, t)
		}
		return tables, nil
	default:
		return nil, errors.New("expected an array of tables")
	}
}
