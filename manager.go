package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/artifact/archive"
	"github.com/meigma/artifact/fetch"
	"github.com/meigma/artifact/manifest"
	"github.com/meigma/artifact/treehash"
)

// MarkerName is the completion marker written inside a cache directory as
// the final step of a commit. A directory without the marker is treated as
// absent, however populated it looks; this is the only fact trusted across
// process restarts.
const MarkerName = ".artifact_complete"

// stagePrefix marks staging directories under the cache root. They live on
// the same filesystem as their final location so the commit rename is atomic.
const stagePrefix = ".stage-"

// Manager resolves manifest entries to valid local cache directories.
//
// Concurrent Resolve calls for the same entry within one process are
// deduplicated; across processes, the stage-then-rename commit keeps cache
// directories consistent, with the last writer winning.
type Manager struct {
	manifest *manifest.Manifest
	registry *manifest.Registry
	cacheDir string
	fetcher  fetch.Fetcher
	logger   *slog.Logger

	group singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager) error

// WithCacheDir sets the cache root. Defaults to [DefaultCacheDir].
func WithCacheDir(dir string) Option {
	return func(m *Manager) error {
		m.cacheDir = dir
		return nil
	}
}

// WithFetcher sets the download fetcher. Defaults to [fetch.NewHTTP].
func WithFetcher(f fetch.Fetcher) Option {
	return func(m *Manager) error {
		m.fetcher = f
		return nil
	}
}

// WithLogger sets the logger for pipeline diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger
		return nil
	}
}

// WithRegistry sets the manifest registry used to memoize manifest loads.
// Managers sharing a registry share parsed manifests. Defaults to a fresh
// registry per Manager.
func WithRegistry(r *manifest.Registry) Option {
	return func(m *Manager) error {
		m.registry = r
		return nil
	}
}

// DefaultCacheDir returns the default cache root, a per-user directory under
// the platform cache location.
func DefaultCacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("determine cache dir: %w", err)
	}
	return filepath.Join(base, "artifact"), nil
}

// Open loads the manifest at manifestPath and returns a Manager for it.
// The cache root is created if it does not exist.
func Open(manifestPath string, opts ...Option) (*Manager, error) {
	m := &Manager{}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.registry == nil {
		m.registry = manifest.NewRegistry()
	}
	if m.cacheDir == "" {
		dir, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}
		m.cacheDir = dir
	}
	if m.fetcher == nil {
		m.fetcher = fetch.NewHTTP(fetch.WithLogger(m.logger))
	}

	mf, err := m.registry.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	m.manifest = mf

	if err := os.MkdirAll(m.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return m, nil
}

func (m *Manager) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}

// CacheDir returns the cache root in use.
func (m *Manager) CacheDir() string {
	return m.cacheDir
}

// Names returns the names of every artifact in the manifest.
func (m *Manager) Names() []string {
	return m.manifest.Names()
}

// ResolveOption configures a Resolve call.
type ResolveOption func(*resolveConfig)

type resolveConfig struct {
	noFetch bool
}

// NoFetch makes Resolve fail with [ErrNotCached] instead of downloading when
// no valid cache directory exists.
func NoFetch() ResolveOption {
	return func(cfg *resolveConfig) {
		cfg.noFetch = true
	}
}

// Resolve returns the cache directory for the named artifact.
//
// A valid cache directory is returned immediately without network access.
// Otherwise each download source is tried in order: fetch, verify the sha256
// when one is declared, extract, and commit. Per-source failures advance to
// the next source; a source is never retried within one call. If every
// source fails, the error is an [AllSourcesError].
func (m *Manager) Resolve(ctx context.Context, name string, opts ...ResolveOption) (string, error) {
	cfg := resolveConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	entry, ok := m.manifest.Entry(name)
	if !ok {
		return "", fmt.Errorf("%w: %q in %s", ErrNotFound, name, m.manifest.Path)
	}
	dir := m.entryDir(entry)
	if isComplete(dir) {
		return dir, nil
	}
	if cfg.noFetch {
		return "", fmt.Errorf("%w: %q", ErrNotCached, name)
	}

	// Concurrent resolves of the same cache directory share one fetch.
	path, err, _ := m.group.Do(dir, func() (any, error) {
		return m.fetchEntry(ctx, entry, dir)
	})
	if err != nil {
		return "", err
	}
	return path.(string), nil
}

// Exists reports whether the named artifact has a valid cache directory.
// It never performs network I/O; unknown names report false.
func (m *Manager) Exists(name string) bool {
	entry, ok := m.manifest.Entry(name)
	if !ok {
		return false
	}
	return isComplete(m.entryDir(entry))
}

// Path returns where the named artifact lives (or would live) in the cache,
// without fetching and without requiring the directory to be valid.
func (m *Manager) Path(name string) (string, error) {
	entry, ok := m.manifest.Entry(name)
	if !ok {
		return "", fmt.Errorf("%w: %q in %s", ErrNotFound, name, m.manifest.Path)
	}
	return m.entryDir(entry), nil
}

// Clear removes the named artifact's cache directory. A missing directory is
// a no-op; an unknown name is an error.
func (m *Manager) Clear(name string) error {
	entry, ok := m.manifest.Entry(name)
	if !ok {
		return fmt.Errorf("%w: %q in %s", ErrNotFound, name, m.manifest.Path)
	}
	dir := m.entryDir(entry)
	m.log().Debug("clearing artifact", "artifact", name, "dir", dir)
	return os.RemoveAll(dir)
}

// ClearAll removes the cache directory of every artifact in the manifest.
func (m *Manager) ClearAll() error {
	for _, name := range m.manifest.Names() {
		if err := m.Clear(name); err != nil {
			return err
		}
	}
	return nil
}

// entryDir returns the cache directory for an entry: keyed by content hash
// when one is declared, by name otherwise.
func (m *Manager) entryDir(entry *manifest.Entry) string {
	if entry.ContentHash != "" {
		return filepath.Join(m.cacheDir, entry.ContentHash)
	}
	return filepath.Join(m.cacheDir, entry.Name)
}

func (m *Manager) fetchEntry(ctx context.Context, entry *manifest.Entry, dir string) (string, error) {
	// A concurrent flight may have completed between the validity check and
	// joining this group.
	if isComplete(dir) {
		return dir, nil
	}
	if len(entry.Sources) == 0 {
		return "", fmt.Errorf("%w: %q", ErrNoSources, entry.Name)
	}

	var last error
	attempts := 0
	for _, src := range entry.Sources {
		attempts++
		path, err := m.fetchSource(ctx, src, dir)
		if err == nil {
			m.log().Debug("artifact ready", "artifact", entry.Name, "dir", path)
			return path, nil
		}
		last = err
		m.log().Warn("download source failed", "artifact", entry.Name, "url", src.URL, "error", err)
	}
	return "", &AllSourcesError{Name: entry.Name, Attempts: attempts, Last: last}
}

// fetchSource runs the pipeline for one source: download to a private temp
// file, verify, extract into a staging directory under the cache root,
// normalize, then commit with a single rename. Any failure leaves no trace
// in the cache.
func (m *Manager) fetchSource(ctx context.Context, src manifest.Source, dir string) (string, error) {
	kind := archive.KindForURL(src.URL)

	tmp, err := os.CreateTemp("", "artifact-*"+kind.Suffix())
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	m.log().Debug("downloading", "url", src.URL)
	if err := m.fetcher.Fetch(ctx, src.URL, tmpPath); err != nil {
		return "", err
	}

	if src.SHA256 != "" {
		sum, err := treehash.File(tmpPath)
		if err != nil {
			return "", err
		}
		if !strings.EqualFold(sum, src.SHA256) {
			return "", fmt.Errorf("%w: %s: got %s, want %s", ErrChecksumMismatch, src.URL, sum, src.SHA256)
		}
	}

	stage, err := os.MkdirTemp(m.cacheDir, stagePrefix)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(stage)

	extractDir := filepath.Join(stage, "contents")
	if err := archive.Extract(ctx, tmpPath, kind, extractDir); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrExtraction, src.URL, err)
	}

	root, err := normalizeRoot(extractDir)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(root, MarkerName), nil, 0o644); err != nil {
		return "", err
	}

	// Replace any stale (marker-less or superseded) directory, then publish
	// atomically. If the rename loses a cross-process race to a valid
	// directory, accept the winner.
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	if err := os.Rename(root, dir); err != nil {
		if isComplete(dir) {
			return dir, nil
		}
		return "", fmt.Errorf("commit artifact: %w", err)
	}
	return dir, nil
}

// normalizeRoot returns the artifact root within an extraction directory: if
// extraction produced exactly one top-level entry and it is a directory,
// that directory is the root; otherwise the extraction directory itself is.
func normalizeRoot(extractDir string) (string, error) {
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(extractDir, entries[0].Name()), nil
	}
	return extractDir, nil
}

// isComplete reports whether dir is a committed cache directory.
func isComplete(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, MarkerName))
	return err == nil
}
