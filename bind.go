package artifact

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/meigma/artifact/manifest"
)

type bindConfig struct {
	lazy  bool
	force bool
}

// BindOption configures Bind and Add.
type BindOption func(*bindConfig)

// WithLazy sets the entry's lazy flag (default: true). Only lazy=true is
// written to the manifest; false is recorded by omission.
func WithLazy(lazy bool) BindOption {
	return func(cfg *bindConfig) {
		cfg.lazy = lazy
	}
}

// WithForce allows replacing an existing entry of the same name. The
// replacement updates the entry's content hash, sources, and lazy flag;
// platform selectors and unrecognized metadata are preserved.
func WithForce() BindOption {
	return func(cfg *bindConfig) {
		cfg.force = true
	}
}

// Bind writes a manifest entry with a single download source, creating the
// manifest file if it does not exist. Binding an already-bound name fails
// with [ErrExists] unless [WithForce] is given, and the manifest file is
// left untouched.
func Bind(manifestPath, name, treeDigest, url, sha256 string, opts ...BindOption) error {
	cfg := bindConfig{lazy: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	mf, err := manifest.Load(manifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		mf = manifest.New()
		mf.Path = manifestPath
	} else if err != nil {
		return err
	}

	existing, bound := mf.Entry(name)
	if bound && !cfg.force {
		return fmt.Errorf("%w: %q in %s", ErrExists, name, manifestPath)
	}

	entry := &manifest.Entry{
		Name:        name,
		ContentHash: treeDigest,
		Lazy:        cfg.lazy,
		Sources:     []manifest.Source{{URL: url, SHA256: sha256}},
		Metadata:    map[string]any{},
	}
	if bound {
		entry.OS = existing.OS
		entry.Arch = existing.Arch
		entry.Metadata = existing.Metadata
	}
	mf.Set(entry)
	return mf.Save(manifestPath)
}

// Unbind removes the named entry from the manifest, reporting whether it was
// present. A missing manifest file reports false without error.
func Unbind(manifestPath, name string) (bool, error) {
	mf, err := manifest.Load(manifestPath)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !mf.Remove(name) {
		return false, nil
	}
	if err := mf.Save(manifestPath); err != nil {
		return false, err
	}
	return true, nil
}

// AddSource appends a download source to an existing entry. Unlike Bind, a
// missing manifest file is an error, as is an unbound name.
func AddSource(manifestPath, name, url, sha256 string) error {
	mf, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}
	entry, ok := mf.Entry(name)
	if !ok {
		return fmt.Errorf("%w: %q in %s", ErrNotFound, name, manifestPath)
	}

	updated := *entry
	updated.Sources = append(append([]manifest.Source(nil), entry.Sources...), manifest.Source{URL: url, SHA256: sha256})
	mf.Set(&updated)
	return mf.Save(manifestPath)
}
