package artifact

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meigma/artifact/fetch"
	"github.com/meigma/artifact/manifest"
)

type addConfig struct {
	bind  bindConfig
	query []QueryOption
}

// AddOption configures Add.
type AddOption func(*addConfig)

// AddWithLazy sets the bound entry's lazy flag (default: true).
func AddWithLazy(lazy bool) AddOption {
	return func(cfg *addConfig) {
		cfg.bind.lazy = lazy
	}
}

// AddWithForce allows replacing an existing entry of the same name.
func AddWithForce() AddOption {
	return func(cfg *addConfig) {
		cfg.bind.force = true
	}
}

// AddWithFetcher sets the download fetcher used to retrieve the archive.
func AddWithFetcher(f fetch.Fetcher) AddOption {
	return func(cfg *addConfig) {
		cfg.query = append(cfg.query, QueryWithFetcher(f))
	}
}

// AddWithLogger sets the logger for download and hashing diagnostics.
func AddWithLogger(logger *slog.Logger) AddOption {
	return func(cfg *addConfig) {
		cfg.query = append(cfg.query, QueryWithLogger(logger))
	}
}

// Add downloads the archive at url, computes its hashes, and binds it to the
// manifest under name. It is the composition of [QueryRemote] and [Bind].
//
// When the archive cannot be extracted, the archive's own sha256 stands in
// for the tree digest so the entry remains bindable.
//
// An existing name is checked optimistically against the current manifest
// before any transfer happens; Bind performs the authoritative check.
func Add(ctx context.Context, manifestPath, name, url string, opts ...AddOption) (*RemoteInfo, error) {
	cfg := addConfig{bind: bindConfig{lazy: true}}
	for _, opt := range opts {
		opt(&cfg)
	}

	if !cfg.bind.force {
		if mf, err := manifest.Load(manifestPath); err == nil {
			if _, bound := mf.Entry(name); bound {
				return nil, fmt.Errorf("%w: %q in %s", ErrExists, name, manifestPath)
			}
		}
	}

	info, err := QueryRemote(ctx, url, cfg.query...)
	if err != nil {
		return nil, err
	}
	treeDigest := info.TreeDigest
	if treeDigest == "" {
		treeDigest = info.SHA256
	}

	bindOpts := []BindOption{WithLazy(cfg.bind.lazy)}
	if cfg.bind.force {
		bindOpts = append(bindOpts, WithForce())
	}
	if err := Bind(manifestPath, name, treeDigest, url, info.SHA256, bindOpts...); err != nil {
		return nil, err
	}
	return info, nil
}
