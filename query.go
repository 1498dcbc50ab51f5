package artifact

import (
	"context"
	"log/slog"
	"os"

	"github.com/meigma/artifact/archive"
	"github.com/meigma/artifact/fetch"
	"github.com/meigma/artifact/treehash"
)

// RemoteInfo describes a remote archive's hashes, as computed by QueryRemote.
type RemoteInfo struct {
	// URL the archive was downloaded from.
	URL string

	// SHA256 of the archive file.
	SHA256 string

	// TreeDigest of the extracted contents. Empty when tree hashing was
	// disabled or the archive could not be extracted.
	TreeDigest string
}

type queryConfig struct {
	treeHash bool
	fetcher  fetch.Fetcher
	logger   *slog.Logger
}

// QueryOption configures QueryRemote.
type QueryOption func(*queryConfig)

// QueryWithoutTreeHash skips extraction and tree digest computation.
func QueryWithoutTreeHash() QueryOption {
	return func(cfg *queryConfig) {
		cfg.treeHash = false
	}
}

// QueryWithFetcher sets the download fetcher. Defaults to [fetch.NewHTTP].
func QueryWithFetcher(f fetch.Fetcher) QueryOption {
	return func(cfg *queryConfig) {
		cfg.fetcher = f
	}
}

// QueryWithLogger sets the logger for download and extraction diagnostics.
func QueryWithLogger(logger *slog.Logger) QueryOption {
	return func(cfg *queryConfig) {
		cfg.logger = logger
	}
}

// QueryRemote downloads the archive at url to scratch space and computes its
// hashes. Unless disabled, the archive is also extracted purely to compute
// the tree digest; extraction failure downgrades to a warning and the field
// is left empty, never a hard failure.
func QueryRemote(ctx context.Context, url string, opts ...QueryOption) (*RemoteInfo, error) {
	cfg := queryConfig{treeHash: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fetcher := cfg.fetcher
	if fetcher == nil {
		fetcher = fetch.NewHTTP(fetch.WithLogger(cfg.logger))
	}

	kind := archive.KindForURL(url)
	tmp, err := os.CreateTemp("", "artifact-query-*"+kind.Suffix())
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := fetcher.Fetch(ctx, url, tmpPath); err != nil {
		return nil, err
	}
	sum, err := treehash.File(tmpPath)
	if err != nil {
		return nil, err
	}
	info := &RemoteInfo{URL: url, SHA256: sum}

	if cfg.treeHash {
		info.TreeDigest = remoteTreeDigest(ctx, logger, tmpPath, kind, url)
	}
	return info, nil
}

// remoteTreeDigest extracts a downloaded archive into scratch space and
// hashes the normalized root. Failures are reported as an empty digest.
func remoteTreeDigest(ctx context.Context, logger *slog.Logger, archivePath string, kind archive.Kind, url string) string {
	stage, err := os.MkdirTemp("", "artifact-query-")
	if err != nil {
		logger.Warn("could not create scratch dir for tree digest", "error", err)
		return ""
	}
	defer os.RemoveAll(stage)

	if err := archive.Extract(ctx, archivePath, kind, stage); err != nil {
		logger.Warn("could not extract archive for tree digest", "url", url, "error", err)
		return ""
	}
	root, err := normalizeRoot(stage)
	if err != nil {
		logger.Warn("could not normalize extracted archive", "url", url, "error", err)
		return ""
	}
	digest, err := treehash.Tree(root)
	if err != nil {
		logger.Warn("could not hash extracted archive", "url", url, "error", err)
		return ""
	}
	return digest
}
