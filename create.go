package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meigma/artifact/archive"
	"github.com/meigma/artifact/treehash"
)

// ArchiveInfo describes an archive created by CreateArchive.
type ArchiveInfo struct {
	// TreeDigest is the content identity of the archived directory. It is
	// stable across runs; use it as the entry's content hash.
	TreeDigest string

	// SHA256 is the digest of the archive file itself. It may vary between
	// runs of CreateArchive because archive framing carries timestamps.
	SHA256 string

	// Path is where the archive was written.
	Path string
}

type createConfig struct {
	compression archive.Compression
	outputPath  string
}

// CreateOption configures CreateArchive.
type CreateOption func(*createConfig)

// CreateWithCompression sets the archive compression (default: xz).
func CreateWithCompression(c archive.Compression) CreateOption {
	return func(cfg *createConfig) {
		cfg.compression = c
	}
}

// CreateWithOutput sets the archive output path. By default the archive is
// written to the system temp directory, named after the source directory.
func CreateWithOutput(path string) CreateOption {
	return func(cfg *createConfig) {
		cfg.outputPath = path
	}
}

// CreateArchive archives a directory for use as an artifact.
//
// The tree digest is computed before archiving, since the artifact's
// identity is independent of archive framing. The archive contains a single
// top-level directory named after the source directory, matching the layout
// the fetch pipeline normalizes on extraction.
func CreateArchive(ctx context.Context, dir string, opts ...CreateOption) (*ArchiveInfo, error) {
	cfg := createConfig{compression: archive.CompressionXz}
	for _, opt := range opts {
		opt(&cfg)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotDir, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDir, dir)
	}

	tree, err := treehash.Tree(dir)
	if err != nil {
		return nil, err
	}

	base := filepath.Base(filepath.Clean(dir))
	out := cfg.outputPath
	if out == "" {
		out = filepath.Join(os.TempDir(), base+cfg.compression.Suffix())
	}
	if err := archive.Create(ctx, dir, cfg.compression, out, base); err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	sum, err := treehash.File(out)
	if err != nil {
		return nil, err
	}
	return &ArchiveInfo{TreeDigest: tree, SHA256: sum, Path: out}, nil
}
