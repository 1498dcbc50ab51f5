package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Create writes a tar archive of dir to dest using the given compression.
// Every entry is placed under a single top-level directory named topLevel,
// so extracting the archive reproduces dir as one directory.
//
// Files are walked in lexical order. Symbolic links are preserved as links.
func Create(ctx context.Context, dir string, comp Compression, dest, topLevel string) (err error) {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var w io.Writer = out
	var closeCompressor func() error
	switch comp {
	case CompressionNone, "":
	case CompressionGzip:
		gz := gzip.NewWriter(out)
		w, closeCompressor = gz, gz.Close
	case CompressionBzip2:
		bz, berr := bzip2.NewWriter(out, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
		if berr != nil {
			return fmt.Errorf("create bzip2 stream: %w", berr)
		}
		w, closeCompressor = bz, bz.Close
	case CompressionXz:
		xzw, xerr := xz.NewWriter(out)
		if xerr != nil {
			return fmt.Errorf("create xz stream: %w", xerr)
		}
		w, closeCompressor = xzw, xzw.Close
	case CompressionZstd:
		zw, zerr := zstd.NewWriter(out)
		if zerr != nil {
			return fmt.Errorf("create zstd stream: %w", zerr)
		}
		w, closeCompressor = zw, zw.Close
	default:
		return fmt.Errorf("unknown compression %q", comp)
	}

	tw := tar.NewWriter(w)
	if err := addTree(ctx, tw, dir, topLevel); err != nil {
		tw.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if closeCompressor != nil {
		return closeCompressor()
	}
	return nil
}

func addTree(ctx context.Context, tw *tar.Writer, dir, topLevel string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := topLevel
		if rel != "." {
			name = path.Join(topLevel, filepath.ToSlash(rel))
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("archive %s: %w", rel, err)
		}
		return nil
	})
}
