package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Extract unpacks the archive at path into dest, creating dest if needed.
// Entry names and symlink targets are validated so that no entry can escape
// dest, including regular entries whose paths traverse a symlink.
func Extract(ctx context.Context, path string, kind Kind, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	if kind == KindZip {
		return extractZip(ctx, path, dest)
	}
	return extractTar(ctx, path, kind, dest)
}

func extractTar(ctx context.Context, path string, kind Kind, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader
	switch kind {
	case KindTar:
		r = f
	case KindTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	case KindTarBz2:
		r = bzip2.NewReader(f)
	case KindTarXz:
		xzr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("open xz stream: %w", err)
		}
		r = xzr
	case KindTarZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("open zstd stream: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return fmt.Errorf("unsupported archive kind %q", kind)
	}

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := writeSymlink(target, hdr.Name, hdr.Linkname); err != nil {
				return err
			}
		default:
			// Hard links, devices, and pax metadata entries are not part of
			// artifact trees; skip them.
		}
	}
}

func extractZip(ctx context.Context, path, dest string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case mode&fs.ModeSymlink != 0:
			rc, err := zf.Open()
			if err != nil {
				return err
			}
			link, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return err
			}
			if err := writeSymlink(target, zf.Name, string(link)); err != nil {
				return err
			}
		default:
			rc, err := zf.Open()
			if err != nil {
				return err
			}
			err = writeEntry(target, rc, mode.Perm())
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func writeEntry(target string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeSymlink(target, name, link string) error {
	if err := checkLinkTarget(name, link); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	// Re-extraction over an existing tree must not fail on a pre-existing link.
	_ = os.Remove(target)
	return os.Symlink(link, target)
}

// checkLinkTarget rejects symlink targets that leave the extraction
// directory when followed from the entry's location. Because every link in
// an accepted archive resolves inside dest, later entries whose paths
// traverse a link cannot land outside dest either.
func checkLinkTarget(name, link string) error {
	l := filepath.ToSlash(link)
	if filepath.IsAbs(link) || path.IsAbs(l) {
		return fmt.Errorf("refusing absolute symlink target %q", link)
	}
	resolved := path.Join(path.Dir(path.Clean(filepath.ToSlash(name))), l)
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return fmt.Errorf("symlink %q target %q escapes extraction directory", name, link)
	}
	return nil
}

// safeJoin joins name under dest, rejecting absolute names and any name that
// would escape dest after cleaning.
func safeJoin(dest, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction directory", name)
	}
	return filepath.Join(dest, cleaned), nil
}
