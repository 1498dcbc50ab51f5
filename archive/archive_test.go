package archive

import (
	"archive/tar"
	"archive/zip"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want Kind
	}{
		{"https://example.com/data.tar.xz", KindTarXz},
		{"https://example.com/data.tar.gz", KindTarGz},
		{"https://example.com/data.tgz", KindTarGz},
		{"https://example.com/data.tar.bz2", KindTarBz2},
		{"https://example.com/data.tar.zst", KindTarZst},
		{"https://example.com/data.tar", KindTar},
		{"https://example.com/data.zip", KindZip},
		{"https://example.com/DATA.TAR.XZ", KindTarXz},
		{"https://example.com/data.tar.gz?token=abc&x=.zip", KindTarGz},
		{"https://example.com/download?file=data", KindTarGz},
		{"https://example.com/data.bin", KindTarGz},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindForURL(tt.url), "url %s", tt.url)
	}
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"none", "gz", "bz2", "xz", "zst"} {
		c, err := ParseCompression(s)
		require.NoError(t, err)
		assert.Equal(t, Compression(s), c)
	}
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)

	_, err = ParseCompression("lzma")
	require.Error(t, err)
}

func writeTree(t *testing.T, dir string, files map[string][]byte) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, content, 0o644))
	}
}

func readTree(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	got := map[string][]byte{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(dir, p)
			require.NoError(t, err)
			content, err := os.ReadFile(p)
			require.NoError(t, err)
			got[filepath.ToSlash(rel)] = content
		}
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestCreateExtractRoundTrip(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"a.txt":        []byte("alpha"),
		"sub/b.txt":    []byte("beta"),
		"sub/deep/c":   []byte("gamma"),
		"binary.dat":   {0x00, 0xff, 0x10, 0x80},
		"empty-file":   {},
		"sub/deep/d.m": []byte("delta"),
	}

	for _, comp := range []Compression{CompressionNone, CompressionGzip, CompressionBzip2, CompressionXz, CompressionZstd} {
		t.Run(string(comp), func(t *testing.T) {
			t.Parallel()

			src := filepath.Join(t.TempDir(), "payload")
			require.NoError(t, os.MkdirAll(src, 0o755))
			writeTree(t, src, files)

			dest := filepath.Join(t.TempDir(), "out"+comp.Suffix())
			require.NoError(t, Create(context.Background(), src, comp, dest, "payload"))

			extracted := t.TempDir()
			require.NoError(t, Extract(context.Background(), dest, comp.Kind(), extracted))

			got := readTree(t, filepath.Join(extracted, "payload"))
			assert.Equal(t, files, got)
		})
	}
}

func TestExtractZip(t *testing.T) {
	t.Parallel()

	zipPath := filepath.Join(t.TempDir(), "a.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("dir/file.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("zipped"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dest := t.TempDir()
	require.NoError(t, Extract(context.Background(), zipPath, KindZip, dest))
	content, err := os.ReadFile(filepath.Join(dest, "dir", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("zipped"), content)
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	t.Parallel()

	zipPath := filepath.Join(t.TempDir(), "evil.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("../escape.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("nope"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	err = Extract(context.Background(), zipPath, KindZip, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func TestExtractRejectsEscapingSymlinks(t *testing.T) {
	t.Parallel()

	// A relative link out of the extraction directory followed by a regular
	// entry routed through it.
	base := t.TempDir()
	tarPath := filepath.Join(base, "evil.tar")
	f, err := os.Create(tarPath)
	require.NoError(t, err)
	tw := tar.NewWriter(f)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "link",
		Typeflag: tar.TypeSymlink,
		Linkname: "../outside",
	}))
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "link/pwn.txt",
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     4,
	}))
	_, err = tw.Write([]byte("pwn\n"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())

	dest := filepath.Join(base, "out")
	err = Extract(context.Background(), tarPath, KindTar, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
	assert.NoFileExists(t, filepath.Join(base, "outside", "pwn.txt"))
	assert.NoFileExists(t, filepath.Join(base, "outside"))
}

func TestCheckLinkTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		link   string
		wantOK bool
	}{
		{"link", "file.txt", true},
		{"sub/link", "../file.txt", true},
		{"sub/link", "deep/../sibling", true},
		{"link", "../outside", false},
		{"sub/link", "../../outside", false},
		{"link", "sub/../../outside", false},
		{"link", "/etc/passwd", false},
	}
	for _, tt := range tests {
		err := checkLinkTarget(tt.name, tt.link)
		if tt.wantOK {
			assert.NoError(t, err, "%s -> %s", tt.name, tt.link)
		} else {
			assert.Error(t, err, "%s -> %s", tt.name, tt.link)
		}
	}
}

func TestExtractCorruptArchive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corrupt.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("this is not a gzip stream"), 0o644))

	err := Extract(context.Background(), path, KindTarGz, t.TempDir())
	require.Error(t, err)
}

func TestCreateMissingDir(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "out.tar")
	err := Create(context.Background(), filepath.Join(t.TempDir(), "absent"), CompressionNone, dest, "absent")
	require.Error(t, err)
}
