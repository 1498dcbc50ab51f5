package artifact

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meigma/artifact/archive"
	"github.com/meigma/artifact/fetch"
	"github.com/meigma/artifact/manifest"
	"github.com/meigma/artifact/treehash"
)

// noRetryFetcher keeps failure-path tests fast.
func noRetryFetcher() fetch.Fetcher {
	return fetch.NewHTTP(fetch.WithRetries(0))
}

func writeTree(t *testing.T, dir string, files map[string][]byte) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, content, 0o644))
	}
}

// makeArchive builds a tar.gz of files under a single top-level directory
// and returns the archive bytes plus their sha256.
func makeArchive(t *testing.T, files map[string][]byte) (data []byte, sha256 string) {
	t.Helper()
	src := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.MkdirAll(src, 0o755))
	writeTree(t, src, files)

	out := filepath.Join(t.TempDir(), "payload.tar.gz")
	require.NoError(t, archive.Create(context.Background(), src, archive.CompressionGzip, out, "payload"))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	sum, err := treehash.File(out)
	require.NoError(t, err)
	return raw, sum
}

// countingServer serves fixed responses by URL path and counts hits.
type countingServer struct {
	*httptest.Server
	hits      atomic.Int64
	responses map[string][]byte
}

func newCountingServer(t *testing.T, responses map[string][]byte) *countingServer {
	t.Helper()
	cs := &countingServer{responses: responses}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		body, ok := cs.responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(cs.Close)
	return cs
}

// buildFlatTar writes an uncompressed tar of dir with entries at the archive
// root, i.e. without a single top-level directory.
func buildFlatTar(dir, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
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
		return err
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

// saveManifest writes a manifest with the given entries and returns its path.
func saveManifest(t *testing.T, entries ...*manifest.Entry) string {
	t.Helper()
	mf := manifest.New()
	for _, e := range entries {
		mf.Set(e)
	}
	path := filepath.Join(t.TempDir(), "Artifacts.toml")
	require.NoError(t, mf.Save(path))
	return path
}

func openManager(t *testing.T, manifestPath string) *Manager {
	t.Helper()
	m, err := Open(manifestPath,
		WithCacheDir(filepath.Join(t.TempDir(), "cache")),
		WithFetcher(noRetryFetcher()),
	)
	require.NoError(t, err)
	return m
}
