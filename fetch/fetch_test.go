package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("artifact bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, NewHTTP().Fetch(context.Background(), srv.URL, dest))

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact bytes"), content)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("second time lucky"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, NewHTTP(WithRetries(3)).Fetch(context.Background(), srv.URL, dest))

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("second time lucky"), content)
	assert.Equal(t, int64(2), calls.Load())
}

func TestFetchClientErrorIsPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	err := NewHTTP(WithRetries(5)).Fetch(context.Background(), srv.URL, dest)
	require.Error(t, err)
	assert.Equal(t, int64(1), calls.Load(), "client errors must not be retried")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "no file left behind on failure")
}

func TestFetchUnreachable(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "out.bin")
	err := NewHTTP(WithRetries(0)).Fetch(context.Background(), "http://127.0.0.1:1/missing.tar.gz", dest)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}
