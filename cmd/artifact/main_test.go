package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/artifact"
)

func TestExistsCommand(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "Artifacts.toml")
	require.NoError(t, os.WriteFile(manifestPath, []byte("[Thing]\ncontent-hash = \"abc\"\n"), 0o644))
	cacheDir := filepath.Join(dir, "cache")

	execute := func(args ...string) (string, error) {
		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append([]string{"--manifest", manifestPath, "--cache-dir", cacheDir}, args...))
		err := root.Execute()
		return out.String(), err
	}

	out, err := execute("exists", "Thing")
	require.ErrorIs(t, err, errExistsFalse, "uncached reports through the error, not os.Exit")
	assert.Equal(t, "false\n", out)

	cached := filepath.Join(cacheDir, "abc")
	require.NoError(t, os.MkdirAll(cached, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cached, artifact.MarkerName), nil, 0o644))

	out, err = execute("exists", "Thing")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)
}
