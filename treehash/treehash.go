// Package treehash computes content-addressable identities for files and
// directory trees.
//
// File digests are plain SHA256. Tree digests use git's tree-hashing scheme,
// giving every directory a 40-hex-character identity that depends only on the
// set of (relative path, content) pairs it contains. Two directories with
// identical contents hash identically regardless of their absolute location,
// modification times, or traversal order.
//
// Git ignore rules apply while hashing: files matched by a .gitignore inside
// the tree do not contribute to the digest, exactly as they would not under
// `git add -A`. The .gitignore file itself does contribute.
package treehash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/opencontainers/go-digest"
)

// File computes the SHA256 of a file's bytes, returned as lowercase hex.
// The file is streamed; it is never loaded into memory whole.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	defer f.Close()

	d, err := digest.SHA256.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("hash file %s: %w", path, err)
	}
	return d.Encoded(), nil
}

// Tree computes the tree digest of a directory.
//
// The preferred scheme is git's: the directory is staged into an in-memory
// repository and the resulting tree object's SHA1 is returned. This matches
// the hash `git add -A && git write-tree` would produce for the same
// contents, so digests are interchangeable with externally computed
// git-tree-sha1 values. If staging fails, Tree falls back to [Fallback].
//
// Per git semantics, empty directories contribute nothing to the digest and
// files matched by .gitignore rules within the tree are not staged.
func Tree(dir string) (string, error) {
	id, err := gitTree(dir)
	if err != nil {
		return Fallback(dir)
	}
	return id, nil
}

func gitTree(dir string) (string, error) {
	repo, err := gogit.Init(memory.NewStorage(), osfs.New(dir))
	if err != nil {
		return "", fmt.Errorf("init staging repo: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}
	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage %s: %w", dir, err)
	}

	// The commit itself is a throwaway: only its tree hash matters, and that
	// is independent of the author and timestamp.
	sig := &object.Signature{
		Name:  "treehash",
		Email: "treehash@localhost",
		When:  time.Unix(0, 0).UTC(),
	}
	h, err := wt.Commit("tree", &gogit.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", dir, err)
	}
	commit, err := repo.CommitObject(h)
	if err != nil {
		return "", err
	}
	return commit.TreeHash.String(), nil
}

// Fallback computes a tree digest without git: all regular files are sorted
// by slash-separated relative path (byte-wise) and their (path, content)
// pairs streamed through a single SHA256, truncated to 40 hex characters to
// match the width of the git scheme. Not interchangeable with git tree
// hashes, but has the same determinism properties.
func Fallback(dir string) (string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			paths = append(paths, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, rel := range paths {
		h.Write([]byte(rel))
		f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", rel, err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", rel, err)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:40], nil
}
