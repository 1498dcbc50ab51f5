package artifact

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a name is not declared in the manifest.
	ErrNotFound = errors.New("artifact not found in manifest")

	// ErrNotCached is returned by Resolve with NoFetch when no valid cache
	// directory exists.
	ErrNotCached = errors.New("artifact not cached")

	// ErrNoSources is returned when an entry must be fetched but declares no
	// download sources.
	ErrNoSources = errors.New("artifact has no download sources")

	// ErrChecksumMismatch indicates a downloaded file did not match its
	// expected sha256. It is recovered inside the fetch loop by advancing to
	// the next source.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrExtraction indicates a downloaded archive could not be extracted.
	// It is recovered inside the fetch loop by advancing to the next source.
	ErrExtraction = errors.New("archive extraction failed")

	// ErrAllSourcesFailed is the Is target of [AllSourcesError].
	ErrAllSourcesFailed = errors.New("all download sources failed")

	// ErrExists is returned by Bind and Add when the name is already bound
	// and force is not set.
	ErrExists = errors.New("artifact already bound")

	// ErrNotDir is returned by CreateArchive when the input is not a
	// directory.
	ErrNotDir = errors.New("not a directory")
)

// AllSourcesError reports that every download source of an entry failed.
// It carries the last underlying cause and the number of sources tried.
type AllSourcesError struct {
	// Name is the artifact whose fetch failed.
	Name string

	// Attempts is the number of sources tried.
	Attempts int

	// Last is the failure from the final source.
	Last error
}

func (e *AllSourcesError) Error() string {
	return fmt.Sprintf("artifact %q: all %d download sources failed, last error: %v", e.Name, e.Attempts, e.Last)
}

func (e *AllSourcesError) Unwrap() error {
	return e.Last
}

// Is reports ErrAllSourcesFailed so callers can match the class without the
// concrete type.
func (e *AllSourcesError) Is(target error) bool {
	return target == ErrAllSourcesFailed
}
