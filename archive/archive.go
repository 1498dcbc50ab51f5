// Package archive detects, extracts, and creates the archive containers used
// for artifact transport.
//
// Tar archives may be compressed with gzip, bzip2, xz, or zstd; zip archives
// are supported for extraction. Archive kinds are recognized from URL
// suffixes with the query string stripped first.
package archive

import (
	"fmt"
	"strings"
)

// Kind identifies an archive container format.
type Kind string

const (
	KindTar    Kind = "tar"
	KindTarGz  Kind = "tar.gz"
	KindTarBz2 Kind = "tar.bz2"
	KindTarXz  Kind = "tar.xz"
	KindTarZst Kind = "tar.zst"
	KindZip    Kind = "zip"
)

// Suffix returns the canonical filename suffix for the kind.
func (k Kind) Suffix() string {
	return "." + string(k)
}

// KindForURL determines the archive kind from a URL's suffix. The query
// string is stripped before matching, and the longest matching suffix wins
// (".tar.gz" over ".tar"). Unrecognized suffixes default to [KindTarGz].
func KindForURL(rawURL string) Kind {
	s := rawURL
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	s = strings.ToLower(s)
	switch {
	case strings.HasSuffix(s, ".tar.xz"):
		return KindTarXz
	case strings.HasSuffix(s, ".tar.gz"), strings.HasSuffix(s, ".tgz"):
		return KindTarGz
	case strings.HasSuffix(s, ".tar.bz2"):
		return KindTarBz2
	case strings.HasSuffix(s, ".tar.zst"):
		return KindTarZst
	case strings.HasSuffix(s, ".tar"):
		return KindTar
	case strings.HasSuffix(s, ".zip"):
		return KindZip
	default:
		return KindTarGz
	}
}

// Compression identifies the compression applied to a created tar archive.
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionGzip  Compression = "gz"
	CompressionBzip2 Compression = "bz2"
	CompressionXz    Compression = "xz"
	CompressionZstd  Compression = "zst"
)

// ParseCompression converts a user-supplied string to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case CompressionNone, CompressionGzip, CompressionBzip2, CompressionXz, CompressionZstd:
		return Compression(s), nil
	case "":
		return CompressionNone, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

// Kind returns the archive kind produced by this compression.
func (c Compression) Kind() Kind {
	switch c {
	case CompressionGzip:
		return KindTarGz
	case CompressionBzip2:
		return KindTarBz2
	case CompressionXz:
		return KindTarXz
	case CompressionZstd:
		return KindTarZst
	default:
		return KindTar
	}
}

// Suffix returns the filename suffix for archives with this compression.
func (c Compression) Suffix() string {
	return c.Kind().Suffix()
}
