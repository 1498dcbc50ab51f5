// Package artifact maintains a local, content-addressable cache of binary
// assets declared in a manifest, fetching them on demand from remote sources
// and verifying their integrity before use.
//
// Artifacts are declared in a TOML manifest mapping names to download
// sources and content hashes (see the [manifest] subpackage for the format).
// A [Manager] resolves names to local directories, downloading, verifying,
// extracting, and committing as needed:
//
//	m, err := artifact.Open("Artifacts.toml")
//	if err != nil {
//	    return err
//	}
//	path, err := m.Resolve(ctx, "SomeData")
//
// Resolved artifacts live under the cache root keyed by their content hash,
// so the same bytes are shared by every manifest that references them. A
// cache directory is valid only once its completion marker exists; partially
// extracted state is never observable.
//
// # Building manifests
//
// The write-side operations create archives and manifest entries:
//
//	info, err := artifact.CreateArchive(ctx, "./dataset",
//	    artifact.CreateWithCompression(archive.CompressionXz),
//	)
//	err = artifact.Bind("Artifacts.toml", "Dataset",
//	    info.TreeDigest, "https://example.com/dataset.tar.xz", info.SHA256,
//	)
//
// [Add] composes both steps for archives that already exist remotely:
// it downloads the archive, computes its hashes, and binds the entry.
//
// # Identity
//
// An artifact's identity is its tree digest: a hash over the directory's
// (relative path, content) pairs that is independent of where or when the
// tree was materialized. See the [treehash] subpackage.
package artifact
