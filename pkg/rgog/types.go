package rgog

// FileRef points at an already-compressed blob on disk that Pack
// streams into an archive verbatim — no recompression occurs anywhere in
// this package (spec §4.7 determinism rule).
type FileRef struct {
	Hash string // lowercase hex: repository-id, depot-id, or compressed_md5
	Path string // on-disk path to the compressed bytes
	Size int64
}

// DepotManifestInput is one depot's manifest file plus the language set
// its owning repository recorded for it.
type DepotManifestInput struct {
	File      FileRef
	Languages []string
}

// BuildInput is one build's repository file plus its depot manifests,
// the unit BuildMetadata is written from.
type BuildInput struct {
	BuildID    uint64
	OS         uint8 // 0 null, 1 Windows, 2 Mac, 3 Linux
	Repository FileRef
	Depots     []DepotManifestInput
}

// ChunkInput is one CDN-addressable compressed chunk, keyed by the MD5 of
// its compressed bytes.
type ChunkInput struct {
	File      FileRef
	ProductID uint64
}

// Tree is the complete pre-scanned input to Pack: the output of
// walking a v2/meta + v2/store tree (see Scan) or of assembling build
// results directly from a download session.
type Tree struct {
	Builds []BuildInput
	Chunks []ChunkInput
}

// Options configures a pack operation.
type Options struct {
	// MaxPartSize bounds the data bytes (BuildFiles + ChunkFiles) written
	// per part. Zero selects the spec default (2 GiB).
	MaxPartSize int64
	// Patch marks the archive as a patch-type container (spec §4.7 type
	// 0x02) rather than a full base snapshot (0x01).
	Patch bool
}

const defaultMaxPartSize = 2 << 30 // 2 GiB

func (o Options) withDefaults() Options {
	if o.MaxPartSize <= 0 {
		o.MaxPartSize = defaultMaxPartSize
	}
	return o
}

// Build is one archived build as reported by Archive.List/Info.
type Build struct {
	BuildID      uint64
	OS           uint8
	RepositoryID string // hex
	Manifests    []ManifestRef
}

// ManifestRef is one archived depot manifest as reported by Archive.List.
type ManifestRef struct {
	DepotID   string // hex
	Languages []string
}

// Stats summarises an archive for `rgog info --stats`.
type Stats struct {
	TotalParts       int
	TotalBuilds      int
	TotalChunks      int
	TotalChunkBytes  int64
	TotalBuildBytes  int64
	DistinctProducts int
	// CompressionRatio is sum(uncompressed)/sum(compressed) over every
	// stored chunk. Zero unless Archive.Info was asked to compute it —
	// doing so inflates every stored chunk, which is not free on a large
	// archive.
	CompressionRatio float64
}
