// Package manifest implements the build/manifest resolver (spec C4): it
// normalises the CDN's two incompatible generations (V1 blob-based, V2
// chunk-based) into one typed view, retaining the raw decoded JSON for
// archival fidelity the way the CDN client retains raw bytes.
package manifest

import "encoding/json"

// Generation selects which manifest family a build belongs to.
type Generation int

const (
	GenerationV1 Generation = 1
	GenerationV2 Generation = 2
)

// BuildInfo is one entry of list_all_builds, the union of the V1 and V2
// builds endpoints deduplicated by build id.
type BuildInfo struct {
	BuildID        string
	LegacyBuildID  string // V1 only: numeric repository id
	Generation     Generation
	DatePublished  string
	Link           string // V2 only: exact manifest URL, content-addressed
	Platform       string
	Tags           []string
}

// Manifest is the normalised view of a build (spec §3).
type Manifest struct {
	BaseProductID    string
	BuildID          string
	RepositoryID     string // V1 only ("legacy build id")
	Generation       Generation
	InstallDirectory string
	Depots           []Depot
	DependencyIDs    []string
	Raw              json.RawMessage // opaque, retained for archival fidelity
}

// Depot is a shippable slice of a build (spec §3).
type Depot struct {
	ProductID       string
	Manifest        string // content hash, 32 hex chars (V2); empty for the synthetic V1 depot
	Languages       []string // "*" denotes all
	Size            int64
	CompressedSize  int64
	Bitness         []int // optional bitness filter, empty means unfiltered

	IsV1Blob     bool // synthetic depot wrapping a V1 manifest's files[]
	V1BlobMD5    string
	V1BlobPath   string // "main.bin"
	TotalSize    int64
}

// ItemKind tags the DepotItem variant (spec §9: tagged variant, not a
// God-object carrying every generation's fields at once).
type ItemKind int

const (
	KindV1Blob ItemKind = iota
	KindV1File
	KindV2File
	KindV2SFC
)

func (k ItemKind) String() string {
	switch k {
	case KindV1Blob:
		return "v1-blob"
	case KindV1File:
		return "v1-file"
	case KindV2File:
		return "v2-file"
	case KindV2SFC:
		return "v2-sfc"
	default:
		return "unknown"
	}
}

// Chunk is one CDN-addressable compressed unit of a V2 file (spec §3).
type Chunk struct {
	MD5Compressed     string
	SizeCompressed    int64
	MD5Uncompressed   string
	SizeUncompressed  int64
	CompressedOffset  int64 // cumulative, within the file
	UncompressedOffset int64
}

// V1Blob carries the fields of the monolithic main.bin for a V1 build.
type V1Blob struct {
	MD5       string
	TotalSize int64
	Path      string // "main.bin"
}

// V1File carries the fields of a logical file sliced out of a V1 blob.
type V1File struct {
	Path   string
	Offset int64
	Size   int64
	MD5    string // of the extracted file
}

// V2File carries the fields of an ordinary (or SFC-member) V2 file.
type V2File struct {
	Path              string
	MD5               string // of the assembled plaintext
	TotalSizeUncompressed int64
	Chunks            []Chunk

	IsInSFC  bool
	SFCOffset int64
	SFCSize   int64
}

// V2SFC carries the fields of a downloadable Small Files Container: a
// single V2-file-shaped download whose decompressed bytes are later
// sliced to materialise the V2File items with IsInSFC set.
type V2SFC struct {
	Path   string
	MD5    string
	TotalSizeUncompressed int64
	Chunks []Chunk
}

// DepotItem is one file to materialise, tagged by Kind; exactly one of
// the typed fields is populated per spec §9's tagged-variant guidance.
type DepotItem struct {
	Kind ItemKind

	V1Blob *V1Blob
	V1File *V1File
	V2File *V2File
	V2SFC  *V2SFC
}

// Path returns the logical path of the item regardless of variant.
func (i DepotItem) Path() string {
	switch i.Kind {
	case KindV1Blob:
		return i.V1Blob.Path
	case KindV1File:
		return i.V1File.Path
	case KindV2File:
		return i.V2File.Path
	case KindV2SFC:
		return i.V2SFC.Path
	default:
		return ""
	}
}

// FilePatchDiff is a single file's xdelta3 patch from an old build to a
// new one (spec §3).
type FilePatchDiff struct {
	SourcePath string
	TargetPath string
	MD5Source  string
	MD5Target  string
	Chunks     []Chunk

	Old *DepotItem
	New *DepotItem
}

// Patch is a container of FilePatchDiffs for a single (from_build →
// to_build) pair (spec §3). Algorithm is fixed to "xdelta3" for a
// non-nil Patch; anything else is Unsupported (spec §4.5).
type Patch struct {
	Algorithm    string
	Files        []FilePatchDiff
	ClientID     string
	ClientSecret string
}

// ManifestDiff is the disjoint classification produced by the diff
// engine (spec §3, §4.6).
type ManifestDiff struct {
	New     []DepotItem
	Changed []DepotItem
	Patched []FilePatchDiff
	Deleted []string
}

// MD5 returns the expected plaintext MD5 of the item; for V1Blob that is
// the whole-blob hash, V1Blob.MD5.
func (i DepotItem) MD5() string {
	switch i.Kind {
	case KindV1Blob:
		return i.V1Blob.MD5
	case KindV1File:
		return i.V1File.MD5
	case KindV2File:
		return i.V2File.MD5
	case KindV2SFC:
		return i.V2SFC.MD5
	default:
		return ""
	}
}

// TotalSize returns the item's uncompressed byte size regardless of
// variant, for the diff engine's unchanged-file comparison (spec §4.6).
func (i DepotItem) TotalSize() int64 {
	switch i.Kind {
	case KindV1Blob:
		return i.V1Blob.TotalSize
	case KindV1File:
		return i.V1File.Size
	case KindV2File:
		return i.V2File.TotalSizeUncompressed
	case KindV2SFC:
		return i.V2SFC.TotalSizeUncompressed
	default:
		return 0
	}
}
