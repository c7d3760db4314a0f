package manifest

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// parseV1Manifest normalises a V1 {files, depot} body into a single
// synthetic blob Depot plus one V1-file DepotItem per entry (spec §4.2).
func parseV1Manifest(pid, platform, repoID string, raw []byte) (Manifest, error) {
	var wire v1ManifestWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Manifest{}, errors.Wrap(err, "decoding v1 manifest")
	}
	depot := Depot{
		ProductID:  pid,
		Languages:  []string{"*"},
		Size:       wire.Depot.Size,
		IsV1Blob:   true,
		V1BlobMD5:  wire.Depot.MD5,
		V1BlobPath: "main.bin",
		TotalSize:  wire.Depot.Size,
	}
	return Manifest{
		BaseProductID: pid,
		RepositoryID:  repoID,
		Generation:    GenerationV1,
		Depots:        []Depot{depot},
		Raw:           json.RawMessage(raw),
	}, nil
}

// V1Items returns the V1Blob item for main.bin followed by one V1File
// item per manifest file entry. V1 manifests have no lazy depot-items
// fetch (unlike V2) — everything is present in the single manifest body.
func V1Items(raw []byte) ([]DepotItem, error) {
	var wire v1ManifestWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errors.Wrap(err, "decoding v1 manifest")
	}
	items := make([]DepotItem, 0, len(wire.Files)+1)
	items = append(items, DepotItem{
		Kind: KindV1Blob,
		V1Blob: &V1Blob{
			MD5:       wire.Depot.MD5,
			TotalSize: wire.Depot.Size,
			Path:      "main.bin",
		},
	})
	for _, f := range wire.Files {
		items = append(items, DepotItem{
			Kind: KindV1File,
			V1File: &V1File{
				Path:   f.Path,
				Offset: f.Offset,
				Size:   f.Size,
				MD5:    f.Hash,
			},
		})
	}
	return items, nil
}

// parseV2Repository normalises a V2 {baseProductId, buildId, depots, ...}
// body nearly verbatim (spec §4.2); per-depot items are NOT parsed here —
// callers fetch them lazily via GetDepotItems.
func parseV2Repository(raw []byte) (Manifest, error) {
	var wire v2RepositoryWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Manifest{}, errors.Wrap(err, "decoding v2 repository manifest")
	}
	depots := make([]Depot, 0, len(wire.Depots))
	for _, d := range wire.Depots {
		depots = append(depots, Depot{
			ProductID:      d.ProductID,
			Manifest:       d.Manifest,
			Languages:      d.Languages,
			Size:           d.Size,
			CompressedSize: d.CompressedSize,
			Bitness:        d.Bitness,
		})
	}
	return Manifest{
		BaseProductID:    wire.BaseProductID,
		BuildID:          wire.BuildID,
		Generation:       GenerationV2,
		InstallDirectory: wire.InstallDirectory,
		Depots:           depots,
		DependencyIDs:    wire.Dependencies,
		Raw:              json.RawMessage(raw),
	}, nil
}

// parseV2DepotItems parses a depot manifest's items[] into DepotItems,
// enforcing the SFC/sfcRef/ordinary dispatch and prefix-sum chunk offset
// computation from spec §4.2.
func parseV2DepotItems(raw []byte) ([]DepotItem, error) {
	var wire v2DepotManifestWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, errors.Wrap(err, "decoding v2 depot manifest")
	}

	items := make([]DepotItem, 0, len(wire.Items)+1)
	if wire.SmallFilesContainer != nil {
		sfc := wire.SmallFilesContainer
		items = append(items, DepotItem{
			Kind: KindV2SFC,
			V2SFC: &V2SFC{
				Path:                  sfc.Path,
				MD5:                   sfc.MD5,
				TotalSizeUncompressed: sfc.TotalSizeUncompressed,
				Chunks:                buildChunks(sfc.Chunks),
			},
		})
	}
	for _, it := range wire.Items {
		if it.SFCRef != nil {
			items = append(items, DepotItem{
				Kind: KindV2File,
				V2File: &V2File{
					Path:                  it.Path,
					MD5:                   it.MD5,
					TotalSizeUncompressed: it.TotalSizeUncompressed,
					Chunks:                buildChunks(it.Chunks),
					IsInSFC:               true,
					SFCOffset:             it.SFCRef.Offset,
					SFCSize:               it.SFCRef.Size,
				},
			})
			continue
		}
		items = append(items, DepotItem{
			Kind: KindV2File,
			V2File: &V2File{
				Path:                  it.Path,
				MD5:                   it.MD5,
				TotalSizeUncompressed: it.TotalSizeUncompressed,
				Chunks:                buildChunks(it.Chunks),
			},
		})
	}
	return items, nil
}

// ParseV2Repository exposes parseV2Repository for callers outside this
// package that already hold a decoded repository body on disk (the RGOG
// packer, reading straight from a v2/meta tree rather than the CDN).
func ParseV2Repository(raw []byte) (Manifest, error) {
	return parseV2Repository(raw)
}

// ParseV2DepotItems exposes parseV2DepotItems for the same reason as
// ParseV2Repository.
func ParseV2DepotItems(raw []byte) ([]DepotItem, error) {
	return parseV2DepotItems(raw)
}

// buildChunks computes cumulative compressed/uncompressed offsets over a
// chunk list by prefix-sum, per spec §4.2.
func buildChunks(wire []v2ChunkWire) []Chunk {
	chunks := make([]Chunk, 0, len(wire))
	var cOff, uOff int64
	for _, w := range wire {
		chunks = append(chunks, Chunk{
			MD5Compressed:      w.MD5Compressed,
			SizeCompressed:     w.CompressedSize,
			MD5Uncompressed:    w.MD5,
			SizeUncompressed:   w.Size,
			CompressedOffset:   cOff,
			UncompressedOffset: uOff,
		})
		cOff += w.CompressedSize
		uOff += w.Size
	}
	return chunks
}

// PatchInfo is the decoded response of the patch_info endpoint (spec
// §4.1, §4.5). Exactly one of Link/Error is populated on a successful
// decode; both empty means the "not found" error state with an empty
// error description.
type PatchInfo struct {
	ID    string
	From  string
	To    string
	Link  string
	Error string
}

// DecodePatchInfo decodes a patch_info response body.
func DecodePatchInfo(body []byte) (PatchInfo, error) {
	var wire patchInfoWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return PatchInfo{}, errors.Wrap(err, "decoding patch_info response")
	}
	return PatchInfo{ID: wire.ID, From: wire.From, To: wire.To, Link: wire.Link, Error: wire.Error}, nil
}

// PatchDepotRef is one entry of a patch root manifest's depots[] (spec
// §4.5 step 3).
type PatchDepotRef struct {
	ProductID string
	Manifest  string
	Languages []string
}

// PatchRoot is the decoded root patch manifest fetched at PatchInfo.Link.
type PatchRoot struct {
	Algorithm    string
	ClientID     string
	ClientSecret string
	Depots       []PatchDepotRef
}

// DecodePatchRoot decodes a patch root manifest body. An empty object
// `{}` decodes to a zero-value PatchRoot with Algorithm=="" — callers
// treat that as the "no patch exists" sentinel (spec §4.5 step 2).
func DecodePatchRoot(body []byte) (PatchRoot, error) {
	var wire patchRootWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return PatchRoot{}, errors.Wrap(err, "decoding patch root manifest")
	}
	refs := make([]PatchDepotRef, 0, len(wire.Depots))
	for _, d := range wire.Depots {
		refs = append(refs, PatchDepotRef{ProductID: d.ProductID, Manifest: d.Manifest, Languages: d.Languages})
	}
	return PatchRoot{Algorithm: wire.Algorithm, ClientID: wire.ClientID, ClientSecret: wire.ClientSecret, Depots: refs}, nil
}

// DecodePatchDepotItems decodes a per-depot patch manifest's items into
// FilePatchDiffs (spec §4.5 step 3).
func DecodePatchDepotItems(body []byte) ([]FilePatchDiff, error) {
	var wire patchDepotManifestWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, errors.Wrap(err, "decoding patch depot manifest")
	}
	diffs := make([]FilePatchDiff, 0, len(wire.Depot.Items))
	for _, it := range wire.Depot.Items {
		diffs = append(diffs, FilePatchDiff{
			SourcePath: it.SourcePath,
			TargetPath: it.TargetPath,
			MD5Source:  it.MD5Source,
			MD5Target:  it.MD5Target,
			Chunks:     buildChunks(it.Chunks),
		})
	}
	return diffs, nil
}
