package rgog

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/galaxy-dl/galaxy-dl/pkg/rgog/langset"
)

// Pack writes tree as a (possibly multi-part) RGOG archive rooted at
// outBase ("{outBase}.rgog", "{outBase}.part1.rgog", ...), per spec
// §4.7. Pack performs the full pre-scan described there — offsets,
// per-part chunk assignment, and total part count are all computed
// before any bytes are written, so sections are written with their
// final offsets directly rather than needing a placeholder-then-patch
// pass: the pre-scan already knows every FileRef's size (Scan stats
// each file), which is exactly the information a seek-back pass would
// otherwise have to discover mid-write.
func Pack(outBase string, tree Tree, opts Options) error {
	opts = opts.withDefaults()

	plan, err := planArchive(tree, opts)
	if err != nil {
		return err
	}

	archiveType := TypeBase
	if opts.Patch {
		archiveType = TypePatch
	}
	for partNum, part := range plan.parts {
		if err := writePart(outBase, partNum, len(plan.parts), archiveType, plan, part); err != nil {
			return errors.Wrapf(err, "writing part %d", partNum)
		}
	}
	return nil
}

type fileSlot struct {
	hash      string
	ref       FileRef
	offset    int64 // within BuildFiles (repos/manifests) or this part's ChunkFiles (chunks)
	productID uint64 // chunks only
}

type buildPlan struct {
	BuildInput
	repoOffset int64
	manifests  []fileSlot // sorted by depot hash, offset within BuildFiles
}

type partPlan struct {
	chunks         []fileSlot // offsets relative to this part's ChunkFiles
	chunkDataBytes int64
}

type archivePlan struct {
	productIDs     []uint64
	builds         []buildPlan
	buildFiles     []fileSlot // repos then manifests, concatenation order
	buildFilesSize int64
	parts          []partPlan
	totalChunks    int
}

func planArchive(tree Tree, opts Options) (*archivePlan, error) {
	// Dedup + sort repositories and manifests globally by content hash.
	repoByHash := map[string]FileRef{}
	manifestByHash := map[string]FileRef{}
	productSet := map[uint64]bool{}

	builds := append([]BuildInput(nil), tree.Builds...)
	sort.Slice(builds, func(i, j int) bool { return builds[i].BuildID < builds[j].BuildID })

	for _, b := range builds {
		repoByHash[b.Repository.Hash] = b.Repository
		for _, d := range b.Depots {
			manifestByHash[d.File.Hash] = d.File
		}
	}
	for _, c := range tree.Chunks {
		productSet[c.ProductID] = true
	}

	repoHashes := sortedKeys(repoByHash)
	manifestHashes := sortedKeys(manifestByHash)

	var buildFiles []fileSlot
	var off int64
	offsetOf := map[string]int64{}
	for _, h := range repoHashes {
		offsetOf[h] = off
		buildFiles = append(buildFiles, fileSlot{hash: h, ref: repoByHash[h], offset: off})
		off += repoByHash[h].Size
	}
	for _, h := range manifestHashes {
		offsetOf[h] = off
		buildFiles = append(buildFiles, fileSlot{hash: h, ref: manifestByHash[h], offset: off})
		off += manifestByHash[h].Size
	}

	var buildPlans []buildPlan
	for _, b := range builds {
		bp := buildPlan{BuildInput: b, repoOffset: offsetOf[b.Repository.Hash]}
		depotHashes := make([]string, 0, len(b.Depots))
		byHash := map[string]DepotManifestInput{}
		for _, d := range b.Depots {
			depotHashes = append(depotHashes, d.File.Hash)
			byHash[d.File.Hash] = d
		}
		sort.Strings(depotHashes)
		for _, h := range depotHashes {
			bp.manifests = append(bp.manifests, fileSlot{hash: h, ref: byHash[h].File, offset: offsetOf[h]})
		}
		buildPlans = append(buildPlans, bp)
	}

	// Dedup + sort chunks globally, then assign to parts by running size.
	chunkByHash := map[string]ChunkInput{}
	for _, c := range tree.Chunks {
		chunkByHash[c.File.Hash] = c
	}
	chunkHashes := sortedKeys(chunkByHash)

	// max_part_size bounds only BuildFiles+ChunkFiles data bytes, not
	// metadata or alignment padding (spec §4.7). BuildFiles exists only
	// in part 0, so part 0's chunk budget is reduced by its size; later
	// parts get the full budget.
	var parts []partPlan
	current := partPlan{}
	budget := opts.MaxPartSize - off
	if budget < 0 {
		budget = 0
	}
	for _, h := range chunkHashes {
		c := chunkByHash[h]
		if len(current.chunks) > 0 && current.chunkDataBytes+c.File.Size > budget {
			parts = append(parts, current)
			current = partPlan{}
			budget = opts.MaxPartSize
		}
		current.chunks = append(current.chunks, fileSlot{hash: h, ref: c.File, offset: current.chunkDataBytes, productID: c.ProductID})
		current.chunkDataBytes += c.File.Size
	}
	if len(current.chunks) > 0 || len(parts) == 0 {
		parts = append(parts, current)
	}

	return &archivePlan{
		productIDs:     sortedUint64Keys(productSet),
		builds:         buildPlans,
		buildFiles:     buildFiles,
		buildFilesSize: off,
		parts:          parts,
		totalChunks:    len(chunkHashes),
	}, nil
}

func sortedKeys(m map[string]FileRef) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedUint64Keys(m map[uint64]bool) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func partPath(outBase string, partNum int) string {
	if partNum == 0 {
		return outBase + ".rgog"
	}
	return fmt.Sprintf("%s.part%d.rgog", outBase, partNum)
}

func writePart(outBase string, partNum, totalParts int, archiveType uint8, plan *archivePlan, part partPlan) error {
	f, err := os.Create(partPath(outBase, partNum))
	if err != nil {
		return err
	}
	defer f.Close()

	isPart0 := partNum == 0

	var productMeta, buildMeta, buildFilesBlob []byte
	if isPart0 {
		productMeta = EncodeProductMetadata(plan.productIDs)
		buildMeta = encodeBuildMetadata(plan.builds)
	}

	chunkMeta := encodeChunkMetadata(part.chunks)

	sectionOffset := int64(HeaderSize)
	hdr := Header{Type: archiveType, PartNumber: uint32(partNum), TotalParts: uint32(totalParts),
		TotalBuildCount: uint16(len(plan.builds)), TotalChunkCount: uint32(plan.totalChunks),
		LocalChunkCount: uint32(len(part.chunks))}

	if isPart0 {
		hdr.Sections[sectionProductMetadata] = offsetSize{Offset: uint64(sectionOffset), Size: uint64(len(productMeta))}
		sectionOffset = alignUp(sectionOffset + int64(len(productMeta)))

		hdr.Sections[sectionBuildMetadata] = offsetSize{Offset: uint64(sectionOffset), Size: uint64(len(buildMeta))}
		sectionOffset = alignUp(sectionOffset + int64(len(buildMeta)))

		hdr.Sections[sectionBuildFiles] = offsetSize{Offset: uint64(sectionOffset), Size: uint64(plan.buildFilesSize)}
		sectionOffset = alignUp(sectionOffset + plan.buildFilesSize)
	}

	hdr.Sections[sectionChunkMetadata] = offsetSize{Offset: uint64(sectionOffset), Size: uint64(len(chunkMeta))}
	sectionOffset = alignUp(sectionOffset + int64(len(chunkMeta)))

	hdr.Sections[sectionChunkFiles] = offsetSize{Offset: uint64(sectionOffset), Size: uint64(part.chunkDataBytes)}

	headerBytes := hdr.Encode()
	if _, err := f.Write(headerBytes[:]); err != nil {
		return err
	}

	if isPart0 {
		if err := writeAligned(f, productMeta); err != nil {
			return err
		}
		if err := writeAligned(f, buildMeta); err != nil {
			return err
		}
		if err := writeBuildFiles(f, plan.buildFiles); err != nil {
			return err
		}
		if err := padTo(f); err != nil {
			return err
		}
	}

	if err := writeAligned(f, chunkMeta); err != nil {
		return err
	}
	for _, slot := range part.chunks {
		if err := streamCopy(f, slot.ref.Path); err != nil {
			return err
		}
	}

	return nil
}

func encodeBuildMetadata(builds []buildPlan) []byte {
	var buf []byte
	for _, b := range builds {
		var repoID [16]byte
		copyHexInto(repoID[:], b.Repository.Hash)
		hdr := BuildMetaHeader{
			BuildID: b.BuildID, OS: b.OS, RepositoryID: repoID,
			RepoOffset: uint64(b.repoOffset), RepoSize: uint64(b.Repository.Size),
			ManifestCount: uint16(len(b.manifests)),
		}
		encoded := hdr.Encode()
		buf = append(buf, encoded[:]...)
		for _, slot := range b.manifests {
			var depotID [16]byte
			copyHexInto(depotID[:], slot.hash)
			lo, hi := langset.Pack(b.Depots[depotIndexFor(b, slot.hash)].Languages)
			entry := ManifestEntry{DepotID: depotID, Offset: uint64(slot.offset), Size: uint64(slot.ref.Size), Languages1: lo, Languages2: hi}
			e := entry.Encode()
			buf = append(buf, e[:]...)
		}
	}
	return buf
}

func depotIndexFor(b buildPlan, hash string) int {
	for i, d := range b.Depots {
		if d.File.Hash == hash {
			return i
		}
	}
	return 0
}

func encodeChunkMetadata(chunks []fileSlot) []byte {
	buf := make([]byte, 0, len(chunks)*ChunkMetaSize)
	for _, slot := range chunks {
		var md5 [16]byte
		copyHexInto(md5[:], slot.hash)
		entry := ChunkMetaEntry{CompressedMD5: md5, Offset: uint64(slot.offset), Size: uint64(slot.ref.Size), ProductID: slot.productID}
		e := entry.Encode()
		buf = append(buf, e[:]...)
	}
	return buf
}

func copyHexInto(dst []byte, hexStr string) {
	decoded, err := hex.DecodeString(hexStr)
	if err != nil {
		return
	}
	copy(dst, decoded)
}

func writeAligned(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		return err
	}
	return padTo(f)
}

func writeBuildFiles(f *os.File, slots []fileSlot) error {
	for _, slot := range slots {
		if err := streamCopy(f, slot.ref.Path); err != nil {
			return err
		}
	}
	return nil
}

func padTo(f *os.File) error {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	padded := alignUp(pos)
	if padded == pos {
		return nil
	}
	_, err = f.Write(make([]byte, padded-pos))
	return err
}

func streamCopy(dst *os.File, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}
