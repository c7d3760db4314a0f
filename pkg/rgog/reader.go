package rgog

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/galaxy-dl/galaxy-dl/internal/galerr"
	"github.com/galaxy-dl/galaxy-dl/internal/galpath"
	"github.com/galaxy-dl/galaxy-dl/internal/hashext"
	"github.com/galaxy-dl/galaxy-dl/internal/manifest"
	"github.com/galaxy-dl/galaxy-dl/internal/syncx"
	"github.com/galaxy-dl/galaxy-dl/internal/urlx"
	"github.com/galaxy-dl/galaxy-dl/pkg/rgog/langset"
)

type partHandle struct {
	f      *os.File
	header Header
}

type chunkLoc struct {
	hash      string
	part      int
	offset    uint64
	size      uint64
	productID uint64
}

type archivedBuild struct {
	header    BuildMetaHeader
	manifests []ManifestEntry
}

// Archive is an opened (possibly multi-part) RGOG container (spec §4.8).
// Lookups into the global chunk index are O(log n): the index is a
// single sorted slice built once at Open, searched with sort.Search,
// matching the chunk address space's own global sort order. Build
// metadata is keyed by build_id in a syncx.Map instead — the natural fit
// for a small, read-mostly lookup table.
type Archive struct {
	outBase    string
	parts      []*partHandle
	chunkIndex []chunkLoc // sorted by hash
	builds     *syncx.Map[uint64, archivedBuild]
	buildOrder []uint64
}

// Open parses part 0's header and, if TotalParts > 1, every subsequent
// part, then builds the global chunk index and build metadata table.
func Open(outBase string) (*Archive, error) {
	a := &Archive{outBase: outBase, builds: &syncx.Map[uint64, archivedBuild]{}}

	part0, err := openPart(partPath(outBase, 0))
	if err != nil {
		return nil, err
	}
	a.parts = append(a.parts, part0)

	for p := 1; p < int(part0.header.TotalParts); p++ {
		ph, err := openPart(partPath(outBase, p))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.parts = append(a.parts, ph)
	}

	if err := a.loadBuildMetadata(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.loadChunkIndex(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func openPart(path string) (*partHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	buf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "reading header of %s", path)
	}
	hdr, err := DecodeHeader(buf)
	if err != nil {
		f.Close()
		return nil, galerr.New(galerr.InvalidArchive, errors.Wrapf(err, "parsing header of %s", path))
	}
	return &partHandle{f: f, header: hdr}, nil
}

func (a *Archive) Close() error {
	var firstErr error
	for _, p := range a.parts {
		if p.f == nil {
			continue
		}
		if err := p.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Archive) readSection(part int, s offsetSize) ([]byte, error) {
	buf := make([]byte, s.Size)
	if s.Size == 0 {
		return buf, nil
	}
	if _, err := a.parts[part].f.ReadAt(buf, int64(s.Offset)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (a *Archive) loadBuildMetadata() error {
	hdr := a.parts[0].header
	buf, err := a.readSection(0, hdr.BuildMetadata())
	if err != nil {
		return errors.Wrap(err, "reading build metadata")
	}
	off := 0
	for i := 0; i < int(hdr.TotalBuildCount); i++ {
		if off+BuildMetaSize > len(buf) {
			return galerr.New(galerr.InvalidArchive, errors.New("build metadata truncated"))
		}
		bh := DecodeBuildMetaHeader(buf[off : off+BuildMetaSize])
		off += BuildMetaSize
		ab := archivedBuild{header: bh}
		for m := 0; m < int(bh.ManifestCount); m++ {
			if off+ManifestEntrySize > len(buf) {
				return galerr.New(galerr.InvalidArchive, errors.New("manifest entry truncated"))
			}
			ab.manifests = append(ab.manifests, DecodeManifestEntry(buf[off:off+ManifestEntrySize]))
			off += ManifestEntrySize
		}
		a.builds.Store(bh.BuildID, ab)
		a.buildOrder = append(a.buildOrder, bh.BuildID)
	}
	return nil
}

func (a *Archive) loadChunkIndex() error {
	for p, ph := range a.parts {
		buf, err := a.readSection(p, ph.header.ChunkMetadata())
		if err != nil {
			return errors.Wrapf(err, "reading chunk metadata of part %d", p)
		}
		count := int(ph.header.LocalChunkCount)
		for i := 0; i < count; i++ {
			off := i * ChunkMetaSize
			if off+ChunkMetaSize > len(buf) {
				return galerr.New(galerr.InvalidArchive, errors.New("chunk metadata truncated"))
			}
			e := DecodeChunkMetaEntry(buf[off : off+ChunkMetaSize])
			a.chunkIndex = append(a.chunkIndex, chunkLoc{
				hash: hex.EncodeToString(e.CompressedMD5[:]), part: p, offset: e.Offset, size: e.Size, productID: e.ProductID,
			})
		}
	}
	sort.Slice(a.chunkIndex, func(i, j int) bool { return a.chunkIndex[i].hash < a.chunkIndex[j].hash })
	return nil
}

func (a *Archive) lookupChunk(hash string) (chunkLoc, bool) {
	i := sort.Search(len(a.chunkIndex), func(i int) bool { return a.chunkIndex[i].hash >= hash })
	if i < len(a.chunkIndex) && a.chunkIndex[i].hash == hash {
		return a.chunkIndex[i], true
	}
	return chunkLoc{}, false
}

// readChunkRaw returns a chunk's compressed bytes exactly as stored.
func (a *Archive) readChunkRaw(hash string) ([]byte, error) {
	loc, ok := a.lookupChunk(hash)
	if !ok {
		return nil, galerr.Errorf(galerr.NotFound, "chunk %s not present in archive", hash)
	}
	return a.readChunkAt(loc)
}

func (a *Archive) readChunkAt(loc chunkLoc) ([]byte, error) {
	cf := a.parts[loc.part].header.ChunkFiles()
	buf := make([]byte, loc.size)
	if _, err := a.parts[loc.part].f.ReadAt(buf, int64(cf.Offset)+int64(loc.offset)); err != nil {
		return nil, errors.Wrapf(err, "reading chunk %s", loc.hash)
	}
	return buf, nil
}

func (a *Archive) readBuildFileRaw(offset, size uint64) ([]byte, error) {
	bf := a.parts[0].header.BuildFiles()
	buf := make([]byte, size)
	if _, err := a.parts[0].f.ReadAt(buf, int64(bf.Offset)+int64(offset)); err != nil {
		return nil, err
	}
	return buf, nil
}

// List returns every archived build (spec §4.8 list).
func (a *Archive) List() []Build {
	ids := append([]uint64(nil), a.buildOrder...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Build, 0, len(ids))
	for _, id := range ids {
		ab, _ := a.builds.Load(id)
		b := Build{BuildID: id, OS: ab.header.OS, RepositoryID: hex.EncodeToString(ab.header.RepositoryID[:])}
		for _, m := range ab.manifests {
			b.Manifests = append(b.Manifests, ManifestRef{
				DepotID:   hex.EncodeToString(m.DepotID[:]),
				Languages: langset.Unpack(m.Languages1, m.Languages2),
			})
		}
		out = append(out, b)
	}
	return out
}

// Info summarises the archive (spec §4.8 info). computeRatio also
// inflates every stored chunk to populate Stats.CompressionRatio — skip
// it for a cheap summary on a large archive.
func (a *Archive) Info(computeRatio bool) Stats {
	s := Stats{TotalParts: len(a.parts), TotalBuilds: len(a.buildOrder), TotalChunks: len(a.chunkIndex)}
	products := make(map[uint64]struct{})
	var totalUncompressed int64
	for _, c := range a.chunkIndex {
		s.TotalChunkBytes += int64(c.size)
		products[c.productID] = struct{}{}
		if !computeRatio {
			continue
		}
		compressed, err := a.readChunkAt(c)
		if err != nil {
			continue
		}
		plain, err := galpath.Inflate(compressed)
		if err != nil {
			continue
		}
		totalUncompressed += int64(len(plain))
	}
	s.DistinctProducts = len(products)
	s.TotalBuildBytes = int64(a.parts[0].header.BuildFiles().Size)
	if computeRatio && s.TotalChunkBytes > 0 {
		s.CompressionRatio = float64(totalUncompressed) / float64(s.TotalChunkBytes)
	}
	return s
}

// Verify implements spec §4.8's quick/full validation modes.
func (a *Archive) Verify(full bool) error {
	for p, ph := range a.parts {
		info, err := ph.f.Stat()
		if err != nil {
			return err
		}
		for _, s := range ph.header.Sections {
			if s.Offset == 0 && s.Size == 0 {
				continue
			}
			if int64(s.Offset+s.Size) > info.Size() {
				return galerr.Errorf(galerr.InvalidArchive, "part %d: section extends past end of file", p)
			}
		}
		chunkMeta := ph.header.ChunkMetadata()
		if chunkMeta.Size != uint64(ph.header.LocalChunkCount)*ChunkMetaSize {
			return galerr.Errorf(galerr.InvalidArchive, "part %d: chunk metadata size disagrees with local chunk count", p)
		}
	}

	if !full {
		return nil
	}

	for _, c := range a.chunkIndex {
		raw, err := a.readChunkRaw(c.hash)
		if err != nil {
			return err
		}
		if !hashext.VerifyHex(raw, c.hash) {
			return galerr.Errorf(galerr.HashMismatch, "chunk %s failed verification", c.hash)
		}
	}
	for _, id := range a.buildOrder {
		ab, _ := a.builds.Load(id)
		repoHash := hex.EncodeToString(ab.header.RepositoryID[:])
		raw, err := a.readBuildFileRaw(ab.header.RepoOffset, ab.header.RepoSize)
		if err != nil {
			return err
		}
		if !hashext.VerifyHex(raw, repoHash) {
			return galerr.Errorf(galerr.HashMismatch, "repository %s failed verification", repoHash)
		}
		for _, m := range ab.manifests {
			depotHash := hex.EncodeToString(m.DepotID[:])
			raw, err := a.readBuildFileRaw(m.Offset, m.Size)
			if err != nil {
				return err
			}
			if !hashext.VerifyHex(raw, depotHash) {
				return galerr.Errorf(galerr.HashMismatch, "manifest %s failed verification", depotHash)
			}
		}
	}
	return nil
}

// ExtractOptions configures Extract (spec §4.8).
type ExtractOptions struct {
	BuildID    uint64 // consulted only when HasBuildID is set; otherwise every build
	HasBuildID bool
	Reassemble bool
	ChunksOnly bool
}

// Extract implements spec §4.8's extract operation.
func (a *Archive) Extract(opts ExtractOptions, outDir string) error {
	if opts.ChunksOnly {
		return a.extractChunksOnly(outDir)
	}
	return a.reassemble(opts, outDir)
}

func (a *Archive) extractChunksOnly(outDir string) error {
	for _, c := range a.chunkIndex {
		raw, err := a.readChunkRaw(c.hash)
		if err != nil {
			return err
		}
		path := filepath.Join(outDir, "v2", "store", urlx.GalaxyPath(c.hash))
		if err := writeFile(path, raw); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archive) reassemble(opts ExtractOptions, outDir string) error {
	for _, id := range a.buildOrder {
		if opts.HasBuildID && id != opts.BuildID {
			continue
		}
		ab, _ := a.builds.Load(id)
		for _, m := range ab.manifests {
			raw, err := a.readBuildFileRaw(m.Offset, m.Size)
			if err != nil {
				return err
			}
			plain, err := galpath.MaybeInflate(raw)
			if err != nil {
				return err
			}
			items, err := manifest.ParseV2DepotItems(plain)
			if err != nil {
				return err
			}
			if err := a.reassembleDepot(items, outDir); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Archive) reassembleDepot(items []manifest.DepotItem, outDir string) error {
	var sfcData []byte
	for _, it := range items {
		if it.Kind == manifest.KindV2SFC {
			data, err := a.assembleChunks(it.V2SFC.Chunks)
			if err != nil {
				return err
			}
			sfcData = data
			break
		}
	}
	for _, it := range items {
		if it.Kind != manifest.KindV2File {
			continue
		}
		path := filepath.Join(outDir, it.V2File.Path)
		if it.V2File.IsInSFC {
			if int64(len(sfcData)) < it.V2File.SFCOffset+it.V2File.SFCSize {
				return galerr.Errorf(galerr.InvalidArchive, "sfc slice out of range for %s", it.V2File.Path)
			}
			if err := writeFile(path, sfcData[it.V2File.SFCOffset:it.V2File.SFCOffset+it.V2File.SFCSize]); err != nil {
				return err
			}
			continue
		}
		data, err := a.assembleChunks(it.V2File.Chunks)
		if err != nil {
			return err
		}
		if err := writeFile(path, data); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archive) assembleChunks(chunks []manifest.Chunk) ([]byte, error) {
	var total int64
	for _, c := range chunks {
		total = c.UncompressedOffset + c.SizeUncompressed
	}
	buf := make([]byte, total)
	for _, c := range chunks {
		raw, err := a.readChunkRaw(c.MD5Compressed)
		if err != nil {
			return nil, err
		}
		plain, err := galpath.Inflate(raw)
		if err != nil {
			return nil, err
		}
		copy(buf[c.UncompressedOffset:c.UncompressedOffset+c.SizeUncompressed], plain)
	}
	return buf, nil
}

// UnpackOptions configures Unpack (spec §4.8).
type UnpackOptions struct {
	Debug bool
}

// Unpack reverses Pack: writes compressed-as-stored files back into a
// v2/meta + v2/store tree. Pack then Unpack is a bitwise identity on the
// v2 tree (spec §4.8, scenario S5).
func (a *Archive) Unpack(outDir string, opts UnpackOptions) error {
	for _, id := range a.buildOrder {
		ab, _ := a.builds.Load(id)
		repoHash := hex.EncodeToString(ab.header.RepositoryID[:])
		repoRaw, err := a.readBuildFileRaw(ab.header.RepoOffset, ab.header.RepoSize)
		if err != nil {
			return err
		}
		if err := writeFile(filepath.Join(outDir, "v2", "meta", urlx.GalaxyPath(repoHash)), repoRaw); err != nil {
			return err
		}
		if opts.Debug {
			if err := writeDebugJSON(outDir, repoHash, "repository", repoRaw); err != nil {
				return err
			}
		}
		for _, m := range ab.manifests {
			depotHash := hex.EncodeToString(m.DepotID[:])
			raw, err := a.readBuildFileRaw(m.Offset, m.Size)
			if err != nil {
				return err
			}
			if err := writeFile(filepath.Join(outDir, "v2", "meta", urlx.GalaxyPath(depotHash)), raw); err != nil {
				return err
			}
			if opts.Debug {
				if err := writeDebugJSON(outDir, depotHash, "manifest", raw); err != nil {
					return err
				}
			}
		}
	}
	for _, c := range a.chunkIndex {
		raw, err := a.readChunkRaw(c.hash)
		if err != nil {
			return err
		}
		path := filepath.Join(outDir, "v2", "store", formatUint(c.productID), urlx.GalaxyPath(c.hash))
		if err := writeFile(path, raw); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// writeDebugJSON inflates a stored compressed JSON blob and writes a
// pretty-printed copy under {outDir}/debug, for `unpack --debug`.
func writeDebugJSON(outDir, hash, kind string, compressed []byte) error {
	plain, err := galpath.MaybeInflate(compressed)
	if err != nil {
		return err
	}
	var indented []byte
	var v any
	if err := json.Unmarshal(plain, &v); err == nil {
		if pretty, err := json.MarshalIndent(v, "", "  "); err == nil {
			indented = pretty
		}
	}
	if indented == nil {
		indented = plain
	}
	path := filepath.Join(outDir, "debug", hash+"_"+kind+".json")
	return writeFile(path, indented)
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
