// Package rgog implements the RGOG archive format (spec §4.7, §4.8): a
// deterministic, seekable binary container for a v2 CDN tree, written by
// Pack and read by Archive.
package rgog

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
)

const (
	Magic   = "RGOG"
	Version = uint16(0x0002)

	TypeBase  = uint8(0x01)
	TypePatch = uint8(0x02)

	HeaderSize    = 128
	ChunkMetaSize = 40
	BuildMetaSize = 48
	ManifestEntrySize = 48
	Align         = 64
)

// section identifies one of the seven (offset, size) pairs in the header,
// in on-disk order.
type section int

const (
	sectionProductMetadata section = iota
	sectionBuildMetadata
	sectionBuildFiles
	sectionChunkMetadata
	sectionChunkFiles
	sectionReserved5
	sectionReserved6
	sectionCount
)

// Header is the decoded 128-byte RGOGHeader.
type Header struct {
	Type            uint8
	PartNumber      uint32
	TotalParts      uint32
	TotalBuildCount uint16
	TotalChunkCount uint32
	LocalChunkCount uint32
	Sections        [sectionCount]offsetSize
}

type offsetSize struct {
	Offset uint64
	Size   uint64
}

func (h Header) ProductMetadata() offsetSize { return h.Sections[sectionProductMetadata] }
func (h Header) BuildMetadata() offsetSize   { return h.Sections[sectionBuildMetadata] }
func (h Header) BuildFiles() offsetSize      { return h.Sections[sectionBuildFiles] }
func (h Header) ChunkMetadata() offsetSize   { return h.Sections[sectionChunkMetadata] }
func (h Header) ChunkFiles() offsetSize      { return h.Sections[sectionChunkFiles] }

// Encode serialises a Header into exactly HeaderSize bytes.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], Version)
	buf[6] = h.Type
	// buf[7] reserved
	binary.LittleEndian.PutUint32(buf[8:12], h.PartNumber)
	binary.LittleEndian.PutUint32(buf[12:16], h.TotalParts)
	binary.LittleEndian.PutUint16(buf[16:18], h.TotalBuildCount)
	binary.LittleEndian.PutUint32(buf[18:22], h.TotalChunkCount)
	binary.LittleEndian.PutUint32(buf[22:26], h.LocalChunkCount)
	off := 26
	for _, s := range h.Sections {
		binary.LittleEndian.PutUint64(buf[off:off+8], s.Offset)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], s.Size)
		off += 16
	}
	return buf
}

// DecodeHeader parses a HeaderSize-byte buffer into a Header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errors.Errorf("rgog header: short buffer (%d bytes)", len(buf))
	}
	if string(buf[0:4]) != Magic {
		return Header{}, errors.Errorf("rgog header: bad magic %q", buf[0:4])
	}
	version := binary.LittleEndian.Uint16(buf[4:6])
	if version != Version {
		return Header{}, errors.Errorf("rgog header: unsupported version 0x%04x", version)
	}
	h := Header{
		Type:            buf[6],
		PartNumber:      binary.LittleEndian.Uint32(buf[8:12]),
		TotalParts:      binary.LittleEndian.Uint32(buf[12:16]),
		TotalBuildCount: binary.LittleEndian.Uint16(buf[16:18]),
		TotalChunkCount: binary.LittleEndian.Uint32(buf[18:22]),
		LocalChunkCount: binary.LittleEndian.Uint32(buf[22:26]),
	}
	off := 26
	for i := range h.Sections {
		h.Sections[i] = offsetSize{
			Offset: binary.LittleEndian.Uint64(buf[off : off+8]),
			Size:   binary.LittleEndian.Uint64(buf[off+8 : off+16]),
		}
		off += 16
	}
	return h, nil
}

// ChunkMetaEntry is one 40-byte ChunkMetadata record.
type ChunkMetaEntry struct {
	CompressedMD5 [16]byte
	Offset        uint64 // relative to this part's ChunkFiles start
	Size          uint64 // compressed size
	ProductID     uint64
}

func (e ChunkMetaEntry) Encode() [ChunkMetaSize]byte {
	var buf [ChunkMetaSize]byte
	copy(buf[0:16], e.CompressedMD5[:])
	binary.LittleEndian.PutUint64(buf[16:24], e.Offset)
	binary.LittleEndian.PutUint64(buf[24:32], e.Size)
	binary.LittleEndian.PutUint64(buf[32:40], e.ProductID)
	return buf
}

func DecodeChunkMetaEntry(buf []byte) ChunkMetaEntry {
	var e ChunkMetaEntry
	copy(e.CompressedMD5[:], buf[0:16])
	e.Offset = binary.LittleEndian.Uint64(buf[16:24])
	e.Size = binary.LittleEndian.Uint64(buf[24:32])
	e.ProductID = binary.LittleEndian.Uint64(buf[32:40])
	return e
}

// BuildMetaHeader is the fixed 48-byte prefix of a BuildMetadata entry,
// one per build, followed by ManifestCount ManifestEntry records.
type BuildMetaHeader struct {
	BuildID       uint64
	OS            uint8
	RepositoryID  [16]byte // content hash (MD5) of the repository JSON in BuildFiles
	RepoOffset    uint64
	RepoSize      uint64
	ManifestCount uint16
}

func (b BuildMetaHeader) Encode() [BuildMetaSize]byte {
	var buf [BuildMetaSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], b.BuildID)
	buf[8] = b.OS
	// buf[9:12] reserved
	copy(buf[12:28], b.RepositoryID[:])
	binary.LittleEndian.PutUint64(buf[28:36], b.RepoOffset)
	binary.LittleEndian.PutUint64(buf[36:44], b.RepoSize)
	binary.LittleEndian.PutUint16(buf[44:46], b.ManifestCount)
	// buf[46:48] reserved
	return buf
}

func DecodeBuildMetaHeader(buf []byte) BuildMetaHeader {
	var b BuildMetaHeader
	b.BuildID = binary.LittleEndian.Uint64(buf[0:8])
	b.OS = buf[8]
	copy(b.RepositoryID[:], buf[12:28])
	b.RepoOffset = binary.LittleEndian.Uint64(buf[28:36])
	b.RepoSize = binary.LittleEndian.Uint64(buf[36:44])
	b.ManifestCount = binary.LittleEndian.Uint16(buf[44:46])
	return b
}

// ManifestEntry is one 48-byte per-depot-manifest record following a
// BuildMetaHeader.
type ManifestEntry struct {
	DepotID     [16]byte // content hash (MD5) of the depot manifest JSON
	Offset      uint64   // in BuildFiles
	Size        uint64
	Languages1  uint64
	Languages2  uint64
}

func (m ManifestEntry) Encode() [ManifestEntrySize]byte {
	var buf [ManifestEntrySize]byte
	copy(buf[0:16], m.DepotID[:])
	binary.LittleEndian.PutUint64(buf[16:24], m.Offset)
	binary.LittleEndian.PutUint64(buf[24:32], m.Size)
	binary.LittleEndian.PutUint64(buf[32:40], m.Languages1)
	binary.LittleEndian.PutUint64(buf[40:48], m.Languages2)
	return buf
}

func DecodeManifestEntry(buf []byte) ManifestEntry {
	var m ManifestEntry
	copy(m.DepotID[:], buf[0:16])
	m.Offset = binary.LittleEndian.Uint64(buf[16:24])
	m.Size = binary.LittleEndian.Uint64(buf[24:32])
	m.Languages1 = binary.LittleEndian.Uint64(buf[32:40])
	m.Languages2 = binary.LittleEndian.Uint64(buf[40:48])
	return m
}

// EncodeProductMetadata serialises the set of distinct product ids
// referenced by an archive's chunks: u32 count, 4 reserved bytes, then
// count little-endian u64 ids, in ascending order.
func EncodeProductMetadata(productIDs []uint64) []byte {
	sorted := append([]uint64(nil), productIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	buf := make([]byte, 8+8*len(sorted))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(sorted)))
	off := 8
	for _, id := range sorted {
		binary.LittleEndian.PutUint64(buf[off:off+8], id)
		off += 8
	}
	return buf
}

// DecodeProductMetadata parses the bytes EncodeProductMetadata produced.
func DecodeProductMetadata(buf []byte) ([]uint64, error) {
	if len(buf) < 8 {
		return nil, errors.New("rgog product metadata: short buffer")
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	want := 8 + 8*int(count)
	if len(buf) < want {
		return nil, errors.Errorf("rgog product metadata: declared %d entries, buffer too short", count)
	}
	ids := make([]uint64, count)
	off := 8
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}
	return ids, nil
}

// alignUp rounds n up to the next multiple of Align.
func alignUp(n int64) int64 {
	if rem := n % Align; rem != 0 {
		return n + (Align - rem)
	}
	return n
}
