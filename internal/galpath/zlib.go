// Package galpath provides the content-addressing and zlib-framing
// utilities shared by the CDN client, downloader and archiver (spec C1).
package galpath

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/pkg/errors"
)

// LooksCompressed reports whether b begins with a valid zlib header per
// RFC 1950 (CMF byte low nibble == 8, i.e. deflate).
func LooksCompressed(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	if b[0]&0x0F != 0x08 {
		return false
	}
	// CMF*256 + FLG must be a multiple of 31 per RFC 1950 §2.2.
	header := uint16(b[0])<<8 | uint16(b[1])
	return header%31 == 0
}

// MaybeInflate transparently inflates b if it looks zlib-compressed,
// otherwise returns it unchanged. This backs the CDN client's transparent
// decode (spec §4.1) for endpoints that may return either raw or
// zlib-compressed JSON.
func MaybeInflate(b []byte) ([]byte, error) {
	if !LooksCompressed(b) {
		return b, nil
	}
	return Inflate(b)
}

// Inflate zlib-decompresses b (window-bits 15, the zlib default).
func Inflate(b []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "opening zlib stream")
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(err, "inflating")
	}
	return out, nil
}

// Deflate zlib-compresses b at the default compression level, matching
// what the CDN stores chunks as (spec §3 Chunk, §4.7 "no recompression").
func Deflate(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, errors.Wrap(err, "deflating")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "closing zlib writer")
	}
	return buf.Bytes(), nil
}
