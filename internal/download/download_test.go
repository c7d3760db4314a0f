package download

import (
	"bytes"
	"compress/zlib"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/galaxy-dl/galaxy-dl/internal/cdn"
	"github.com/galaxy-dl/galaxy-dl/internal/galerr"
	"github.com/galaxy-dl/galaxy-dl/internal/hashext"
	"github.com/galaxy-dl/galaxy-dl/internal/httpx/httpxtest"
	"github.com/galaxy-dl/galaxy-dl/internal/manifest"
	"github.com/galaxy-dl/galaxy-dl/internal/seclink"
)

func deflate(t *testing.T, plain string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(plain)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func okResp(body []byte) *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Status: "200 OK", Body: io.NopCloser(bytes.NewReader(body)), Header: make(http.Header)}
}

func secureLinkResp(t *testing.T) *http.Response {
	t.Helper()
	return okResp([]byte(`{"expires_at":9999999999,"urls":[{"url_format":"https://cdn.test/v2/store/{GALAXY_PATH}","parameters":{"priority":1,"cdn_name":"primary"}}]}`))
}

func newDownloader(t *testing.T, calls []httpxtest.Call) (*Downloader, *httpxtest.MockClient) {
	t.Helper()
	mock := &httpxtest.MockClient{Calls: calls, SkipURLValidation: true}
	client := cdn.New(mock, cdn.Config{MaxAttempts: 1})
	links := seclink.New(client)
	return New(client, links, 2), mock
}

func TestDownloadV2FileAssemblesAndVerifies(t *testing.T) {
	chunk1 := deflate(t, "hello-")
	chunk2 := deflate(t, "world!")
	md5a := hashext.SumHex(chunk1)
	md5b := hashext.SumHex(chunk2)
	whole := hashext.SumHex([]byte("hello-world!"))

	d, _ := newDownloader(t, []httpxtest.Call{
		{Response: secureLinkResp(t)},
		{Response: okResp(chunk1)},
		{Response: okResp(chunk2)},
	})

	item := manifest.DepotItem{
		Kind: manifest.KindV2File,
		V2File: &manifest.V2File{
			Path: "data/file.bin",
			MD5:  whole,
			Chunks: []manifest.Chunk{
				{MD5Compressed: md5a, SizeCompressed: int64(len(chunk1)), SizeUncompressed: 6, UncompressedOffset: 0},
				{MD5Compressed: md5b, SizeCompressed: int64(len(chunk2)), SizeUncompressed: 6, UncompressedOffset: 6},
			},
		},
	}

	dir := t.TempDir()
	path, err := d.DownloadItem(context.Background(), item, "pid", dir, Options{Verify: true}, nil)
	if err != nil {
		t.Fatalf("DownloadItem() failed: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(body) != "hello-world!" {
		t.Fatalf("body = %q, want %q", body, "hello-world!")
	}
}

func TestDownloadV2FileHashMismatchRetriesThenFails(t *testing.T) {
	wrong := deflate(t, "not-the-right-bytes")
	calls := []httpxtest.Call{{Response: secureLinkResp(t)}}
	for i := 0; i < maxTaskAttempts; i++ {
		calls = append(calls, httpxtest.Call{Response: okResp(wrong)})
	}
	d, mock := newDownloader(t, calls)

	item := manifest.DepotItem{
		Kind: manifest.KindV2File,
		V2File: &manifest.V2File{
			Path: "data/file.bin",
			MD5:  "deadbeefdeadbeefdeadbeefdeadbeef",
			Chunks: []manifest.Chunk{
				{MD5Compressed: "0000000000000000000000000000000a", SizeCompressed: int64(len(wrong)), SizeUncompressed: 6},
			},
		},
	}
	dir := t.TempDir()
	_, err := d.DownloadItem(context.Background(), item, "pid", dir, Options{Verify: true}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if galerr.KindOf(err) != galerr.HashMismatch {
		t.Fatalf("KindOf(err) = %v, want HashMismatch", galerr.KindOf(err))
	}
	if mock.CallCount() != 1+maxHashMismatchRetries {
		t.Fatalf("CallCount() = %d, want %d (secure_link + %d mismatch attempts)", mock.CallCount(), 1+maxHashMismatchRetries, maxHashMismatchRetries)
	}
}

func TestDownloadV2FileZeroBytesSkipsSecureLinkAndWritesEmptyFile(t *testing.T) {
	d, mock := newDownloader(t, nil)

	item := manifest.DepotItem{
		Kind: manifest.KindV2File,
		V2File: &manifest.V2File{
			Path:   "data/empty.bin",
			MD5:    hashext.SumHex(nil),
			Chunks: nil,
		},
	}

	dir := t.TempDir()
	path, err := d.DownloadItem(context.Background(), item, "pid", dir, Options{Verify: true}, nil)
	if err != nil {
		t.Fatalf("DownloadItem() failed: %v", err)
	}
	if mock.CallCount() != 0 {
		t.Fatalf("CallCount() = %d, want 0 (zero-byte item issues no HTTP requests)", mock.CallCount())
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("body = %q, want empty", body)
	}
}

func TestDownloadV1BlobRangeAndVerify(t *testing.T) {
	content := []byte("the-entire-blob-contents")
	whole := hashext.SumHex(content)
	d, _ := newDownloader(t, []httpxtest.Call{
		{Response: secureLinkResp(t)},
		{Response: okResp(content)},
	})
	item := manifest.DepotItem{
		Kind: manifest.KindV1Blob,
		V1Blob: &manifest.V1Blob{
			MD5:       whole,
			TotalSize: int64(len(content)),
			Path:      "main.bin",
		},
	}
	dir := t.TempDir()
	path, err := d.DownloadItem(context.Background(), item, "pid", dir, Options{Verify: true}, nil)
	if err != nil {
		t.Fatalf("DownloadItem() failed: %v", err)
	}
	if filepath.Base(path) != "main.bin" {
		t.Fatalf("path = %q, want basename main.bin", path)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(body) != string(content) {
		t.Fatalf("body = %q, want %q", body, content)
	}
}

func TestMaterializeFromSFCSlicesBuffer(t *testing.T) {
	d, _ := newDownloader(t, nil)
	sfcData := []byte("0123456789abcdef")
	f := &manifest.V2File{Path: "small.txt", SFCOffset: 4, SFCSize: 6}
	dir := t.TempDir()
	path, err := d.materializeFromSFC(f, sfcData, dir)
	if err != nil {
		t.Fatalf("materializeFromSFC() failed: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "456789" {
		t.Fatalf("body = %q, want %q", body, "456789")
	}
}

func TestDownloadItemsFailFastStopsOnFirstError(t *testing.T) {
	d, _ := newDownloader(t, []httpxtest.Call{
		{Response: secureLinkResp(t)},
		{Error: context.DeadlineExceeded},
	})
	items := []manifest.DepotItem{
		{Kind: manifest.KindV1Blob, V1Blob: &manifest.V1Blob{Path: "main.bin", TotalSize: 1}},
	}
	// A short deadline turns the download-level retry's between-attempt
	// sleep into an immediate Cancelled error, so the test doesn't have to
	// supply (and wait out) the full 5-attempt retry budget.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := d.DownloadItems(ctx, items, "pid", t.TempDir(), Options{FailFast: true})
	if err == nil {
		t.Fatal("expected error with FailFast")
	}
}
