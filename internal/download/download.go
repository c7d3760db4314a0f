// Package download implements the parallel verified downloader (spec C6):
// a fixed-size worker pool that fetches V1 byte-ranges or V2 compressed
// chunks, verifies hashes, decompresses, and assembles files on disk.
package download

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/galaxy-dl/galaxy-dl/internal/cdn"
	"github.com/galaxy-dl/galaxy-dl/internal/galerr"
	"github.com/galaxy-dl/galaxy-dl/internal/galpath"
	"github.com/galaxy-dl/galaxy-dl/internal/hashext"
	"github.com/galaxy-dl/galaxy-dl/internal/manifest"
	"github.com/galaxy-dl/galaxy-dl/internal/ratex"
	"github.com/galaxy-dl/galaxy-dl/internal/seclink"
	"github.com/galaxy-dl/galaxy-dl/internal/urlx"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// blobRangeSize is the fixed task size V1-blob downloads are sliced into
// (spec §4.4 "ceil(total_size / 10 MiB)").
const blobRangeSize = 10 << 20

// maxTaskAttempts is the per-task retry budget for transient failures
// (spec §4.4 "retry up to 5 times per task").
const maxTaskAttempts = 5

// maxHashMismatchRetries caps retries specifically for hash mismatches
// (spec §7 "retry up to 3 times with CDN-URL rotation").
const maxHashMismatchRetries = 3

// ProgressFunc receives (bytes_done_delta, total_bytes) from each
// completed task. The core guarantees monotonic bytes_done only if the
// caller aggregates deltas itself (spec §4.4, §9).
type ProgressFunc func(delta, total int64)

// Options configures a single DownloadItem/DownloadItems call.
type Options struct {
	Verify     bool
	RawMode    bool
	FailFast   bool
	Progress   ProgressFunc
	Parallelism int // 1..32, default 4 (spec §9 open question: pool size within [4,8])
}

func (o Options) withDefaults() Options {
	if o.Parallelism <= 0 {
		o.Parallelism = 4
	}
	if o.Parallelism > 32 {
		o.Parallelism = 32
	}
	return o
}

func (o Options) progress(delta, total int64) {
	if o.Progress != nil {
		o.Progress(delta, total)
	}
}

// Downloader owns the worker pool and the transport/secure-link
// dependencies for its lifetime (spec §4.4 "there is no global pool").
type Downloader struct {
	CDN     *cdn.Client
	Links   *seclink.Provider
	pool    *semaphore.Weighted
}

// New constructs a Downloader whose pool is sized by parallelism (4 when
// parallelism <= 0). Options.Parallelism does not change the pool size.
func New(c *cdn.Client, links *seclink.Provider, parallelism int) *Downloader {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Downloader{CDN: c, Links: links, pool: semaphore.NewWeighted(int64(parallelism))}
}

// ItemResult is one entry of DownloadItems' result map.
type ItemResult struct {
	Path string
	Err  error
}

// DownloadItems downloads every item, returning a result per item keyed
// by its logical path. A single failed item does not abort the others
// unless opts.FailFast is set (spec §7).
func (d *Downloader) DownloadItems(ctx context.Context, items []manifest.DepotItem, pid, outDir string, opts Options) (map[string]ItemResult, error) {
	opts = opts.withDefaults()
	results := make(map[string]ItemResult, len(items))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	var failed bool
	for _, item := range items {
		item := item
		if opts.FailFast {
			mu.Lock()
			f := failed
			mu.Unlock()
			if f {
				break
			}
		}
		g.Go(func() error {
			path, err := d.DownloadItem(gctx, item, pid, outDir, opts, nil)
			mu.Lock()
			results[item.Path()] = ItemResult{Path: path, Err: err}
			if err != nil {
				failed = true
			}
			mu.Unlock()
			if err != nil && opts.FailFast {
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	if opts.FailFast && err != nil {
		return results, err
	}
	return results, nil
}

// DownloadItem dispatches on the item's tag per spec §4.4. sfcData, when
// non-nil, is the already-downloaded and decompressed container an
// IsInSFC V2File should be sliced from instead of hitting the network.
func (d *Downloader) DownloadItem(ctx context.Context, item manifest.DepotItem, pid, outDir string, opts Options, sfcData []byte) (string, error) {
	opts = opts.withDefaults()
	switch item.Kind {
	case manifest.KindV1Blob:
		return d.downloadV1Blob(ctx, item.V1Blob, pid, outDir, opts)
	case manifest.KindV1File:
		return d.downloadV1File(ctx, item.V1File, pid, outDir, opts)
	case manifest.KindV2SFC:
		return d.downloadV2Bytes(ctx, item.V2SFC.Path, item.V2SFC.MD5, item.V2SFC.Chunks, pid, outDir, opts)
	case manifest.KindV2File:
		if item.V2File.IsInSFC {
			if sfcData == nil {
				return "", galerr.Errorf(galerr.NotFound, "%s: is_in_sfc item requested without SFC data", item.V2File.Path)
			}
			return d.materializeFromSFC(item.V2File, sfcData, outDir)
		}
		return d.downloadV2Bytes(ctx, item.V2File.Path, item.V2File.MD5, item.V2File.Chunks, pid, outDir, opts)
	default:
		return "", galerr.Errorf(galerr.Unsupported, "unknown item kind %v", item.Kind)
	}
}

// materializeFromSFC slices an in-SFC file out of the already-decompressed
// container buffer (spec §4.4 "V2-SFC" dispatch).
func (d *Downloader) materializeFromSFC(f *manifest.V2File, sfcData []byte, outDir string) (string, error) {
	if f.SFCOffset < 0 || f.SFCOffset+f.SFCSize > int64(len(sfcData)) {
		return "", galerr.Errorf(galerr.InvalidArchive, "%s: sfc slice out of bounds", f.Path)
	}
	out := filepath.Join(outDir, filepath.FromSlash(f.Path))
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", errors.Wrap(err, "creating output directory")
	}
	if err := os.WriteFile(out, sfcData[f.SFCOffset:f.SFCOffset+f.SFCSize], 0o644); err != nil {
		return "", errors.Wrap(err, "writing sfc-sliced file")
	}
	return out, nil
}

// downloadV2Bytes implements the ordinary V2-file and V2-SFC download
// paths, which share chunk dispatch/verification/assembly logic — the
// only difference is whether the caller treats the result as a final
// file or as an in-memory container to slice further.
func (d *Downloader) downloadV2Bytes(ctx context.Context, path, expectedMD5 string, chunks []manifest.Chunk, pid, outDir string, opts Options) (string, error) {
	totalUncompressed := int64(0)
	if len(chunks) > 0 {
		last := chunks[len(chunks)-1]
		totalUncompressed = last.UncompressedOffset + last.SizeUncompressed
	}

	if opts.RawMode {
		var stored []string
		for _, c := range chunks {
			p, err := d.DownloadRawChunk(ctx, c.MD5Compressed, outDir, pid)
			if err != nil {
				if galerr.KindOf(err) == galerr.NotFound {
					continue // best-effort in raw mode (spec §4.4 SFC tolerates 404)
				}
				return "", err
			}
			stored = append(stored, p)
		}
		return strings.Join(stored, ","), nil
	}

	out := filepath.Join(outDir, filepath.FromSlash(path))
	f, tmpPath, err := createTempOutput(out)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if len(chunks) == 0 {
		// Zero-byte item: no chunks to fetch, no secure link to mint
		// (spec §8 "uncompressed size is 0 — no HTTP requests").
		if err := finalizeOutput(f, tmpPath, out); err != nil {
			return "", err
		}
		return out, nil
	}

	if totalUncompressed > 0 {
		if err := f.Truncate(totalUncompressed); err != nil {
			os.Remove(tmpPath)
			return "", errors.Wrap(err, "pre-allocating output file")
		}
	}

	templates, err := d.Links.Get(ctx, pid, cdn.GenerationV2, seclink.StorePath)
	if err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chunks {
		c := c
		if err := d.pool.Acquire(gctx, 1); err != nil {
			os.Remove(tmpPath)
			return "", galerr.New(galerr.Cancelled, err)
		}
		g.Go(func() error {
			defer d.pool.Release(1)
			compressed, err := d.fetchChunk(gctx, templates, c.MD5Compressed)
			if err != nil {
				return err
			}
			plain, err := galpath.Inflate(compressed)
			if err != nil {
				return galerr.New(galerr.HashMismatch, errors.Wrap(err, "inflating chunk"))
			}
			if _, err := f.WriteAt(plain, c.UncompressedOffset); err != nil {
				return errors.Wrap(err, "writing chunk")
			}
			opts.progress(int64(len(plain)), totalUncompressed)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	if opts.Verify && expectedMD5 != "" {
		if err := verifyFileMD5(f, expectedMD5); err != nil {
			os.Remove(tmpPath)
			return "", err
		}
	}
	if err := finalizeOutput(f, tmpPath, out); err != nil {
		return "", err
	}
	return out, nil
}

// createTempOutput creates the output directory and a uniquely-named
// sibling temp file that downloadV2Bytes/downloadV1Blob write into, so a
// download interrupted mid-write never leaves a half-written file at the
// final path (spec §9 "no partial files at the final path").
func createTempOutput(out string) (*os.File, string, error) {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, "", errors.Wrap(err, "creating output directory")
	}
	tmpPath := out + ".part-" + uuid.NewString()
	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", errors.Wrap(err, "opening temp output file")
	}
	return f, tmpPath, nil
}

// finalizeOutput closes f and atomically renames the temp file into place.
func finalizeOutput(f *os.File, tmpPath, out string) error {
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "closing temp output file")
	}
	if err := os.Rename(tmpPath, out); err != nil {
		return errors.Wrap(err, "finalizing output file")
	}
	return nil
}

// DownloadRawChunk saves a chunk's compressed bytes unmodified under
// {out_dir}/v2/store/{pid}/{galaxy-path} (spec §4.4 "download_raw_chunk").
func (d *Downloader) DownloadRawChunk(ctx context.Context, compressedMD5, outDir, pid string) (string, error) {
	templates, err := d.Links.Get(ctx, pid, cdn.GenerationV2, seclink.StorePath)
	if err != nil {
		return "", err
	}
	body, err := d.fetchChunk(ctx, templates, compressedMD5)
	if err != nil {
		return "", err
	}
	out := filepath.Join(outDir, "v2", "store", pid, filepath.FromSlash(urlx.GalaxyPath(compressedMD5)))
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", errors.Wrap(err, "creating store directory")
	}
	if err := os.WriteFile(out, body, 0o644); err != nil {
		return "", errors.Wrap(err, "writing raw chunk")
	}
	return out, nil
}

// downloadV1Blob slices main.bin into fixed-size ranged GETs (spec §4.4).
func (d *Downloader) downloadV1Blob(ctx context.Context, blob *manifest.V1Blob, pid, outDir string, opts Options) (string, error) {
	out := filepath.Join(outDir, filepath.FromSlash(blob.Path))
	f, tmpPath, err := createTempOutput(out)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := f.Truncate(blob.TotalSize); err != nil {
		os.Remove(tmpPath)
		return "", errors.Wrap(err, "pre-allocating output file")
	}

	templates, err := d.Links.Get(ctx, pid, cdn.GenerationV1, seclink.StorePath)
	if err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	type rangeTask struct{ offset, length int64 }
	var tasks []rangeTask
	for off := int64(0); off < blob.TotalSize; off += blobRangeSize {
		length := int64(blobRangeSize)
		if off+length > blob.TotalSize {
			length = blob.TotalSize - off
		}
		tasks = append(tasks, rangeTask{off, length})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		if err := d.pool.Acquire(gctx, 1); err != nil {
			os.Remove(tmpPath)
			return "", galerr.New(galerr.Cancelled, err)
		}
		g.Go(func() error {
			defer d.pool.Release(1)
			body, err := d.fetchRange(gctx, templates, blob.Path, task.offset, task.length)
			if err != nil {
				return err
			}
			if _, err := f.WriteAt(body, task.offset); err != nil {
				return errors.Wrap(err, "writing blob range")
			}
			opts.progress(int64(len(body)), blob.TotalSize)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if opts.Verify && blob.MD5 != "" {
		if err := verifyFileMD5(f, blob.MD5); err != nil {
			os.Remove(tmpPath)
			return "", err
		}
	}
	if err := finalizeOutput(f, tmpPath, out); err != nil {
		return "", err
	}
	return out, nil
}

// downloadV1File fetches a single logical file sliced out of main.bin
// (spec §4.4 "V1-file").
func (d *Downloader) downloadV1File(ctx context.Context, vf *manifest.V1File, pid, outDir string, opts Options) (string, error) {
	templates, err := d.Links.Get(ctx, pid, cdn.GenerationV1, seclink.StorePath)
	if err != nil {
		return "", err
	}
	body, err := d.fetchRange(ctx, templates, "main.bin", vf.Offset, vf.Size)
	if err != nil {
		return "", err
	}
	out := filepath.Join(outDir, filepath.FromSlash(vf.Path))
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", errors.Wrap(err, "creating output directory")
	}
	if err := os.WriteFile(out, body, 0o644); err != nil {
		return "", errors.Wrap(err, "writing v1 file")
	}
	if opts.Verify && vf.MD5 != "" {
		if !hashext.VerifyHex(body, vf.MD5) {
			return "", galerr.Errorf(galerr.HashMismatch, "%s: md5 mismatch", vf.Path)
		}
	}
	opts.progress(int64(len(body)), vf.Size)
	return out, nil
}

// fetchChunk downloads a V2 chunk by content address, verifying its
// compressed MD5 and rotating CDN URLs on failure (spec §4.4, §7).
func (d *Downloader) fetchChunk(ctx context.Context, templates []seclink.URLTemplate, compressedMD5 string) ([]byte, error) {
	return d.withRetryAndRotation(ctx, templates, compressedMD5, func(u string) ([]byte, error) {
		return d.CDN.GetRaw(ctx, u)
	})
}

// fetchRange downloads a byte range of the "main.bin" object that buildURL
// addresses when no content hash is given (pathPart is not consulted),
// rotating CDN URLs on transient failure.
func (d *Downloader) fetchRange(ctx context.Context, templates []seclink.URLTemplate, pathPart string, offset, length int64) ([]byte, error) {
	return d.withRetryAndRotation(ctx, templates, "", func(u string) ([]byte, error) {
		return d.CDN.GetRange(ctx, u, offset, length)
	})
}

// withRetryAndRotation implements the shared per-task retry contract:
// up to maxTaskAttempts attempts, rotating templates on each attempt, with
// exponential backoff between attempts; if expectedMD5 is non-empty, a
// hash mismatch retries (capped separately) rather than surfacing
// immediately (spec §4.4, §7).
func (d *Downloader) withRetryAndRotation(ctx context.Context, templates []seclink.URLTemplate, expectedMD5 string, fetch func(url string) ([]byte, error)) ([]byte, error) {
	if len(templates) == 0 {
		return nil, galerr.Errorf(galerr.NotFound, "no CDN URL templates available")
	}
	var pathPart string
	if expectedMD5 != "" {
		pathPart = urlx.GalaxyPath(expectedMD5)
	}
	var lastErr error
	hashMismatches := 0
	for attempt := 0; attempt < maxTaskAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepOrCancel(ctx, ratex.Jittered(500*time.Millisecond, attempt-1)); err != nil {
				return nil, err
			}
		}
		tmpl := templates[attempt%len(templates)]
		u := buildURL(tmpl, pathPart)
		body, err := fetch(u)
		if err != nil {
			lastErr = err
			if galerr.KindOf(err) == galerr.NotFound {
				return nil, err
			}
			continue
		}
		if expectedMD5 != "" && !hashext.VerifyHex(body, expectedMD5) {
			hashMismatches++
			lastErr = galerr.Errorf(galerr.HashMismatch, "content hash mismatch for %s", expectedMD5)
			if hashMismatches >= maxHashMismatchRetries {
				return nil, lastErr
			}
			continue
		}
		return body, nil
	}
	if lastErr == nil {
		lastErr = errors.New("exhausted retry budget")
	}
	return nil, lastErr
}

// buildURL substitutes the {GALAXY_PATH} placeholder with pathPart, or
// with the literal "main.bin" when pathPart is empty (the V1-blob/V1-file
// case, which addresses main.bin rather than a hash).
func buildURL(tmpl seclink.URLTemplate, pathPart string) string {
	if pathPart == "" {
		pathPart = "main.bin"
	}
	return strings.ReplaceAll(tmpl.URLFormat, "{GALAXY_PATH}", pathPart)
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return galerr.New(galerr.Cancelled, ctx.Err())
	case <-time.After(d):
		return nil
	}
}

func verifyFileMD5(f *os.File, expected string) error {
	if _, err := f.Seek(0, 0); err != nil {
		return errors.Wrap(err, "seeking for verification")
	}
	sum, err := hashext.SumReaderHex(f)
	if err != nil {
		return errors.Wrap(err, "hashing output file")
	}
	if sum != expected {
		return galerr.Errorf(galerr.HashMismatch, "expected %s, got %s", expected, sum)
	}
	return nil
}

// sortManifestDepots returns a copy of depots sorted by manifest id, a
// stable order for iterating a manifest's depots before enumerating items
// (downloading itself does not depend on order). Nothing in this module
// calls it.
func sortManifestDepots(depots []manifest.Depot) []manifest.Depot {
	out := append([]manifest.Depot(nil), depots...)
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest < out[j].Manifest })
	return out
}
