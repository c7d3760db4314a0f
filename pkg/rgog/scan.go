package rgog

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/galaxy-dl/galaxy-dl/internal/galpath"
	"github.com/galaxy-dl/galaxy-dl/internal/manifest"
)

// Scan walks a {root}/v2/meta and {root}/v2/store tree (spec §4.7's input
// layout) and pre-scans it into a Tree ready for Pack. Files are
// read to recover the structure (which repository owns which depot
// manifests, and with what languages) but are never recompressed — the
// FileRefs Scan produces point at the original on-disk bytes.
//
// Per-build OS is not recoverable from the repository JSON itself (the
// CDN's wire format has no platform field at this layer); Scan leaves it
// at 0 ("null"). Callers that know the platform per build (e.g. the CLI,
// which fetched files under a platform-specific path) should patch
// Tree.Builds[i].OS before calling Pack.
func Scan(root string) (*Tree, error) {
	metaFiles, err := scanGalaxyPathTree(filepath.Join(root, "v2", "meta"))
	if err != nil {
		return nil, errors.Wrap(err, "scanning v2/meta")
	}

	type repoFile struct {
		hash string
		ref  FileRef
		m    manifest.Manifest
	}
	var repos []repoFile
	manifestRefs := make(map[string]FileRef) // depot manifest hash -> file

	for hash, ref := range metaFiles {
		raw, err := os.ReadFile(ref.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", ref.Path)
		}
		plain, err := galpath.MaybeInflate(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "inflating %s", ref.Path)
		}
		if m, ok := sniffRepository(plain); ok {
			repos = append(repos, repoFile{hash: hash, ref: ref, m: m})
			continue
		}
		manifestRefs[hash] = ref
	}

	builds := make([]BuildInput, 0, len(repos))
	for _, rf := range repos {
		buildID, err := strconv.ParseUint(rf.m.BuildID, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "build id %q is not numeric", rf.m.BuildID)
		}
		b := BuildInput{BuildID: buildID, Repository: rf.ref}
		for _, d := range rf.m.Depots {
			ref, ok := manifestRefs[d.Manifest]
			if !ok {
				continue // referenced depot manifest not present in this tree slice
			}
			b.Depots = append(b.Depots, DepotManifestInput{File: ref, Languages: d.Languages})
		}
		builds = append(builds, b)
	}

	chunks, err := scanChunks(filepath.Join(root, "v2", "store"))
	if err != nil {
		return nil, errors.Wrap(err, "scanning v2/store")
	}

	return &Tree{Builds: builds, Chunks: chunks}, nil
}

// sniffRepository reports whether plain is a repository manifest (has a
// non-empty buildId) as opposed to a per-depot manifest (items[]).
func sniffRepository(plain []byte) (manifest.Manifest, bool) {
	var probe struct {
		BuildID string `json:"buildId"`
	}
	if err := json.Unmarshal(plain, &probe); err != nil || probe.BuildID == "" {
		return manifest.Manifest{}, false
	}
	m, err := manifest.ParseV2Repository(plain)
	if err != nil {
		return manifest.Manifest{}, false
	}
	return m, true
}

// scanGalaxyPathTree walks a {root}/{h[:2]}/{h[2:4]}/{h} tree, returning
// a hash->FileRef map. Files not matching the 32-hex-char naming
// convention are skipped.
func scanGalaxyPathTree(root string) (map[string]FileRef, error) {
	out := make(map[string]FileRef)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		hash := d.Name()
		if !looksLikeHexHash(hash) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out[hash] = FileRef{Hash: hash, Path: path, Size: info.Size()}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return out, nil
}

// scanChunks walks {root}/v2/store/{pid}/{h[:2]}/{h[2:4]}/{h}.
func scanChunks(storeRoot string) ([]ChunkInput, error) {
	var chunks []ChunkInput
	entries, err := os.ReadDir(storeRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, pidEntry := range entries {
		if !pidEntry.IsDir() {
			continue
		}
		pid, err := strconv.ParseUint(pidEntry.Name(), 10, 64)
		if err != nil {
			continue // not a product-id directory
		}
		files, err := scanGalaxyPathTree(filepath.Join(storeRoot, pidEntry.Name()))
		if err != nil {
			return nil, err
		}
		for _, ref := range files {
			chunks = append(chunks, ChunkInput{File: ref, ProductID: pid})
		}
	}
	return chunks, nil
}

func looksLikeHexHash(s string) bool {
	if len(s) != 32 {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'))
	}) == -1
}
