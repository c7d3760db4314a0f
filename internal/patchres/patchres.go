// Package patchres implements the patch resolver (spec C7): queries for a
// differential update between two builds, resolves per-depot patch
// manifests, and assembles a Patch value the diff engine (C8) and
// downloader (C6) consume. Patch chunks live under a distinct CDN root
// ("/patches/store/{pid}") fetched with its own credentials.
package patchres

import (
	"context"

	"github.com/galaxy-dl/galaxy-dl/internal/cdn"
	"github.com/galaxy-dl/galaxy-dl/internal/galerr"
	"github.com/galaxy-dl/galaxy-dl/internal/manifest"
)

// Resolver implements get_patch on top of the CDN client.
type Resolver struct {
	CDN *cdn.Client
}

func New(c *cdn.Client) *Resolver {
	return &Resolver{CDN: c}
}

// GetPatch implements spec §4.5's four-step algorithm. It returns
// (nil, nil) for every "no patch" state the spec defines as valid rather
// than an error: incompatible builds, a V1 build on either side, and the
// empty-manifest sentinel.
func (r *Resolver) GetPatch(ctx context.Context, pid string, newManifest, oldManifest manifest.Manifest, language string, dlcPIDs []string) (*manifest.Patch, error) {
	if newManifest.Generation != manifest.GenerationV2 || oldManifest.Generation != manifest.GenerationV2 {
		return nil, nil // V1 does not support patches (spec §4.5 step 1)
	}

	body, err := r.CDN.PatchInfo(ctx, pid, oldManifest.BuildID, newManifest.BuildID)
	if err != nil {
		if galerr.KindOf(err) == galerr.NotFound {
			return nil, nil
		}
		return nil, err
	}
	info, err := manifest.DecodePatchInfo(body)
	if err != nil {
		return nil, err
	}
	if info.Error != "" {
		return nil, nil // error body: incompatible builds
	}
	if info.Link == "" {
		return nil, nil // malformed/empty response treated as no-patch
	}

	rootBody, err := r.CDN.V2ManifestAt(ctx, info.Link)
	if err != nil {
		return nil, err
	}
	root, err := manifest.DecodePatchRoot(rootBody)
	if err != nil {
		return nil, err
	}
	if root.Algorithm == "" {
		return nil, nil // empty JSON object sentinel (spec §4.5 step 2)
	}
	if root.Algorithm != "xdelta3" {
		return nil, galerr.Errorf(galerr.Unsupported, "unsupported patch algorithm %q", root.Algorithm)
	}

	allowedProducts := map[string]bool{newManifest.BaseProductID: true}
	for _, id := range dlcPIDs {
		allowedProducts[id] = true
	}

	var files []manifest.FilePatchDiff
	for _, depotRef := range root.Depots {
		if !allowedProducts[depotRef.ProductID] {
			continue
		}
		if !languageMatches(depotRef.Languages, language) {
			continue
		}
		depotBody, err := r.CDN.V2Manifest(ctx, depotRef.Manifest)
		if err != nil {
			return nil, err
		}
		diffs, err := manifest.DecodePatchDepotItems(depotBody)
		if err != nil {
			return nil, err
		}
		files = append(files, diffs...)
	}

	return &manifest.Patch{
		Algorithm:    root.Algorithm,
		Files:        files,
		ClientID:     root.ClientID,
		ClientSecret: root.ClientSecret,
	}, nil
}

func languageMatches(depotLanguages []string, language string) bool {
	for _, l := range depotLanguages {
		if l == "*" || l == language {
			return true
		}
	}
	return false
}
