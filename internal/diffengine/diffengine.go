// Package diffengine implements the manifest comparator (spec C8): given
// a new build's resolved items, an optional prior build's resolved
// items, and an optional patch, it partitions the new build into what
// must be downloaded whole, what can be assembled from a patch, and what
// was deleted relative to the old build.
package diffengine

import "github.com/galaxy-dl/galaxy-dl/internal/manifest"

// Compare implements spec §4.6. newItems and oldItems are each the
// flattened per-depot item list a manifest.Resolver has already resolved
// (V1 via manifest.V1Items, V2 via GetDepotItems) — diffengine never
// performs I/O itself, it only classifies values already in hand.
// A nil oldItems means "no prior build": every new item lands in New.
func Compare(newItems, oldItems []manifest.DepotItem, patch *manifest.Patch) manifest.ManifestDiff {
	if oldItems == nil {
		return manifest.ManifestDiff{New: newItems}
	}

	byPathOld := make(map[string]manifest.DepotItem, len(oldItems))
	for _, o := range oldItems {
		byPathOld[o.Path()] = o
	}

	var patchByTarget map[string]manifest.FilePatchDiff
	if patch != nil {
		patchByTarget = make(map[string]manifest.FilePatchDiff, len(patch.Files))
		for _, fp := range patch.Files {
			patchByTarget[fp.TargetPath] = fp
		}
	}

	seenOld := make(map[string]bool, len(oldItems))
	var diff manifest.ManifestDiff

	for _, n := range newItems {
		o, existed := byPathOld[n.Path()]
		if !existed {
			diff.New = append(diff.New, n)
			continue
		}
		seenOld[n.Path()] = true

		if n.MD5() == o.MD5() && n.TotalSize() == o.TotalSize() {
			continue // unchanged
		}

		if fp, ok := patchByTarget[n.Path()]; ok && fp.MD5Source == o.MD5() && fp.MD5Target == n.MD5() {
			diff.Patched = append(diff.Patched, fp)
			continue
		}

		diff.Changed = append(diff.Changed, n)
	}

	for _, o := range oldItems {
		if !seenOld[o.Path()] {
			diff.Deleted = append(diff.Deleted, o.Path())
		}
	}

	return diff
}
