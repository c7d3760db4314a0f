package diffengine

import (
	"testing"

	"github.com/galaxy-dl/galaxy-dl/internal/manifest"
)

func v2File(path, md5 string, size int64) manifest.DepotItem {
	return manifest.DepotItem{
		Kind:   manifest.KindV2File,
		V2File: &manifest.V2File{Path: path, MD5: md5, TotalSizeUncompressed: size},
	}
}

func TestCompareWithNilOldPutsEverythingInNew(t *testing.T) {
	items := []manifest.DepotItem{v2File("a.txt", "aaa", 1), v2File("b.txt", "bbb", 2)}
	diff := Compare(items, nil, nil)
	if len(diff.New) != 2 || len(diff.Changed) != 0 || len(diff.Patched) != 0 || len(diff.Deleted) != 0 {
		t.Fatalf("diff = %+v, want all items in New", diff)
	}
}

func TestCompareClassifiesUnchangedChangedNewDeleted(t *testing.T) {
	oldItems := []manifest.DepotItem{
		v2File("same.txt", "md5same", 10),
		v2File("modified.txt", "md5old", 20),
		v2File("removed.txt", "md5gone", 5),
	}
	newItems := []manifest.DepotItem{
		v2File("same.txt", "md5same", 10),
		v2File("modified.txt", "md5new", 25),
		v2File("added.txt", "md5added", 1),
	}
	diff := Compare(newItems, oldItems, nil)

	if len(diff.New) != 1 || diff.New[0].Path() != "added.txt" {
		t.Fatalf("New = %+v, want [added.txt]", diff.New)
	}
	if len(diff.Changed) != 1 || diff.Changed[0].Path() != "modified.txt" {
		t.Fatalf("Changed = %+v, want [modified.txt]", diff.Changed)
	}
	if len(diff.Deleted) != 1 || diff.Deleted[0] != "removed.txt" {
		t.Fatalf("Deleted = %+v, want [removed.txt]", diff.Deleted)
	}
	if len(diff.Patched) != 0 {
		t.Fatalf("Patched = %+v, want none", diff.Patched)
	}
}

func TestCompareUsesPatchWhenHashesLineUp(t *testing.T) {
	oldItems := []manifest.DepotItem{v2File("bin/app.exe", "md5old", 100)}
	newItems := []manifest.DepotItem{v2File("bin/app.exe", "md5new", 120)}
	patch := &manifest.Patch{
		Algorithm: "xdelta3",
		Files: []manifest.FilePatchDiff{
			{SourcePath: "bin/app.exe", TargetPath: "bin/app.exe", MD5Source: "md5old", MD5Target: "md5new"},
		},
	}
	diff := Compare(newItems, oldItems, patch)
	if len(diff.Patched) != 1 || diff.Patched[0].TargetPath != "bin/app.exe" {
		t.Fatalf("Patched = %+v, want [bin/app.exe]", diff.Patched)
	}
	if len(diff.Changed) != 0 {
		t.Fatalf("Changed = %+v, want none (should have been patched)", diff.Changed)
	}
}

func TestCompareFallsBackToChangedWhenPatchHashesDontMatch(t *testing.T) {
	oldItems := []manifest.DepotItem{v2File("bin/app.exe", "md5old", 100)}
	newItems := []manifest.DepotItem{v2File("bin/app.exe", "md5new", 120)}
	patch := &manifest.Patch{
		Algorithm: "xdelta3",
		Files: []manifest.FilePatchDiff{
			// md5_source doesn't match the old item's actual md5 — stale patch entry.
			{SourcePath: "bin/app.exe", TargetPath: "bin/app.exe", MD5Source: "md5stale", MD5Target: "md5new"},
		},
	}
	diff := Compare(newItems, oldItems, patch)
	if len(diff.Patched) != 0 {
		t.Fatalf("Patched = %+v, want none", diff.Patched)
	}
	if len(diff.Changed) != 1 {
		t.Fatalf("Changed = %+v, want [bin/app.exe]", diff.Changed)
	}
}

func TestCompareEmptyManifestSentinelYieldsNewAndChangedOnly(t *testing.T) {
	// Mirrors spec scenario S6: get_patch returned None, so compare
	// degrades to the no-patch case — files differing must land in
	// Changed, never Patched.
	oldItems := []manifest.DepotItem{v2File("bin/app.exe", "md5old", 100)}
	newItems := []manifest.DepotItem{v2File("bin/app.exe", "md5new", 120), v2File("new.txt", "m", 1)}
	diff := Compare(newItems, oldItems, nil)
	if len(diff.Patched) != 0 {
		t.Fatalf("Patched = %+v, want none when patch is nil", diff.Patched)
	}
	if len(diff.New) != 1 || len(diff.Changed) != 1 {
		t.Fatalf("diff = %+v, want 1 New + 1 Changed", diff)
	}
}
