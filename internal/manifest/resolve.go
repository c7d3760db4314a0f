package manifest

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/galaxy-dl/galaxy-dl/internal/cdn"
	"github.com/galaxy-dl/galaxy-dl/internal/galerr"
	"github.com/pkg/errors"
)

// Resolver implements the manifest-resolution operations of spec §4.2 on
// top of a CDN client. It holds no state of its own; every call issues
// fresh CDN requests (cdn.Client adds no response cache either).
type Resolver struct {
	CDN *cdn.Client
}

func New(c *cdn.Client) *Resolver {
	return &Resolver{CDN: c}
}

// ListAllBuilds is the union of the two generation endpoints, deduplicated
// by build id, sorted by date_published descending (spec §4.2).
func (r *Resolver) ListAllBuilds(ctx context.Context, pid, platform string) ([]BuildInfo, error) {
	byID := map[string]BuildInfo{}
	for _, gen := range []cdn.Generation{cdn.GenerationV1, cdn.GenerationV2} {
		body, err := r.CDN.Builds(ctx, pid, platform, gen)
		if err != nil {
			if galerr.KindOf(err) == galerr.NotFound {
				continue
			}
			return nil, err
		}
		var wire buildsResponseWire
		if err := json.Unmarshal(body, &wire); err != nil {
			return nil, errors.Wrap(err, "decoding builds response")
		}
		for _, b := range wire.Items {
			byID[b.BuildID] = BuildInfo{
				BuildID:       b.BuildID,
				LegacyBuildID: b.LegacyBuildID,
				Generation:    Generation(b.Generation),
				DatePublished: b.DatePublished,
				Link:          b.Link,
				Platform:      platform,
				Tags:          b.Tags,
			}
		}
	}
	out := make([]BuildInfo, 0, len(byID))
	for _, b := range byID {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DatePublished > out[j].DatePublished })
	return out, nil
}

// ResolveLatest resolves the newest build for a product/platform.
func (r *Resolver) ResolveLatest(ctx context.Context, pid, platform string) (Manifest, error) {
	builds, err := r.ListAllBuilds(ctx, pid, platform)
	if err != nil {
		return Manifest{}, err
	}
	if len(builds) == 0 {
		return Manifest{}, galerr.Errorf(galerr.NotFound, "no builds for product %s/%s", pid, platform)
	}
	return r.resolveBuild(ctx, pid, platform, builds[0])
}

// ResolveByBuildID resolves a specific build by its user-facing build id.
// If the id appears in neither generation's builds list, fails NotFound
// without guessing (spec §4.2 "does NOT guess").
func (r *Resolver) ResolveByBuildID(ctx context.Context, pid, buildID, platform string) (Manifest, error) {
	builds, err := r.ListAllBuilds(ctx, pid, platform)
	if err != nil {
		return Manifest{}, err
	}
	for _, b := range builds {
		if b.BuildID == buildID {
			return r.resolveBuild(ctx, pid, platform, b)
		}
	}
	return Manifest{}, galerr.Errorf(galerr.NotFound, "build %s not found for product %s/%s", buildID, pid, platform)
}

// ResolveByIndex treats a numeric string as an index into the builds
// array sorted newest-first (legacy addressing, spec §4.2).
func (r *Resolver) ResolveByIndex(ctx context.Context, pid string, index int, platform string) (Manifest, error) {
	builds, err := r.ListAllBuilds(ctx, pid, platform)
	if err != nil {
		return Manifest{}, err
	}
	if index < 0 || index >= len(builds) {
		return Manifest{}, galerr.Errorf(galerr.NotFound, "build index %d out of range (%d builds)", index, len(builds))
	}
	return r.resolveBuild(ctx, pid, platform, builds[index])
}

// ResolveDirect resolves a build without hitting the builds endpoint at
// all — the delisted/cached path (spec §4.2).
func (r *Resolver) ResolveDirect(ctx context.Context, pid string, gen Generation, repositoryIDOrLink, platform string) (Manifest, error) {
	switch gen {
	case GenerationV1:
		body, err := r.CDN.V1Manifest(ctx, pid, platform, repositoryIDOrLink, "repository")
		if err != nil {
			return Manifest{}, err
		}
		return parseV1Manifest(pid, platform, repositoryIDOrLink, body)
	case GenerationV2:
		body, err := r.CDN.V2ManifestAt(ctx, repositoryIDOrLink)
		if err != nil {
			return Manifest{}, err
		}
		return parseV2Repository(body)
	default:
		return Manifest{}, galerr.Errorf(galerr.Unsupported, "unknown generation %d", gen)
	}
}

func (r *Resolver) resolveBuild(ctx context.Context, pid, platform string, b BuildInfo) (Manifest, error) {
	switch b.Generation {
	case GenerationV1:
		body, err := r.CDN.V1Manifest(ctx, pid, platform, b.LegacyBuildID, "repository")
		if err != nil {
			return Manifest{}, err
		}
		m, err := parseV1Manifest(pid, platform, b.LegacyBuildID, body)
		if err != nil {
			return Manifest{}, err
		}
		m.BuildID = b.BuildID
		return m, nil
	case GenerationV2:
		body, err := r.CDN.V2ManifestAt(ctx, b.Link)
		if err != nil {
			return Manifest{}, err
		}
		return parseV2Repository(body)
	default:
		return Manifest{}, galerr.Errorf(galerr.Unsupported, "build %s has unknown generation %d", b.BuildID, b.Generation)
	}
}

// GetDepotItems fetches and parses a V2 depot's items[] by its manifest
// hash, applying the SFC/sfcRef dispatch of spec §4.2.
func (r *Resolver) GetDepotItems(ctx context.Context, d Depot) ([]DepotItem, error) {
	body, err := r.CDN.V2Manifest(ctx, d.Manifest)
	if err != nil {
		return nil, err
	}
	return parseV2DepotItems(body)
}

// GetV1Items returns the V1Blob item plus one V1File item per entry of a
// V1 manifest's files[]. Unlike V2, V1 manifests carry everything inline
// (spec §4.2), so this parses the manifest's own Raw bytes instead of
// issuing another CDN request.
func (r *Resolver) GetV1Items(m Manifest) ([]DepotItem, error) {
	if m.Generation != GenerationV1 {
		return nil, errors.Errorf("GetV1Items called on a generation-%d manifest", m.Generation)
	}
	return V1Items(m.Raw)
}

// ParseIndex parses a legacy numeric build-selector string into an index,
// returning ok=false if it isn't purely numeric (spec §4.2: "numeric
// string is treated as index").
func ParseIndex(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
