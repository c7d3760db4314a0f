// Package seclink implements the secure-link provider (spec C5): CDN-signed
// URL templates, cached by (product_id, root_path) with expiry-aware
// double-checked refresh so concurrent downloader workers coalesce onto a
// single in-flight fetch rather than stampeding the CDN.
package seclink

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/galaxy-dl/galaxy-dl/internal/cache"
	"github.com/galaxy-dl/galaxy-dl/internal/cdn"
	"github.com/pkg/errors"
)

// StorePath is the default secure-link root for ordinary CDN content.
const StorePath = "/"

// PatchStorePath builds the secure-link root for a product's patch store
// (spec §4.5 "root_path = /patches/store/{pid}").
func PatchStorePath(pid string) string {
	return "/patches/store/" + pid
}

// expirySkew is how far ahead of the declared expiry a cached entry is
// treated as stale (spec §4.3 "expires_at - 60s").
const expirySkew = 60 * time.Second

type key struct {
	ProductID string
	RootPath  string
}

// URLTemplate is one CDN-signed base URL, carrying the literal token
// `{GALAXY_PATH}` at its chunk-path position.
type URLTemplate struct {
	URLFormat string
	Priority  int
	CDN       string
}

type entry struct {
	Templates []URLTemplate
	ExpiresAt time.Time
}

func (e entry) stale() bool {
	return time.Now().After(e.ExpiresAt.Add(-expirySkew))
}

type secureLinkWire struct {
	ExpiresAt int64 `json:"expires_at"`
	URLs      []struct {
		URLFormat  string `json:"url_format"`
		Parameters struct {
			Priority int    `json:"priority"`
			CDN      string `json:"cdn_name"`
		} `json:"parameters"`
	} `json:"urls"`
}

// Provider caches secure-link responses keyed by (product_id, root_path).
type Provider struct {
	CDN   *cdn.Client
	cache cache.Cache
}

func New(c *cdn.Client) *Provider {
	return &Provider{CDN: c, cache: &cache.CoalescingMemoryCache{}}
}

// Get returns the sorted (ascending priority) URL templates for a
// product/root_path pair, refreshing via C3 on miss or expiry. The
// underlying cache.Cache coalesces concurrent callers onto one fetch
// (spec §5 "a cache miss holds the lock only across key insertion, not
// across the HTTP call").
func (p *Provider) Get(ctx context.Context, pid string, gen cdn.Generation, rootPath string) ([]URLTemplate, error) {
	k := key{ProductID: pid, RootPath: rootPath}
	if v, err := p.cache.Get(k); err == nil {
		if e, ok := v.(entry); ok && !e.stale() {
			return e.Templates, nil
		}
		p.cache.Del(k)
	} else if err != cache.ErrNotExist {
		return nil, err
	}
	v, err := p.cache.GetOrSet(k, func() (any, error) {
		return p.fetch(ctx, pid, gen, rootPath)
	})
	if err != nil {
		return nil, err
	}
	e, ok := v.(entry)
	if !ok {
		return nil, errors.New("secure-link cache returned unexpected type")
	}
	if e.stale() {
		p.cache.Del(k)
	}
	return e.Templates, nil
}

// GetPatch is the credentialed patch-store (spec §4.5) counterpart of Get:
// it caches under the same (product_id, root_path) key scheme but fetches
// through CDN.PatchSecureLink and does not call Get.
func (p *Provider) GetPatch(ctx context.Context, pid, clientID, clientSecret string) ([]URLTemplate, error) {
	k := key{ProductID: pid, RootPath: PatchStorePath(pid)}
	v, err := p.cache.GetOrSet(k, func() (any, error) {
		body, err := p.CDN.PatchSecureLink(ctx, pid, clientID, clientSecret)
		if err != nil {
			return nil, err
		}
		return decodeSecureLink(body)
	})
	if err != nil {
		return nil, err
	}
	e, ok := v.(entry)
	if !ok {
		return nil, errors.New("secure-link cache returned unexpected type")
	}
	if e.stale() {
		p.cache.Del(k)
		return p.GetPatch(ctx, pid, clientID, clientSecret)
	}
	return e.Templates, nil
}

func (p *Provider) fetch(ctx context.Context, pid string, gen cdn.Generation, rootPath string) (entry, error) {
	body, err := p.CDN.SecureLink(ctx, pid, gen, rootPath)
	if err != nil {
		return entry{}, err
	}
	return decodeSecureLink(body)
}

func decodeSecureLink(body []byte) (entry, error) {
	var wire secureLinkWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return entry{}, errors.Wrap(err, "decoding secure_link response")
	}
	templates := make([]URLTemplate, 0, len(wire.URLs))
	for _, u := range wire.URLs {
		templates = append(templates, URLTemplate{
			URLFormat: u.URLFormat,
			Priority:  u.Parameters.Priority,
			CDN:       u.Parameters.CDN,
		})
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].Priority < templates[j].Priority })
	return entry{Templates: templates, ExpiresAt: time.Unix(wire.ExpiresAt, 0)}, nil
}
