// Package cdn implements the typed HTTP access layer over the CDN/API
// endpoint families (spec C3, §4.1): builds, v1/v2 manifests, secure
// links, and patch info/secure-links. Bodies are transparently
// zlib-decoded before JSON parsing when the CDN returns a compressed
// payload; callers that need archival fidelity can request the raw bytes.
package cdn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/galaxy-dl/galaxy-dl/internal/galerr"
	"github.com/galaxy-dl/galaxy-dl/internal/galpath"
	"github.com/galaxy-dl/galaxy-dl/internal/httpx"
	"github.com/galaxy-dl/galaxy-dl/internal/ratex"
	"github.com/galaxy-dl/galaxy-dl/internal/urlx"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Config holds the endpoint templates, overridable so a deployment (or a
// test) can point the client at a different host (spec §4.1 "may be
// overridden in config").
type Config struct {
	ContentSystemBase string // e.g. https://content-system.example.com
	CDNBase           string // e.g. https://cdn.example.com
	UserAgent         string
	MaxAttempts       int // default 5, spec §4.1
	// RequestsPerSecond caps the steady-state request rate this client
	// issues, ahead of the per-attempt exponential backoff below (spec
	// §5's worker pool bounds concurrency; this bounds request rate
	// regardless of how many workers are waiting). Zero selects the
	// default of 10/s with a burst of 10.
	RequestsPerSecond float64
	// Tokens, when set, is invalidated on the first 401 a request sees
	// (spec §7 "refresh token via C2, retry once"). Without this the
	// retry resends whatever Tokens.Token already had cached, which does
	// nothing if the server revoked it before its locally-recorded
	// expiry. Optional: a nil Tokens just skips the forced invalidation.
	Tokens httpx.TokenProvider
}

func (c Config) withDefaults() Config {
	if c.ContentSystemBase == "" {
		c.ContentSystemBase = "https://content-system.galaxy-dl.invalid"
	}
	if c.CDNBase == "" {
		c.CDNBase = "https://cdn.galaxy-dl.invalid"
	}
	if c.UserAgent == "" {
		c.UserAgent = "galaxy-dl/1.0"
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 10
	}
	return c
}

// Client is the typed CDN/API access layer. The embedded BasicClient is
// expected to already carry auth (httpx.BearerClient) where needed; public
// manifest/chunk GETs don't require it.
type Client struct {
	HTTP    httpx.BasicClient
	Cfg     Config
	backer  *ratex.BackoffLimiter
	limiter *rate.Limiter
}

// New constructs a Client, wrapping http with a User-Agent layer the way
// the engine's other transports are composed (spec §6 "User-Agent is an
// implementation-chosen identifier"). A token-bucket limiter (Cfg.
// RequestsPerSecond) paces every attempt. doWithRetry reports outcomes to
// the ratex.BackoffLimiter (Backoff/Success) but never waits on it, so that
// limiter does not delay requests.
func New(http httpx.BasicClient, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		HTTP:    &httpx.WithUserAgent{BasicClient: http, UserAgent: cfg.UserAgent},
		Cfg:     cfg,
		backer:  ratex.NewBackoffLimiter(0),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)),
	}
}

// Generation selects the manifest family for a builds query.
type Generation int

const (
	GenerationAny Generation = 0
	GenerationV1  Generation = 1
	GenerationV2  Generation = 2
)

// Builds fetches the builds list for a product/platform. The CDN may
// return builds of the other generation too (spec §4.1); callers filter.
func (c *Client) Builds(ctx context.Context, pid, platform string, gen Generation) ([]byte, error) {
	u := fmt.Sprintf("%s/products/%s/os/%s/builds", c.Cfg.ContentSystemBase, url.PathEscape(pid), url.PathEscape(platform))
	if gen != GenerationAny {
		u += fmt.Sprintf("?generation=%d", gen)
	}
	return c.getDecoded(ctx, u)
}

// V1Manifest fetches a generation-1 build manifest by repository id and
// file name (repository.json or a manifest uuid). Public, plain JSON.
func (c *Client) V1Manifest(ctx context.Context, pid, platform, repoID, name string) ([]byte, error) {
	u := fmt.Sprintf("%s/content-system/v1/manifests/%s/%s/%s/%s.json",
		c.Cfg.CDNBase, url.PathEscape(pid), url.PathEscape(platform), url.PathEscape(repoID), name)
	return c.getDecoded(ctx, u)
}

// V2Manifest fetches a generation-2 manifest (repository, depot, or patch
// manifest) by its content-address hash. zlib-compressed on the wire.
func (c *Client) V2Manifest(ctx context.Context, hash string) ([]byte, error) {
	u := fmt.Sprintf("%s/content-system/v2/meta/%s", c.Cfg.CDNBase, urlx.GalaxyPath(hash))
	return c.getDecoded(ctx, u)
}

// V2ManifestAt fetches a v2 manifest given its exact URL (some build
// records carry the full link rather than a bare hash, spec §4.2).
func (c *Client) V2ManifestAt(ctx context.Context, link string) ([]byte, error) {
	return c.getDecoded(ctx, link)
}

// SecureLink mints CDN-signed base URLs for the `/store` root.
func (c *Client) SecureLink(ctx context.Context, pid string, gen Generation, path string) ([]byte, error) {
	u := fmt.Sprintf("%s/products/%s/secure_link?_version=2&generation=%d&path=%s",
		c.Cfg.ContentSystemBase, url.PathEscape(pid), gen, url.QueryEscape(path))
	return c.getDecoded(ctx, u)
}

// Library fetches the caller's owned-product listing. Spec §6 names only
// the CLI's `library` surface ("list owned product ids") and explicitly
// scopes library-browsing business logic beyond listing out — this is the
// minimal account endpoint that surface needs, following the same
// ContentSystemBase-rooted shape as Builds/PatchInfo.
func (c *Client) Library(ctx context.Context) ([]byte, error) {
	u := fmt.Sprintf("%s/user/data/games", c.Cfg.ContentSystemBase)
	return c.getDecoded(ctx, u)
}

// PatchInfo queries whether a patch exists between two builds.
func (c *Client) PatchInfo(ctx context.Context, pid, fromBuildID, toBuildID string) ([]byte, error) {
	u := fmt.Sprintf("%s/products/%s/patches?from_build_id=%s&to_build_id=%s",
		c.Cfg.ContentSystemBase, url.PathEscape(pid), url.QueryEscape(fromBuildID), url.QueryEscape(toBuildID))
	return c.getDecoded(ctx, u)
}

// PatchSecureLink mints signed URLs for the `/patches/store/{pid}` root,
// distinct from the regular store secure-link and credentialed per-patch.
func (c *Client) PatchSecureLink(ctx context.Context, pid, clientID, clientSecret string) ([]byte, error) {
	u := fmt.Sprintf("%s/products/%s/secure_link?generation=2&path=/patches/store/%s&client_id=%s&client_secret=%s",
		c.Cfg.ContentSystemBase, url.PathEscape(pid), url.PathEscape(pid),
		url.QueryEscape(clientID), url.QueryEscape(clientSecret))
	return c.getDecoded(ctx, u)
}

// getDecoded performs a GET with retry/backoff and transparent zlib
// decoding, returning the (possibly inflated) body bytes.
func (c *Client) getDecoded(ctx context.Context, rawURL string) ([]byte, error) {
	body, err := c.doWithRetry(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return galpath.MaybeInflate(body)
}

// GetRaw performs a GET with retry/backoff but returns the body exactly as
// received on the wire (no decompression), for archival preservation.
func (c *Client) GetRaw(ctx context.Context, rawURL string) ([]byte, error) {
	return c.doWithRetry(ctx, rawURL, nil)
}

// GetRange performs a ranged GET (spec §4.4 V1-blob/V1-file dispatch).
func (c *Client) GetRange(ctx context.Context, rawURL string, offset, length int64) ([]byte, error) {
	return c.doWithRetry(ctx, rawURL, func(req *http.Request) {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	})
}

// doWithRetry implements spec §4.1's failure semantics: 404 surfaces as
// NotFound without retry; other errors retry with exponential backoff and
// jitter up to Cfg.MaxAttempts; a 401 is retried once (the token provider
// is expected to refresh transparently on its next Token() call).
func (c *Client) doWithRetry(ctx context.Context, rawURL string, decorate func(*http.Request)) ([]byte, error) {
	var lastErr error
	unauthorizedRetried := false
	for attempt := 0; attempt < c.Cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, galerr.New(galerr.Cancelled, ctx.Err())
			case <-time.After(ratex.Jittered(500*time.Millisecond, attempt-1)):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, galerr.New(galerr.Cancelled, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, errors.Wrap(err, "building request")
		}
		if decorate != nil {
			decorate(req)
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			lastErr = err
			c.backer.Backoff()
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, galerr.Errorf(galerr.NotFound, "%s: not found", rawURL)
		case resp.StatusCode == http.StatusUnauthorized:
			if unauthorizedRetried {
				return nil, galerr.Errorf(galerr.AuthExpired, "%s: unauthorized after refresh retry", rawURL)
			}
			unauthorizedRetried = true
			if c.Cfg.Tokens != nil {
				c.Cfg.Tokens.Invalidate()
			}
			lastErr = galerr.Errorf(galerr.AuthExpired, "%s: unauthorized", rawURL)
			continue
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
			if readErr != nil {
				lastErr = errors.Wrap(readErr, "reading response body")
				c.backer.Backoff()
				continue
			}
			c.backer.Success()
			return body, nil
		case isTransientStatus(resp.StatusCode):
			lastErr = galerr.Errorf(galerr.Transient, "%s: %s", rawURL, resp.Status)
			c.backer.Backoff()
			continue
		default:
			return nil, errors.Errorf("%s: unexpected status %s", rawURL, resp.Status)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("exhausted retry budget")
	}
	if galerr.KindOf(lastErr) == galerr.Unknown {
		lastErr = galerr.New(galerr.Transient, lastErr)
	}
	return nil, errors.Wrap(lastErr, "all attempts failed")
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

// DecodeJSON is a convenience for callers that want the decoded body as an
// arbitrary JSON value (manifest/patch callers typically unmarshal into a
// typed struct instead, but this is used for the opaque raw-JSON retention
// the spec requires for archival fidelity).
func DecodeJSON(body []byte, v any) error {
	return errors.Wrap(json.Unmarshal(body, v), "decoding JSON")
}
