// Package galauth implements the C2 token-provider boundary: the core
// consumes a capability that supplies a current bearer token and refreshes
// it on demand (spec §1 "OAuth login flow ... is out of scope; the core
// consumes a token-provider capability").
package galauth

import (
	"context"
	"sync"
	"time"

	"github.com/galaxy-dl/galaxy-dl/internal/galconfig"
	"github.com/galaxy-dl/galaxy-dl/internal/httpx"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// FileTokenProvider sources a token from the on-disk auth.json, refreshing
// it via the given oauth2.Config's TokenSource whenever that TokenSource's
// own expiry check finds the token stale. This mirrors the teacher's tokenFromFile/saveTokenToFile pattern
// but exposes only the httpx.TokenProvider capability, not a *http.Client,
// so subsystems depend on the abstraction rather than an oauth2 concrete
// type (spec §9 "no process-wide singletons").
type FileTokenProvider struct {
	Config *oauth2.Config

	mu     sync.Mutex
	src    oauth2.TokenSource
	cur    *oauth2.Token
	userID string
}

var _ httpx.TokenProvider = (*FileTokenProvider)(nil)

// skew matches spec §4.3's secure-link cache expiry skew. Token does not
// consult it; refresh timing is the wrapped oauth2.TokenSource's own.
const skew = 60 * time.Second

// Token returns the current access token, transparently refreshing via the
// refresh_token grant when the wrapped oauth2.TokenSource finds the cached
// token expired.
func (p *FileTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.src == nil {
		a, err := galconfig.LoadAuth()
		if err != nil {
			return "", errors.Wrap(err, "loading auth file: run `galaxy-dl login` first")
		}
		p.userID = a.UserID
		p.cur = &oauth2.Token{
			AccessToken:  a.AccessToken,
			RefreshToken: a.RefreshToken,
			Expiry:       a.ExpiresAt,
		}
		p.src = &persistingTokenSource{
			inner:  p.Config.TokenSource(ctx, p.cur),
			userID: p.userID,
		}
	}
	tok, err := p.src.Token()
	if err != nil {
		return "", errors.Wrap(err, "refreshing access token")
	}
	return tok.AccessToken, nil
}

// Invalidate forces the next Token call to perform a real refresh-token
// grant instead of reusing a cached access token that is still within its
// locally-recorded expiry. oauth2.TokenSource only refreshes once its own
// Expiry check trips, so a server-side revocation ahead of that expiry
// would otherwise make the "retry once" in spec §7 resend the identical
// rejected token.
func (p *FileTokenProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return
	}
	p.cur.Expiry = time.Unix(0, 0)
	p.src = &persistingTokenSource{
		inner:  p.Config.TokenSource(context.Background(), p.cur),
		userID: p.userID,
	}
}

// persistingTokenSource wraps an oauth2.TokenSource and writes the
// refreshed token back to auth.json whenever it changes, so subsequent
// invocations of the CLI reuse it instead of refreshing every time.
type persistingTokenSource struct {
	inner  oauth2.TokenSource
	userID string
	mu     sync.Mutex
	last   string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.inner.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		_ = galconfig.SaveAuth(&galconfig.AuthFile{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			UserID:       s.userID,
			ExpiresAt:    tok.Expiry,
		})
	}
	return tok, nil
}

// StaticTokenProvider always returns the same token. Used by tests and by
// the `--token` CLI escape hatch.
type StaticTokenProvider string

func (s StaticTokenProvider) Token(context.Context) (string, error) { return string(s), nil }

// Invalidate is a no-op: a static token has nowhere to refresh from.
func (s StaticTokenProvider) Invalidate() {}

var _ httpx.TokenProvider = StaticTokenProvider("")
