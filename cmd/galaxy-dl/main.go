// The galaxy-dl binary is the command-line surface over the manifest
// resolver, downloader, patch resolver, and RGOG archive packer/reader
// (spec §6).
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/galaxy-dl/galaxy-dl/internal/cdn"
	"github.com/galaxy-dl/galaxy-dl/internal/galauth"
	"github.com/galaxy-dl/galaxy-dl/internal/galconfig"
	"github.com/galaxy-dl/galaxy-dl/internal/galerr"
	"github.com/galaxy-dl/galaxy-dl/internal/httpx"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

var (
	userAgent   string
	maxAttempts int
	staticToken string

	// invocationID tags every error this run reports, so a user filing a
	// bug report against a flaky CDN can correlate it with server-side
	// logs without the CLI needing its own log file.
	invocationID = uuid.NewString()
)

var rootCmd = &cobra.Command{
	Use:           "galaxy-dl",
	Short:         "Download, archive, and inspect GOG-style game distribution content",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "galaxy-dl/1.0", "User-Agent sent with every CDN request")
	rootCmd.PersistentFlags().IntVar(&maxAttempts, "max-attempts", 5, "maximum retry attempts per CDN request")
	rootCmd.PersistentFlags().StringVar(&staticToken, "token", "", "use a static bearer token instead of the saved login")

	rootCmd.AddCommand(loginCmd, libraryCmd, infoCmd, packCmd, unpackCmd, listCmd, extractCmd, verifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "galaxy-dl: %v (request %s)\n", err, invocationID)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the engine's error taxonomy to spec §6's exit codes:
// 0 success, 1 generic error, 2 auth error, 3 CDN not-found, 4 hash
// mismatch or verification failure.
func exitCodeFor(err error) int {
	switch galerr.KindOf(err) {
	case galerr.AuthExpired:
		return 2
	case galerr.NotFound:
		return 3
	case galerr.HashMismatch, galerr.InvalidArchive:
		return 4
	default:
		return 1
	}
}

// oauthConfig is the placeholder OAuth client used by `login`. The
// identity provider's real client id/endpoints are deployment
// configuration, not something this engine hardcodes (spec §1's
// "User-Agent is an implementation-chosen identifier" extends to the
// OAuth client identity); these .invalid defaults mirror cdn.Config's
// own placeholder host convention and are meant to be overridden by a
// real deployment via --client-id/--client-secret.
func oauthConfig(clientID, clientSecret string) *oauth2.Config {
	if clientID == "" {
		clientID = "galaxy-dl-cli"
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://auth.galaxy-dl.invalid/oauth2/auth",
			TokenURL: "https://auth.galaxy-dl.invalid/oauth2/token",
		},
		RedirectURL: "https://embed.galaxy-dl.invalid/on_login_success",
		Scopes:      []string{"offline"},
	}
}

// newCDNClient wires a cdn.Client from the persistent flags, sourcing the
// bearer token from --token when given, otherwise from the saved login
// (internal/galauth.FileTokenProvider), and layering in any endpoint
// overrides from config.yaml (spec §4.1 "may be overridden in config").
func newCDNClient() *cdn.Client {
	var tokens httpx.TokenProvider
	if staticToken != "" {
		tokens = galauth.StaticTokenProvider(staticToken)
	} else {
		tokens = &galauth.FileTokenProvider{Config: oauthConfig("", "")}
	}
	base := &httpx.BearerClient{BasicClient: http.DefaultClient, Tokens: tokens}

	cfg := cdn.Config{UserAgent: userAgent, MaxAttempts: maxAttempts, Tokens: tokens}
	if overrides, err := galconfig.LoadEndpointOverrides(); err == nil {
		if overrides.ContentSystemBase != "" {
			cfg.ContentSystemBase = overrides.ContentSystemBase
		}
		if overrides.CDNBase != "" {
			cfg.CDNBase = overrides.CDNBase
		}
		if overrides.MaxAttempts != 0 {
			cfg.MaxAttempts = overrides.MaxAttempts
		}
	}
	return cdn.New(base, cfg)
}

func printf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format, args...)
}
