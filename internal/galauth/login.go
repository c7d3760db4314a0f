package galauth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/galaxy-dl/galaxy-dl/internal/galconfig"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// Login runs the interactive authorization-code exchange and persists the
// resulting credential to auth.json. The web-browser/redirect mechanics of
// the OAuth flow itself are out of scope (spec §1); this is the minimal
// boundary: print the URL, read back the code the user pastes in, exchange
// it, and store the token the way the teacher's promptForWebToken does.
func Login(ctx context.Context, config *oauth2.Config, out io.Writer, in io.Reader, code string) error {
	if code == "" {
		authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
		fmt.Fprintf(out, "Go to the following link in your browser then paste the authorization code:\n%s\n", authURL)
		scanner := bufio.NewScanner(in)
		if !scanner.Scan() {
			return errors.Wrap(scanner.Err(), "reading authorization code")
		}
		code = strings.TrimSpace(scanner.Text())
	}
	tok, err := config.Exchange(ctx, code)
	if err != nil {
		return errors.Wrap(err, "exchanging authorization code")
	}
	userID, _ := tok.Extra("user_id").(string)
	return galconfig.SaveAuth(&galconfig.AuthFile{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		UserID:       userID,
		ExpiresAt:    tok.Expiry,
	})
}
