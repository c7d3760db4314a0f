package main

import (
	"encoding/json"
	"os"

	"github.com/galaxy-dl/galaxy-dl/internal/galauth"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	loginCode         string
	loginClientID     string
	loginClientSecret string
	libraryLimit      int
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate and persist a credential for subsequent commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		config := oauthConfig(loginClientID, loginClientSecret)
		if err := galauth.Login(cmd.Context(), config, os.Stdout, os.Stdin, loginCode); err != nil {
			return errors.Wrap(err, "login")
		}
		printf("login successful\n")
		return nil
	},
}

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "List owned product ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newCDNClient()
		body, err := client.Library(cmd.Context())
		if err != nil {
			return errors.Wrap(err, "fetching library")
		}
		var wire struct {
			Owned []string `json:"owned"`
		}
		if err := json.Unmarshal(body, &wire); err != nil {
			return errors.Wrap(err, "decoding library response")
		}
		ids := wire.Owned
		if libraryLimit > 0 && libraryLimit < len(ids) {
			ids = ids[:libraryLimit]
		}
		for _, id := range ids {
			printf("%s\n", id)
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginCode, "code", "", "authorization code, skips the interactive prompt")
	loginCmd.Flags().StringVar(&loginClientID, "client-id", "", "OAuth client id (defaults to the CLI's own)")
	loginCmd.Flags().StringVar(&loginClientSecret, "client-secret", "", "OAuth client secret")

	libraryCmd.Flags().IntVar(&libraryLimit, "limit", 0, "cap the number of product ids printed, 0 means unlimited")
}
