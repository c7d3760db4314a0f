// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package urlx

import "net/url"

// MustParse will call url.Parse and panic if there is an error, returning on success.
func MustParse(rawURL string) *url.URL {
	if u, err := url.Parse(rawURL); err != nil {
		panic(err)
	} else {
		return u
	}
}

// GalaxyPath splits a lowercase hex content-address hash into the two-char /
// two-char / full directory layout used throughout the CDN and RGOG tree
// ({h[:2]}/{h[2:4]}/{h}).
func GalaxyPath(hash string) string {
	if len(hash) < 4 {
		return hash
	}
	return hash[:2] + "/" + hash[2:4] + "/" + hash
}
