package urlx

import "testing"

func TestGalaxyPath(t *testing.T) {
	got := GalaxyPath("7ac66c0f148de9519b8bd264312c4d64")
	want := "7a/c6/7ac66c0f148de9519b8bd264312c4d64"
	if got != want {
		t.Fatalf("GalaxyPath() = %q, want %q", got, want)
	}
}
