package galconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDirUsesXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdgtest")
	got, err := Dir()
	if err != nil {
		t.Fatalf("Dir() failed: %v", err)
	}
	if want := "/tmp/xdgtest/galaxy-dl"; got != want {
		t.Fatalf("Dir() = %q, want %q", got, want)
	}
}

func TestSaveLoadAuthRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	want := &AuthFile{
		AccessToken:  "access",
		RefreshToken: "refresh",
		UserID:       "u123",
		ExpiresAt:    time.Now().Truncate(time.Second).UTC(),
	}
	if err := SaveAuth(want); err != nil {
		t.Fatalf("SaveAuth() failed: %v", err)
	}
	got, err := LoadAuth()
	if err != nil {
		t.Fatalf("LoadAuth() failed: %v", err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken || got.UserID != want.UserID {
		t.Fatalf("LoadAuth() = %+v, want %+v", got, want)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("ExpiresAt = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}
}

func TestLoadEndpointOverridesMissingFileIsNotError(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	o, err := LoadEndpointOverrides()
	if err != nil {
		t.Fatalf("LoadEndpointOverrides() failed: %v", err)
	}
	if o != (EndpointOverrides{}) {
		t.Fatalf("LoadEndpointOverrides() = %+v, want zero value", o)
	}
}

func TestLoadEndpointOverridesParsesYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	confDir := filepath.Join(dir, "galaxy-dl")
	if err := os.MkdirAll(confDir, 0o700); err != nil {
		t.Fatal(err)
	}
	yamlBody := "content_system_base: https://cs.example.com\ncdn_base: https://cdn.example.com\nmax_attempts: 7\n"
	if err := os.WriteFile(filepath.Join(confDir, "config.yaml"), []byte(yamlBody), 0o600); err != nil {
		t.Fatal(err)
	}
	o, err := LoadEndpointOverrides()
	if err != nil {
		t.Fatalf("LoadEndpointOverrides() failed: %v", err)
	}
	want := EndpointOverrides{ContentSystemBase: "https://cs.example.com", CDNBase: "https://cdn.example.com", MaxAttempts: 7}
	if o != want {
		t.Fatalf("LoadEndpointOverrides() = %+v, want %+v", o, want)
	}
}
