// Package galconfig resolves the on-disk configuration directory and
// persists the CLI's credential file (spec §6).
package galconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Dir returns the config directory: $XDG_CONFIG_HOME/galaxy-dl on
// Unix-likes, %APPDATA%\galaxy-dl on Windows, else ~/.config/galaxy-dl.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "galaxy-dl"), nil
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "galaxy-dl"), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolving home directory")
	}
	return filepath.Join(home, ".config", "galaxy-dl"), nil
}

// AuthFile is the persisted OAuth credential shape written by `login` and
// consumed by internal/galauth.
type AuthFile struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	UserID       string    `json:"user_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthFilePath returns the full path to auth.json under the config dir.
func AuthFilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "auth.json"), nil
}

// LoadAuth reads auth.json. Returns os.Open's *os.PathError, unwrapped, if
// absent; callers that treat a missing file as "not logged in" should use
// os.IsNotExist(errors.Cause(err)).
func LoadAuth() (*AuthFile, error) {
	path, err := AuthFilePath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var a AuthFile
	if err := json.NewDecoder(f).Decode(&a); err != nil {
		return nil, errors.Wrap(err, "decoding auth file")
	}
	return &a, nil
}

// SaveAuth writes auth.json, creating the config directory if needed, with
// 0600 permissions since it carries bearer credentials.
func SaveAuth(a *AuthFile) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "creating config directory")
	}
	path, err := AuthFilePath()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "opening auth file for write")
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(a); err != nil {
		return errors.Wrap(err, "encoding auth file")
	}
	return nil
}

// EndpointOverrides is the optional config.yaml shape that lets a
// deployment point the CDN client at different hosts or tune its retry
// budget without a rebuild (spec §4.1 "may be overridden in config").
type EndpointOverrides struct {
	ContentSystemBase string `yaml:"content_system_base"`
	CDNBase           string `yaml:"cdn_base"`
	MaxAttempts       int    `yaml:"max_attempts"`
}

// ConfigFilePath returns the full path to config.yaml under the config
// directory.
func ConfigFilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LoadEndpointOverrides reads config.yaml if present, returning a zero
// EndpointOverrides (not an error) when the file doesn't exist — the CDN
// client's own defaults apply in that case.
func LoadEndpointOverrides() (EndpointOverrides, error) {
	path, err := ConfigFilePath()
	if err != nil {
		return EndpointOverrides{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return EndpointOverrides{}, nil
		}
		return EndpointOverrides{}, errors.Wrap(err, "reading config file")
	}
	var o EndpointOverrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return EndpointOverrides{}, errors.Wrap(err, "decoding config file")
	}
	return o, nil
}
