// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/oxen-ai/oxen-go/modules/ekind"
)

// Remote is a named push/pull endpoint.
type Remote struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// BackendConfig selects where the versions/ blob pool physically
// lives. An empty Type (or "fs") keeps blobs on the local filesystem;
// "s3" stores them in the named bucket, with credentials resolved
// from the ambient AWS chain.
type BackendConfig struct {
	Type   string `toml:"type,omitempty"`
	Bucket string `toml:"bucket,omitempty"`
	Prefix string `toml:"prefix,omitempty"`
	Region string `toml:"region,omitempty"`
}

// RepoConfig is the content of <repo>/.oxen/config.toml.
type RepoConfig struct {
	RepoID  string        `toml:"repo_id"`
	Name    string        `toml:"name"`
	Remotes []Remote      `toml:"remote"`
	Backend BackendConfig `toml:"backend,omitempty"`
}

func loadRepoConfig(path string) (*RepoConfig, error) {
	var cfg RepoConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return nil, ekind.New(ekind.NotFound, "config %s", path)
		}
		return nil, ekind.Wrap(ekind.Corrupt, err, "decode %s", path)
	}
	return &cfg, nil
}

func saveRepoConfig(path string, cfg *RepoConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return ekind.Wrap(ekind.Io, err, "create %s", path)
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return ekind.Wrap(ekind.Io, err, "encode %s", path)
	}
	return nil
}

// Remote looks up a named remote, or "origin" if name is empty.
func (c *RepoConfig) Remote(name string) (Remote, bool) {
	if name == "" {
		name = "origin"
	}
	for _, r := range c.Remotes {
		if r.Name == name {
			return r, true
		}
	}
	return Remote{}, false
}

// SetRemote upserts a named remote.
func (c *RepoConfig) SetRemote(name, url string) {
	for i := range c.Remotes {
		if c.Remotes[i].Name == name {
			c.Remotes[i].URL = url
			return
		}
	}
	c.Remotes = append(c.Remotes, Remote{Name: name, URL: url})
}

func newRepoConfig(name string) *RepoConfig {
	return &RepoConfig{RepoID: uuid.NewString(), Name: name}
}

// UserConfig is the process-wide singleton loaded from
// ~/.config/oxen/config.toml: author identity used by `commit` when no
// repo-local override exists.
type UserConfig struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
}

// AuthConfig is the process-wide singleton loaded from
// ~/.config/oxen/auth.toml: per-host bearer tokens. The core only
// reads whichever token the transfer client is handed for a given
// host — it does not own credential issuance; this file is simply
// where `config --auth` persists what the user gave it.
type AuthConfig struct {
	Hosts map[string]string `toml:"hosts"`
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", ekind.Wrap(ekind.Io, err, "resolve HOME")
	}
	return filepath.Join(home, ".config", "oxen"), nil
}

// LoadUserConfig reads ~/.config/oxen/config.toml, returning a zero
// value (not an error) if the file does not yet exist — `config` is
// how it gets created.
func LoadUserConfig() (*UserConfig, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	var cfg UserConfig
	if _, err := toml.DecodeFile(filepath.Join(dir, "config.toml"), &cfg); err != nil && !os.IsNotExist(err) {
		return nil, ekind.Wrap(ekind.Corrupt, err, "decode user config")
	}
	return &cfg, nil
}

// SaveUserConfig persists the user-global identity.
func SaveUserConfig(cfg *UserConfig) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ekind.Wrap(ekind.Io, err, "create %s", dir)
	}
	f, err := os.Create(filepath.Join(dir, "config.toml"))
	if err != nil {
		return ekind.Wrap(ekind.Io, err, "create user config")
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// LoadAuthConfig reads ~/.config/oxen/auth.toml.
func LoadAuthConfig() (*AuthConfig, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	cfg := &AuthConfig{Hosts: map[string]string{}}
	if _, err := toml.DecodeFile(filepath.Join(dir, "auth.toml"), cfg); err != nil && !os.IsNotExist(err) {
		return nil, ekind.Wrap(ekind.Corrupt, err, "decode auth config")
	}
	if cfg.Hosts == nil {
		cfg.Hosts = map[string]string{}
	}
	return cfg, nil
}

// SaveAuthConfig persists per-host tokens, creating the directory with
// owner-only permissions since it holds secrets.
func SaveAuthConfig(cfg *AuthConfig) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ekind.Wrap(ekind.Io, err, "create %s", dir)
	}
	f, err := os.OpenFile(filepath.Join(dir, "auth.toml"), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return ekind.Wrap(ekind.Io, err, "create auth config")
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// SetToken upserts a host's bearer token.
func (c *AuthConfig) SetToken(host, token string) {
	if c.Hosts == nil {
		c.Hosts = map[string]string{}
	}
	c.Hosts[host] = token
}
