//go:build unix

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// DefaultUnixConfigPath is where the agent persists its configuration on
// Linux/macOS, as a TOML file.
const DefaultUnixConfigPath = "/etc/udsactor/udsactor.cfg"

// TestModeEnvVar, when set to any non-empty value, redirects the Unix store
// to a path under the OS temp directory instead of DefaultUnixConfigPath.
const TestModeEnvVar = "UDSACTOR_TEST_MODE"

// UnixStore persists ActorConfiguration as TOML in a single file.
type UnixStore struct {
	path string
}

// NewUnixStore returns a store rooted at DefaultUnixConfigPath, or at a
// temp-dir override when TestModeEnvVar is set.
func NewUnixStore() *UnixStore {
	if os.Getenv(TestModeEnvVar) != "" {
		return &UnixStore{path: filepath.Join(os.TempDir(), "udsactor-test.cfg")}
	}
	return &UnixStore{path: DefaultUnixConfigPath}
}

// NewUnixStoreAt returns a store rooted at an explicit path (tests).
func NewUnixStoreAt(path string) *UnixStore {
	return &UnixStore{path: path}
}

// NewPlatformStore returns the Store implementation for the running OS,
// so callers (cmd/udsactor, cmd/udsactor-client) never need a build tag
// of their own.
func NewPlatformStore() Store {
	return NewUnixStore()
}

// Load reads and decodes the TOML file. A missing file yields the default
// configuration rather than an error, per §4.10.
func (s *UnixStore) Load() (ActorConfiguration, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return ActorConfiguration{}, fmt.Errorf("config: read %s: %w", s.path, err)
	}

	var cfg ActorConfiguration
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return ActorConfiguration{}, fmt.Errorf("config: decode %s: %w", s.path, err)
	}
	return cfg, nil
}

// Save encodes cfg as TOML and writes it, creating the parent directory if
// necessary.
func (s *UnixStore) Save(cfg ActorConfiguration) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("config: create dir for %s: %w", s.path, err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", s.path, err)
	}
	return nil
}

// Clear removes the configuration file. Missing file is not an error.
func (s *UnixStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: remove %s: %w", s.path, err)
	}
	return nil
}
