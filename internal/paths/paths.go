// Package paths defines the on-disk layout under the data root.
package paths

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidName is returned for server names that are not a single path element.
var ErrInvalidName = errors.New("invalid server name")

// Layout resolves directories beneath Root:
//
//	<root>/servers/<name>/logs/latest.log
//	<root>/backups/<name>_<timestamp>.zip
//	<root>/playit/
type Layout struct {
	Root string
}

// DefaultRoot returns <user config dir>/mcmanager.
func DefaultRoot() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "mcmanager"), nil
}

func (l Layout) ServersDir() string { return filepath.Join(l.Root, "servers") }
func (l Layout) BackupsDir() string { return filepath.Join(l.Root, "backups") }
func (l Layout) PlayitDir() string  { return filepath.Join(l.Root, "playit") }
func (l Layout) LogsDir() string    { return filepath.Join(l.Root, "logs") }

// ServerDir returns the directory for one server after validating name.
func (l Layout) ServerDir(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(l.ServersDir(), name), nil
}

// LatestLog returns the persisted log the server itself writes.
func (l Layout) LatestLog(name string) (string, error) {
	dir, err := l.ServerDir(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs", "latest.log"), nil
}

// EnsureAll creates every top-level directory.
func (l Layout) EnsureAll() error {
	for _, d := range []string{l.ServersDir(), l.BackupsDir(), l.PlayitDir(), l.LogsDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// ListServers returns the names of the top-level directories under the
// servers root, sorted. A missing root yields an empty list.
func (l Layout) ListServers() ([]string, error) {
	entries, err := os.ReadDir(l.ServersDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ValidateName accepts a single, non-hidden path element.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, `/\:`) || filepath.Base(name) != name {
		return ErrInvalidName
	}
	return nil
}
