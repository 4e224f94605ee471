package secret

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "microscore"
	fileMode       = 0600
)

// ErrNotFound is returned when the secret is in neither the keychain nor the file.
var ErrNotFound = errors.New("secret not found")

// Secret is a single named value kept in the OS keychain, with a file in dir
// used when the keychain is unavailable.
type Secret struct {
	name string
	dir  string
}

// New returns the secret name, with dir holding the fallback file.
func New(dir, name string) *Secret {
	return &Secret{name: name, dir: dir}
}

// DSN is the database connection string secret.
func DSN(dir string) *Secret {
	return New(dir, "database_dsn")
}

func (s *Secret) path() string {
	return filepath.Join(s.dir, s.name)
}

// Save stores value in the keychain, falling back to the file.
func (s *Secret) Save(value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New("secret value required")
	}

	if err := keyring.Set(keyringService, s.name, value); err != nil {
		slog.Warn("keychain unavailable, falling back to file", "error", err)
		return s.saveFile(value)
	}

	// the keychain copy wins, remove the stale file
	os.Remove(s.path())

	return nil
}

// Get returns the stored value. A value found only in the file is migrated
// to the keychain when possible.
func (s *Secret) Get() (string, error) {
	v, err := keyring.Get(keyringService, s.name)
	if err == nil && v != "" {
		return v, nil
	}

	v, err = s.getFile()
	if err != nil {
		return "", err
	}

	if migrateErr := keyring.Set(keyringService, s.name, v); migrateErr == nil {
		slog.Info("migrated secret from file to OS keychain", "name", s.name)
		os.Remove(s.path())
	}

	return v, nil
}

// Delete removes the value from both locations.
func (s *Secret) Delete() error {
	err := keyring.Delete(keyringService, s.name)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		slog.Debug("keychain delete failed", "error", err)
	}
	if err := os.Remove(s.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing secret file %s: %w", s.path(), err)
	}
	return nil
}

func (s *Secret) saveFile(value string) error {
	if s.dir == "" {
		return errors.New("secret directory required")
	}
	return os.WriteFile(s.path(), []byte(value), fileMode)
}

func (s *Secret) getFile() (string, error) {
	if s.dir == "" {
		return "", ErrNotFound
	}
	b, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, s.name)
		}
		return "", fmt.Errorf("reading secret file %s: %w", s.path(), err)
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, s.name)
	}
	return v, nil
}
