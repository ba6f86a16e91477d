package vault

import (
	"fmt"
	"os"
	"path/filepath"
)

// SecretStore is the platform secure-storage collaborator. The vault uses it
// only to hold the master key, addressed by name.
type SecretStore interface {
	Get(name string) ([]byte, bool, error)
	Put(name string, value []byte) error
}

// FileSecretStore keeps named secrets as 0600 files under a single
// directory, the same way the broker persists its config.
type FileSecretStore struct {
	dir string
}

func NewFileSecretStore(dir string) (*FileSecretStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create secret store directory: %w", err)
	}

	return &FileSecretStore{dir: dir}, nil
}

func (s *FileSecretStore) Get(name string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read secret %q: %w", name, err)
	}

	return data, true, nil
}

func (s *FileSecretStore) Put(name string, value []byte) error {
	path := filepath.Join(s.dir, name)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0600); err != nil {
		return fmt.Errorf("failed to write secret %q: %w", name, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to store secret %q: %w", name, err)
	}

	return nil
}
