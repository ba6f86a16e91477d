package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/credlink/credlink/pkg/domain"

	"github.com/rs/zerolog/log"
)

// Cipher is the slice of the vault the store depends on.
type Cipher interface {
	Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error)
	Decrypt(ciphertext, nonce []byte) ([]byte, error)
}

// CredentialStore persists one encrypted record plus plaintext metadata per
// provider name. Records are whole-file overwrites under a per-name lock, so
// concurrent saves for different providers never interfere and a save/get
// race on the same name resolves to one fully written state.
type CredentialStore struct {
	cipher   Cipher
	credDir  string
	metaPath string

	metaMu  sync.Mutex
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

type CredentialStoreDependencies struct {
	Cipher  Cipher
	DataDir string
}

func NewCredentialStore(deps CredentialStoreDependencies) (*CredentialStore, error) {
	credDir := filepath.Join(deps.DataDir, "credentials")
	if err := os.MkdirAll(credDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	return &CredentialStore{
		cipher:   deps.Cipher,
		credDir:  credDir,
		metaPath: filepath.Join(deps.DataDir, "metadata.json"),
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Save encrypts the payload and overwrites any previous record for the
// provider. Metadata is upserted with status connected; the original
// creation time is preserved across overwrites.
func (s *CredentialStore) Save(providerName string, authType domain.AuthType, payload []byte) error {
	ciphertext, nonce, err := s.cipher.Encrypt(payload)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential for %s: %w", providerName, err)
	}

	record := domain.EncryptedRecord{
		Service:       providerName,
		AuthType:      authType,
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
		IV:            base64.StdEncoding.EncodeToString(nonce),
		CreatedAt:     time.Now().UTC(),
	}

	lock := s.lockFor(providerName)
	lock.Lock()
	err = s.writeRecord(providerName, record)
	lock.Unlock()
	if err != nil {
		return err
	}

	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	metadata, err := s.readMetadata()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entry, exists := metadata[providerName]
	if !exists {
		entry = domain.ServiceMetadata{
			ServiceName: providerName,
			CreatedAt:   now,
		}
	}
	entry.AuthenticationType = authType
	entry.LastUpdated = now
	entry.ConnectionStatus = domain.ConnectionStatusConnected
	metadata[providerName] = entry

	if err := s.writeMetadata(metadata); err != nil {
		return err
	}

	log.Debug().Str("provider", providerName).Str("auth_type", string(authType)).Msg("Stored encrypted credential")

	return nil
}

// Get returns the decrypted payload and metadata for a provider. Decryption
// failures propagate unchanged; the caller is expected to drop the corrupt
// credential rather than mask the error.
func (s *CredentialStore) Get(providerName string) ([]byte, domain.ServiceMetadata, error) {
	s.metaMu.Lock()
	metadata, err := s.readMetadata()
	s.metaMu.Unlock()
	if err != nil {
		return nil, domain.ServiceMetadata{}, err
	}

	entry, exists := metadata[providerName]
	if !exists {
		return nil, domain.ServiceMetadata{}, fmt.Errorf("%w: %s", domain.ErrNotFound, providerName)
	}

	lock := s.lockFor(providerName)
	lock.Lock()
	record, found, err := s.readRecord(providerName)
	lock.Unlock()
	if err != nil {
		return nil, domain.ServiceMetadata{}, err
	}
	if !found {
		return nil, domain.ServiceMetadata{}, fmt.Errorf("%w: %s", domain.ErrNotFound, providerName)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(record.EncryptedData)
	if err != nil {
		return nil, domain.ServiceMetadata{}, fmt.Errorf("corrupt record for %s: %w", providerName, err)
	}

	nonce, err := base64.StdEncoding.DecodeString(record.IV)
	if err != nil {
		return nil, domain.ServiceMetadata{}, fmt.Errorf("corrupt record for %s: %w", providerName, err)
	}

	payload, err := s.cipher.Decrypt(ciphertext, nonce)
	if err != nil {
		return nil, domain.ServiceMetadata{}, err
	}

	return payload, entry, nil
}

// Remove deletes both the record and the metadata entry. Removing an unknown
// provider is not an error.
func (s *CredentialStore) Remove(providerName string) error {
	lock := s.lockFor(providerName)
	lock.Lock()
	err := os.Remove(s.recordPath(providerName))
	lock.Unlock()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove record for %s: %w", providerName, err)
	}

	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	metadata, err := s.readMetadata()
	if err != nil {
		return err
	}

	if _, exists := metadata[providerName]; !exists {
		return nil
	}

	delete(metadata, providerName)

	return s.writeMetadata(metadata)
}

// ListAll returns a snapshot of all service metadata, newest first.
func (s *CredentialStore) ListAll() ([]domain.ServiceMetadata, error) {
	s.metaMu.Lock()
	metadata, err := s.readMetadata()
	s.metaMu.Unlock()
	if err != nil {
		return nil, err
	}

	entries := make([]domain.ServiceMetadata, 0, len(metadata))
	for _, entry := range metadata {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	return entries, nil
}

// IsConnected reports whether an encrypted record exists for the provider.
// A dangling metadata entry without a record reports false.
func (s *CredentialStore) IsConnected(providerName string) bool {
	lock := s.lockFor(providerName)
	lock.Lock()
	defer lock.Unlock()

	_, err := os.Stat(s.recordPath(providerName))
	return err == nil
}

// UpdateStatus mutates the metadata connection status only. It is a no-op
// when no metadata exists for the provider.
func (s *CredentialStore) UpdateStatus(providerName string, status domain.ConnectionStatus) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	metadata, err := s.readMetadata()
	if err != nil {
		return err
	}

	entry, exists := metadata[providerName]
	if !exists {
		return nil
	}

	entry.ConnectionStatus = status
	entry.LastUpdated = time.Now().UTC()
	metadata[providerName] = entry

	return s.writeMetadata(metadata)
}

func (s *CredentialStore) lockFor(providerName string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, exists := s.locks[providerName]
	if !exists {
		lock = &sync.Mutex{}
		s.locks[providerName] = lock
	}

	return lock
}

func (s *CredentialStore) recordPath(providerName string) string {
	return filepath.Join(s.credDir, sanitizeName(providerName)+".json")
}

func (s *CredentialStore) readRecord(providerName string) (domain.EncryptedRecord, bool, error) {
	data, err := os.ReadFile(s.recordPath(providerName))
	if os.IsNotExist(err) {
		return domain.EncryptedRecord{}, false, nil
	}
	if err != nil {
		return domain.EncryptedRecord{}, false, fmt.Errorf("failed to read record for %s: %w", providerName, err)
	}

	var record domain.EncryptedRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.EncryptedRecord{}, false, fmt.Errorf("corrupt record for %s: %w", providerName, err)
	}

	return record, true, nil
}

func (s *CredentialStore) writeRecord(providerName string, record domain.EncryptedRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record for %s: %w", providerName, err)
	}

	return atomicWrite(s.recordPath(providerName), data)
}

func (s *CredentialStore) readMetadata() (map[string]domain.ServiceMetadata, error) {
	data, err := os.ReadFile(s.metaPath)
	if os.IsNotExist(err) {
		return make(map[string]domain.ServiceMetadata), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	metadata := make(map[string]domain.ServiceMetadata)
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("corrupt metadata file: %w", err)
	}

	return metadata, nil
}

func (s *CredentialStore) writeMetadata(metadata map[string]domain.ServiceMetadata) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	return atomicWrite(s.metaPath, data)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
