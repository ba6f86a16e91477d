package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/credlink/credlink/pkg/domain"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"
)

const defaultKeyName = "credlink-master-key"

// CipherVault performs authenticated encryption of credential payloads under
// a single master key. The key is loaded from the secret store on
// construction, or generated and stored when absent. It never leaves the
// vault.
type CipherVault struct {
	mu      sync.RWMutex
	aead    cipher.AEAD
	secrets SecretStore
	keyName string
}

type CipherVaultDependencies struct {
	SecretStore SecretStore
	KeyName     string
}

func NewCipherVault(deps CipherVaultDependencies) (*CipherVault, error) {
	keyName := deps.KeyName
	if keyName == "" {
		keyName = defaultKeyName
	}

	v := &CipherVault{
		secrets: deps.SecretStore,
		keyName: keyName,
	}

	key, found, err := deps.SecretStore.Get(keyName)
	if err != nil {
		return nil, fmt.Errorf("failed to load master key: %w", err)
	}

	if !found {
		log.Info().Msg("No master key found, generating a new one")

		key, err = v.generateAndStoreKey()
		if err != nil {
			return nil, err
		}
	}

	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("stored master key has invalid length %d", len(key))
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	v.aead = aead

	return v, nil
}

// Encrypt seals plaintext under the master key with a fresh random nonce.
// Every call produces a new nonce, so encrypting the same plaintext twice
// yields different ciphertexts.
func (v *CipherVault) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	v.mu.RLock()
	aead := v.aead
	v.mu.RUnlock()

	if aead == nil {
		return nil, nil, domain.ErrKeyUnavailable
	}

	nonce = make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)

	return ciphertext, nonce, nil
}

// Decrypt opens a ciphertext/nonce pair. A failed integrity check is a hard
// failure; garbage plaintext is never returned.
func (v *CipherVault) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	v.mu.RLock()
	aead := v.aead
	v.mu.RUnlock()

	if aead == nil {
		return nil, domain.ErrKeyUnavailable
	}

	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", domain.ErrInvalidNonce, chacha20poly1305.NonceSize, len(nonce))
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domain.ErrAuthenticationFailed
	}

	return plaintext, nil
}

// RegenerateKey replaces the master key in the secret store and in memory.
// All previously encrypted records become permanently undecryptable; callers
// must re-authenticate every provider afterwards.
func (v *CipherVault) RegenerateKey() error {
	key, err := v.generateAndStoreKey()
	if err != nil {
		return err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("failed to initialize cipher: %w", err)
	}

	v.mu.Lock()
	v.aead = aead
	v.mu.Unlock()

	log.Warn().Msg("Master key regenerated, existing encrypted credentials are no longer readable")

	return nil
}

func (v *CipherVault) generateAndStoreKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}

	if err := v.secrets.Put(v.keyName, key); err != nil {
		return nil, fmt.Errorf("failed to store master key: %w", err)
	}

	return key, nil
}
