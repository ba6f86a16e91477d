package vault

import (
	"testing"

	"github.com/credlink/credlink/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *CipherVault {
	t.Helper()

	secrets, err := NewFileSecretStore(t.TempDir())
	require.NoError(t, err)

	v, err := NewCipherVault(CipherVaultDependencies{SecretStore: secrets})
	require.NoError(t, err)

	return v
}

func TestCipherVault_RoundTrip(t *testing.T) {
	v := newTestVault(t)

	plaintexts := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte(`{"access_token":"tok","refresh_token":"ref"}`),
		make([]byte, 4096),
	}

	for _, plaintext := range plaintexts {
		ciphertext, nonce, err := v.Encrypt(plaintext)
		require.NoError(t, err)

		decrypted, err := v.Decrypt(ciphertext, nonce)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestCipherVault_FreshNoncePerCall(t *testing.T) {
	v := newTestVault(t)

	plaintext := []byte("same plaintext")

	c1, n1, err := v.Encrypt(plaintext)
	require.NoError(t, err)

	c2, n2, err := v.Encrypt(plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, n1, n2)
	assert.NotEqual(t, c1, c2)
}

func TestCipherVault_TamperedCiphertext(t *testing.T) {
	v := newTestVault(t)

	ciphertext, nonce, err := v.Encrypt([]byte("secret"))
	require.NoError(t, err)

	ciphertext[0] ^= 0x01

	_, err = v.Decrypt(ciphertext, nonce)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
}

func TestCipherVault_TamperedNonce(t *testing.T) {
	v := newTestVault(t)

	ciphertext, nonce, err := v.Encrypt([]byte("secret"))
	require.NoError(t, err)

	nonce[0] ^= 0x01

	_, err = v.Decrypt(ciphertext, nonce)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
}

func TestCipherVault_MalformedNonce(t *testing.T) {
	v := newTestVault(t)

	ciphertext, _, err := v.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = v.Decrypt(ciphertext, []byte("short"))
	assert.ErrorIs(t, err, domain.ErrInvalidNonce)
}

func TestCipherVault_KeyPersistsAcrossInstances(t *testing.T) {
	secrets, err := NewFileSecretStore(t.TempDir())
	require.NoError(t, err)

	v1, err := NewCipherVault(CipherVaultDependencies{SecretStore: secrets})
	require.NoError(t, err)

	ciphertext, nonce, err := v1.Encrypt([]byte("persisted"))
	require.NoError(t, err)

	v2, err := NewCipherVault(CipherVaultDependencies{SecretStore: secrets})
	require.NoError(t, err)

	decrypted, err := v2.Decrypt(ciphertext, nonce)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), decrypted)
}

func TestCipherVault_RegenerateKeyInvalidatesOldCiphertexts(t *testing.T) {
	v := newTestVault(t)

	ciphertext, nonce, err := v.Encrypt([]byte("old world"))
	require.NoError(t, err)

	require.NoError(t, v.RegenerateKey())

	_, err = v.Decrypt(ciphertext, nonce)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)

	// New encryptions work under the new key.
	c2, n2, err := v.Encrypt([]byte("new world"))
	require.NoError(t, err)

	decrypted, err := v.Decrypt(c2, n2)
	require.NoError(t, err)
	assert.Equal(t, []byte("new world"), decrypted)
}
