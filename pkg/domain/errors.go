package domain

import "errors"

// Vault errors.
var (
	ErrKeyUnavailable       = errors.New("master key is not available")
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrAuthenticationFailed = errors.New("authentication failed: ciphertext could not be verified")
)

// Store errors.
var (
	ErrNotFound = errors.New("credential not found")
)

// OAuth flow errors.
var (
	ErrConfigurationMissing = errors.New("provider configuration missing or incomplete")
	ErrUserCancelled        = errors.New("user cancelled authorization")
	ErrCallbackError        = errors.New("provider rejected authorization")
	ErrInvalidCallback      = errors.New("callback did not contain an authorization code")
	ErrTokenExchangeFailed  = errors.New("token exchange failed")
	ErrInvalidResponse      = errors.New("provider returned an undecodable response")
	ErrRefreshFailed        = errors.New("token refresh failed")
	ErrNoRefreshToken       = errors.New("no refresh token available")
)

// API key validation errors.
var (
	ErrInvalidFormat      = errors.New("credential format is invalid")
	ErrInvalidCredentials = errors.New("credentials were rejected by the provider")
	ErrNetworkError       = errors.New("provider could not be reached")
)
