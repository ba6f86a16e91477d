package registry

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/credlink/credlink/pkg/domain"
)

// verifierLength is the PKCE code verifier length in characters, drawn from
// the unreserved URL-safe alphabet.
const verifierLength = 128

const verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// BuildAuthorizationURL constructs the provider's authorization URL for one
// attempt and returns it together with the generated state token. For
// PKCE-eligible public clients the code verifier is stored in the attempt
// store keyed by that state.
func (r *ProviderRegistry) BuildAuthorizationURL(config domain.ProviderConfig) (authURL, state string, err error) {
	parsed, err := url.Parse(config.AuthURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid authorization endpoint for %s: %w", config.ID, err)
	}

	var verifier string
	if r.usesPKCE(config) {
		verifier, err = generateCodeVerifier()
		if err != nil {
			return "", "", fmt.Errorf("failed to generate code verifier: %w", err)
		}
	}

	state = r.attempts.Begin(config.ID, verifier)

	query := parsed.Query()
	query.Set("response_type", "code")
	query.Set("client_id", config.ClientID)
	query.Set("redirect_uri", config.RedirectURI)
	query.Set("state", state)

	if len(config.Scopes) > 0 {
		query.Set("scope", strings.Join(config.Scopes, " "))
	}

	if verifier != "" {
		query.Set("code_challenge", DeriveCodeChallenge(verifier))
		query.Set("code_challenge_method", "S256")
	}

	// Google only issues a refresh token when consent is re-prompted with
	// offline access requested.
	if strings.Contains(config.ClientID, "googleusercontent") {
		query.Set("access_type", "offline")
		query.Set("prompt", "consent")
	}

	parsed.RawQuery = query.Encode()

	return parsed.String(), state, nil
}

// DeriveCodeChallenge returns the S256 challenge for a verifier:
// base64url(SHA-256(verifier)) without padding.
func DeriveCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func generateCodeVerifier() (string, error) {
	raw := make([]byte, verifierLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	verifier := make([]byte, verifierLength)
	for i, b := range raw {
		verifier[i] = verifierAlphabet[int(b)%len(verifierAlphabet)]
	}

	return string(verifier), nil
}
