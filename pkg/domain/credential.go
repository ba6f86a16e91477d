package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type AuthType string

const (
	AuthTypeOAuth  AuthType = "oauth"
	AuthTypeAPIKey AuthType = "api_key"
)

type ConnectionStatus string

const (
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusError        ConnectionStatus = "error"
)

// OAuthCredentials is the decrypted payload stored for providers connected
// through the authorization-code flow. A refresh supersedes the whole value;
// the previous refresh token is carried forward when the provider omits one.
type OAuthCredentials struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scope        string     `json:"scope,omitempty"`
}

func (c OAuthCredentials) IsExpired(margin time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().Add(margin).After(*c.ExpiresAt)
}

// APIKeyCredentials is the decrypted payload stored for providers connected
// with a static key. Facts carries provider-supplied identity details
// resolved during validation (account name, email) and the "unverified"
// marker for the generic fallback path.
type APIKeyCredentials struct {
	APIKey    string            `json:"api_key"`
	APISecret string            `json:"api_secret,omitempty"`
	Facts     map[string]string `json:"facts,omitempty"`
}

// EncryptedRecord is the at-rest form of a credential payload. The
// ciphertext/nonce pair is unique per save: the vault draws a fresh nonce
// on every encryption call.
type EncryptedRecord struct {
	Service       string    `json:"service"`
	AuthType      AuthType  `json:"authType"`
	EncryptedData string    `json:"encryptedData"`
	IV            string    `json:"iv"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ServiceMetadata is the plaintext companion of an EncryptedRecord. It
// never contains secret material and is safe to list without decryption.
type ServiceMetadata struct {
	ServiceName        string           `json:"serviceName"`
	AuthenticationType AuthType         `json:"authenticationType"`
	CreatedAt          time.Time        `json:"createdAt"`
	LastUpdated        time.Time        `json:"lastUpdated"`
	ConnectionStatus   ConnectionStatus `json:"connectionStatus"`
}

// DecodeCredential dispatches on the metadata auth kind, never on the shape
// of the payload itself.
func DecodeCredential(authType AuthType, payload []byte) (any, error) {
	switch authType {
	case AuthTypeOAuth:
		var creds OAuthCredentials
		if err := json.Unmarshal(payload, &creds); err != nil {
			return nil, fmt.Errorf("failed to decode oauth credentials: %w", err)
		}
		return creds, nil
	case AuthTypeAPIKey:
		var creds APIKeyCredentials
		if err := json.Unmarshal(payload, &creds); err != nil {
			return nil, fmt.Errorf("failed to decode api key credentials: %w", err)
		}
		return creds, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", authType)
	}
}
