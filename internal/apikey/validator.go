package apikey

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/credlink/credlink/pkg/domain"

	"github.com/rs/zerolog/log"
)

// providerRule describes how one provider's key is checked: a local format
// gate, then a single read-only identity call with the candidate credential.
type providerRule struct {
	Prefix    string
	MinLength int

	// Delimiter splits composite credentials into key and secret. Both
	// halves must be non-empty after trimming.
	Delimiter string

	IdentityURL string
	Auth        func(req *http.Request, creds domain.APIKeyCredentials)

	// IdentityFact names the JSON field extracted from a 200 body. Its
	// absence is not a failure.
	IdentityFact string

	// Guidance is appended to format errors.
	Guidance string
}

func bearerAuth(req *http.Request, creds domain.APIKeyCredentials) {
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
}

func basicAuth(req *http.Request, creds domain.APIKeyCredentials) {
	req.SetBasicAuth(creds.APIKey, creds.APISecret)
}

var providerRules = map[string]providerRule{
	"sendgrid": {
		Prefix:       "SG.",
		MinLength:    20,
		IdentityURL:  "https://api.sendgrid.com/v3/user/email",
		Auth:         bearerAuth,
		IdentityFact: "email",
		Guidance:     "SendGrid API keys start with \"SG.\"",
	},
	"stripe": {
		Prefix:       "sk_",
		MinLength:    20,
		IdentityURL:  "https://api.stripe.com/v1/account",
		Auth:         bearerAuth,
		IdentityFact: "email",
		Guidance:     "Stripe secret keys start with \"sk_\"",
	},
	"airtable": {
		Prefix:       "pat",
		MinLength:    20,
		IdentityURL:  "https://api.airtable.com/v0/meta/whoami",
		Auth:         bearerAuth,
		IdentityFact: "email",
		Guidance:     "Airtable personal access tokens start with \"pat\"",
	},
	"openai": {
		Prefix:      "sk-",
		MinLength:   20,
		IdentityURL: "https://api.openai.com/v1/models",
		Auth:        bearerAuth,
		Guidance:    "OpenAI API keys start with \"sk-\"",
	},
	"mailgun": {
		Prefix:      "key-",
		MinLength:   20,
		IdentityURL: "https://api.mailgun.net/v3/domains",
		Auth: func(req *http.Request, creds domain.APIKeyCredentials) {
			req.SetBasicAuth("api", creds.APIKey)
		},
		Guidance: "Mailgun private API keys start with \"key-\"",
	},
	"twilio": {
		Prefix:       "AC",
		MinLength:    20,
		Delimiter:    ":",
		IdentityURL:  "https://api.twilio.com/2010-04-01/Accounts.json",
		Auth:         basicAuth,
		IdentityFact: "friendly_name",
		Guidance:     "Twilio credentials are \"<account SID>:<auth token>\" with the SID starting with \"AC\"",
	},
}

// Validator checks candidate API keys per provider: a local format gate
// followed by one authenticated read-only call to the provider's identity
// endpoint. Unrecognized providers are accepted without a network check and
// explicitly marked unverified.
type Validator struct {
	httpClient *http.Client
	rules      map[string]providerRule
}

type ValidatorDependencies struct {
	HTTPClient *http.Client

	// EndpointOverrides redirects a provider's identity call, used for
	// sandbox environments.
	EndpointOverrides map[string]string
}

func NewValidator(deps ValidatorDependencies) *Validator {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	rules := make(map[string]providerRule, len(providerRules))
	for id, rule := range providerRules {
		if override, ok := deps.EndpointOverrides[id]; ok {
			rule.IdentityURL = override
		}
		rules[id] = rule
	}

	return &Validator{
		httpClient: httpClient,
		rules:      rules,
	}
}

// Validate runs the two-step check and returns the accepted credentials with
// any identity facts the provider exposed.
func (v *Validator) Validate(ctx context.Context, providerName, raw string) (domain.APIKeyCredentials, error) {
	rule, known := v.rules[strings.ToLower(providerName)]
	if !known {
		return v.acceptUnverified(providerName, raw)
	}

	creds, err := checkFormat(rule, raw)
	if err != nil {
		return domain.APIKeyCredentials{}, err
	}

	facts, err := v.identityCheck(ctx, rule, creds)
	if err != nil {
		return domain.APIKeyCredentials{}, err
	}

	creds.Facts = facts

	return creds, nil
}

func checkFormat(rule providerRule, raw string) (domain.APIKeyCredentials, error) {
	trimmed := strings.TrimSpace(raw)

	var creds domain.APIKeyCredentials

	if rule.Delimiter != "" {
		parts := strings.SplitN(trimmed, rule.Delimiter, 2)
		if len(parts) != 2 {
			return domain.APIKeyCredentials{}, fmt.Errorf("%w: expected two parts separated by %q (%s)", domain.ErrInvalidFormat, rule.Delimiter, rule.Guidance)
		}

		creds.APIKey = strings.TrimSpace(parts[0])
		creds.APISecret = strings.TrimSpace(parts[1])

		if creds.APIKey == "" || creds.APISecret == "" {
			return domain.APIKeyCredentials{}, fmt.Errorf("%w: both parts must be non-empty (%s)", domain.ErrInvalidFormat, rule.Guidance)
		}
	} else {
		creds.APIKey = trimmed
	}

	if rule.Prefix != "" && !strings.HasPrefix(creds.APIKey, rule.Prefix) {
		return domain.APIKeyCredentials{}, fmt.Errorf("%w: %s", domain.ErrInvalidFormat, rule.Guidance)
	}

	if len(trimmed) < rule.MinLength {
		return domain.APIKeyCredentials{}, fmt.Errorf("%w: key is too short (%s)", domain.ErrInvalidFormat, rule.Guidance)
	}

	return creds, nil
}

func (v *Validator) identityCheck(ctx context.Context, rule providerRule, creds domain.APIKeyCredentials) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rule.IdentityURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetworkError, err)
	}

	rule.Auth(req, creds)
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetworkError, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to fact extraction.
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: provider returned status %d", domain.ErrInvalidCredentials, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: provider returned status %d", domain.ErrNetworkError, resp.StatusCode)
	}

	if rule.IdentityFact == "" {
		return nil, nil
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// The credential was accepted; a missing fact is not a failure.
		return nil, nil
	}

	if value, ok := body[rule.IdentityFact].(string); ok && value != "" {
		return map[string]string{rule.IdentityFact: value}, nil
	}

	return nil, nil
}

// acceptUnverified is the demo fallback for providers without a validation
// rule. The credential is marked so it can never be mistaken for a
// provider-verified one.
func (v *Validator) acceptUnverified(providerName, raw string) (domain.APIKeyCredentials, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.APIKeyCredentials{}, fmt.Errorf("%w: key must not be blank", domain.ErrInvalidFormat)
	}

	log.Warn().Str("provider", providerName).Msg("No validation rule for provider, accepting key unverified")

	return domain.APIKeyCredentials{
		APIKey: trimmed,
		Facts:  map[string]string{"unverified": "true"},
	}, nil
}
