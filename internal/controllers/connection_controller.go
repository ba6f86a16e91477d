package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/credlink/credlink/internal/managers"
	"github.com/credlink/credlink/pkg/domain"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// ConnectionController exposes the credential store and the authentication
// flows to the UI layer and to export consumers.
type ConnectionController struct {
	connectionManager *managers.ConnectionManager
}

type ConnectionControllerDependencies struct {
	ConnectionManager *managers.ConnectionManager
}

func NewConnectionController(deps ConnectionControllerDependencies) *ConnectionController {
	return &ConnectionController{
		connectionManager: deps.ConnectionManager,
	}
}

type connectionResponse struct {
	ServiceName        string                  `json:"serviceName"`
	AuthenticationType domain.AuthType         `json:"authenticationType"`
	ConnectionStatus   domain.ConnectionStatus `json:"connectionStatus"`
	CreatedAt          string                  `json:"createdAt"`
	LastUpdated        string                  `json:"lastUpdated"`
}

func toConnectionResponse(metadata domain.ServiceMetadata) connectionResponse {
	return connectionResponse{
		ServiceName:        metadata.ServiceName,
		AuthenticationType: metadata.AuthenticationType,
		ConnectionStatus:   metadata.ConnectionStatus,
		CreatedAt:          metadata.CreatedAt.UTC().Format(time.RFC3339),
		LastUpdated:        metadata.LastUpdated.UTC().Format(time.RFC3339),
	}
}

// ListConnections returns all connection metadata, newest first.
func (c *ConnectionController) ListConnections(ctx fiber.Ctx) error {
	connections, err := c.connectionManager.ListConnections(ctx.RequestCtx())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list connections")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to list connections")
	}

	responses := make([]connectionResponse, 0, len(connections))
	for _, metadata := range connections {
		responses = append(responses, toConnectionResponse(metadata))
	}

	return ctx.JSON(responses)
}

// GetConnection returns metadata plus a masked view of the credential.
func (c *ConnectionController) GetConnection(ctx fiber.Ctx) error {
	providerName := ctx.Params("name")

	credential, metadata, err := c.connectionManager.GetCredential(ctx.RequestCtx(), providerName)
	if err != nil {
		return mapCredentialError(err)
	}

	return ctx.JSON(fiber.Map{
		"connection": toConnectionResponse(metadata),
		"credential": maskCredential(credential),
	})
}

// GetDecryptedCredential returns the full decrypted credential. This is the
// endpoint the export consumer calls.
func (c *ConnectionController) GetDecryptedCredential(ctx fiber.Ctx) error {
	providerName := ctx.Params("name")

	credential, metadata, err := c.connectionManager.GetCredential(ctx.RequestCtx(), providerName)
	if err != nil {
		return mapCredentialError(err)
	}

	return ctx.JSON(fiber.Map{
		"connection": toConnectionResponse(metadata),
		"credential": credential,
	})
}

type connectAPIKeyRequest struct {
	APIKey string `json:"apiKey"`
}

// ConnectAPIKey validates and stores a static credential for a provider.
func (c *ConnectionController) ConnectAPIKey(ctx fiber.Ctx) error {
	providerName := ctx.Params("name")

	var req connectAPIKeyRequest
	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	metadata, err := c.connectionManager.ConnectAPIKey(ctx.RequestCtx(), providerName, req.APIKey)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidFormat):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrInvalidCredentials):
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		case errors.Is(err, domain.ErrNetworkError):
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		default:
			log.Error().Err(err).Str("provider", providerName).Msg("API key connection failed")
			return fiber.NewError(fiber.StatusInternalServerError, "Failed to store credential")
		}
	}

	return ctx.Status(fiber.StatusCreated).JSON(toConnectionResponse(metadata))
}

// ConnectOAuth starts an interactive authorization attempt. The request
// blocks until the user completes or abandons the flow in the external user
// agent; multiple providers may connect concurrently.
func (c *ConnectionController) ConnectOAuth(ctx fiber.Ctx) error {
	providerName := ctx.Params("name")

	metadata, err := c.connectionManager.ConnectOAuth(ctx.RequestCtx(), providerName)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrConfigurationMissing):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrUserCancelled):
			return fiber.NewError(fiber.StatusConflict, "authorization cancelled")
		case errors.Is(err, domain.ErrInvalidCallback), errors.Is(err, domain.ErrCallbackError):
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		default:
			log.Error().Err(err).Str("provider", providerName).Msg("OAuth connection failed")
			return fiber.NewError(fiber.StatusInternalServerError, "Authorization failed")
		}
	}

	return ctx.Status(fiber.StatusCreated).JSON(toConnectionResponse(metadata))
}

// CheckValidity reports whether the stored credential is still usable,
// refreshing expired OAuth tokens once as a side effect.
func (c *ConnectionController) CheckValidity(ctx fiber.Ctx) error {
	providerName := ctx.Params("name")

	valid, err := c.connectionManager.CheckValidity(ctx.RequestCtx(), providerName)
	if err != nil {
		return mapCredentialError(err)
	}

	return ctx.JSON(fiber.Map{"valid": valid})
}

// Disconnect removes the stored credential and metadata.
func (c *ConnectionController) Disconnect(ctx fiber.Ctx) error {
	providerName := ctx.Params("name")

	if err := c.connectionManager.Disconnect(ctx.RequestCtx(), providerName); err != nil {
		log.Error().Err(err).Str("provider", providerName).Msg("Disconnect failed")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to disconnect")
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

func mapCredentialError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "connection not found")
	case errors.Is(err, domain.ErrAuthenticationFailed), errors.Is(err, domain.ErrInvalidNonce):
		return fiber.NewError(fiber.StatusConflict, "stored credential is corrupt and must be re-authenticated")
	default:
		log.Error().Err(err).Msg("Credential read failed")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to read credential")
	}
}

// maskCredential hides secret material, keeping only a short suffix so the
// dashboard can show which key is connected.
func maskCredential(credential any) fiber.Map {
	switch c := credential.(type) {
	case domain.OAuthCredentials:
		masked := fiber.Map{
			"accessToken":     maskSecret(c.AccessToken),
			"hasRefreshToken": c.RefreshToken != "",
		}
		if c.ExpiresAt != nil {
			masked["expiresAt"] = c.ExpiresAt
		}
		if c.Scope != "" {
			masked["scope"] = c.Scope
		}
		return masked
	case domain.APIKeyCredentials:
		masked := fiber.Map{
			"apiKey": maskSecret(c.APIKey),
		}
		if c.APISecret != "" {
			masked["apiSecret"] = maskSecret(c.APISecret)
		}
		if len(c.Facts) > 0 {
			masked["facts"] = c.Facts
		}
		return masked
	default:
		return fiber.Map{}
	}
}

func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
