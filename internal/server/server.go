package server

import (
	"context"
	"time"

	"github.com/credlink/credlink/internal/controllers"
	"github.com/credlink/credlink/internal/version"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type HTTPServerDependencies struct {
	ConnectionController *controllers.ConnectionController
	VaultController      *controllers.VaultController
}

func NewHTTPServer(ctx context.Context, deps HTTPServerDependencies) *fiber.App {
	router := fiber.New(fiber.Config{
		AppName: "credlink",
	})

	router.Use(cors.New())
	router.Use(logger.New())

	router.Get("/health", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":    "healthy",
			"service":   "credlink",
			"version":   version.GetVersion(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	connections := router.Group("/connections")

	connections.Get("/", deps.ConnectionController.ListConnections)
	connections.Get("/:name", deps.ConnectionController.GetConnection)
	connections.Get("/:name/credential", deps.ConnectionController.GetDecryptedCredential)
	connections.Get("/:name/validity", deps.ConnectionController.CheckValidity)
	connections.Post("/:name/api-key", deps.ConnectionController.ConnectAPIKey)
	connections.Post("/:name/oauth", deps.ConnectionController.ConnectOAuth)
	connections.Delete("/:name", deps.ConnectionController.Disconnect)

	router.Post("/vault/regenerate", deps.VaultController.RegenerateKey)

	return router
}
