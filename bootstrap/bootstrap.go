package bootstrap

import (
	"ogcr-registry/internal/config"
	"ogcr-registry/internal/interfaces/router"

	"github.com/gofiber/fiber/v2"
)

// New creates the Fiber app for serverless runtimes (api handler imports this package, not internal).
func New() (*fiber.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	srv, err := router.CreateApp(cfg)
	if err != nil {
		return nil, err
	}
	return srv.App, nil
}
