package middleware

import (
	"strings"

	"ogcr-registry/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// CORSConfig lists the origin suffixes allowed to call the API from a browser.
type CORSConfig struct {
	AllowedSuffixes []string
	AllowLocalhost  bool
}

// CORS allows origins ending with one of AllowedSuffixes (and localhost when enabled).
// Requests without an Origin header (server-to-server, CLI) pass through.
func CORS(cfg CORSConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		if origin == "" {
			return c.Next()
		}
		if !cfg.allows(origin) {
			return response.Error(c, "Not allowed by CORS", fiber.StatusForbidden, nil)
		}
		c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
		c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type, Authorization, X-API-Key, X-Trace-Id")
		c.Set(fiber.HeaderAccessControlAllowMethods, "GET, POST, PUT, PATCH, OPTIONS")
		c.Set(fiber.HeaderAccessControlExposeHeaders, traceIDHeader)
		c.Set(fiber.HeaderVary, fiber.HeaderOrigin)
		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	}
}

func (cfg CORSConfig) allows(origin string) bool {
	o := strings.ToLower(origin)
	if cfg.AllowLocalhost && (strings.HasPrefix(o, "http://localhost:") || strings.HasPrefix(o, "http://127.0.0.1:")) {
		return true
	}
	for _, s := range cfg.AllowedSuffixes {
		if s != "" && strings.HasSuffix(o, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
