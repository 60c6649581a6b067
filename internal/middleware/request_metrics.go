package middleware

import (
	"strings"
	"time"

	"ogcr-registry/internal/metrics"

	"github.com/gofiber/fiber/v2"
)

// RequestMetrics records request counts and latency (skip /metrics, /health*, favicon).
func RequestMetrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/metrics" || strings.HasPrefix(path, "/health") || strings.HasPrefix(path, "/favicon") {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = errorStatus(err)
		}
		route := c.Route().Path
		if route == "" || route == "/" {
			route = "unmatched"
		}
		m.ObserveRequest(c.Method(), route, status, start)
		return err
	}
}
