package validation

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxBodySize  int
	MaxBatchSize int
	Logger       *zap.Logger
}

// Middleware rejects malformed ingest requests before they reach the
// pipeline: wrong content type, oversized bodies, invalid JSON, and batches
// over the limit. Field-level validation stays in the pipeline.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = 10 * 1024 * 1024
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "application/json") {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"success": false,
				"error":   "Unsupported content type",
			})
		}

		body := c.Body()
		if len(body) > cfg.MaxBodySize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"success": false,
				"error":   "Request body exceeds maximum size",
			})
		}

		if !json.Valid(body) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid JSON format",
			})
		}

		// Cheap structural probe: reject oversized batches without
		// decoding every event.
		var probe struct {
			Errors []json.RawMessage `json:"errors"`
		}
		if err := json.Unmarshal(body, &probe); err == nil && len(probe.Errors) > cfg.MaxBatchSize {
			cfg.Logger.Warn("Oversized ingest batch rejected",
				zap.String("ip", c.IP()),
				zap.Int("batch_size", len(probe.Errors)),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "Batch exceeds maximum size",
			})
		}

		return c.Next()
	}
}
