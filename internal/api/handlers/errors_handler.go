package handlers

import (
	"database/sql"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	rediscache "github.com/errorpulse/backend/internal/cache/redis"
	"github.com/errorpulse/backend/internal/pipeline"
	"github.com/errorpulse/backend/internal/similarity"
	"github.com/errorpulse/backend/internal/stats"
	"github.com/errorpulse/backend/internal/storage/models"
	"github.com/errorpulse/backend/pkg/logger"
)

const (
	defaultRecentLimit = 100
	maxRecentLimit     = 1000
	similarityPoolSize = 500
	maxSimilarResults  = 10
)

// ErrorStore is the read side of the errors table used by the REST API.
type ErrorStore interface {
	GetRecentErrors(limit int) ([]models.ErrorEvent, error)
	GetErrorsInRange(startMs, endMs int64) ([]models.ErrorEvent, error)
	GetErrorByID(errorID int64) (*models.ErrorEvent, error)
}

type ErrorsHandler struct {
	pipeline   *pipeline.Pipeline
	store      ErrorStore
	aggregator *stats.Aggregator
	cache      *rediscache.Client
}

// NewErrorsHandler wires the REST surface. cache may be nil when redis is
// disabled.
func NewErrorsHandler(p *pipeline.Pipeline, store ErrorStore, aggregator *stats.Aggregator, cache *rediscache.Client) *ErrorsHandler {
	return &ErrorsHandler{
		pipeline:   p,
		store:      store,
		aggregator: aggregator,
		cache:      cache,
	}
}

// IngestErrors accepts a single error object or an {errors: [...]} batch.
// The response is sent after persistence and the error:new broadcasts; AI
// enrichment continues in the background.
func (h *ErrorsHandler) IngestErrors(c *fiber.Ctx) error {
	var batch struct {
		Errors []models.ErrorEvent `json:"errors"`
	}

	var events []models.ErrorEvent
	if err := c.BodyParser(&batch); err == nil && len(batch.Errors) > 0 {
		events = batch.Errors
	} else {
		var single models.ErrorEvent
		if err := c.BodyParser(&single); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid request body",
			})
		}
		events = []models.ErrorEvent{single}
	}

	ids, err := h.pipeline.Ingest(c.Context(), events)
	if err != nil {
		var validationErr *pipeline.ValidationError
		if errors.As(err, &validationErr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "Validation failed",
				"details": validationErr.Error(),
			})
		}

		logger.Error("Error ingestion failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to ingest error",
		})
	}

	results := make([]fiber.Map, 0, len(ids))
	for _, id := range ids {
		results = append(results, fiber.Map{"id": id})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"count":   len(results),
		"errors":  results,
	})
}

func (h *ErrorsHandler) GetRecentErrors(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultRecentLimit)
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	events, err := h.store.GetRecentErrors(limit)
	if err != nil {
		logger.Error("Failed to fetch errors", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to fetch errors",
		})
	}

	if events == nil {
		events = []models.ErrorEvent{}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"count":   len(events),
		"errors":  events,
	})
}

func (h *ErrorsHandler) GetStats(c *fiber.Ctx) error {
	windowMs := int64(c.QueryInt("window", stats.DefaultWindowMs))
	if windowMs <= 0 {
		windowMs = stats.DefaultWindowMs
	}

	if h.cache != nil {
		var cached stats.Statistics
		if hit, err := h.cache.GetStats(c.Context(), windowMs, &cached); err == nil && hit {
			return c.JSON(fiber.Map{
				"success":    true,
				"timeWindow": windowMs,
				"stats":      cached,
			})
		}
	}

	snapshot, err := h.aggregator.Compute(windowMs)
	if err != nil {
		logger.Error("Failed to fetch stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to fetch statistics",
		})
	}

	if h.cache != nil {
		if err := h.cache.SetStats(c.Context(), windowMs, snapshot); err != nil {
			logger.Warn("Failed to cache stats snapshot", zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"timeWindow": windowMs,
		"stats":      snapshot,
	})
}

// GetErrorByID returns one error plus its most similar recent errors.
func (h *ErrorsHandler) GetErrorByID(c *fiber.Ctx) error {
	errorID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid error id",
		})
	}

	event, err := h.store.GetErrorByID(int64(errorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "Error not found",
			})
		}
		logger.Error("Failed to fetch error", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to fetch error",
		})
	}

	pool, err := h.store.GetRecentErrors(similarityPoolSize)
	if err != nil {
		logger.Error("Failed to fetch similarity pool", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to fetch error",
		})
	}

	similar := similarity.FindSimilar(event, pool, similarity.DefaultThreshold)
	if len(similar) > maxSimilarResults {
		similar = similar[:maxSimilarResults]
	}
	if similar == nil {
		similar = []similarity.Match{}
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"error":         event,
		"similarErrors": similar,
	})
}

func (h *ErrorsHandler) GetErrorsInRange(c *fiber.Ctx) error {
	start, err1 := strconv.ParseInt(c.Params("start"), 10, 64)
	end, err2 := strconv.ParseInt(c.Params("end"), 10, 64)
	if err1 != nil || err2 != nil || end < start {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid time range",
		})
	}

	events, err := h.store.GetErrorsInRange(start, end)
	if err != nil {
		logger.Error("Failed to fetch errors in range", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to fetch errors",
		})
	}

	if events == nil {
		events = []models.ErrorEvent{}
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"count":     len(events),
		"timeRange": fiber.Map{"start": start, "end": end},
		"errors":    events,
	})
}

// ClearErrors wipes all errors and derived state and notifies subscribers.
func (h *ErrorsHandler) ClearErrors(c *fiber.Ctx) error {
	if err := h.pipeline.Clear(c.Context()); err != nil {
		logger.Error("Failed to clear errors", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to clear errors",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "All errors cleared successfully",
	})
}
