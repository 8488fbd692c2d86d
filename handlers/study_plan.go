package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"studyplan/config"
	"studyplan/metrics"
	"studyplan/models"
	"studyplan/planner"
	"studyplan/utils"
)

// StudyPlanHandler serves plan generation. Generation is pure computation, so
// responses are cached in Redis keyed by a digest of the canonical request.
type StudyPlanHandler struct {
	redis  *redis.Client
	config *config.Config
}

// NewStudyPlanHandler creates a new StudyPlanHandler instance
func NewStudyPlanHandler(redis *redis.Client, config *config.Config) *StudyPlanHandler {
	return &StudyPlanHandler{redis: redis, config: config}
}

// cacheKey digests the decoded request rather than the raw body, so requests
// that differ only in whitespace or field order share a cache entry.
func cacheKey(req *models.StudyPlanRequest) string {
	canonical, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return "plancache:" + hex.EncodeToString(sum[:])
}

// GeneratePlan validates the request and runs the scheduling engine.
func (h *StudyPlanHandler) GeneratePlan(c *fiber.Ctx) error {
	var req models.StudyPlanRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	if err := req.Validate(); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}

	key := cacheKey(&req)
	if h.redis != nil && key != "" {
		cached, err := h.redis.Get(c.Context(), key).Bytes()
		if err == nil {
			metrics.IncrementPlanCache("hit")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(cached)
		}
		metrics.IncrementPlanCache("miss")
	}

	start := time.Now()
	plan, err := planner.GeneratePlan(c.Context(), &req)
	if err != nil {
		metrics.RecordPlanGeneration("error", time.Since(start))
		metrics.IncrementError("plan_generation", "planner")
		return c.Status(500).JSON(fiber.Map{"error": "Error generating study plan: " + err.Error()})
	}

	result := "ok"
	if plan.InsufficientTime {
		result = "insufficient_time"
	}
	metrics.RecordPlanGeneration(result, time.Since(start))

	if h.redis != nil && key != "" {
		if payload, err := json.Marshal(plan); err == nil {
			if err := h.redis.Set(c.Context(), key, payload, h.config.PlanCacheTTL).Err(); err != nil {
				utils.LogError("plan cache store failed", err)
			}
		}
	}

	return c.JSON(plan)
}
