package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"studyplan/database"
	"studyplan/metrics"
	"studyplan/models"
)

const dateLayout = "2006-01-02"

// PlansHandler serves the saved study plan endpoints.
type PlansHandler struct {
	db database.Database
}

// NewPlansHandler creates a new PlansHandler instance
func NewPlansHandler(db database.Database) *PlansHandler {
	return &PlansHandler{db: db}
}

// SavePlanRequest represents the save plan request payload. The request and
// response documents are stored verbatim so a plan can be re-rendered or
// regenerated later.
type SavePlanRequest struct {
	Name     string                    `json:"name"`
	Request  *models.StudyPlanRequest  `json:"request"`
	Response *models.StudyPlanResponse `json:"response"`
}

// SavePlan stores a generated plan under the authenticated user.
func (h *PlansHandler) SavePlan(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	var req SavePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request"})
	}

	if req.Request == nil || req.Response == nil {
		return c.Status(400).JSON(fiber.Map{"error": "Plan request and response are required"})
	}

	if req.Name == "" {
		req.Name = "Untitled plan"
	}

	requestJSON, err := json.Marshal(req.Request)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to encode plan"})
	}
	responseJSON, err := json.Marshal(req.Response)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to encode plan"})
	}

	ctx := context.Background()

	var planID uuid.UUID
	var createdAt time.Time
	err = h.db.QueryRow(ctx,
		`INSERT INTO study_plans (user_id, name, request, response, start_date, end_date, total_study_hours, insufficient_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		userID, req.Name, requestJSON, responseJSON,
		req.Request.StartDate.Time, req.Request.EndDate.Time,
		req.Response.TotalStudyHours, req.Response.InsufficientTime).Scan(&planID, &createdAt)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to save plan"})
	}

	metrics.IncrementPlanOperation("save")
	metrics.IncrementDatabaseQuery("insert")

	return c.Status(201).JSON(fiber.Map{
		"id":         planID,
		"name":       req.Name,
		"created_at": createdAt,
	})
}

// ListPlans returns the authenticated user's saved plans, newest first.
// Soft-deleted plans are excluded.
func (h *PlansHandler) ListPlans(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	ctx := context.Background()

	rows, err := h.db.Query(ctx,
		`SELECT id, name, start_date, end_date, total_study_hours, insufficient_time, created_at
		 FROM study_plans
		 WHERE user_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch plans"})
	}
	defer rows.Close()
	metrics.IncrementDatabaseQuery("select")

	plans := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var name string
		var startDate, endDate time.Time
		var totalHours float64
		var insufficient bool
		var createdAt time.Time

		if err := rows.Scan(&id, &name, &startDate, &endDate, &totalHours, &insufficient, &createdAt); err != nil {
			continue
		}

		plans = append(plans, fiber.Map{
			"id":                id,
			"name":              name,
			"start_date":        startDate.Format(dateLayout),
			"end_date":          endDate.Format(dateLayout),
			"total_study_hours": totalHours,
			"insufficient_time": insufficient,
			"created_at":        createdAt,
		})
	}

	return c.JSON(fiber.Map{"plans": plans})
}

// GetPlan returns one saved plan with its stored request and response.
func (h *PlansHandler) GetPlan(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	planID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid plan ID"})
	}

	ctx := context.Background()

	var name string
	var requestJSON, responseJSON []byte
	var startDate, endDate time.Time
	var totalHours float64
	var insufficient bool
	var createdAt time.Time

	err = h.db.QueryRow(ctx,
		`SELECT name, request, response, start_date, end_date, total_study_hours, insufficient_time, created_at
		 FROM study_plans
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		planID, userID).Scan(&name, &requestJSON, &responseJSON, &startDate, &endDate, &totalHours, &insufficient, &createdAt)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Plan not found"})
	}
	metrics.IncrementDatabaseQuery("select")

	return c.JSON(fiber.Map{
		"id":                planID,
		"name":              name,
		"request":           json.RawMessage(requestJSON),
		"response":          json.RawMessage(responseJSON),
		"start_date":        startDate.Format(dateLayout),
		"end_date":          endDate.Format(dateLayout),
		"total_study_hours": totalHours,
		"insufficient_time": insufficient,
		"created_at":        createdAt,
	})
}

// DeletePlan soft deletes a plan. The cleanup service purges it for good
// after the retention window.
func (h *PlansHandler) DeletePlan(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	planID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid plan ID"})
	}

	ctx := context.Background()

	tag, err := h.db.Exec(ctx,
		`UPDATE study_plans SET deleted_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		planID, userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to delete plan"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Plan not found"})
	}

	metrics.IncrementPlanOperation("delete")
	metrics.IncrementDatabaseQuery("update")

	return c.JSON(fiber.Map{"message": "Plan deleted"})
}
