package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"studyplan/database"
	"studyplan/metrics"
)

// UsersHandler serves the user directory endpoints.
type UsersHandler struct {
	db database.Database
}

// NewUsersHandler creates a new UsersHandler instance
func NewUsersHandler(db database.Database) *UsersHandler {
	return &UsersHandler{db: db}
}

// ListUsers returns every registered user, newest first.
func (h *UsersHandler) ListUsers(c *fiber.Ctx) error {
	ctx := context.Background()

	rows, err := h.db.Query(ctx,
		`SELECT id, email, name, level, created_at
		 FROM users
		 ORDER BY created_at DESC`)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch users"})
	}
	defer rows.Close()
	metrics.IncrementDatabaseQuery("select")

	users := []fiber.Map{}
	for rows.Next() {
		var id uuid.UUID
		var email string
		var name, level *string
		var createdAt time.Time

		if err := rows.Scan(&id, &email, &name, &level, &createdAt); err != nil {
			continue
		}

		users = append(users, fiber.Map{
			"user_id":    id,
			"email":      email,
			"name":       name,
			"level":      level,
			"created_at": createdAt,
		})
	}

	return c.JSON(fiber.Map{"users": users})
}

// GetUser returns a single user by ID.
func (h *UsersHandler) GetUser(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid user ID"})
	}

	ctx := context.Background()

	var email string
	var name, level *string
	var createdAt time.Time

	err = h.db.QueryRow(ctx,
		`SELECT email, name, level, created_at FROM users WHERE id = $1`,
		userID).Scan(&email, &name, &level, &createdAt)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "User not found"})
	}
	metrics.IncrementDatabaseQuery("select")

	return c.JSON(fiber.Map{
		"user_id":    userID,
		"email":      email,
		"name":       name,
		"level":      level,
		"created_at": createdAt,
	})
}
