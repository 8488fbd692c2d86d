package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// JWTMiddleware creates a Fiber middleware for JWT token validation.
// It verifies the token signature, extracts the user and session claims,
// and rejects tokens whose server-side session has been revoked.
func JWTMiddleware(secret []byte, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("Authorization")
		if token == "" {
			return c.Status(401).JSON(fiber.Map{"error": "Missing authorization"})
		}

		token = strings.TrimPrefix(token, "Bearer ")

		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		})

		if err != nil || !parsed.Valid {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid token"})
		}

		claims := parsed.Claims.(jwt.MapClaims)

		// Safely extract user_id claim
		userIDClaim, exists := claims["user_id"]
		if !exists {
			return c.Status(401).JSON(fiber.Map{"error": "Missing user_id claim"})
		}

		userIDStr, ok := userIDClaim.(string)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid user_id claim type"})
		}

		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid user_id format"})
		}

		// Session revocation check; a nil Redis client skips the lookup.
		sessionID, _ := claims["sid"].(string)
		if rdb != nil && sessionID != "" {
			n, err := rdb.Exists(c.Context(), "session:"+sessionID).Result()
			if err != nil || n == 0 {
				return c.Status(401).JSON(fiber.Map{"error": "Session expired"})
			}
		}

		// Set user and session in context for subsequent handlers
		c.Locals("user_id", userID)
		c.Locals("session_id", sessionID)

		return c.Next()
	}
}

// GetUserIDFromToken extracts the authenticated user ID from the Fiber context
func GetUserIDFromToken(c *fiber.Ctx) (uuid.UUID, error) {
	userID, ok := c.Locals("user_id").(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}
